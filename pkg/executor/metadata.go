package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/pkg/cloud"
	"github.com/raxautoscale/convergence/pkg/model"
)

func (e *Executor) executeSetMetadata(ctx context.Context, groupID string, step model.Step) Outcome {
	start := time.Now()
	retries, err := e.retryGeneric(ctx, groupID, "SetMetadata", cloud.ClassifyMetadata, func() error {
		return e.gateway.SetMetadata(ctx, step.ServerID, step.MetaKey, step.MetaValue)
	})
	e.recordAndLog(ctx, groupID, "SetMetadata", start, retries, err)
	if err != nil {
		return Outcome{Step: step, Err: err, Retries: retries}
	}

	// The planner's drain-deadline math reads the drain-started timestamp
	// back from the server's own metadata, so stamp it the moment draining
	// begins.
	if step.MetaKey == model.MetaServerDrng && step.MetaValue == model.MetaValDrain {
		stampedAt := time.Now().UTC().Format(time.RFC3339)
		if stampErr := e.gateway.SetMetadata(ctx, step.ServerID, model.MetaServerDrainedAt, stampedAt); stampErr != nil {
			e.logger.Warn("failed to stamp drain-started metadata",
				zap.String("serverID", step.ServerID), zap.Error(stampErr))
		}
	}

	return Outcome{Step: step, Retries: retries}
}

func (e *Executor) executeRemoveMetadata(ctx context.Context, groupID string, step model.Step) Outcome {
	start := time.Now()
	retries, err := e.retryGeneric(ctx, groupID, "RemoveMetadata", cloud.ClassifyMetadata, func() error {
		return e.gateway.RemoveMetadata(ctx, step.ServerID, step.MetaKey)
	})
	e.recordAndLog(ctx, groupID, "RemoveMetadata", start, retries, err)
	return Outcome{Step: step, Err: err, Retries: retries}
}
