package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/pkg/cloud"
	"github.com/raxautoscale/convergence/pkg/model"
)

// executeDelete implements the DeleteServer row plus verified delete: a
// 2xx/404 response is not itself taken as complete until a subsequent
// GET confirms the server is gone or mid-deletion.
func (e *Executor) executeDelete(ctx context.Context, groupID string, step model.Step) Outcome {
	start := time.Now()

	retries, err := e.retryGeneric(ctx, groupID, "DeleteServer", cloud.ClassifyDeleteServer, func() error {
		return e.gateway.DeleteServer(ctx, step.ServerID)
	})
	if err != nil {
		e.recordAndLog(ctx, groupID, "DeleteServer", start, retries, err)
		return Outcome{Step: step, Err: err, Retries: retries}
	}

	if verifyErr := e.verifyDeleted(ctx, step.ServerID); verifyErr != nil {
		e.logger.Error("verified delete timed out, server may be leaked",
			zap.String("groupID", groupID), zap.String("serverID", step.ServerID), zap.Error(verifyErr))
		e.recordAndLog(ctx, groupID, "DeleteServer", start, retries, verifyErr)
		return Outcome{Step: step, Err: verifyErr, Retries: retries}
	}

	e.recordAndLog(ctx, groupID, "DeleteServer", start, retries, nil)
	return Outcome{Step: step, Retries: retries}
}

// verifyDeleted polls GetServer until the server is gone (404 /
// ServerDeletedError) or mid-deletion (state DELETING or task_state
// "deleting"), backing off exponentially, and gives up after
// DeleteTimeout — the executor logs this as a leak rather than retrying
// the DELETE call again.
func (e *Executor) verifyDeleted(ctx context.Context, serverID string) error {
	deadline := time.Now().Add(e.opts.DeleteTimeout)
	backoff := defaultPollBase

	for {
		server, err := e.gateway.GetServer(ctx, serverID)
		switch {
		case err == nil && (server.State == model.ServerDeleting || server.TaskState == "deleting"):
			return nil
		case err != nil:
			if _, ok := err.(*model.ServerDeletedError); ok {
				return nil
			}
			if apiErr, ok := err.(*model.APIError); ok && apiErr.IsNotFound() {
				return nil
			}
		}

		if !time.Now().Before(deadline) {
			return &model.TimedOutError{Op: "verified_delete", Duration: e.opts.DeleteTimeout.String()}
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff *= 2; backoff > defaultPollCap {
			backoff = defaultPollCap
		}
	}
}
