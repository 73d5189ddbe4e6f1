package executor

import (
	"context"
	"time"

	"github.com/raxautoscale/convergence/pkg/cloud"
	"github.com/raxautoscale/convergence/pkg/model"
)

// executeAddNodes handles both AddNodesToLB and BulkAddToLB (the planner
// always emits the latter, batched per lb_id); both map to one AddNodes
// call. This step only ever targets servers already ACTIVE as of the
// cycle's gather (reconcileLB never builds an add for a server this same
// cycle also creates), so it carries no undo of its own: an add that
// later proves wrong is corrected by the next cycle's reconcileLB, not by
// unwinding this one.
func (e *Executor) executeAddNodes(ctx context.Context, groupID string, step model.Step) Outcome {
	start := time.Now()
	kind := "AddNodeToLB"
	retries, err := e.retryGeneric(ctx, groupID, kind, cloud.ClassifyAddNodeToLB, func() error {
		return e.gateway.AddNodes(ctx, step.LBID, step.Targets)
	})
	e.recordAndLog(ctx, groupID, kind, start, retries, err)
	return Outcome{Step: step, Err: err, Retries: retries}
}

func (e *Executor) executeRemoveNodes(ctx context.Context, groupID string, step model.Step) Outcome {
	start := time.Now()
	retries, err := e.retryGeneric(ctx, groupID, "RemoveNodeFromLB", cloud.ClassifyRemoveNodeFromLB, func() error {
		return e.gateway.RemoveNodes(ctx, step.LBID, step.NodeIDs)
	})
	e.recordAndLog(ctx, groupID, "RemoveNodeFromLB", start, retries, err)
	return Outcome{Step: step, Err: err, Retries: retries}
}

// executeChangeCondition reclassifies with ClassifyAddNodeToLB: spec.md's
// retry table has no dedicated row for this step, and it hits the same
// per-node LB endpoint shape as AddNodeToLB (2xx / 422 PENDING_UPDATE /
// 5xx / 404-or-deleted).
func (e *Executor) executeChangeCondition(ctx context.Context, groupID string, step model.Step) Outcome {
	start := time.Now()
	retries, err := e.retryGeneric(ctx, groupID, "ChangeNodeCondition", cloud.ClassifyAddNodeToLB, func() error {
		return e.gateway.ChangeCondition(ctx, step.LBID, step.NodeID, step.Condition)
	})
	e.recordAndLog(ctx, groupID, "ChangeNodeCondition", start, retries, err)
	return Outcome{Step: step, Err: err, Retries: retries}
}

func (e *Executor) executeSleep(ctx context.Context, step model.Step) Outcome {
	select {
	case <-time.After(step.Duration):
		return Outcome{Step: step}
	case <-ctx.Done():
		return Outcome{Step: step, Err: ctx.Err()}
	}
}

// removeByAddress is the inverse of an AddNodes call: it re-lists the
// lb's nodes to discover the node ids that were assigned to the targets
// added (AddNodes does not return them), then removes those.
func (e *Executor) removeByAddress(ctx context.Context, lbID string, targets []model.LBTarget) error {
	nodes, err := e.gateway.ListNodes(ctx, lbID)
	if err != nil {
		return err
	}
	want := make(map[[2]interface{}]bool, len(targets))
	for _, t := range targets {
		want[[2]interface{}{t.Address, t.Port}] = true
	}
	var ids []string
	for _, n := range nodes {
		if want[[2]interface{}{n.Address, n.Port}] {
			ids = append(ids, n.NodeID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return e.gateway.RemoveNodes(ctx, lbID, ids)
}
