// Package convergence implements one reconciliation cycle and the
// per-group task-coalescing service that repeats cycles until a group's
// fleet is stable: gather observed state, plan the delta, execute the
// plan, decide whether another cycle is needed.
package convergence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/internal/logging"
	"github.com/raxautoscale/convergence/pkg/audit"
	"github.com/raxautoscale/convergence/pkg/executor"
	"github.com/raxautoscale/convergence/pkg/gatherer"
	"github.com/raxautoscale/convergence/pkg/metrics"
	"github.com/raxautoscale/convergence/pkg/model"
	"github.com/raxautoscale/convergence/pkg/planner"
	"github.com/raxautoscale/convergence/pkg/store"
)

// DefaultDrainTimeout is the grace period a draining server's LB nodes
// get before being force-removed, absent a group-specific override.
const DefaultDrainTimeout = 5 * time.Minute

// DefaultCycleTimeout bounds a single Cycle.Execute call; a cycle that
// runs longer is cancelled, its lock released, and partial effects left
// for the next cycle to reconcile.
const DefaultCycleTimeout = 20 * time.Minute

// Cycle runs one gather-plan-execute-evaluate pass for a group.
type Cycle struct {
	store        store.Store
	gatherer     *gatherer.Gatherer
	executor     *executor.Executor
	audit        *audit.Logger
	logger       *zap.Logger
	drainTimeout time.Duration
	cycleTimeout time.Duration
}

// NewCycle builds a Cycle from its collaborators. A nil drainTimeout/
// cycleTimeout (zero value) falls back to the package defaults.
func NewCycle(st store.Store, g *gatherer.Gatherer, ex *executor.Executor, auditLogger *audit.Logger, logger *zap.Logger, drainTimeout, cycleTimeout time.Duration) *Cycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NewLogger(logger)
	}
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	if cycleTimeout <= 0 {
		cycleTimeout = DefaultCycleTimeout
	}
	return &Cycle{
		store:        st,
		gatherer:     g,
		executor:     ex,
		audit:        auditLogger,
		logger:       logger,
		drainTimeout: drainTimeout,
		cycleTimeout: cycleTimeout,
	}
}

// Execute runs execute_convergence(group_id, desired): gather the
// observed fleet, compute the plan, execute it, persist the resulting
// state, and report whether the caller should invoke Execute again (the
// group is not yet stable). A paused group's state is left untouched and
// Execute returns false immediately.
func (c *Cycle) Execute(ctx context.Context, tenantID, groupID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cycleTimeout)
	defer cancel()

	start := time.Now()
	logging.LogCycleStart(c.logger, groupID)
	c.audit.LogCycleStart(ctx, groupID)

	cont, stable, stepsExecuted, err := c.execute(ctx, tenantID, groupID)

	duration := time.Since(start)
	result := "success"
	if err != nil {
		result = "error"
		logging.LogCycleError(c.logger, groupID, err)
	} else {
		logging.LogCycleComplete(c.logger, groupID, duration.String(), stepsExecuted, stable)
	}
	c.audit.LogCycleEnd(ctx, groupID, duration, stable, err)
	metrics.RecordCycle(groupID, duration, result, stepsExecuted)

	return cont, err
}

func (c *Cycle) execute(ctx context.Context, tenantID, groupID string) (cont bool, stable bool, stepsExecuted int, err error) {
	group, err := c.store.GetGroup(ctx, tenantID, groupID)
	if err != nil {
		return false, false, 0, err
	}

	state, err := c.store.GetGroupState(ctx, groupID)
	if err != nil {
		return false, false, 0, err
	}
	if state.Paused {
		return false, false, 0, nil
	}

	desired := model.DesiredGroupState{
		GroupID:        groupID,
		LaunchTemplate: group.LaunchTemplate,
		Desired:        state.Desired,
	}

	fleet, err := c.gatherer.Gather(ctx, groupID, lbIDsOf(group.LaunchTemplate))
	if err != nil {
		return true, false, 0, err
	}

	now := time.Now()
	steps, stable := planner.Plan(desired, fleet, c.drainTimeout, now)

	if !stable {
		c.executor.Execute(ctx, groupID, steps)
		stepsExecuted = len(steps)
	}

	if err := c.store.PutGroupState(ctx, groupID, snapshotState(state, fleet, groupID)); err != nil {
		return true, stable, stepsExecuted, err
	}

	return !stable, stable, stepsExecuted, nil
}

// lbIDsOf returns the set of load balancers a group's launch template
// binds to, in map iteration order; the gatherer fans them out concurrently
// and does not depend on their order.
func lbIDsOf(launch model.LaunchTemplate) []string {
	ids := make([]string, 0, len(launch.LBBindings))
	for lbID := range launch.LBBindings {
		ids = append(ids, lbID)
	}
	return ids
}

// snapshotState rebuilds the persisted active/pending views from the
// fleet gathered this cycle, preserving every other field of state.
func snapshotState(state *model.GroupState, fleet model.ObservedFleet, groupID string) *model.GroupState {
	out := *state
	out.Active = map[string]model.ServerRef{}
	out.Pending = map[string]model.JobInfo{}
	for _, s := range fleet.Servers {
		if s.GroupID() != groupID {
			continue
		}
		switch s.State {
		case model.ServerActive:
			out.Active[s.ID] = model.ServerRef{ID: s.ID, Addresses: s.Addresses}
		case model.ServerBuild:
			out.Pending[s.ID] = model.JobInfo{StartedAt: s.CreatedAt}
		}
	}
	return &out
}
