// Package controller implements the pure decision logic that turns a
// policy execution or a config edit into a change to a scaling group's
// desired capacity, and the thin orchestration around it that hands the
// result to the Converger service.
package controller

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/internal/logging"
	"github.com/raxautoscale/convergence/pkg/audit"
	"github.com/raxautoscale/convergence/pkg/cloud"
	"github.com/raxautoscale/convergence/pkg/metrics"
	"github.com/raxautoscale/convergence/pkg/model"
)

// Converger is the subset of the convergence service the controller
// depends on. Defined here, implemented by package convergence, to avoid
// an import cycle between the two.
type Converger interface {
	StartConvergence(ctx context.Context, tenantID, groupID string) error
}

// FeatureFlags answers whether a tenant has been migrated onto the
// convergence engine; tenants not yet flagged take the legacy path, which
// is out of this module's core scope.
type FeatureFlags interface {
	TenantConvergenceEnabled(tenantID string) bool
}

// LegacyLauncher is the out-of-core-scope direct launch/scale-down path
// used for tenants not yet on the convergence engine.
type LegacyLauncher interface {
	ExecuteLegacy(ctx context.Context, group model.ScalingGroup, delta int) error
}

// CalculateDelta resolves a policy's change spec against the group's
// current counts, clamps it into [min, max], mutates state.Desired to the
// clamped target, and returns the signed delta from the pre-clamp active+
// pending count. Pure aside from the state.Desired write the spec calls
// for explicitly.
func CalculateDelta(state *model.GroupState, config model.GroupConfig, policy model.Policy) int {
	current := state.ActivePendingCount()

	var raw int
	switch policy.Change.Kind {
	case model.ChangeAbsoluteDelta:
		raw = int(current) + policy.Change.Delta
	case model.ChangePercent:
		n := ceilAwayFromZero(policy.Change.Percent / 100.0 * float64(current))
		raw = int(current) + n
	case model.ChangeAbsoluteTarget:
		raw = int(policy.Change.Target)
	default:
		panic("controller: unknown change spec kind")
	}

	target := clamp(raw, int(config.Min), int(config.MaxOrDefault()))
	state.Desired = uint32(target)
	return target - int(current)
}

// ceilAwayFromZero rounds x to the nearest integer further from zero, so
// 5% of 5 (=0.25) rounds to 1 and -5% of 5 (=-0.25) rounds to -1.
func ceilAwayFromZero(x float64) int {
	if x >= 0 {
		return int(math.Ceil(x))
	}
	return -int(math.Ceil(-x))
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// CheckCooldowns reports whether both the group-level and policy-level
// cooldown windows have elapsed. A missing touch timestamp counts as
// "long ago".
func CheckCooldowns(state model.GroupState, config model.GroupConfig, policy model.Policy, policyID string, now time.Time) bool {
	if state.GroupTouched != nil && now.Sub(*state.GroupTouched) < config.Cooldown {
		return false
	}
	if touched, ok := state.PolicyTouched[policyID]; ok && now.Sub(touched) < policy.Cooldown {
		return false
	}
	return true
}

// MaybeExecutePolicy runs one policy execution attempt: it validates
// cooldowns, computes the delta, and — for convergence-enabled tenants —
// hands the group to the Converger; for others it falls back to legacy.
func MaybeExecutePolicy(
	ctx context.Context,
	group model.ScalingGroup,
	state *model.GroupState,
	policyID string,
	converger Converger,
	flags FeatureFlags,
	legacy LegacyLauncher,
	auditLogger *audit.Logger,
	logger *zap.Logger,
	now time.Time,
) error {
	policy, ok := group.Policies[policyID]
	if !ok {
		return &model.NoSuchPolicyError{PolicyID: policyID}
	}

	if !CheckCooldowns(*state, group.Config, policy, policyID, now) {
		metrics.RecordCooldownBlocked(group.GroupID, policyID)
		logging.LogCooldownBlocked(logger, group.GroupID, policyID, group.Config.Cooldown.String())
		return &model.CannotExecutePolicyError{Reason: "cooldowns not met"}
	}

	activeBefore := uint32(len(state.Active))
	pendingBefore := uint32(len(state.Pending))
	desiredBefore := state.Desired

	delta := CalculateDelta(state, group.Config, policy)
	if delta == 0 {
		return &model.CannotExecutePolicyError{Reason: "no change in servers"}
	}

	logging.LogScaleDecision(logger, group.TenantID, group.GroupID, desiredBefore, state.Desired, delta, "policy "+policyID+" executed")

	if flags != nil && flags.TenantConvergenceEnabled(group.TenantID) {
		if err := converger.StartConvergence(ctx, group.TenantID, group.GroupID); err != nil {
			return err
		}
		state.GroupTouched = &now
		state.PolicyTouched[policyID] = now
	} else if legacy != nil {
		if err := legacy.ExecuteLegacy(ctx, group, delta); err != nil {
			return err
		}
	}

	direction, result := "up", "executed"
	if delta < 0 {
		direction = "down"
	}
	metrics.RecordScalingDecision(group.GroupID, direction, result)
	auditLogger.LogScaleDecision(ctx, group.GroupID, policyID, "", delta, state.Desired, activeBefore, pendingBefore)

	return nil
}

// ObeyConfigChange re-applies the group's change-spec-free current config
// (a synthetic zero-change policy) whenever the config or launch template
// itself is edited, skipping cooldowns entirely.
func ObeyConfigChange(
	ctx context.Context,
	group model.ScalingGroup,
	state *model.GroupState,
	converger Converger,
	flags FeatureFlags,
	legacy LegacyLauncher,
	auditLogger *audit.Logger,
	logger *zap.Logger,
	now time.Time,
) error {
	zeroChange := model.Policy{
		ID:       "config-change",
		Cooldown: 0,
		Change:   model.ChangeSpec{Kind: model.ChangeAbsoluteDelta, Delta: 0},
	}

	activeBefore := uint32(len(state.Active))
	pendingBefore := uint32(len(state.Pending))
	desiredBefore := state.Desired

	delta := CalculateDelta(state, group.Config, zeroChange)

	logging.LogScaleDecision(logger, group.TenantID, group.GroupID, desiredBefore, state.Desired, delta, "config change applied")

	if flags != nil && flags.TenantConvergenceEnabled(group.TenantID) {
		if err := converger.StartConvergence(ctx, group.TenantID, group.GroupID); err != nil {
			return err
		}
		state.GroupTouched = &now
	} else if legacy != nil {
		if err := legacy.ExecuteLegacy(ctx, group, delta); err != nil {
			return err
		}
	}

	if delta != 0 {
		direction := "up"
		if delta < 0 {
			direction = "down"
		}
		metrics.RecordScalingDecision(group.GroupID, direction, "executed")
		auditLogger.LogScaleDecision(ctx, group.GroupID, "config-change", "", delta, state.Desired, activeBefore, pendingBefore)
	}

	return nil
}

// ConvergenceRemoveServer handles an operator-initiated removal of one
// server from a group: validates it belongs to the group, enforces the
// min-capacity floor unless it's being replaced, and either evicts it
// (releases group ownership) or marks it draining for purge.
func ConvergenceRemoveServer(
	ctx context.Context,
	group model.ScalingGroup,
	state *model.GroupState,
	serverID string,
	replace, purge bool,
	gateway cloud.ComputeGateway,
) error {
	server, err := gateway.GetServer(ctx, serverID)
	if err != nil {
		return &model.ServerNotFoundError{ServerID: serverID}
	}
	if server.GroupID() != group.GroupID {
		return &model.ServerNotFoundError{ServerID: serverID}
	}

	if !replace {
		current := state.ActivePendingCount()
		if current <= group.Config.Min {
			return &model.CannotDeleteBelowMinError{GroupID: group.GroupID, Min: group.Config.Min}
		}
	}

	if purge {
		if err := gateway.SetMetadata(ctx, serverID, model.MetaServerDrng, model.MetaValDrain); err != nil {
			return err
		}
	} else {
		if err := gateway.RemoveMetadata(ctx, serverID, model.MetaGroupID); err != nil {
			return err
		}
		if err := gateway.RemoveMetadata(ctx, serverID, model.MetaLBIDs); err != nil {
			return err
		}
	}

	if !replace {
		if state.Desired > 0 {
			state.Desired--
		}
	}

	return nil
}
