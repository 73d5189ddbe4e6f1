// Package planner implements the convergence engine's core decision
// function: given a group's desired state and its observed fleet, compute
// the steps that move the observed fleet toward the desired one. Plan is a
// pure function — it performs no I/O and holds no state across calls — so
// it can be exercised directly with table-driven and property-based tests.
package planner

import (
	"sort"
	"time"

	"github.com/raxautoscale/convergence/pkg/model"
)

// Plan computes the steps needed to reconcile the observed fleet toward
// desired, and reports whether the group is already stable (an empty plan
// with no server in a transient state). now is passed explicitly so the
// function stays deterministic under test; drainTimeout is the group's
// connection-drain grace period before a draining server's LB nodes are
// force-removed.
func Plan(desired model.DesiredGroupState, fleet model.ObservedFleet, drainTimeout time.Duration, now time.Time) ([]model.Step, bool) {
	active, pending, errored, transientOther := classify(fleet.Servers, desired.GroupID)

	var steps []model.Step

	delta := int(desired.Desired) - (len(active) + len(pending) - len(errored))

	for _, s := range errored {
		steps = append(steps, model.DeleteServer(s.ID))
	}

	victims := map[string]bool{}
	if delta < 0 {
		victims = selectVictims(pending, active, -delta)
		for _, s := range orderedByID(victims, append(append([]model.Server{}, pending...), active...)) {
			if step, ok := victimStep(s, desired.LaunchTemplate, drainTimeout, now); ok {
				steps = append(steps, step)
			}
		}
	}

	addSteps, removeSteps := reconcileLB(active, victims, fleet.LBNodes, desired.LaunchTemplate, drainTimeout, now)

	if delta > 0 {
		launch := stampGroupID(desired.LaunchTemplate, desired.GroupID)
		for i := 0; i < delta; i++ {
			steps = append(steps, model.CreateServer(launch))
		}
	}

	ordered := make([]model.Step, 0, len(steps)+len(addSteps)+len(removeSteps))
	ordered = append(ordered, removeStepsOf(steps)...)
	ordered = append(ordered, removeSteps...)
	ordered = append(ordered, metadataStepsOf(steps)...)
	ordered = append(ordered, changeConditionSteps(active, fleet.LBNodes, drainTimeout, now)...)
	ordered = append(ordered, createStepsOf(steps)...)
	ordered = append(ordered, addSteps...)

	stable := len(ordered) == 0 && !hasTransientState(active, pending, transientOther, victims)
	return ordered, stable
}

// classify splits observed servers into the classes the planner cares
// about. draining servers remain inside active (they are still ACTIVE, only
// tracked for LB removal); deleting/unknown servers are reported separately
// and contribute to transient-state detection but never to delta or LB
// reconciliation.
func classify(servers []model.Server, groupID string) (active, pending, errored, deletingOrUnknown []model.Server) {
	for _, s := range servers {
		if s.GroupID() != groupID {
			continue
		}
		switch s.State {
		case model.ServerActive:
			active = append(active, s)
		case model.ServerBuild:
			pending = append(pending, s)
		case model.ServerError:
			errored = append(errored, s)
		case model.ServerDeleting:
			deletingOrUnknown = append(deletingOrUnknown, s)
		default:
			if s.TaskState != "" {
				deletingOrUnknown = append(deletingOrUnknown, s)
			}
		}
	}
	return
}

// selectVictims picks count servers to remove, preferring pending over
// active and, within a class, the youngest created_at first so long-lived
// healthy servers are retained. The selection is a pure function of the
// input slices, so repeated calls with an unchanged fleet pick the same
// victims — required for idempotence and determinism.
func selectVictims(pending, active []model.Server, count int) map[string]bool {
	byYoungest := func(s []model.Server) []model.Server {
		out := append([]model.Server{}, s...)
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		return out
	}
	pool := append(byYoungest(pending), byYoungest(active)...)

	victims := map[string]bool{}
	for i := 0; i < count && i < len(pool); i++ {
		victims[pool[i].ID] = true
	}
	return victims
}

// orderedByID returns the subset of servers whose id is in ids, in a
// deterministic (id-sorted) order.
func orderedByID(ids map[string]bool, servers []model.Server) []model.Server {
	var out []model.Server
	for _, s := range servers {
		if ids[s.ID] {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// victimStep decides whether a selected victim is deleted outright or
// handed into the drain path first, and is itself idempotent: a victim
// already draining past its deadline is deleted; one still draining gets no
// new step here (its LB nodes are handled by reconcileLB/changeConditionSteps).
func victimStep(s model.Server, launch model.LaunchTemplate, drainTimeout time.Duration, now time.Time) (model.Step, bool) {
	if !requestsDraining(launch) {
		return model.DeleteServer(s.ID), true
	}
	if s.IsDraining() {
		if drainExpired(s, drainTimeout, now) {
			return model.DeleteServer(s.ID), true
		}
		return model.Step{}, false
	}
	return model.SetMetadata(s.ID, model.MetaServerDrng, model.MetaValDrain), true
}

// stampGroupID returns a by-value snapshot of launch with the group id
// stamped into the create payload's metadata, never mutating the stored
// template itself — every server this group creates must carry the group
// id so the next cycle's gather/classify can find it again.
func stampGroupID(launch model.LaunchTemplate, groupID string) model.LaunchTemplate {
	out := launch.Snapshot()
	if out.Payload == nil {
		out.Payload = map[string]interface{}{}
	}
	meta, _ := out.Payload["metadata"].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	} else {
		cp := make(map[string]interface{}, len(meta)+1)
		for k, v := range meta {
			cp[k] = v
		}
		meta = cp
	}
	meta[model.MetaGroupID] = groupID
	out.Payload["metadata"] = meta
	return out
}

func requestsDraining(launch model.LaunchTemplate) bool {
	for _, bindings := range launch.LBBindings {
		for _, b := range bindings {
			if b.Draining {
				return true
			}
		}
	}
	return false
}

func drainExpired(s model.Server, drainTimeout time.Duration, now time.Time) bool {
	started, ok := s.DrainStartedAt()
	if !ok {
		return false
	}
	return !now.Before(started.Add(drainTimeout))
}

// reconcileLB computes the per-LB add/remove steps. victims already
// selected for direct deletion this cycle are excluded from the desired set
// so no node is ever added for a server about to disappear.
func reconcileLB(active []model.Server, victims map[string]bool, observed []model.LBNode, launch model.LaunchTemplate, drainTimeout time.Duration, now time.Time) (adds, removes []model.Step) {
	byAddress := map[string]model.Server{}
	for _, s := range active {
		if addr := s.ServiceNetAddress(); addr != "" {
			byAddress[addr] = s
		}
	}

	lbIDs := make([]string, 0, len(launch.LBBindings))
	for lbID := range launch.LBBindings {
		lbIDs = append(lbIDs, lbID)
	}
	sort.Strings(lbIDs)

	for _, lbID := range lbIDs {
		bindings := launch.LBBindings[lbID]
		desiredPairs := map[[2]interface{}]bool{}
		for _, s := range active {
			if victims[s.ID] || s.IsDraining() {
				continue
			}
			addr := s.ServiceNetAddress()
			if addr == "" {
				continue
			}
			for _, b := range bindings {
				desiredPairs[[2]interface{}{addr, b.Port}] = true
			}
		}

		observedOnLB := nodesForLB(observed, lbID)
		observedPairs := map[[2]interface{}]string{}
		for _, n := range observedOnLB {
			observedPairs[[2]interface{}{n.Address, n.Port}] = n.NodeID
		}

		var missingTargets []model.LBTarget
		for _, b := range bindings {
			for _, s := range active {
				if victims[s.ID] || s.IsDraining() {
					continue
				}
				addr := s.ServiceNetAddress()
				if addr == "" {
					continue
				}
				if _, ok := observedPairs[[2]interface{}{addr, b.Port}]; !ok {
					missingTargets = append(missingTargets, model.LBTarget{Address: addr, Port: b.Port, Condition: model.NodeEnabled})
				}
			}
		}
		sort.SliceStable(missingTargets, func(i, j int) bool {
			if missingTargets[i].Address != missingTargets[j].Address {
				return missingTargets[i].Address < missingTargets[j].Address
			}
			return missingTargets[i].Port < missingTargets[j].Port
		})
		if len(missingTargets) > 0 {
			adds = append(adds, model.BulkAddToLB(lbID, missingTargets))
		}

		var extraNodeIDs []string
		for _, n := range observedOnLB {
			if desiredPairs[[2]interface{}{n.Address, n.Port}] {
				continue
			}
			owner, found := byAddress[n.Address]
			if found && owner.IsDraining() && !drainExpired(owner, drainTimeout, now) && !n.Expired(now) {
				continue // still within its grace period; handled by changeConditionSteps
			}
			extraNodeIDs = append(extraNodeIDs, n.NodeID)
		}
		sort.Strings(extraNodeIDs)
		if len(extraNodeIDs) > 0 {
			removes = append(removes, model.RemoveNodesFromLB(lbID, extraNodeIDs))
		}
	}
	return adds, removes
}

// changeConditionSteps marks LB nodes owned by a still-draining, not-yet-
// expired server as DRAINING, once, ahead of their eventual removal.
func changeConditionSteps(active []model.Server, observed []model.LBNode, drainTimeout time.Duration, now time.Time) []model.Step {
	byAddress := map[string]model.Server{}
	for _, s := range active {
		if addr := s.ServiceNetAddress(); addr != "" {
			byAddress[addr] = s
		}
	}

	var steps []model.Step
	for _, n := range observed {
		owner, found := byAddress[n.Address]
		if !found || !owner.IsDraining() {
			continue
		}
		if drainExpired(owner, drainTimeout, now) || n.Expired(now) {
			continue
		}
		if n.Condition == model.NodeDraining {
			continue
		}
		steps = append(steps, model.ChangeNodeCondition(n.LBID, n.NodeID, model.NodeDraining))
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].LBID != steps[j].LBID {
			return steps[i].LBID < steps[j].LBID
		}
		return steps[i].NodeID < steps[j].NodeID
	})
	return steps
}

func nodesForLB(nodes []model.LBNode, lbID string) []model.LBNode {
	var out []model.LBNode
	for _, n := range nodes {
		if n.LBID == lbID {
			out = append(out, n)
		}
	}
	return out
}

func hasTransientState(active, pending, other []model.Server, victims map[string]bool) bool {
	if len(pending) > 0 || len(other) > 0 {
		return true
	}
	for _, s := range active {
		if s.IsDraining() || victims[s.ID] {
			return true
		}
	}
	return false
}

func removeStepsOf(steps []model.Step) []model.Step {
	var out []model.Step
	for _, s := range steps {
		if s.Kind == model.StepDeleteServer {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

func metadataStepsOf(steps []model.Step) []model.Step {
	var out []model.Step
	for _, s := range steps {
		if s.Kind == model.StepSetMetadata || s.Kind == model.StepRemoveMetadata {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

func createStepsOf(steps []model.Step) []model.Step {
	var out []model.Step
	for _, s := range steps {
		if s.Kind == model.StepCreateServer {
			out = append(out, s)
		}
	}
	return out
}
