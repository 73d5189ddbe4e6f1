// Package model holds the data types shared by every component of the
// convergence engine: scaling groups, their runtime state, the observed
// fleet, and the steps the planner emits. Types here are plain values —
// nothing in this package performs I/O.
package model

import "time"

// ServerState is the lifecycle state of a compute server as reported by
// the cloud gateway.
type ServerState string

const (
	ServerBuild    ServerState = "BUILD"
	ServerActive   ServerState = "ACTIVE"
	ServerError    ServerState = "ERROR"
	ServerDeleting ServerState = "DELETING"
	ServerUnknown  ServerState = "UNKNOWN"
)

// NodeCondition is the condition of a load-balancer node.
type NodeCondition string

const (
	NodeEnabled  NodeCondition = "ENABLED"
	NodeDraining NodeCondition = "DRAINING"
	NodeDisabled NodeCondition = "DISABLED"
)

// Metadata keys this engine owns on compute servers, per the external
// interface contract.
const (
	MetaGroupID         = "rax:auto_scaling_group_id"
	MetaLBIDs           = "rax:auto_scaling_lbids"
	MetaLBPortFmt       = "rax:auto_scaling:lb:%s"
	MetaServerDrng      = "rax:autoscale:server:state"
	MetaValDrain        = "DRAINING"
	MetaServerDrainedAt = "rax:autoscale:server:drain_started"
)

// Server is an observed compute server.
type Server struct {
	ID        string
	State     ServerState
	CreatedAt time.Time
	Addresses []string
	Metadata  map[string]string
	// TaskState mirrors the compute service's transient task_state field
	// ("deleting", etc); used only to disambiguate DELETING/UNKNOWN servers.
	TaskState string
}

// GroupID returns the group id this server is stamped with, or "" if unset.
func (s *Server) GroupID() string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[MetaGroupID]
}

// IsDraining reports whether the server carries the draining marker.
func (s *Server) IsDraining() bool {
	return s.Metadata != nil && s.Metadata[MetaServerDrng] == MetaValDrain
}

// DrainStartedAt returns when draining was initiated, parsed from the
// server's drain-started metadata, or false if the server carries none.
func (s *Server) DrainStartedAt() (time.Time, bool) {
	if s.Metadata == nil {
		return time.Time{}, false
	}
	raw, ok := s.Metadata[MetaServerDrainedAt]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ServiceNetAddress returns the first address recorded for the server.
// Real deployments filter by network name; a single service-net address
// per server is the invariant this engine depends on.
func (s *Server) ServiceNetAddress() string {
	if len(s.Addresses) == 0 {
		return ""
	}
	return s.Addresses[0]
}

// LBNode is an observed load-balancer node.
type LBNode struct {
	LBID          string
	NodeID        string
	Address       string
	Port          int
	Condition     NodeCondition
	DrainDeadline *time.Time
}

// Expired reports whether the drain deadline has strictly passed at now.
func (n *LBNode) Expired(now time.Time) bool {
	return n.DrainDeadline != nil && !now.Before(*n.DrainDeadline)
}

// ObservedFleet is a point-in-time snapshot gathered for one group.
type ObservedFleet struct {
	Servers []Server
	LBNodes []LBNode
}

// LBBinding is one (port) target on a load balancer for a group's servers.
type LBBinding struct {
	Port int
	// Draining requests connection draining before removal from the LB.
	Draining bool
}

// LaunchTemplate is the opaque compute-service payload used to create a
// server, plus the group's LB binding list. Treated as an immutable
// by-value snapshot: components must never mutate a LaunchTemplate they
// did not construct themselves.
type LaunchTemplate struct {
	Image      string
	Flavor     string
	NamePrefix string
	Payload    map[string]interface{}
	// LBBindings maps lb_id -> bindings for that lb.
	LBBindings map[string][]LBBinding
}

// Snapshot returns a deep-enough copy for embedding in a per-cycle
// DesiredGroupState: the payload map and binding slices are copied so a
// planner holding this value can never observe a later mutation of the
// group's stored template.
func (lt LaunchTemplate) Snapshot() LaunchTemplate {
	out := LaunchTemplate{
		Image:      lt.Image,
		Flavor:     lt.Flavor,
		NamePrefix: lt.NamePrefix,
	}
	if lt.Payload != nil {
		out.Payload = make(map[string]interface{}, len(lt.Payload))
		for k, v := range lt.Payload {
			out.Payload[k] = v
		}
	}
	if lt.LBBindings != nil {
		out.LBBindings = make(map[string][]LBBinding, len(lt.LBBindings))
		for lbID, bindings := range lt.LBBindings {
			cp := make([]LBBinding, len(bindings))
			copy(cp, bindings)
			out.LBBindings[lbID] = cp
		}
	}
	return out
}

// DesiredGroupState is the per-cycle, ephemeral input to the planner.
// Never persisted; constructed fresh from GroupConfig/LaunchTemplate at
// the start of every convergence cycle.
type DesiredGroupState struct {
	GroupID        string
	LaunchTemplate LaunchTemplate
	Desired        uint32
}

// ChangeSpecKind distinguishes the three shapes a policy's change can take.
type ChangeSpecKind int

const (
	ChangeAbsoluteDelta ChangeSpecKind = iota
	ChangePercent
	ChangeAbsoluteTarget
)

// ChangeSpec is one policy's prescribed adjustment.
type ChangeSpec struct {
	Kind ChangeSpecKind
	// Delta is used when Kind == ChangeAbsoluteDelta.
	Delta int
	// Percent is used when Kind == ChangePercent; signed.
	Percent float64
	// Target is used when Kind == ChangeAbsoluteTarget; non-negative.
	Target uint32
}

// Policy is one scaling policy attached to a group.
type Policy struct {
	ID       string
	Cooldown time.Duration
	Change   ChangeSpec
}

// GroupConfig holds group-wide scaling bounds and default cooldown.
type GroupConfig struct {
	Min uint32
	// Max is the configured maximum; MaxSet distinguishes "unset" (treated
	// as +Inf) from an explicit 0.
	Max      uint32
	MaxSet   bool
	Cooldown time.Duration
}

// MaxOrDefault returns the effective upper bound: Max if set, else
// math.MaxUint32 (treated as +Inf per the spec).
func (c GroupConfig) MaxOrDefault() uint32 {
	if c.MaxSet {
		return c.Max
	}
	return ^uint32(0)
}

// JobInfo tracks a server that is mid-creation (BUILD) but not yet
// observed ACTIVE.
type JobInfo struct {
	StartedAt time.Time
}

// ServerRef is a minimal record of an active server the group owns.
type ServerRef struct {
	ID        string
	Addresses []string
}

// GroupState is the runtime state of a scaling group, mutated only by the
// Controller (pre-trigger) and the convergence cycle (during a cycle).
type GroupState struct {
	Desired       uint32
	Active        map[string]ServerRef
	Pending       map[string]JobInfo
	GroupTouched  *time.Time
	PolicyTouched map[string]time.Time
	Paused        bool
}

// NewGroupState returns a zero-value, properly initialized GroupState.
func NewGroupState() *GroupState {
	return &GroupState{
		Active:        make(map[string]ServerRef),
		Pending:       make(map[string]JobInfo),
		PolicyTouched: make(map[string]time.Time),
	}
}

// ActivePendingCount returns |active| + |pending|.
func (g *GroupState) ActivePendingCount() int {
	return len(g.Active) + len(g.Pending)
}

// ScalingGroup identifies and fully describes a tenant's scaling group.
type ScalingGroup struct {
	TenantID       string
	GroupID        string
	LaunchTemplate LaunchTemplate
	Config         GroupConfig
	Policies       map[string]Policy
}
