package model

import "fmt"

// NoSuchGroupError is returned when a (tenant_id, group_id) pair has no
// corresponding group.
type NoSuchGroupError struct {
	TenantID string
	GroupID  string
}

func (e *NoSuchGroupError) Error() string {
	return fmt.Sprintf("no such group: tenant=%s group=%s", e.TenantID, e.GroupID)
}

// NoSuchPolicyError is returned when a policy id is not attached to the group.
type NoSuchPolicyError struct {
	GroupID  string
	PolicyID string
}

func (e *NoSuchPolicyError) Error() string {
	return fmt.Sprintf("no such policy %q on group %s", e.PolicyID, e.GroupID)
}

// ServerNotFoundError is returned when a server id does not exist, or
// exists but is not owned by the group performing the lookup.
type ServerNotFoundError struct {
	GroupID  string
	ServerID string
}

func (e *ServerNotFoundError) Error() string {
	return fmt.Sprintf("server %s not found in group %s", e.ServerID, e.GroupID)
}

// CannotExecutePolicyError is a non-fatal rejection of a policy execution
// attempt (cooldown not met, zero computed delta).
type CannotExecutePolicyError struct {
	Reason string
}

func (e *CannotExecutePolicyError) Error() string {
	return fmt.Sprintf("cannot execute policy: %s", e.Reason)
}

// CannotDeleteBelowMinError is returned by ConvergenceRemoveServer when a
// non-replacing removal would push the group under its configured minimum.
type CannotDeleteBelowMinError struct {
	GroupID string
	Min     uint32
}

func (e *CannotDeleteBelowMinError) Error() string {
	return fmt.Sprintf("cannot delete server from group %s: would go below min %d", e.GroupID, e.Min)
}

// ServerCreationRetryError signals that a CreateServer result is ambiguous
// (find_server matched more than one candidate, or none and the retry
// budget is exhausted) and the create must be retried or failed terminally.
type ServerCreationRetryError struct {
	Reason string
}

func (e *ServerCreationRetryError) Error() string {
	return fmt.Sprintf("server creation retry required: %s", e.Reason)
}

// UnexpectedServerStatusError is raised when a server under creation is
// observed in a state other than the one awaited (typically ERROR).
type UnexpectedServerStatusError struct {
	ServerID string
	Got      ServerState
	Want     ServerState
}

func (e *UnexpectedServerStatusError) Error() string {
	return fmt.Sprintf("server %s: unexpected status %s (wanted %s)", e.ServerID, e.Got, e.Want)
}

// ServerDeletedError indicates the target of an operation no longer
// exists. Callers treat this as success for delete-shaped operations and
// as failure otherwise.
type ServerDeletedError struct {
	ServerID string
}

func (e *ServerDeletedError) Error() string {
	return fmt.Sprintf("server %s is deleted", e.ServerID)
}

// CLBOrNodeDeletedError indicates the load balancer or node targeted by an
// LB operation is already gone (404, or 422 "LB is deleted").
type CLBOrNodeDeletedError struct {
	LBID   string
	NodeID string
}

func (e *CLBOrNodeDeletedError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("lb %s node %s is deleted", e.LBID, e.NodeID)
	}
	return fmt.Sprintf("lb %s is deleted", e.LBID)
}

// APIError is a generic transport-level failure from the compute or LB
// gateway, carrying enough detail to classify retryability.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s %s -> %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsServerError reports a 5xx response.
func (e *APIError) IsServerError() bool { return e.StatusCode >= 500 && e.StatusCode < 600 }

// IsRateLimited reports a 429 response.
func (e *APIError) IsRateLimited() bool { return e.StatusCode == 429 }

// IsNotFound reports a 404 response.
func (e *APIError) IsNotFound() bool { return e.StatusCode == 404 }

// TimedOutError is returned by any bounded wait (verified delete,
// wait-for-active) that exceeded its deadline.
type TimedOutError struct {
	Op       string
	Duration string
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("operation %s timed out after %s", e.Op, e.Duration)
}
