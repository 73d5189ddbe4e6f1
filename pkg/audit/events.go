package audit

// EventType identifies the kind of audit event emitted by the
// convergence engine.
type EventType string

const (
	EventScaleUp   EventType = "convergence.scale_up"
	EventScaleDown EventType = "convergence.scale_down"

	EventStepSuccess EventType = "convergence.step.success"
	EventStepRetry   EventType = "convergence.step.retry"
	EventStepFail    EventType = "convergence.step.fail"

	EventCycleStart EventType = "convergence.cycle.start"
	EventCycleEnd   EventType = "convergence.cycle.end"

	EventGroupCreated EventType = "convergence.group.created"
	EventGroupUpdated EventType = "convergence.group.updated"
	EventGroupDeleted EventType = "convergence.group.deleted"

	EventServerRemoved EventType = "convergence.server.removed"

	EventLockContended EventType = "convergence.lock.contended"

	EventCircuitBreakerOpened EventType = "convergence.circuit_breaker.opened"
	EventCircuitBreakerClosed EventType = "convergence.circuit_breaker.closed"
)

// Severity is the importance level of an audit event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// severityFor returns the default severity for an event type.
func severityFor(t EventType) Severity {
	switch t {
	case EventStepFail:
		return SeverityError
	case EventStepRetry, EventLockContended, EventCircuitBreakerOpened:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
