package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/internal/logging"
	"github.com/raxautoscale/convergence/pkg/metrics"
)

// Event is one structured audit log entry, always carrying the
// correlation id of the request or cycle that produced it.
type Event struct {
	Timestamp        time.Time              `json:"timestamp"`
	EventType        EventType              `json:"eventType"`
	Severity         Severity               `json:"severity"`
	RequestID        string                 `json:"requestId,omitempty"`
	ScalingGroupID   string                 `json:"scalingGroupId,omitempty"`
	PolicyID         string                 `json:"policyId,omitempty"`
	WebhookID        string                 `json:"webhookId,omitempty"`
	ConvergenceDelta int                    `json:"convergenceDelta,omitempty"`
	DesiredCapacity  uint32                 `json:"desiredCapacity,omitempty"`
	ActiveCapacity   uint32                 `json:"activeCapacity,omitempty"`
	PendingCapacity  uint32                 `json:"pendingCapacity,omitempty"`
	Message          string                 `json:"message,omitempty"`
	Details          map[string]interface{} `json:"details,omitempty"`
}

// Sink is a destination audit events may additionally be written to
// beyond the structured log (e.g. a tenant-facing activity feed).
type Sink interface {
	Write(event *Event) error
	Close() error
}

// Logger emits structured audit events for the convergence engine: every
// event is logged via zap, counted in metrics, and optionally fanned out
// to configured sinks.
type Logger struct {
	logger *zap.Logger
	mu     sync.RWMutex
	sinks  []Sink
}

// NewLogger builds an audit Logger. A nil zap logger is treated as a no-op logger.
func NewLogger(zapLogger *zap.Logger, sinks ...Sink) *Logger {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	return &Logger{logger: zapLogger.Named("audit"), sinks: sinks}
}

// Log records one audit event, filling in defaults and fanning out to sinks.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = severityFor(event.EventType)
	}
	if event.RequestID == "" {
		event.RequestID = logging.GetRequestID(ctx)
	}

	fields := []zap.Field{
		zap.Time("timestamp", event.Timestamp),
		zap.String("eventType", string(event.EventType)),
		zap.String("severity", string(event.Severity)),
		zap.Bool("audit_log", true),
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("requestId", event.RequestID))
	}
	if event.ScalingGroupID != "" {
		fields = append(fields, zap.String("scalingGroupId", event.ScalingGroupID))
	}
	if event.PolicyID != "" {
		fields = append(fields, zap.String("policyId", event.PolicyID))
	}
	if event.WebhookID != "" {
		fields = append(fields, zap.String("webhookId", event.WebhookID))
	}
	if event.ConvergenceDelta != 0 {
		fields = append(fields, zap.Int("convergenceDelta", event.ConvergenceDelta))
	}
	fields = append(fields,
		zap.Uint32("desiredCapacity", event.DesiredCapacity),
		zap.Uint32("activeCapacity", event.ActiveCapacity),
		zap.Uint32("pendingCapacity", event.PendingCapacity),
	)

	switch event.Severity {
	case SeverityError:
		l.logger.Error(event.Message, fields...)
	case SeverityWarning:
		l.logger.Warn(event.Message, fields...)
	default:
		l.logger.Info(event.Message, fields...)
	}

	metrics.RecordAuditEvent(string(event.EventType))

	l.mu.RLock()
	sinks := l.sinks
	l.mu.RUnlock()
	for _, sink := range sinks {
		if err := sink.Write(event); err != nil {
			l.logger.Warn("failed to write audit event to sink", zap.Error(err), zap.String("eventType", string(event.EventType)))
		}
	}
}

// LogScaleDecision logs a convergence.scale_up/scale_down event.
func (l *Logger) LogScaleDecision(ctx context.Context, groupID, policyID, webhookID string, delta int, desired, active, pending uint32) {
	eventType := EventScaleUp
	if delta < 0 {
		eventType = EventScaleDown
	}
	l.Log(ctx, &Event{
		EventType:        eventType,
		Message:          "scaling policy execution",
		ScalingGroupID:   groupID,
		PolicyID:         policyID,
		WebhookID:        webhookID,
		ConvergenceDelta: delta,
		DesiredCapacity:  desired,
		ActiveCapacity:   active,
		PendingCapacity:  pending,
	})
}

// LogStepOutcome logs a convergence.step.{success,retry,fail} event.
func (l *Logger) LogStepOutcome(ctx context.Context, groupID, stepKind string, outcome string, err error) {
	var eventType EventType
	switch outcome {
	case "success":
		eventType = EventStepSuccess
	case "retry":
		eventType = EventStepRetry
	default:
		eventType = EventStepFail
	}
	details := map[string]interface{}{"step": stepKind}
	if err != nil {
		details["error"] = err.Error()
	}
	l.Log(ctx, &Event{
		EventType:      eventType,
		Message:        "step " + outcome,
		ScalingGroupID: groupID,
		Details:        details,
	})
}

// LogCycleStart logs a convergence.cycle.start event.
func (l *Logger) LogCycleStart(ctx context.Context, groupID string) {
	l.Log(ctx, &Event{EventType: EventCycleStart, Message: "convergence cycle started", ScalingGroupID: groupID})
}

// LogCycleEnd logs a convergence.cycle.end event with the cycle's duration.
func (l *Logger) LogCycleEnd(ctx context.Context, groupID string, duration time.Duration, stable bool, err error) {
	sev := SeverityInfo
	if err != nil {
		sev = SeverityError
	}
	l.Log(ctx, &Event{
		EventType:      EventCycleEnd,
		Severity:       sev,
		Message:        "convergence cycle ended",
		ScalingGroupID: groupID,
		Details: map[string]interface{}{
			"durationMs": duration.Milliseconds(),
			"stable":     stable,
		},
	})
}

// LogLockContended logs a convergence.lock.contended event.
func (l *Logger) LogLockContended(ctx context.Context, groupID, owner string) {
	l.Log(ctx, &Event{
		EventType:      EventLockContended,
		ScalingGroupID: groupID,
		Message:        "convergence lock held by another owner",
		Details:        map[string]interface{}{"owner": owner},
	})
}

// LogServerRemoved logs a convergence.server.removed event.
func (l *Logger) LogServerRemoved(ctx context.Context, groupID, serverID string, replace, purge bool) {
	l.Log(ctx, &Event{
		EventType:      EventServerRemoved,
		ScalingGroupID: groupID,
		Message:        "server removed from group",
		Details:        map[string]interface{}{"serverId": serverID, "replace": replace, "purge": purge},
	})
}

// LogCircuitBreakerStateChange logs an opened/closed circuit breaker event.
func (l *Logger) LogCircuitBreakerStateChange(ctx context.Context, gateway string, opened bool) {
	eventType := EventCircuitBreakerClosed
	if opened {
		eventType = EventCircuitBreakerOpened
	}
	l.Log(ctx, &Event{EventType: eventType, Message: "circuit breaker state changed", Details: map[string]interface{}{"gateway": gateway}})
}
