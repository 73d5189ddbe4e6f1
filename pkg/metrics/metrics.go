package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the metrics namespace for the convergence engine.
const Namespace = "convergence"

var (
	// GroupDesiredCapacity tracks a scaling group's currently stored desired count.
	GroupDesiredCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "group_desired_capacity",
			Help:      "Desired server count for a scaling group",
		},
		[]string{"tenant", "group"},
	)

	// GroupActiveServers tracks the number of servers a cycle observed ACTIVE.
	GroupActiveServers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "group_active_servers",
			Help:      "Number of active servers observed for a scaling group",
		},
		[]string{"tenant", "group"},
	)

	// GroupPendingServers tracks the number of servers still converging toward ACTIVE.
	GroupPendingServers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "group_pending_servers",
			Help:      "Number of pending servers observed for a scaling group",
		},
		[]string{"tenant", "group"},
	)

	// GroupMinCapacity / GroupMaxCapacity track the configured bounds.
	GroupMinCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "group_min_capacity",
			Help:      "Configured minimum capacity for a scaling group",
		},
		[]string{"tenant", "group"},
	)
	GroupMaxCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "group_max_capacity",
			Help:      "Configured maximum capacity for a scaling group",
		},
		[]string{"tenant", "group"},
	)

	// CycleDuration tracks how long one gather-plan-execute cycle took.
	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time taken by one convergence cycle",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~13m
		},
		[]string{"group"},
	)

	// CycleTotal tracks the number of cycles run, by terminal result.
	CycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cycle_total",
			Help:      "Total number of convergence cycles run",
		},
		[]string{"group", "result"}, // result: stable|continue|failed
	)

	// CycleStepsExecuted tracks how many steps one cycle executed.
	CycleStepsExecuted = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "cycle_steps_executed",
			Help:      "Number of steps executed by one convergence cycle",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		},
		[]string{"group"},
	)

	// ScalingDecisionsTotal tracks policy executions and their outcome.
	ScalingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scaling_decisions_total",
			Help:      "Total number of scaling policy decisions",
		},
		[]string{"group", "direction", "result"}, // direction: up|down|none, result: executed|skipped_cooldown|clamped_noop
	)

	// PolicyCooldownBlockedTotal tracks policy executions skipped by cooldown.
	PolicyCooldownBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "policy_cooldown_blocked_total",
			Help:      "Total number of policy executions blocked by cooldown",
		},
		[]string{"group", "policy"},
	)

	// StepDuration tracks how long one executor step took, by kind.
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "step_duration_seconds",
			Help:      "Time taken to execute one convergence step",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"kind"},
	)

	// StepTotal tracks steps executed, by kind and terminal result.
	StepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "step_total",
			Help:      "Total number of convergence steps executed",
		},
		[]string{"kind", "result"}, // result: success|failed
	)

	// StepRetries tracks the number of retries a step needed before its
	// terminal result.
	StepRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "step_retries_total",
			Help:      "Total number of step retry attempts",
		},
		[]string{"kind"},
	)

	// GatewayRequestsTotal tracks gateway calls by status.
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "gateway_requests_total",
			Help:      "Total number of cloud gateway requests",
		},
		[]string{"gateway", "method", "status"},
	)

	// GatewayRequestDuration tracks gateway call latency.
	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Duration of cloud gateway requests",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"gateway", "method"},
	)

	// GatewayErrorsTotal tracks gateway errors by classification.
	GatewayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "gateway_errors_total",
			Help:      "Total number of cloud gateway errors by type",
		},
		[]string{"gateway", "method", "error_type"},
	)

	// GatewayRateLimitedTotal tracks rate-limiter waits that blocked a call.
	GatewayRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "gateway_rate_limited_total",
			Help:      "Total number of cloud gateway requests delayed by the rate limiter",
		},
		[]string{"gateway"},
	)

	// GatewayCircuitBreakerState tracks each breaker's current state (1 active, 0 inactive).
	GatewayCircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gateway_circuit_breaker_state",
			Help:      "Current state of a gateway circuit breaker (1 = active)",
		},
		[]string{"gateway", "state"},
	)

	// GatewayCircuitBreakerRejected tracks calls rejected by an open breaker.
	GatewayCircuitBreakerRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "gateway_circuit_breaker_rejected_total",
			Help:      "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"gateway"},
	)

	// GatewayCircuitBreakerStateChanges tracks state transitions.
	GatewayCircuitBreakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "gateway_circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"gateway", "from", "to"},
	)

	// LockAcquireTotal tracks distributed lock acquisitions, by result.
	LockAcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "lock_acquire_total",
			Help:      "Total number of distributed lock acquire attempts",
		},
		[]string{"result"}, // result: acquired|contended|error
	)

	// AuditEventsTotal tracks audit events emitted, by kind.
	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "audit_events_total",
			Help:      "Total number of audit events emitted",
		},
		[]string{"event_type"},
	)

	// AuditEventBufferDropped tracks audit events dropped because the emitter's
	// buffer was full.
	AuditEventBufferDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "audit_event_buffer_dropped_total",
			Help:      "Total number of audit events dropped due to a full buffer",
		},
	)
)

var collectors = []prometheus.Collector{
	GroupDesiredCapacity,
	GroupActiveServers,
	GroupPendingServers,
	GroupMinCapacity,
	GroupMaxCapacity,
	CycleDuration,
	CycleTotal,
	CycleStepsExecuted,
	ScalingDecisionsTotal,
	PolicyCooldownBlockedTotal,
	StepDuration,
	StepTotal,
	StepRetries,
	GatewayRequestsTotal,
	GatewayRequestDuration,
	GatewayErrorsTotal,
	GatewayRateLimitedTotal,
	GatewayCircuitBreakerState,
	GatewayCircuitBreakerRejected,
	GatewayCircuitBreakerStateChanges,
	LockAcquireTotal,
	AuditEventsTotal,
	AuditEventBufferDropped,
}

// Register registers every convergence metric with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(collectors...)
}

// ResetMetrics resets every labelled metric vector (used by tests). The
// plain AuditEventBufferDropped counter is not reset.
func ResetMetrics() {
	GroupDesiredCapacity.Reset()
	GroupActiveServers.Reset()
	GroupPendingServers.Reset()
	GroupMinCapacity.Reset()
	GroupMaxCapacity.Reset()
	CycleDuration.Reset()
	CycleTotal.Reset()
	CycleStepsExecuted.Reset()
	ScalingDecisionsTotal.Reset()
	PolicyCooldownBlockedTotal.Reset()
	StepDuration.Reset()
	StepTotal.Reset()
	StepRetries.Reset()
	GatewayRequestsTotal.Reset()
	GatewayRequestDuration.Reset()
	GatewayErrorsTotal.Reset()
	GatewayRateLimitedTotal.Reset()
	GatewayCircuitBreakerState.Reset()
	GatewayCircuitBreakerRejected.Reset()
	GatewayCircuitBreakerStateChanges.Reset()
	LockAcquireTotal.Reset()
	AuditEventsTotal.Reset()
}
