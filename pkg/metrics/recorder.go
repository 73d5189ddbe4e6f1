package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RecordGroupGauges records the gauges a gathered cycle snapshot produces
// for one scaling group.
func RecordGroupGauges(tenant, group string, desired, active, pending, min, max uint32) {
	labels := prometheus.Labels{"tenant": tenant, "group": group}
	GroupDesiredCapacity.With(labels).Set(float64(desired))
	GroupActiveServers.With(labels).Set(float64(active))
	GroupPendingServers.With(labels).Set(float64(pending))
	GroupMinCapacity.With(labels).Set(float64(min))
	GroupMaxCapacity.With(labels).Set(float64(max))
}

// RecordCycle records the duration, result, and step count of one completed cycle.
func RecordCycle(group string, duration time.Duration, result string, stepsExecuted int) {
	CycleDuration.WithLabelValues(group).Observe(duration.Seconds())
	CycleTotal.WithLabelValues(group, result).Inc()
	CycleStepsExecuted.WithLabelValues(group).Observe(float64(stepsExecuted))
}

// RecordScalingDecision records a policy execution's outcome.
func RecordScalingDecision(group, direction, result string) {
	ScalingDecisionsTotal.WithLabelValues(group, direction, result).Inc()
}

// RecordCooldownBlocked records a policy execution skipped by cooldown.
func RecordCooldownBlocked(group, policy string) {
	PolicyCooldownBlockedTotal.WithLabelValues(group, policy).Inc()
}

// RecordStep records one step's terminal outcome and how many retries it took.
func RecordStep(kind string, duration time.Duration, result string, retries int) {
	StepDuration.WithLabelValues(kind).Observe(duration.Seconds())
	StepTotal.WithLabelValues(kind, result).Inc()
	if retries > 0 {
		StepRetries.WithLabelValues(kind).Add(float64(retries))
	}
}

// RecordGatewayRequest records one gateway HTTP round trip.
func RecordGatewayRequest(gateway, method, status string, duration time.Duration) {
	GatewayRequestsTotal.WithLabelValues(gateway, method, status).Inc()
	GatewayRequestDuration.WithLabelValues(gateway, method).Observe(duration.Seconds())
}

// RecordGatewayError records a gateway call that failed, classified by errorType.
func RecordGatewayError(gateway, method, errorType string) {
	GatewayErrorsTotal.WithLabelValues(gateway, method, errorType).Inc()
}

// RecordGatewayRateLimited records a gateway call delayed by its rate limiter.
func RecordGatewayRateLimited(gateway string) {
	GatewayRateLimitedTotal.WithLabelValues(gateway).Inc()
}

// RecordLockAcquire records the result of one distributed lock acquire attempt.
func RecordLockAcquire(result string) {
	LockAcquireTotal.WithLabelValues(result).Inc()
}

// RecordAuditEvent records one emitted audit event.
func RecordAuditEvent(eventType string) {
	AuditEventsTotal.WithLabelValues(eventType).Inc()
}
