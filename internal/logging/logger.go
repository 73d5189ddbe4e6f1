// Package logging builds the structured zap logger shared by every
// component of the convergence engine and the helpers that stitch a
// correlation id through a gather/plan/execute cycle.
package logging

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

// RequestIDKey is the context key holding the correlation id for a
// convergence cycle or an inbound API request.
const RequestIDKey ContextKey = "requestID"

// NewLogger builds the process-wide structured logger.
func NewLogger(development bool) (*zap.Logger, error) {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
}

// WithRequestID stamps a fresh correlation id onto ctx.
func WithRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, RequestIDKey, uuid.New().String())
}

// GetRequestID returns the correlation id carried by ctx, or "" if none.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestIDField returns logger annotated with ctx's correlation id,
// or logger unchanged if ctx carries none.
func WithRequestIDField(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if requestID := GetRequestID(ctx); requestID != "" {
		return logger.With(zap.String("requestID", requestID))
	}
	return logger
}

// LogAPICall logs an outbound gateway call before it is made.
func LogAPICall(logger *zap.Logger, method, path, requestID string) {
	logger.Debug("gateway api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("requestID", requestID),
	)
}

// LogAPIResponse logs a gateway call that returned a response, success or not.
func LogAPIResponse(logger *zap.Logger, method, path string, statusCode int, duration string, requestID string) {
	logger.Debug("gateway api response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("statusCode", statusCode),
		zap.String("duration", duration),
		zap.String("requestID", requestID),
	)
}

// LogAPIError logs a gateway call that failed before or while decoding a response.
func LogAPIError(logger *zap.Logger, method, path string, statusCode int, err error, requestID string) {
	logger.Error("gateway api error",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("statusCode", statusCode),
		zap.Error(err),
		zap.String("requestID", requestID),
	)
}

// LogScaleDecision logs a policy execution's computed delta before the
// planner turns it into steps.
func LogScaleDecision(logger *zap.Logger, tenantID, groupID string, current, desired uint32, delta int, reason string) {
	action := "scale-up"
	if delta < 0 {
		action = "scale-down"
	}
	logger.Info("scaling decision made",
		zap.String("action", action),
		zap.String("tenantID", tenantID),
		zap.String("groupID", groupID),
		zap.Uint32("currentDesired", current),
		zap.Uint32("newDesired", desired),
		zap.Int("delta", delta),
		zap.String("reason", reason),
	)
}

// LogCooldownBlocked logs a policy execution skipped because its group is
// within its cooldown window.
func LogCooldownBlocked(logger *zap.Logger, groupID, policyID string, remaining string) {
	logger.Info("policy execution blocked by cooldown",
		zap.String("groupID", groupID),
		zap.String("policyID", policyID),
		zap.String("remaining", remaining),
	)
}

// LogCycleStart logs the start of one convergence cycle for a group.
func LogCycleStart(logger *zap.Logger, groupID string) {
	logger.Debug("convergence cycle starting", zap.String("groupID", groupID))
}

// LogCycleComplete logs a convergence cycle that ran to completion.
func LogCycleComplete(logger *zap.Logger, groupID string, duration string, stepsExecuted int, stable bool) {
	logger.Info("convergence cycle completed",
		zap.String("groupID", groupID),
		zap.String("duration", duration),
		zap.Int("stepsExecuted", stepsExecuted),
		zap.Bool("stable", stable),
	)
}

// LogCycleError logs a convergence cycle that failed.
func LogCycleError(logger *zap.Logger, groupID string, err error) {
	logger.Error("convergence cycle failed",
		zap.String("groupID", groupID),
		zap.Error(err),
	)
}

// LogStepStart logs the start of one step execution.
func LogStepStart(logger *zap.Logger, groupID, stepKind, detail string) {
	logger.Debug("step starting",
		zap.String("groupID", groupID),
		zap.String("step", stepKind),
		zap.String("detail", detail),
	)
}

// LogStepComplete logs a step that completed successfully.
func LogStepComplete(logger *zap.Logger, groupID, stepKind, detail string, duration string) {
	logger.Info("step completed",
		zap.String("groupID", groupID),
		zap.String("step", stepKind),
		zap.String("detail", detail),
		zap.String("duration", duration),
	)
}

// LogStepFailed logs a step that exhausted its retry budget.
func LogStepFailed(logger *zap.Logger, groupID, stepKind, detail string, err error) {
	logger.Error("step failed",
		zap.String("groupID", groupID),
		zap.String("step", stepKind),
		zap.String("detail", detail),
		zap.Error(err),
	)
}

// LogLockContention logs a convergence task deferred because another
// worker already holds the group's distributed lock.
func LogLockContention(logger *zap.Logger, groupID, owner string) {
	logger.Debug("group lock held by another owner",
		zap.String("groupID", groupID),
		zap.String("owner", owner),
	)
}
