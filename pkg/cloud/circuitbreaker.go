package cloud

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/pkg/metrics"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	SuccessThreshold    int
	Timeout             time.Duration
	MaxHalfOpenRequests int
}

// DefaultCircuitBreakerConfig returns the default circuit breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern around gateway calls,
// one instance per gateway (compute, each LB endpoint family).
type CircuitBreaker struct {
	name             string
	config           CircuitBreakerConfig
	state            CircuitBreakerState
	failureCount     int
	successCount     int
	lastStateChange  time.Time
	halfOpenRequests int
	logger           *zap.Logger
	mu               sync.RWMutex
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.GatewayCircuitBreakerState.WithLabelValues(name, string(StateClosed)).Set(1)
	metrics.GatewayCircuitBreakerState.WithLabelValues(name, string(StateOpen)).Set(0)
	metrics.GatewayCircuitBreakerState.WithLabelValues(name, string(StateHalfOpen)).Set(0)
	return &CircuitBreaker{
		name:            name,
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
		logger:          logger,
	}
}

// Call executes fn with circuit breaker protection.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Sub(cb.lastStateChange) >= cb.config.Timeout {
			cb.transitionTo(StateHalfOpen, "timeout elapsed")
			cb.halfOpenRequests++
			return nil
		}
		metrics.GatewayCircuitBreakerRejected.WithLabelValues(cb.name).Inc()
		return ErrCircuitOpen
	case StateHalfOpen:
		limit := cb.config.MaxHalfOpenRequests
		if limit <= 0 {
			limit = 1
		}
		if cb.halfOpenRequests >= limit {
			metrics.GatewayCircuitBreakerRejected.WithLabelValues(cb.name).Inc()
			return ErrCircuitOpen
		}
		cb.halfOpenRequests++
		return nil
	default:
		return fmt.Errorf("unknown circuit breaker state: %s", cb.state)
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if err != nil {
			cb.failureCount++
			cb.successCount = 0
			if cb.failureCount >= cb.config.FailureThreshold {
				cb.transitionTo(StateOpen, fmt.Sprintf("failure threshold reached (%d failures)", cb.failureCount))
			}
		} else {
			cb.failureCount = 0
			cb.successCount++
		}
	case StateHalfOpen:
		cb.halfOpenRequests--
		if err != nil {
			cb.failureCount++
			cb.successCount = 0
			cb.transitionTo(StateOpen, "failure in half-open state")
		} else {
			cb.successCount++
			if cb.successCount >= cb.config.SuccessThreshold {
				cb.transitionTo(StateClosed, fmt.Sprintf("success threshold reached (%d successes)", cb.successCount))
			}
		}
	case StateOpen:
		cb.logger.Warn("afterCall called in open state (should not happen)", zap.String("breaker", cb.name))
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitBreakerState, reason string) {
	oldState := cb.state
	if newState == oldState {
		return
	}
	cb.state = newState
	cb.lastStateChange = time.Now()
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenRequests = 0

	metrics.GatewayCircuitBreakerState.WithLabelValues(cb.name, string(oldState)).Set(0)
	metrics.GatewayCircuitBreakerState.WithLabelValues(cb.name, string(newState)).Set(1)
	metrics.GatewayCircuitBreakerStateChanges.WithLabelValues(cb.name, string(oldState), string(newState)).Inc()

	cb.logger.Info("circuit breaker state changed",
		zap.String("breaker", cb.name),
		zap.String("from", string(oldState)),
		zap.String("to", string(newState)),
		zap.String("reason", reason))
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state (for testing).
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	oldState := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenRequests = 0
	cb.lastStateChange = time.Now()
	if oldState != StateClosed {
		metrics.GatewayCircuitBreakerState.WithLabelValues(cb.name, string(oldState)).Set(0)
		metrics.GatewayCircuitBreakerState.WithLabelValues(cb.name, string(StateClosed)).Set(1)
	}
}
