package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*Event
	failOn EventType
}

func (s *recordingSink) Write(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && event.EventType == s.failOn {
		return errors.New("sink write failed")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func TestLogScaleDecision(t *testing.T) {
	sink := &recordingSink{}
	logger := NewLogger(zap.NewNop(), sink)

	logger.LogScaleDecision(context.Background(), "group-1", "policy-1", "", 3, 5, 4, 1)

	assert.Len(t, sink.events, 1)
	assert.Equal(t, EventScaleUp, sink.events[0].EventType)
	assert.Equal(t, 3, sink.events[0].ConvergenceDelta)

	sink.events = nil
	logger.LogScaleDecision(context.Background(), "group-1", "policy-1", "", -2, 2, 2, 0)
	assert.Len(t, sink.events, 1)
	assert.Equal(t, EventScaleDown, sink.events[0].EventType)
}

func TestLogStepOutcome(t *testing.T) {
	sink := &recordingSink{}
	logger := NewLogger(zap.NewNop(), sink)

	logger.LogStepOutcome(context.Background(), "group-1", "CreateServer", "success", nil)
	logger.LogStepOutcome(context.Background(), "group-1", "CreateServer", "retry", errors.New("503"))
	logger.LogStepOutcome(context.Background(), "group-1", "CreateServer", "fail", errors.New("terminal"))

	assert.Len(t, sink.events, 3)
	assert.Equal(t, EventStepSuccess, sink.events[0].EventType)
	assert.Equal(t, EventStepRetry, sink.events[1].EventType)
	assert.Equal(t, EventStepFail, sink.events[2].EventType)
	assert.Equal(t, SeverityWarning, sink.events[1].Severity)
	assert.Equal(t, SeverityError, sink.events[2].Severity)
}

func TestLogCycleLifecycle(t *testing.T) {
	sink := &recordingSink{}
	logger := NewLogger(zap.NewNop(), sink)

	logger.LogCycleStart(context.Background(), "group-1")
	logger.LogCycleEnd(context.Background(), "group-1", 2*time.Second, true, nil)
	logger.LogCycleEnd(context.Background(), "group-1", time.Second, false, errors.New("boom"))

	assert.Len(t, sink.events, 3)
	assert.Equal(t, EventCycleStart, sink.events[0].EventType)
	assert.Equal(t, EventCycleEnd, sink.events[1].EventType)
	assert.Equal(t, SeverityInfo, sink.events[1].Severity)
	assert.Equal(t, SeverityError, sink.events[2].Severity)
}

func TestSinkFailureIsLoggedNotPropagated(t *testing.T) {
	sink := &recordingSink{failOn: EventLockContended}
	logger := NewLogger(zap.NewNop(), sink)

	assert.NotPanics(t, func() {
		logger.LogLockContended(context.Background(), "group-1", "worker-7")
	})
}

func TestRequestIDPropagation(t *testing.T) {
	sink := &recordingSink{}
	logger := NewLogger(zap.NewNop(), sink)

	logger.LogServerRemoved(context.Background(), "group-1", "server-1", false, true)

	assert.Len(t, sink.events, 1)
	assert.Empty(t, sink.events[0].RequestID)
}
