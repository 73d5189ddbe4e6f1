package convergence

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/pkg/audit"
	"github.com/raxautoscale/convergence/pkg/lock"
	"github.com/raxautoscale/convergence/pkg/metrics"
)

// DefaultAcquireTimeout and DefaultReleaseTimeout are the convergence
// lock's acquire/hold budgets.
const (
	DefaultAcquireTimeout = 150 * time.Second
	DefaultReleaseTimeout = 150 * time.Second
)

// DefaultMinRetryInterval and DefaultMaxRetryInterval bound the jittered
// pause between consecutive not-yet-stable cycle iterations.
const (
	DefaultMinRetryInterval = 3 * time.Second
	DefaultMaxRetryInterval = 10 * time.Second
)

// Converger is the process-wide convergence task coalescing service: one
// in-flight task per group, serialized across the fleet by a distributed
// lock. It implements pkg/controller's Converger interface.
type Converger struct {
	cycle  *Cycle
	locker lock.Locker
	audit  *audit.Logger
	logger *zap.Logger

	acquireTimeout   time.Duration
	releaseTimeout   time.Duration
	minRetryInterval time.Duration
	maxRetryInterval time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewConverger builds a Converger from its collaborators, using the
// package default lock timeouts and retry interval.
func NewConverger(cycle *Cycle, locker lock.Locker, auditLogger *audit.Logger, logger *zap.Logger) *Converger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NewLogger(logger)
	}
	return &Converger{
		cycle:            cycle,
		locker:           locker,
		audit:            auditLogger,
		logger:           logger,
		acquireTimeout:   DefaultAcquireTimeout,
		releaseTimeout:   DefaultReleaseTimeout,
		minRetryInterval: DefaultMinRetryInterval,
		maxRetryInterval: DefaultMaxRetryInterval,
		inFlight:         make(map[string]struct{}),
	}
}

// StartConvergence starts a convergence task for groupID if none is
// already running, coalescing concurrent callers onto the same task. It
// returns as soon as the task is started (or already running), not when
// the group reaches stability — convergence itself runs in the
// background until the group stabilizes or the process stops.
func (c *Converger) StartConvergence(ctx context.Context, tenantID, groupID string) error {
	if !c.claim(groupID) {
		return nil
	}

	go c.run(context.WithoutCancel(ctx), tenantID, groupID)
	return nil
}

func (c *Converger) claim(groupID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[groupID]; ok {
		return false
	}
	c.inFlight[groupID] = struct{}{}
	return true
}

func (c *Converger) release(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, groupID)
}

func (c *Converger) run(ctx context.Context, tenantID, groupID string) {
	defer c.release(groupID)

	key := lock.Key(groupID)
	held, err := c.locker.Acquire(ctx, key, c.acquireTimeout, c.releaseTimeout)
	if err != nil {
		if err == lock.ErrContended {
			metrics.RecordLockAcquire("contended")
			c.audit.LogLockContended(ctx, groupID, "")
			return
		}
		metrics.RecordLockAcquire("error")
		c.logger.Error("convergence lock acquire failed", zap.String("groupID", groupID), zap.Error(err))
		return
	}
	metrics.RecordLockAcquire("success")
	defer func() {
		if err := held.Release(context.Background()); err != nil {
			c.logger.Warn("convergence lock release failed", zap.String("groupID", groupID), zap.Error(err))
		}
	}()

	for {
		cont, err := c.cycle.Execute(ctx, tenantID, groupID)
		if err != nil {
			c.logger.Error("convergence cycle error", zap.String("groupID", groupID), zap.Error(err))
		}
		if !cont {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.jitteredInterval()):
		}
	}
}

func (c *Converger) jitteredInterval() time.Duration {
	span := c.maxRetryInterval - c.minRetryInterval
	if span <= 0 {
		return c.minRetryInterval
	}
	return c.minRetryInterval + time.Duration(rand.Int63n(int64(span)))
}
