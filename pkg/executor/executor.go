// Package executor implements the Step Executor: it takes the plan the
// planner computed for one group and carries it out against the cloud
// gateway, with bounded parallelism, per-step-kind retry classification,
// and partial-failure aggregation. It performs I/O and holds no state
// across Execute calls beyond the process-wide CreateServer throttle.
package executor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/pkg/audit"
	"github.com/raxautoscale/convergence/pkg/cloud"
	"github.com/raxautoscale/convergence/pkg/metrics"
	"github.com/raxautoscale/convergence/pkg/model"
)

const (
	// DefaultConcurrency bounds outgoing operations per group cycle.
	DefaultConcurrency = 10

	// DefaultLBMaxRetries bounds LB-facing and metadata step retries.
	DefaultLBMaxRetries = 12
	DefaultLBRetryMin   = 5 * time.Second
	DefaultLBRetryMax   = 7 * time.Second

	// DefaultCreateMaxRetries bounds CreateServer retries; backoff is
	// exponential starting at DefaultCreateBackoffBase.
	DefaultCreateMaxRetries   = 3
	DefaultCreateBackoffBase = 15 * time.Second

	// DefaultDeleteTimeout bounds the verified-delete poll.
	DefaultDeleteTimeout = 3600 * time.Second
	defaultPollBase      = 2 * time.Second
	defaultPollCap       = 30 * time.Second

	// DefaultAttachTimeout bounds how long the create-attach composition
	// waits for a newly created server to reach ACTIVE before giving up
	// on attaching it to its LBs this cycle.
	DefaultAttachTimeout = 10 * time.Minute

	// DefaultGlobalCreateConcurrency bounds CreateServer calls in flight
	// across every group, process-wide.
	DefaultGlobalCreateConcurrency = 2
)

// Options configures an Executor. Zero values are replaced by the
// defaults above.
type Options struct {
	Concurrency       int
	LBMaxRetries      int
	LBRetryMin        time.Duration
	LBRetryMax        time.Duration
	CreateMaxRetries  int
	CreateBackoffBase time.Duration
	DeleteTimeout     time.Duration
	AttachTimeout     time.Duration
}

func (o *Options) setDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.LBMaxRetries <= 0 {
		o.LBMaxRetries = DefaultLBMaxRetries
	}
	if o.LBRetryMin <= 0 {
		o.LBRetryMin = DefaultLBRetryMin
	}
	if o.LBRetryMax <= 0 || o.LBRetryMax < o.LBRetryMin {
		o.LBRetryMax = DefaultLBRetryMax
	}
	if o.CreateMaxRetries <= 0 {
		o.CreateMaxRetries = DefaultCreateMaxRetries
	}
	if o.CreateBackoffBase <= 0 {
		o.CreateBackoffBase = DefaultCreateBackoffBase
	}
	if o.DeleteTimeout <= 0 {
		o.DeleteTimeout = DefaultDeleteTimeout
	}
	if o.AttachTimeout <= 0 {
		o.AttachTimeout = DefaultAttachTimeout
	}
}

// Outcome is one step's terminal result.
type Outcome struct {
	Step     model.Step
	ServerID string // populated for CreateServer, the adopted/created server id
	Err      error
	Retries  int
}

// Result aggregates a whole plan's execution.
type Result struct {
	Outcomes []Outcome
}

// AllSucceeded reports whether every step (if any) succeeded.
func (r Result) AllSucceeded() bool {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return false
		}
	}
	return true
}

// AnySucceeded reports whether at least one step succeeded, or the plan
// was empty to begin with (vacuously no forward progress was needed).
func (r Result) AnySucceeded() bool {
	if len(r.Outcomes) == 0 {
		return true
	}
	for _, o := range r.Outcomes {
		if o.Err == nil {
			return true
		}
	}
	return false
}

// Failures returns the subset of outcomes that errored.
func (r Result) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Executor carries out a plan against the cloud gateway.
type Executor struct {
	gateway cloud.Gateway
	audit   *audit.Logger
	logger  *zap.Logger
	opts    Options
}

// New builds an Executor. A nil audit logger or zap logger is replaced
// with a no-op one.
func New(gateway cloud.Gateway, auditLogger *audit.Logger, logger *zap.Logger, opts Options) *Executor {
	opts.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NewLogger(logger)
	}
	return &Executor{gateway: gateway, audit: auditLogger, logger: logger, opts: opts}
}

// stepPhase is this step's position in the class-ordering spec.md requires:
// removals, then metadata/condition changes, then creates, then LB-adds.
// Steps within one phase run concurrently; a phase only starts once every
// step of the previous phase has reached a terminal outcome.
type stepPhase int

const (
	phaseRemovals stepPhase = iota
	phaseMetadataAndCondition
	phaseCreates
	phaseLBAdds
	phaseOther
	numPhases
)

func phaseOf(kind model.StepKind) stepPhase {
	switch kind {
	case model.StepDeleteServer, model.StepRemoveNodesFromLB:
		return phaseRemovals
	case model.StepSetMetadata, model.StepRemoveMetadata, model.StepChangeNodeCondition:
		return phaseMetadataAndCondition
	case model.StepCreateServer:
		return phaseCreates
	case model.StepAddNodesToLB, model.StepBulkAddToLB:
		return phaseLBAdds
	default:
		return phaseOther
	}
}

// Execute runs steps as a sequence of class phases — removals, then
// metadata/condition changes, then creates, then LB-adds — with a barrier
// between phases; within one phase, steps run concurrently in a
// bounded-pool goroutine each. This bounds peak resource use per phase and
// guarantees scale-down steps complete before scale-up steps begin, per
// the plan's class-ordering. A failing step never cancels its phase
// siblings — partial progress within a cycle is expected and is the
// caller's (pkg/convergence) job to interpret as Stable/Continue/Failed.
func (e *Executor) Execute(ctx context.Context, groupID string, steps []model.Step) Result {
	var phases [numPhases][]model.Step
	for _, step := range steps {
		p := phaseOf(step.Kind)
		phases[p] = append(phases[p], step)
	}

	outcomes := make([]Outcome, 0, len(steps))
	for _, phaseSteps := range phases {
		if len(phaseSteps) == 0 {
			continue
		}
		outcomes = append(outcomes, e.executePhase(ctx, groupID, phaseSteps)...)
	}

	return Result{Outcomes: outcomes}
}

func (e *Executor) executePhase(ctx context.Context, groupID string, steps []model.Step) []Outcome {
	p := pool.New().WithMaxGoroutines(e.opts.Concurrency)
	var mu sync.Mutex
	outcomes := make([]Outcome, 0, len(steps))

	for _, step := range steps {
		step := step
		p.Go(func() {
			outcome := e.executeStep(ctx, groupID, step)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		})
	}
	p.Wait()

	return outcomes
}

func (e *Executor) executeStep(ctx context.Context, groupID string, step model.Step) Outcome {
	switch step.Kind {
	case model.StepCreateServer:
		return e.executeCreate(ctx, groupID, step)
	case model.StepDeleteServer:
		return e.executeDelete(ctx, groupID, step)
	case model.StepSetMetadata:
		return e.executeSetMetadata(ctx, groupID, step)
	case model.StepRemoveMetadata:
		return e.executeRemoveMetadata(ctx, groupID, step)
	case model.StepAddNodesToLB, model.StepBulkAddToLB:
		return e.executeAddNodes(ctx, groupID, step)
	case model.StepRemoveNodesFromLB:
		return e.executeRemoveNodes(ctx, groupID, step)
	case model.StepChangeNodeCondition:
		return e.executeChangeCondition(ctx, groupID, step)
	case model.StepSleep:
		return e.executeSleep(ctx, step)
	default:
		return Outcome{Step: step}
	}
}

// retryGeneric drives a single-call operation through classify until it
// reaches Success or Terminal, retrying on Retryable with a jittered
// uniform backoff in [LBRetryMin, LBRetryMax]. Used by every step kind
// except CreateServer, which has its own discipline; DeleteServer uses it
// for the DELETE call and then runs its own verify poll.
func (e *Executor) retryGeneric(ctx context.Context, groupID, kind string, classify func(error) cloud.Outcome, call func() error) (int, error) {
	var lastErr error
	for attempt := 0; attempt < e.opts.LBMaxRetries; attempt++ {
		err := call()
		switch classify(err) {
		case cloud.OutcomeSuccess:
			return attempt, nil
		case cloud.OutcomeTerminal:
			return attempt, err
		}
		lastErr = err
		e.audit.LogStepOutcome(ctx, groupID, kind, "retry", err)
		select {
		case <-time.After(randomDuration(e.opts.LBRetryMin, e.opts.LBRetryMax)):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
	return e.opts.LBMaxRetries, lastErr
}

func (e *Executor) recordAndLog(ctx context.Context, groupID, kind string, start time.Time, retries int, err error) {
	result := "success"
	if err != nil {
		result = "failed"
	}
	metrics.RecordStep(kind, time.Since(start), result, retries)
	outcome := "success"
	if err != nil {
		outcome = "fail"
	}
	e.audit.LogStepOutcome(ctx, groupID, kind, outcome, err)
}

func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
