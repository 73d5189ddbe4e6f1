package executor

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/raxautoscale/convergence/pkg/cloud"
	"github.com/raxautoscale/convergence/pkg/model"
)

var (
	createSemMu sync.Mutex
	createSem   = make(chan struct{}, DefaultGlobalCreateConcurrency)
)

// ConfigureGlobalCreateConcurrency resets the process-wide CreateServer
// concurrency cap shared by every group's Executor. Call once at startup,
// before any Execute runs; reconfiguring mid-flight is not supported.
func ConfigureGlobalCreateConcurrency(n int) {
	if n <= 0 {
		n = DefaultGlobalCreateConcurrency
	}
	createSemMu.Lock()
	defer createSemMu.Unlock()
	createSem = make(chan struct{}, n)
}

func acquireCreateSlot(ctx context.Context) error {
	createSemMu.Lock()
	sem := createSem
	createSemMu.Unlock()
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func releaseCreateSlot() {
	createSemMu.Lock()
	sem := createSem
	createSemMu.Unlock()
	select {
	case <-sem:
	default:
	}
}

// executeCreate implements the CreateServer row plus the exactly-once
// create discipline: on a failure that might mean the server was in fact
// created, find_server is queried before deciding whether to retry. Once
// a server id is in hand, the create-then-attach composition (BUILD ->
// ACTIVE -> LB attach) runs as one scope-bound unit: see attachToLBs.
func (e *Executor) executeCreate(ctx context.Context, groupID string, step model.Step) Outcome {
	start := time.Now()

	if err := acquireCreateSlot(ctx); err != nil {
		e.recordAndLog(ctx, groupID, "CreateServer", start, 0, err)
		return Outcome{Step: step, Err: err}
	}
	defer releaseCreateSlot()

	nameRegex := exactNameRegex(step.Launch)
	backoff := e.opts.CreateBackoffBase
	var lastErr error
	attempt := 0

	for {
		server, err := e.gateway.CreateServer(ctx, step.Launch)
		outcome := cloud.ClassifyCreateServer(err)
		if outcome == cloud.OutcomeSuccess {
			e.recordAndLog(ctx, groupID, "CreateServer", start, attempt, nil)
			return e.finishCreate(ctx, groupID, step, server.ID, attempt)
		}
		lastErr = err

		found, findErr := e.gateway.FindServers(ctx, step.Launch, groupID, nameRegex)
		if findErr == nil {
			switch len(found) {
			case 1:
				e.recordAndLog(ctx, groupID, "CreateServer", start, attempt, nil)
				return e.finishCreate(ctx, groupID, step, found[0].ID, attempt)
			case 0:
				// no orphan found; fall through to retry/terminal handling below.
			default:
				adoptErr := &model.ServerCreationRetryError{Reason: "find_server matched more than one candidate"}
				e.recordAndLog(ctx, groupID, "CreateServer", start, attempt, adoptErr)
				return Outcome{Step: step, Err: adoptErr, Retries: attempt}
			}
		}

		if outcome == cloud.OutcomeTerminal || attempt >= e.opts.CreateMaxRetries {
			break
		}
		e.audit.LogStepOutcome(ctx, groupID, "CreateServer", "retry", lastErr)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = e.opts.CreateMaxRetries
		}
		backoff *= 2
		attempt++
	}

	e.recordAndLog(ctx, groupID, "CreateServer", start, attempt, lastErr)
	return Outcome{Step: step, Err: lastErr, Retries: attempt}
}

// finishCreate completes the create-then-attach composition for a newly
// created (or adopted) server: if its launch template carries LB
// bindings, it is attached before the step is reported done. The server
// id is always returned, attached or not, so the cycle's state snapshot
// tracks it; an attach failure surfaces as this step's error so the cycle
// is reported non-stable and retried next pass.
func (e *Executor) finishCreate(ctx context.Context, groupID string, step model.Step, serverID string, retries int) Outcome {
	if err := e.attachToLBs(ctx, groupID, serverID, step.Launch); err != nil {
		return Outcome{Step: step, ServerID: serverID, Err: err, Retries: retries}
	}
	return Outcome{Step: step, ServerID: serverID, Retries: retries}
}

// attachToLBs is the create-attach composition's second half: it waits
// for the server to reach ACTIVE, then attaches it to every LB its launch
// template binds to. The undo stack here is scoped to this one
// composition — never to the enclosing cycle — so a failure partway
// through only unwinds the adds this same call made.
func (e *Executor) attachToLBs(ctx context.Context, groupID, serverID string, launch model.LaunchTemplate) error {
	if len(launch.LBBindings) == 0 {
		return nil
	}

	server, err := e.waitActive(ctx, serverID)
	if err != nil {
		return err
	}
	addr := server.ServiceNetAddress()
	if addr == "" {
		return &model.TimedOutError{Op: "wait_active_address", Duration: e.opts.AttachTimeout.String()}
	}

	lbIDs := make([]string, 0, len(launch.LBBindings))
	for lbID := range launch.LBBindings {
		lbIDs = append(lbIDs, lbID)
	}
	sort.Strings(lbIDs)

	undo := newUndoStack()
	for _, lbID := range lbIDs {
		targets := make([]model.LBTarget, 0, len(launch.LBBindings[lbID]))
		for _, b := range launch.LBBindings[lbID] {
			targets = append(targets, model.LBTarget{Address: addr, Port: b.Port, Condition: model.NodeEnabled})
		}

		start := time.Now()
		retries, attachErr := e.retryGeneric(ctx, groupID, "AddNodeToLB", cloud.ClassifyAddNodeToLB, func() error {
			return e.gateway.AddNodes(ctx, lbID, targets)
		})
		e.recordAndLog(ctx, groupID, "AddNodeToLB", start, retries, attachErr)
		if attachErr != nil {
			undo.drain(ctx, e.logger)
			return attachErr
		}

		lbID, targets := lbID, targets
		undo.push(func(ctx context.Context) error {
			return e.removeByAddress(ctx, lbID, targets)
		})
	}
	return nil
}

// waitActive polls GetServer until serverID reaches ACTIVE, backing off
// exponentially, and gives up after AttachTimeout.
func (e *Executor) waitActive(ctx context.Context, serverID string) (model.Server, error) {
	deadline := time.Now().Add(e.opts.AttachTimeout)
	backoff := defaultPollBase

	for {
		server, err := e.gateway.GetServer(ctx, serverID)
		if err == nil && server.State == model.ServerActive {
			return server, nil
		}
		if err != nil {
			if _, ok := err.(*model.ServerDeletedError); ok {
				return model.Server{}, err
			}
		}

		if !time.Now().Before(deadline) {
			return model.Server{}, &model.TimedOutError{Op: "wait_active", Duration: e.opts.AttachTimeout.String()}
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return model.Server{}, ctx.Err()
		}
		if backoff *= 2; backoff > defaultPollCap {
			backoff = defaultPollCap
		}
	}
}

// exactNameRegex builds the name regex find_server uses to locate a server
// this create call may have already produced. The regex is anchored at the
// launch template's NamePrefix and matches any name that starts with it; it
// does not pin one exact server name.
func exactNameRegex(launch model.LaunchTemplate) string {
	return "^" + regexp.QuoteMeta(launch.NamePrefix) + ".*$"
}
