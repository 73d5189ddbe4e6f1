// Package gatherer collects a point-in-time snapshot of a scaling group's
// fleet: the compute servers tagged with its group id and the load-balancer
// nodes on every LB it binds to. It is read-only and holds no state across
// calls.
package gatherer

import (
	"context"
	"math/rand"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/internal/logging"
	"github.com/raxautoscale/convergence/pkg/cloud"
	"github.com/raxautoscale/convergence/pkg/model"
)

const (
	// maxAttempts bounds the retry budget for a single list call.
	maxAttempts = 3

	// backoffBase is the starting backoff for the first retry; it doubles
	// on each subsequent attempt.
	backoffBase = 500 * time.Millisecond
)

// Gatherer fetches a group's observed fleet from the cloud gateway.
type Gatherer struct {
	gateway cloud.Gateway
	logger  *zap.Logger
}

// New builds a Gatherer against gateway, logging through logger.
func New(gateway cloud.Gateway, logger *zap.Logger) *Gatherer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gatherer{gateway: gateway, logger: logger}
}

// Gather issues the compute list and per-LB node list requests concurrently
// and returns the combined snapshot. lbIDs is the set of load balancers the
// group's launch template binds to; an empty slice gathers servers only. Any
// one list exhausting its retry budget aborts the whole gather.
func (g *Gatherer) Gather(ctx context.Context, groupID string, lbIDs []string) (model.ObservedFleet, error) {
	type result struct {
		servers []model.Server
		lbNodes []model.LBNode
	}

	p := pool.NewWithResults[result]().WithContext(ctx).WithCancelOnError()

	p.Go(func(ctx context.Context) (result, error) {
		servers, err := withRetry(ctx, g.logger, "list_servers", func() ([]model.Server, error) {
			return g.gateway.ListServers(ctx, groupID)
		})
		return result{servers: servers}, err
	})

	for _, lbID := range lbIDs {
		lbID := lbID
		p.Go(func(ctx context.Context) (result, error) {
			nodes, err := withRetry(ctx, g.logger, "list_lb_nodes", func() ([]model.LBNode, error) {
				return g.gateway.ListNodes(ctx, lbID)
			})
			return result{lbNodes: nodes}, err
		})
	}

	results, err := p.Wait()
	if err != nil {
		return model.ObservedFleet{}, err
	}

	var fleet model.ObservedFleet
	for _, r := range results {
		fleet.Servers = append(fleet.Servers, r.servers...)
		fleet.LBNodes = append(fleet.LBNodes, r.lbNodes...)
	}
	return fleet, nil
}

// withRetry runs call up to maxAttempts times, retrying only transient
// errors (5xx responses, transport failures) with exponential backoff.
// Terminal errors (4xx) return immediately.
func withRetry[T any](ctx context.Context, logger *zap.Logger, op string, call func() (T, error)) (T, error) {
	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		v, err := call()
		if err == nil {
			return v, nil
		}
		last = err
		if !isTransient(err) {
			return v, err
		}

		logger.Warn("gatherer call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		if attempt == maxAttempts-1 {
			break
		}
		backoff := backoffBase * time.Duration(1<<uint(attempt))
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	logging.LogAPIError(logger, op, "", 0, last, logging.GetRequestID(ctx))
	var zero T
	return zero, last
}

// isTransient reports whether err is worth retrying: a 5xx API error or any
// non-API (transport) error.
func isTransient(err error) bool {
	apiErr, ok := err.(*model.APIError)
	if !ok {
		return true
	}
	return apiErr.IsServerError()
}
