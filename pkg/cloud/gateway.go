// Package cloud is the Cloud Gateway: typed request/response plumbing
// against the compute and load-balancer REST APIs, with per-endpoint retry
// classification. It does not itself retry — that is the Step Executor's
// job (see pkg/executor) — it only performs one HTTP call per method call,
// behind a circuit breaker and rate limiter, and returns errors the caller
// can classify with the per-step Classify* functions in retry.go.
package cloud

import (
	"context"

	"github.com/raxautoscale/convergence/pkg/model"
)

// ComputeGateway is the compute-service surface the engine depends on.
type ComputeGateway interface {
	// ListServers returns servers whose metadata group_id matches groupID.
	ListServers(ctx context.Context, groupID string) ([]model.Server, error)
	// FindServers implements the exactly-once create discipline's lookup:
	// servers matching (image, flavor, name regex, metadata group_id).
	FindServers(ctx context.Context, launch model.LaunchTemplate, groupID, nameRegex string) ([]model.Server, error)
	CreateServer(ctx context.Context, launch model.LaunchTemplate) (model.Server, error)
	GetServer(ctx context.Context, serverID string) (model.Server, error)
	DeleteServer(ctx context.Context, serverID string) error
	SetMetadata(ctx context.Context, serverID, key, value string) error
	RemoveMetadata(ctx context.Context, serverID, key string) error
}

// LBGateway is the load-balancer-service surface the engine depends on.
type LBGateway interface {
	ListNodes(ctx context.Context, lbID string) ([]model.LBNode, error)
	AddNodes(ctx context.Context, lbID string, targets []model.LBTarget) error
	RemoveNodes(ctx context.Context, lbID string, nodeIDs []string) error
	ChangeCondition(ctx context.Context, lbID, nodeID string, cond model.NodeCondition) error
}

// Gateway bundles both surfaces; the Gatherer and Executor take this.
type Gateway interface {
	ComputeGateway
	LBGateway
}
