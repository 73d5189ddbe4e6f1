// Package store persists scaling groups and their runtime state. The
// interface is the contract the rest of the engine depends on; boltstore
// is the one concrete, swappable implementation this module ships.
package store

import (
	"context"

	"github.com/raxautoscale/convergence/pkg/model"
)

// Store is the persistence surface the Controller and Converger Service
// depend on.
type Store interface {
	GetGroup(ctx context.Context, tenantID, groupID string) (*model.ScalingGroup, error)
	PutGroup(ctx context.Context, group *model.ScalingGroup) error
	DeleteGroup(ctx context.Context, tenantID, groupID string) error
	ListGroups(ctx context.Context, tenantID string) ([]model.ScalingGroup, error)

	GetGroupState(ctx context.Context, groupID string) (*model.GroupState, error)
	PutGroupState(ctx context.Context, groupID string, state *model.GroupState) error
}
