// Package lock defines the distributed mutual-exclusion contract the
// Converger Service uses to serialize convergence cycles per group.
// redislock is the one concrete, swappable implementation this module
// ships.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrContended is returned by Acquire when acquireTimeout elapses without
// obtaining the lock.
var ErrContended = errors.New("lock contended")

// Locker acquires named, ephemeral-owner locks. A lock acquired with
// releaseTimeout will expire on its own if the holder never calls
// Release (crash, missed deadline), bounding how long a dead holder can
// block the rest of the fleet.
type Locker interface {
	// Acquire blocks (polling) until the lock at key is obtained or
	// acquireTimeout elapses, whichever comes first. The returned Lock
	// expires automatically after releaseTimeout unless released sooner.
	Acquire(ctx context.Context, key string, acquireTimeout, releaseTimeout time.Duration) (Lock, error)
}

// Lock is a held lock. Release is idempotent-safe to call once; calling
// it after the lock has already expired is a no-op, not an error.
type Lock interface {
	Release(ctx context.Context) error
}

// Key builds the convergence lock key for a group, per the
// "/convergence/<group_id>" discipline.
func Key(groupID string) string {
	return fmt.Sprintf("/convergence/%s", groupID)
}
