package executor

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// undoStack records the inverse of reversible operations executed by one
// create-then-attach composition (LB node adds), drained in LIFO order when
// a later step of that same composition fails. Draining is best-effort: a failing undo
// action is logged, never propagated.
type undoStack struct {
	mu      sync.Mutex
	actions []func(ctx context.Context) error
}

func newUndoStack() *undoStack {
	return &undoStack{}
}

func (u *undoStack) push(action func(ctx context.Context) error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.actions = append(u.actions, action)
}

func (u *undoStack) drain(ctx context.Context, logger *zap.Logger) {
	u.mu.Lock()
	actions := u.actions
	u.actions = nil
	u.mu.Unlock()

	for i := len(actions) - 1; i >= 0; i-- {
		if err := actions[i](ctx); err != nil {
			logger.Warn("undo action failed", zap.Error(err))
		}
	}
}
