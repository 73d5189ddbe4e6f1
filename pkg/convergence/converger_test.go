package convergence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raxautoscale/convergence/pkg/lock"
	"github.com/raxautoscale/convergence/pkg/model"
)

// fakeLocker grants every Acquire immediately unless configured to deny.
type fakeLocker struct {
	mu        sync.Mutex
	denyNext  bool
	acquired  int
	released  int
	acquireCh chan struct{}
}

func (f *fakeLocker) Acquire(ctx context.Context, key string, acquireTimeout, releaseTimeout time.Duration) (lock.Lock, error) {
	f.mu.Lock()
	deny := f.denyNext
	f.denyNext = false
	f.acquired++
	f.mu.Unlock()
	if deny {
		return nil, lock.ErrContended
	}
	if f.acquireCh != nil {
		f.acquireCh <- struct{}{}
	}
	return &fakeLock{f: f}, nil
}

type fakeLock struct{ f *fakeLocker }

func (l *fakeLock) Release(ctx context.Context) error {
	l.f.mu.Lock()
	l.f.released++
	l.f.mu.Unlock()
	return nil
}

func TestConverger_StableGroupRunsOneCycleAndReleasesLock(t *testing.T) {
	gw := &fakeGateway{servers: []model.Server{
		{ID: "s1", State: model.ServerActive, CreatedAt: time.Now(), Addresses: []string{"10.0.0.1"}, Metadata: map[string]string{model.MetaGroupID: "g1"}},
	}}
	st := newMemStore()
	require.NoError(t, st.PutGroup(context.Background(), &model.ScalingGroup{TenantID: "tenant-a", GroupID: "g1"}))
	require.NoError(t, st.PutGroupState(context.Background(), "g1", &model.GroupState{Desired: 1, Active: map[string]model.ServerRef{}, Pending: map[string]model.JobInfo{}}))

	cycle := newTestCycle(t, gw, st)
	locker := &fakeLocker{}
	conv := NewConverger(cycle, locker, nil, nil)

	require.NoError(t, conv.StartConvergence(context.Background(), "tenant-a", "g1"))

	waitUntil(t, func() bool {
		locker.mu.Lock()
		defer locker.mu.Unlock()
		return locker.released == 1
	})

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
}

func TestConverger_CoalescesConcurrentStartsForSameGroup(t *testing.T) {
	gw := &fakeGateway{servers: []model.Server{
		{ID: "s1", State: model.ServerActive, CreatedAt: time.Now(), Addresses: []string{"10.0.0.1"}, Metadata: map[string]string{model.MetaGroupID: "g1"}},
	}}
	st := newMemStore()
	require.NoError(t, st.PutGroup(context.Background(), &model.ScalingGroup{TenantID: "tenant-a", GroupID: "g1"}))
	require.NoError(t, st.PutGroupState(context.Background(), "g1", &model.GroupState{Desired: 1, Active: map[string]model.ServerRef{}, Pending: map[string]model.JobInfo{}}))

	cycle := newTestCycle(t, gw, st)
	locker := &fakeLocker{acquireCh: make(chan struct{}, 1)}
	conv := NewConverger(cycle, locker, nil, nil)

	require.NoError(t, conv.StartConvergence(context.Background(), "tenant-a", "g1"))
	require.NoError(t, conv.StartConvergence(context.Background(), "tenant-a", "g1"))

	<-locker.acquireCh

	waitUntil(t, func() bool {
		locker.mu.Lock()
		defer locker.mu.Unlock()
		return locker.released == 1
	})

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Equal(t, 1, locker.acquired, "second StartConvergence call should have coalesced onto the first task")
}

func TestConverger_LockContentionYieldsWithoutError(t *testing.T) {
	gw := &fakeGateway{}
	st := newMemStore()
	require.NoError(t, st.PutGroup(context.Background(), &model.ScalingGroup{TenantID: "tenant-a", GroupID: "g1"}))
	require.NoError(t, st.PutGroupState(context.Background(), "g1", model.NewGroupState()))

	cycle := newTestCycle(t, gw, st)
	locker := &fakeLocker{denyNext: true}
	conv := NewConverger(cycle, locker, nil, nil)

	require.NoError(t, conv.StartConvergence(context.Background(), "tenant-a", "g1"))

	waitUntil(t, func() bool {
		locker.mu.Lock()
		defer locker.mu.Unlock()
		return locker.acquired == 1
	})

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Equal(t, 0, locker.released)
}

type erroringLocker struct{}

func (erroringLocker) Acquire(ctx context.Context, key string, acquireTimeout, releaseTimeout time.Duration) (lock.Lock, error) {
	return nil, errors.New("boom")
}

func TestConverger_LockAcquireErrorDoesNotPanic(t *testing.T) {
	gw := &fakeGateway{}
	st := newMemStore()
	require.NoError(t, st.PutGroup(context.Background(), &model.ScalingGroup{TenantID: "tenant-a", GroupID: "g1"}))
	require.NoError(t, st.PutGroupState(context.Background(), "g1", model.NewGroupState()))

	cycle := newTestCycle(t, gw, st)
	conv := NewConverger(cycle, erroringLocker{}, nil, nil)

	assert.NoError(t, conv.StartConvergence(context.Background(), "tenant-a", "g1"))
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
