package convergence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raxautoscale/convergence/pkg/executor"
	"github.com/raxautoscale/convergence/pkg/gatherer"
	"github.com/raxautoscale/convergence/pkg/model"
)

// memStore is an in-memory Store for cycle tests.
type memStore struct {
	mu     sync.Mutex
	groups map[string]*model.ScalingGroup
	states map[string]*model.GroupState
}

func newMemStore() *memStore {
	return &memStore{groups: map[string]*model.ScalingGroup{}, states: map[string]*model.GroupState{}}
}

func (m *memStore) GetGroup(ctx context.Context, tenantID, groupID string) (*model.ScalingGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[tenantID+"/"+groupID]
	if !ok {
		return nil, &model.NoSuchGroupError{TenantID: tenantID, GroupID: groupID}
	}
	return g, nil
}

func (m *memStore) PutGroup(ctx context.Context, group *model.ScalingGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.TenantID+"/"+group.GroupID] = group
	return nil
}

func (m *memStore) DeleteGroup(ctx context.Context, tenantID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, tenantID+"/"+groupID)
	delete(m.states, groupID)
	return nil
}

func (m *memStore) ListGroups(ctx context.Context, tenantID string) ([]model.ScalingGroup, error) {
	return nil, nil
}

func (m *memStore) GetGroupState(ctx context.Context, groupID string) (*model.GroupState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[groupID]; ok {
		cp := *s
		return &cp, nil
	}
	return model.NewGroupState(), nil
}

func (m *memStore) PutGroupState(ctx context.Context, groupID string, state *model.GroupState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.states[groupID] = &cp
	return nil
}

// fakeGateway is a minimal cloud.Gateway for cycle tests: it serves a
// fixed server list and never needs LB, create, or delete behavior beyond
// what the scale-up/stable paths exercise.
type fakeGateway struct {
	mu      sync.Mutex
	servers []model.Server
	created int
}

func (f *fakeGateway) ListServers(ctx context.Context, groupID string) ([]model.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Server
	for _, s := range f.servers {
		if s.GroupID() == groupID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeGateway) FindServers(ctx context.Context, launch model.LaunchTemplate, groupID, nameRegex string) ([]model.Server, error) {
	return nil, nil
}

func (f *fakeGateway) CreateServer(ctx context.Context, launch model.LaunchTemplate) (model.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	s := model.Server{
		ID:        "new-server",
		State:     model.ServerActive,
		CreatedAt: time.Now(),
		Addresses: []string{"10.0.0.9"},
		Metadata:  map[string]string{model.MetaGroupID: launch.Payload["metadata"].(map[string]interface{})[model.MetaGroupID].(string)},
	}
	f.servers = append(f.servers, s)
	return s, nil
}

func (f *fakeGateway) GetServer(ctx context.Context, serverID string) (model.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.servers {
		if s.ID == serverID {
			return s, nil
		}
	}
	return model.Server{}, &model.ServerDeletedError{ServerID: serverID}
}

func (f *fakeGateway) DeleteServer(ctx context.Context, serverID string) error { return nil }
func (f *fakeGateway) SetMetadata(ctx context.Context, serverID, key, value string) error {
	return nil
}
func (f *fakeGateway) RemoveMetadata(ctx context.Context, serverID, key string) error { return nil }
func (f *fakeGateway) ListNodes(ctx context.Context, lbID string) ([]model.LBNode, error) {
	return nil, nil
}
func (f *fakeGateway) AddNodes(ctx context.Context, lbID string, targets []model.LBTarget) error {
	return nil
}
func (f *fakeGateway) RemoveNodes(ctx context.Context, lbID string, nodeIDs []string) error {
	return nil
}
func (f *fakeGateway) ChangeCondition(ctx context.Context, lbID, nodeID string, cond model.NodeCondition) error {
	return nil
}

func newTestCycle(t *testing.T, gw *fakeGateway, st *memStore) *Cycle {
	t.Helper()
	g := gatherer.New(gw, nil)
	ex := executor.New(gw, nil, nil, executor.Options{})
	return NewCycle(st, g, ex, nil, nil, time.Minute, time.Minute)
}

func TestCycle_ScaleUpCreatesServerAndReportsContinue(t *testing.T) {
	gw := &fakeGateway{}
	st := newMemStore()
	require.NoError(t, st.PutGroup(context.Background(), &model.ScalingGroup{
		TenantID: "tenant-a", GroupID: "g1",
		LaunchTemplate: model.LaunchTemplate{NamePrefix: "web-", Payload: map[string]interface{}{}},
		Config:         model.GroupConfig{Min: 1, Max: 5, MaxSet: true},
	}))
	require.NoError(t, st.PutGroupState(context.Background(), "g1", &model.GroupState{Desired: 1, Active: map[string]model.ServerRef{}, Pending: map[string]model.JobInfo{}}))

	c := newTestCycle(t, gw, st)
	cont, err := c.Execute(context.Background(), "tenant-a", "g1")
	require.NoError(t, err)
	assert.True(t, cont)
	assert.Equal(t, 1, gw.created)
}

func TestCycle_AlreadyAtDesiredIsStable(t *testing.T) {
	gw := &fakeGateway{servers: []model.Server{
		{ID: "s1", State: model.ServerActive, CreatedAt: time.Now(), Addresses: []string{"10.0.0.1"}, Metadata: map[string]string{model.MetaGroupID: "g1"}},
	}}
	st := newMemStore()
	require.NoError(t, st.PutGroup(context.Background(), &model.ScalingGroup{
		TenantID: "tenant-a", GroupID: "g1",
		LaunchTemplate: model.LaunchTemplate{NamePrefix: "web-", Payload: map[string]interface{}{}},
	}))
	require.NoError(t, st.PutGroupState(context.Background(), "g1", &model.GroupState{Desired: 1, Active: map[string]model.ServerRef{}, Pending: map[string]model.JobInfo{}}))

	c := newTestCycle(t, gw, st)
	cont, err := c.Execute(context.Background(), "tenant-a", "g1")
	require.NoError(t, err)
	assert.False(t, cont)
}

func TestCycle_PausedGroupSkipsEntirely(t *testing.T) {
	gw := &fakeGateway{}
	st := newMemStore()
	require.NoError(t, st.PutGroup(context.Background(), &model.ScalingGroup{TenantID: "tenant-a", GroupID: "g1"}))
	require.NoError(t, st.PutGroupState(context.Background(), "g1", &model.GroupState{Desired: 3, Paused: true, Active: map[string]model.ServerRef{}, Pending: map[string]model.JobInfo{}}))

	c := newTestCycle(t, gw, st)
	cont, err := c.Execute(context.Background(), "tenant-a", "g1")
	require.NoError(t, err)
	assert.False(t, cont)
	assert.Equal(t, 0, gw.created)
}

func TestCycle_UnknownGroupReturnsError(t *testing.T) {
	gw := &fakeGateway{}
	st := newMemStore()
	c := newTestCycle(t, gw, st)
	_, err := c.Execute(context.Background(), "tenant-a", "missing")
	assert.Error(t, err)
}
