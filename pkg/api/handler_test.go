package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raxautoscale/convergence/pkg/model"
)

// memStore is a minimal in-memory store.Store for handler tests.
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
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ScalingGroup
	for _, g := range m.groups {
		if g.TenantID == tenantID {
			out = append(out, *g)
		}
	}
	return out, nil
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

type fakeConverger struct{ calls int }

func (f *fakeConverger) StartConvergence(ctx context.Context, tenantID, groupID string) error {
	f.calls++
	return nil
}

type fakeFlags struct{ enabled map[string]bool }

func (f *fakeFlags) TenantConvergenceEnabled(tenantID string) bool { return f.enabled[tenantID] }

func newTestHandler(st *memStore, conv *fakeConverger) *Handler {
	return NewHandler(st, conv, &fakeFlags{enabled: map[string]bool{"tenant-a": true}}, nil, nil, nil, nil)
}

func TestHandler_Health(t *testing.T) {
	h := newTestHandler(newMemStore(), &fakeConverger{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_PutThenGetGroup(t *testing.T) {
	st := newMemStore()
	h := newTestHandler(st, &fakeConverger{})

	body, _ := json.Marshal(groupRequest{
		LaunchTemplate: model.LaunchTemplate{Image: "ubuntu-22.04", NamePrefix: "web-"},
		Config:         model.GroupConfig{Min: 1, Max: 5, MaxSet: true},
		Policies:       map[string]model.Policy{},
	})
	req := httptest.NewRequest(http.MethodPut, "/tenants/tenant-a/groups/g1/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/tenants/tenant-a/groups/g1/", nil)
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.ScalingGroup
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "ubuntu-22.04", got.LaunchTemplate.Image)
}

func TestHandler_GetUnknownGroupIs404(t *testing.T) {
	h := newTestHandler(newMemStore(), &fakeConverger{})
	req := httptest.NewRequest(http.MethodGet, "/tenants/tenant-a/groups/missing/", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ExecutePolicy_TriggersConvergenceForEnabledTenant(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.PutGroup(context.Background(), &model.ScalingGroup{
		TenantID: "tenant-a", GroupID: "g1",
		Config: model.GroupConfig{Min: 1, Max: 10, MaxSet: true},
		Policies: map[string]model.Policy{
			"p1": {ID: "p1", Change: model.ChangeSpec{Kind: model.ChangeAbsoluteDelta, Delta: 2}},
		},
	}))
	conv := &fakeConverger{}
	h := newTestHandler(st, conv)

	req := httptest.NewRequest(http.MethodPost, "/tenants/tenant-a/groups/g1/policies/p1/execute", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, conv.calls)
}

func TestHandler_ExecutePolicy_UnknownPolicyIs404(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.PutGroup(context.Background(), &model.ScalingGroup{TenantID: "tenant-a", GroupID: "g1", Policies: map[string]model.Policy{}}))
	h := newTestHandler(st, &fakeConverger{})

	req := httptest.NewRequest(http.MethodPost, "/tenants/tenant-a/groups/g1/policies/missing/execute", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_DeleteGroup(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.PutGroup(context.Background(), &model.ScalingGroup{TenantID: "tenant-a", GroupID: "g1"}))
	h := newTestHandler(st, &fakeConverger{})

	req := httptest.NewRequest(http.MethodDelete, "/tenants/tenant-a/groups/g1/", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := st.GetGroup(context.Background(), "tenant-a", "g1")
	assert.Error(t, err)
}
