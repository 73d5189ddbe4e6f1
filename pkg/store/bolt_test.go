package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raxautoscale/convergence/pkg/model"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convergence.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStore_GetGroup_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetGroup(context.Background(), "tenant-a", "group-1")
	var notFound *model.NoSuchGroupError
	assert.True(t, errors.As(err, &notFound))
}

func TestBoltStore_PutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	group := &model.ScalingGroup{
		TenantID: "tenant-a",
		GroupID:  "group-1",
		LaunchTemplate: model.LaunchTemplate{
			Image:  "ubuntu-22.04",
			Flavor: "m1.small",
		},
		Config: model.GroupConfig{Min: 1, Max: 10, MaxSet: true},
	}
	require.NoError(t, s.PutGroup(ctx, group))

	got, err := s.GetGroup(ctx, "tenant-a", "group-1")
	require.NoError(t, err)
	assert.Equal(t, group.GroupID, got.GroupID)
	assert.Equal(t, group.LaunchTemplate.Image, got.LaunchTemplate.Image)
	assert.Equal(t, uint32(10), got.Config.Max)
}

func TestBoltStore_ListGroups_ScopedToTenant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutGroup(ctx, &model.ScalingGroup{TenantID: "tenant-a", GroupID: "g1"}))
	require.NoError(t, s.PutGroup(ctx, &model.ScalingGroup{TenantID: "tenant-a", GroupID: "g2"}))
	require.NoError(t, s.PutGroup(ctx, &model.ScalingGroup{TenantID: "tenant-b", GroupID: "g3"}))

	got, err := s.ListGroups(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := map[string]bool{}
	for _, g := range got {
		ids[g.GroupID] = true
	}
	assert.True(t, ids["g1"])
	assert.True(t, ids["g2"])
}

func TestBoltStore_DeleteGroup_RemovesGroupAndState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutGroup(ctx, &model.ScalingGroup{TenantID: "tenant-a", GroupID: "g1"}))
	require.NoError(t, s.PutGroupState(ctx, "g1", model.NewGroupState()))

	require.NoError(t, s.DeleteGroup(ctx, "tenant-a", "g1"))

	_, err := s.GetGroup(ctx, "tenant-a", "g1")
	var notFound *model.NoSuchGroupError
	assert.True(t, errors.As(err, &notFound))

	state, err := s.GetGroupState(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, state.Active)
}

func TestBoltStore_GetGroupState_DefaultsWhenMissing(t *testing.T) {
	s := openTestStore(t)
	state, err := s.GetGroupState(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.NotNil(t, state.Active)
	assert.NotNil(t, state.Pending)
	assert.Equal(t, uint32(0), state.Desired)
}

func TestBoltStore_PutGroupState_RoundTripsTouchTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	state := model.NewGroupState()
	state.Desired = 4
	state.GroupTouched = &now
	state.Active["srv-1"] = model.ServerRef{ID: "srv-1", Addresses: []string{"10.0.0.1"}}

	require.NoError(t, s.PutGroupState(ctx, "g1", state))

	got, err := s.GetGroupState(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), got.Desired)
	require.NotNil(t, got.GroupTouched)
	assert.True(t, now.Equal(*got.GroupTouched))
	assert.Equal(t, "10.0.0.1", got.Active["srv-1"].Addresses[0])
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convergence.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.PutGroup(context.Background(), &model.ScalingGroup{TenantID: "tenant-a", GroupID: "g1"}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetGroup(context.Background(), "tenant-a", "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GroupID)
}
