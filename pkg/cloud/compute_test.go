package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raxautoscale/convergence/pkg/model"
)

func newTestComputeClient(t *testing.T, handler http.HandlerFunc) *ComputeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewComputeClient(NewServiceClient("compute", ClientOptions{BaseURL: srv.URL}))
}

func TestComputeClient_ListServersFiltersByGroupMetadata(t *testing.T) {
	c := newTestComputeClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(listServersResponse{Servers: []serverDTO{
			{ID: "s1", Status: "ACTIVE", Metadata: map[string]string{model.MetaGroupID: "g1"}},
			{ID: "s2", Status: "ACTIVE", Metadata: map[string]string{model.MetaGroupID: "g2"}},
		}})
	})

	servers, err := c.ListServers(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "s1", servers[0].ID)
	assert.Equal(t, model.ServerActive, servers[0].State)
}

func TestComputeClient_CreateServerStampsPayloadAndParsesResult(t *testing.T) {
	var gotBody createServerRequest
	c := newTestComputeClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"server": serverDTO{ID: "new-1", Status: "BUILD"},
		})
	})

	launch := model.LaunchTemplate{
		Image:   "ubuntu-22.04",
		Flavor:  "m1.small",
		Payload: map[string]interface{}{"name": "web-1"},
	}
	server, err := c.CreateServer(context.Background(), launch)
	require.NoError(t, err)
	assert.Equal(t, "new-1", server.ID)
	assert.Equal(t, model.ServerBuild, server.State)
	assert.Equal(t, "ubuntu-22.04", gotBody.Server["imageRef"])
	assert.Equal(t, "m1.small", gotBody.Server["flavorRef"])
	assert.Equal(t, "web-1", gotBody.Server["name"])
}

func TestComputeClient_GetServerTranslatesNotFoundToServerDeleted(t *testing.T) {
	c := newTestComputeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetServer(context.Background(), "gone")
	require.Error(t, err)
	var deletedErr *model.ServerDeletedError
	require.ErrorAs(t, err, &deletedErr)
	assert.Equal(t, "gone", deletedErr.ServerID)
}

func TestComputeClient_DeleteServerTreatsNotFoundAsSuccess(t *testing.T) {
	c := newTestComputeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	assert.NoError(t, c.DeleteServer(context.Background(), "already-gone"))
}

func TestComputeClient_DeleteServerPropagatesOtherErrors(t *testing.T) {
	c := newTestComputeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	assert.Error(t, c.DeleteServer(context.Background(), "s1"))
}

func TestComputeClient_RemoveMetadataTreatsNotFoundAsSuccess(t *testing.T) {
	c := newTestComputeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	assert.NoError(t, c.RemoveMetadata(context.Background(), "s1", "k"))
}
