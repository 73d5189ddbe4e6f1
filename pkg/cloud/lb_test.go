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

func newTestLBClient(t *testing.T, handler http.HandlerFunc) *LBClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewLBClient(NewServiceClient("loadbalancer", ClientOptions{BaseURL: srv.URL}))
}

func TestLBClient_ListNodesParsesCondition(t *testing.T) {
	c := newTestLBClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/loadbalancers/lb1/nodes", r.URL.Path)
		_ = json.NewEncoder(w).Encode(listNodesResponse{Nodes: []nodeDTO{
			{ID: "n1", Address: "10.0.0.1", Port: 80, Condition: "enabled"},
		}})
	})

	nodes, err := c.ListNodes(context.Background(), "lb1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, model.NodeEnabled, nodes[0].Condition)
}

func TestLBClient_ListNodesTreatsDeletedLBAsEmpty(t *testing.T) {
	c := newTestLBClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "LB is DELETED"})
	})

	nodes, err := c.ListNodes(context.Background(), "lb1")
	require.NoError(t, err)
	assert.Nil(t, nodes)
}

func TestLBClient_AddNodesTranslatesDeletedLBToDomainError(t *testing.T) {
	c := newTestLBClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "lb is deleted"})
	})

	err := c.AddNodes(context.Background(), "lb1", []model.LBTarget{{Address: "10.0.0.1", Port: 80}})
	require.Error(t, err)
	var deletedErr *model.CLBOrNodeDeletedError
	require.ErrorAs(t, err, &deletedErr)
	assert.Equal(t, "lb1", deletedErr.LBID)
}

func TestLBClient_RemoveNodesToleratesAlreadyGone(t *testing.T) {
	calls := 0
	c := newTestLBClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			w.WriteHeader(http.StatusNotFound)
		case 2:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "PENDING_DELETE"})
		}
	})

	err := c.RemoveNodes(context.Background(), "lb1", []string{"n1", "n2"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestLBClient_RemoveNodesPropagatesOtherErrors(t *testing.T) {
	c := newTestLBClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.RemoveNodes(context.Background(), "lb1", []string{"n1"})
	assert.Error(t, err)
}

func TestLBClient_ChangeConditionSendsRequestedCondition(t *testing.T) {
	var gotBody changeConditionRequest
	c := newTestLBClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	err := c.ChangeCondition(context.Background(), "lb1", "n1", model.NodeDraining)
	require.NoError(t, err)
	assert.Equal(t, string(model.NodeDraining), gotBody.Condition)
}
