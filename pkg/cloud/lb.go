package cloud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/pkg/model"
)

// LBClient implements LBGateway against the load-balancer service's REST
// surface described in spec.md §6.
type LBClient struct {
	svc *ServiceClient
}

// NewLBClient wraps a ServiceClient as an LBGateway.
func NewLBClient(svc *ServiceClient) *LBClient {
	return &LBClient{svc: svc}
}

type nodeDTO struct {
	ID            string     `json:"id"`
	Address       string     `json:"address"`
	Port          int        `json:"port"`
	Condition     string     `json:"condition"`
	DrainDeadline *time.Time `json:"drain_deadline,omitempty"`
}

type listNodesResponse struct {
	Nodes []nodeDTO `json:"nodes"`
}

// ListNodes lists every node currently attached to lbID.
func (c *LBClient) ListNodes(ctx context.Context, lbID string) ([]model.LBNode, error) {
	var resp listNodesResponse
	if _, _, err := c.svc.do(ctx, "GET", fmt.Sprintf("/loadbalancers/%s/nodes", lbID), nil, &resp); err != nil {
		if isLBDeleted(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]model.LBNode, 0, len(resp.Nodes))
	for _, n := range resp.Nodes {
		out = append(out, model.LBNode{
			LBID:          lbID,
			NodeID:        n.ID,
			Address:       n.Address,
			Port:          n.Port,
			Condition:     model.NodeCondition(strings.ToUpper(n.Condition)),
			DrainDeadline: n.DrainDeadline,
		})
	}
	return out, nil
}

type addNodesRequest struct {
	Nodes []addNodeDTO `json:"nodes"`
}

type addNodeDTO struct {
	Address   string `json:"address"`
	Port      int    `json:"port"`
	Condition string `json:"condition"`
	Type      string `json:"type"`
}

// AddNodes issues POST /loadbalancers/{lb}/nodes for a batch of targets.
func (c *LBClient) AddNodes(ctx context.Context, lbID string, targets []model.LBTarget) error {
	req := addNodesRequest{Nodes: make([]addNodeDTO, 0, len(targets))}
	for _, t := range targets {
		cond := t.Condition
		if cond == "" {
			cond = model.NodeEnabled
		}
		req.Nodes = append(req.Nodes, addNodeDTO{
			Address:   t.Address,
			Port:      t.Port,
			Condition: string(cond),
			Type:      "PRIMARY",
		})
	}
	_, _, err := c.svc.do(ctx, "POST", fmt.Sprintf("/loadbalancers/%s/nodes", lbID), req, nil)
	if err != nil && isLBDeleted(err) {
		return &model.CLBOrNodeDeletedError{LBID: lbID}
	}
	return err
}

// RemoveNodes issues one DELETE /loadbalancers/{lb}/nodes/{id} call per
// node id. A 404, a "LB deleted" 422, or a "PENDING_DELETE" 422 are all
// logged as already-gone and treated as success, per spec.md §4.4's retry
// table.
func (c *LBClient) RemoveNodes(ctx context.Context, lbID string, nodeIDs []string) error {
	for _, nodeID := range nodeIDs {
		_, _, err := c.svc.do(ctx, "DELETE", fmt.Sprintf("/loadbalancers/%s/nodes/%s", lbID, nodeID), nil, nil)
		if err == nil {
			continue
		}
		apiErr, ok := err.(*model.APIError)
		if (ok && apiErr.IsNotFound()) || isLBDeleted(err) || isPendingDelete(err) {
			c.svc.logger.Info("lb node already gone, treating removal as success",
				zap.String("lbID", lbID), zap.String("nodeID", nodeID), zap.Error(err))
			continue
		}
		return err
	}
	return nil
}

type changeConditionRequest struct {
	Condition string `json:"condition"`
}

// ChangeCondition issues PUT /loadbalancers/{lb}/nodes/{id} to change a
// node's condition (used to mark a draining node before removal).
func (c *LBClient) ChangeCondition(ctx context.Context, lbID, nodeID string, cond model.NodeCondition) error {
	_, _, err := c.svc.do(ctx, "PUT", fmt.Sprintf("/loadbalancers/%s/nodes/%s", lbID, nodeID),
		changeConditionRequest{Condition: string(cond)}, nil)
	if err != nil && isLBDeleted(err) {
		return &model.CLBOrNodeDeletedError{LBID: lbID, NodeID: nodeID}
	}
	return err
}

// isLBDeleted recognizes the LB service's 422 "LB is deleted" body shape.
func isLBDeleted(err error) bool {
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.StatusCode != 422 {
		return false
	}
	return strings.Contains(strings.ToUpper(apiErr.Message), "DELETED")
}

// isPendingDelete recognizes the LB service's 422 "PENDING_DELETE" body shape.
func isPendingDelete(err error) bool {
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.StatusCode != 422 {
		return false
	}
	return strings.Contains(strings.ToUpper(apiErr.Message), "PENDING_DELETE")
}

// isPendingUpdate recognizes the LB service's 422 "PENDING_UPDATE" body shape.
func isPendingUpdate(err error) bool {
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.StatusCode != 422 {
		return false
	}
	return strings.Contains(strings.ToUpper(apiErr.Message), "PENDING_UPDATE")
}
