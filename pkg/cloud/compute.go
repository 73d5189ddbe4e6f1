package cloud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raxautoscale/convergence/pkg/model"
)

// ComputeClient implements ComputeGateway against the compute service's
// REST surface described in spec.md §6.
type ComputeClient struct {
	svc *ServiceClient
}

// NewComputeClient wraps a ServiceClient as a ComputeGateway.
func NewComputeClient(svc *ServiceClient) *ComputeClient {
	return &ComputeClient{svc: svc}
}

type serverDTO struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Created   time.Time         `json:"created"`
	Addresses map[string][]struct {
		Addr string `json:"addr"`
	} `json:"addresses"`
	Metadata  map[string]string `json:"metadata"`
	TaskState string            `json:"OS-EXT-STS:task_state"`
}

func (d serverDTO) toModel() model.Server {
	s := model.Server{
		ID:        d.ID,
		State:     mapServerState(d.Status),
		CreatedAt: d.Created,
		Metadata:  d.Metadata,
		TaskState: d.TaskState,
	}
	for _, addrs := range d.Addresses {
		for _, a := range addrs {
			s.Addresses = append(s.Addresses, a.Addr)
		}
	}
	return s
}

func mapServerState(status string) model.ServerState {
	switch strings.ToUpper(status) {
	case "ACTIVE":
		return model.ServerActive
	case "BUILD", "BUILDING":
		return model.ServerBuild
	case "ERROR":
		return model.ServerError
	case "DELETING":
		return model.ServerDeleting
	default:
		return model.ServerUnknown
	}
}

type listServersResponse struct {
	Servers []serverDTO `json:"servers"`
}

// ListServers lists all servers, filtering client-side to those whose
// metadata group_id matches groupID — the compute list endpoint does not
// support server-side metadata filtering.
func (c *ComputeClient) ListServers(ctx context.Context, groupID string) ([]model.Server, error) {
	var resp listServersResponse
	if _, _, err := c.svc.do(ctx, "GET", "/servers/detail", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Server, 0, len(resp.Servers))
	for _, dto := range resp.Servers {
		s := dto.toModel()
		if s.GroupID() == groupID {
			out = append(out, s)
		}
	}
	return out, nil
}

// FindServers implements the compute list filtered by (image, flavor,
// exact-name-regex, metadata group_id), used by the exactly-once create
// discipline to detect an orphaned-but-created server after a create call
// returned a transport error.
func (c *ComputeClient) FindServers(ctx context.Context, launch model.LaunchTemplate, groupID, nameRegex string) ([]model.Server, error) {
	path := fmt.Sprintf("/servers/detail?image=%s&flavor=%s&name=%s",
		launch.Image, launch.Flavor, nameRegex)
	var resp listServersResponse
	if _, _, err := c.svc.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Server, 0, len(resp.Servers))
	for _, dto := range resp.Servers {
		s := dto.toModel()
		if s.GroupID() == groupID {
			out = append(out, s)
		}
	}
	return out, nil
}

type createServerRequest struct {
	Server map[string]interface{} `json:"server"`
}

// CreateServer issues one POST /servers call. This single call may return
// a transport error after the server was in fact created — the Step
// Executor, not this client, performs the find-and-adopt discipline that
// resolves that ambiguity.
func (c *ComputeClient) CreateServer(ctx context.Context, launch model.LaunchTemplate) (model.Server, error) {
	payload := make(map[string]interface{}, len(launch.Payload)+2)
	for k, v := range launch.Payload {
		payload[k] = v
	}
	payload["imageRef"] = launch.Image
	payload["flavorRef"] = launch.Flavor

	var resp struct {
		Server serverDTO `json:"server"`
	}
	if _, _, err := c.svc.do(ctx, "POST", "/servers", createServerRequest{Server: payload}, &resp); err != nil {
		return model.Server{}, err
	}
	return resp.Server.toModel(), nil
}

// GetServer fetches one server's current detail.
func (c *ComputeClient) GetServer(ctx context.Context, serverID string) (model.Server, error) {
	var resp struct {
		Server serverDTO `json:"server"`
	}
	if _, _, err := c.svc.do(ctx, "GET", "/servers/"+serverID, nil, &resp); err != nil {
		if apiErr, ok := err.(*model.APIError); ok && apiErr.IsNotFound() {
			return model.Server{}, &model.ServerDeletedError{ServerID: serverID}
		}
		return model.Server{}, err
	}
	return resp.Server.toModel(), nil
}

// DeleteServer issues DELETE /servers/{id}. A 404 is treated as success
// here (nil is returned), per the retry table in spec.md §4.4.
func (c *ComputeClient) DeleteServer(ctx context.Context, serverID string) error {
	_, _, err := c.svc.do(ctx, "DELETE", "/servers/"+serverID, nil, nil)
	if apiErr, ok := err.(*model.APIError); ok && apiErr.IsNotFound() {
		return nil
	}
	return err
}

type metadataRequest struct {
	Meta map[string]string `json:"meta"`
}

// SetMetadata issues PUT /servers/{id}/metadata/{k}.
func (c *ComputeClient) SetMetadata(ctx context.Context, serverID, key, value string) error {
	_, _, err := c.svc.do(ctx, "PUT", fmt.Sprintf("/servers/%s/metadata/%s", serverID, key),
		metadataRequest{Meta: map[string]string{key: value}}, nil)
	return err
}

// RemoveMetadata issues DELETE /servers/{id}/metadata/{k}.
func (c *ComputeClient) RemoveMetadata(ctx context.Context, serverID, key string) error {
	_, _, err := c.svc.do(ctx, "DELETE", fmt.Sprintf("/servers/%s/metadata/%s", serverID, key), nil, nil)
	if apiErr, ok := err.(*model.APIError); ok && apiErr.IsNotFound() {
		return nil
	}
	return err
}
