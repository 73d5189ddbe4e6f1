package cloud

// CompositeGateway bundles a ComputeClient and LBClient, each behind its
// own ServiceClient (and so its own rate limiter and circuit breaker), into
// the single Gateway the rest of the engine depends on.
type CompositeGateway struct {
	*ComputeClient
	*LBClient
}

// NewCompositeGateway builds a Gateway from a compute and an LB
// ServiceClient, typically two ServiceClients pointed at different base
// URLs (possibly overridden per region).
func NewCompositeGateway(compute, lb *ServiceClient) *CompositeGateway {
	return &CompositeGateway{
		ComputeClient: NewComputeClient(compute),
		LBClient:      NewLBClient(lb),
	}
}
