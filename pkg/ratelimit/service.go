package ratelimit

import "context"

// Service is the inner-service capability the pipeline wraps: call with a
// request, await a response or error. Implementations must be safe for
// concurrent calls from multiple cloned handles.
type Service[Req, Resp any] interface {
	Call(ctx context.Context, req Req) (Resp, error)
}

// ServiceFunc adapts a plain function to the Service interface.
type ServiceFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Call implements Service.
func (f ServiceFunc[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// ReadyChecker is the optional readiness capability of an inner service.
// The pipeline forwards it unchanged and adds no throttling of its own:
// readiness is backpressure, the rate limit is a per-call veto.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}
