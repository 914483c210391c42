package ratelimit

// ErrorHandler turns a pipeline error into a response. It is the single seam
// through which every locally-recovered error kind (*ProvideRuleError,
// *TransportError, *cell.ProtocolError, *RateLimitError) becomes a concrete
// response value, so it must be total: a panicking handler is a programming
// defect, not a modeled error.
type ErrorHandler[Req, Resp any] func(err error, req Req) Resp

// SuccessHandler shapes the response of a request that passed its rate limit
// check. It may mutate only the response, never the request or any shared
// state, and is called for every allowed request.
type SuccessHandler[Resp any] func(details RequestAllowedDetails, resp *Resp)

// UnruledHandler shapes the response of a request the provider chose not to
// rate-limit. Same constraints as SuccessHandler.
type UnruledHandler[Resp any] func(resp *Resp)

// Config composes the rule provider with the handler set. Build it once at
// startup, finish the fluent calls, then hand it to a Layer; from that point
// it is shared read-only by every in-flight request and must not change.
// Any change requires building a new Config.
type Config[Req, Resp any] struct {
	provider  RuleProvider[Req]
	onError   ErrorHandler[Req, Resp]
	onSuccess SuccessHandler[Resp]
	onUnruled UnruledHandler[Resp]
}

// NewConfig creates a Config from the two mandatory pieces: a rule provider
// and an error handler. Success and unruled handlers default to no-ops and
// can be added with OnSuccess and OnUnruled.
func NewConfig[Req, Resp any](provider RuleProvider[Req], onError ErrorHandler[Req, Resp]) *Config[Req, Resp] {
	return &Config[Req, Resp]{
		provider: provider,
		onError:  onError,
	}
}

// OnSuccess sets the success handler and returns the updated config.
// Must only be called before the config is handed to a Layer.
func (c *Config[Req, Resp]) OnSuccess(h SuccessHandler[Resp]) *Config[Req, Resp] {
	c.onSuccess = h
	return c
}

// OnUnruled sets the unruled handler and returns the updated config.
// Must only be called before the config is handed to a Layer.
func (c *Config[Req, Resp]) OnUnruled(h UnruledHandler[Resp]) *Config[Req, Resp] {
	c.onUnruled = h
	return c
}
