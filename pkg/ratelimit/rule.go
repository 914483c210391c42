package ratelimit

import "github.com/Sentinel-Gate/cellgate/pkg/cell"

// Rule ties a Key to the Policy enforced for it, with an optional resource
// label for logging and audit. A Rule is produced once per request by the
// provider, owned by that request's pipeline invocation, and never shared
// across requests.
type Rule struct {
	Key      Key
	Policy   cell.Policy
	Resource string
}

// NewRule creates a Rule for the key under the policy.
func NewRule(key Key, policy cell.Policy) Rule {
	return Rule{Key: key, Policy: policy}
}

// WithResource returns a copy of the rule tagged with a resource label.
func (r Rule) WithResource(name string) Rule {
	r.Resource = name
	return r
}

// RuleProvider inspects an inbound request and decides what to rate-limit.
//
// ProvideRule must be synchronous, side-effect free, and safe for concurrent
// use. Returning (nil, nil) means "do not rate-limit this request": the
// pipeline bypasses the store entirely and forwards to the inner service.
// Returning an error means the request could not be classified (for example
// a missing identifying header); prefer *ProvideRuleError so handlers can
// inspect the detail and offending key.
type RuleProvider[Req any] interface {
	ProvideRule(req Req) (*Rule, error)
}

// RuleProviderFunc adapts a plain function to the RuleProvider interface.
type RuleProviderFunc[Req any] func(req Req) (*Rule, error)

// ProvideRule implements RuleProvider.
func (f RuleProviderFunc[Req]) ProvideRule(req Req) (*Rule, error) {
	return f(req)
}

// RequestAllowedDetails bundles an allowed verdict with the rule context
// that produced it. It is constructed per call, handed to the success
// handler, and discarded.
type RequestAllowedDetails struct {
	Details  cell.AllowedDetails
	Policy   cell.Policy
	Resource string
}

// RequestBlockedDetails bundles a blocked verdict with the rule that
// produced it. It is constructed per call, handed to the error handler
// inside a *RateLimitError, and discarded.
type RequestBlockedDetails struct {
	Details cell.BlockedDetails
	Rule    Rule
}
