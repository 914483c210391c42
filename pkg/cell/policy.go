// Package cell implements the client side of the redis-cell module's
// CL.THROTTLE command: rate limit policies, the positional argument encoding,
// and decoding of the fixed five-integer reply into a verdict.
//
// The package is deliberately small. Token arithmetic (GCRA) is owned by the
// Redis/Valkey server running redis-cell; this package only speaks the wire
// contract. The in-memory connection in memconn.go is a development and test
// stand-in, not a production limiter.
package cell

import (
	"fmt"
	"time"
)

// Policy describes a rate limit: how many tokens may be spent per period,
// how large a burst is tolerated, and how many tokens a single request costs.
//
// Policy is a value type. The With* modifiers return copies; a Policy handed
// to a running pipeline is never mutated.
type Policy struct {
	// Burst is the number of requests tolerated above the sustained rate.
	Burst int

	// Tokens is the maximum sustained number of requests per Period.
	Tokens int

	// Period is the time window Tokens applies to. Rendered on the wire in
	// integral seconds; must be at least one second.
	Period time.Duration

	// Apply is the token cost charged per request. Defaults to 1.
	Apply int

	// Name is an optional static label for logging and debugging.
	Name string
}

// PerSecond returns a Policy allowing tokens requests per second.
func PerSecond(tokens int) Policy {
	return PerPeriod(tokens, time.Second)
}

// PerMinute returns a Policy allowing tokens requests per minute.
func PerMinute(tokens int) Policy {
	return PerPeriod(tokens, time.Minute)
}

// PerHour returns a Policy allowing tokens requests per hour.
func PerHour(tokens int) Policy {
	return PerPeriod(tokens, time.Hour)
}

// PerDay returns a Policy allowing tokens requests per day.
func PerDay(tokens int) Policy {
	return PerPeriod(tokens, 24*time.Hour)
}

// PerPeriod returns a Policy allowing tokens requests per the given period,
// with no extra burst and a cost of one token per request.
func PerPeriod(tokens int, period time.Duration) Policy {
	return Policy{Burst: 0, Tokens: tokens, Period: period, Apply: 1}
}

// WithMaxBurst returns a copy of the policy with the burst allowance set.
func (p Policy) WithMaxBurst(burst int) Policy {
	p.Burst = burst
	return p
}

// WithApplyTokens returns a copy of the policy with the per-request cost set.
func (p Policy) WithApplyTokens(apply int) Policy {
	p.Apply = apply
	return p
}

// Named returns a copy of the policy with the label set.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// Validate reports whether the policy can be rendered on the wire.
func (p Policy) Validate() error {
	if p.Tokens <= 0 {
		return fmt.Errorf("policy %q: tokens must be positive, got %d", p.Name, p.Tokens)
	}
	if p.Period < time.Second {
		return fmt.Errorf("policy %q: period must be at least one second, got %s", p.Name, p.Period)
	}
	if p.Burst < 0 {
		return fmt.Errorf("policy %q: burst must not be negative, got %d", p.Name, p.Burst)
	}
	if p.Apply < 1 {
		return fmt.Errorf("policy %q: apply must be at least 1, got %d", p.Name, p.Apply)
	}
	return nil
}

// String renders the policy for logs, e.g. "10/1m0s burst 2 cost 1".
func (p Policy) String() string {
	if p.Name != "" {
		return fmt.Sprintf("%s (%d/%s burst %d cost %d)", p.Name, p.Tokens, p.Period, p.Burst, p.Apply)
	}
	return fmt.Sprintf("%d/%s burst %d cost %d", p.Tokens, p.Period, p.Burst, p.Apply)
}
