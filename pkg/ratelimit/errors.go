package ratelimit

import "fmt"

// ProvideRuleError reports that a request could not be classified into a
// rule. Detail and Key are optional diagnostics; both may be empty.
type ProvideRuleError struct {
	// Detail describes why classification failed, e.g. a missing header.
	Detail string

	// Key is the offending key, when one was identified before the failure.
	Key *Key
}

// Error implements the error interface.
func (e *ProvideRuleError) Error() string {
	if e.Detail != "" {
		return "failed to provide rule: " + e.Detail
	}
	return "failed to provide rule"
}

// TransportError reports that the store round trip failed before a reply
// could be decoded: connection refused, timeout, pool exhaustion.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return "rate limit store: " + e.Err.Error()
}

// Unwrap exposes the underlying store error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// RateLimitError reports a blocked verdict, carrying the full rule and
// verdict context for the error handler.
type RateLimitError struct {
	Details RequestBlockedDetails
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("request blocked for key %s, retry after %s",
		e.Details.Rule.Key, e.Details.Details.RetryAfter)
}
