package cell

import (
	"fmt"
	"time"
)

// replyLen is the fixed arity of a CL.THROTTLE reply.
const replyLen = 5

// AllowedDetails carries the limiter state reported with an allowed verdict.
type AllowedDetails struct {
	// Limit is the total number of requests the key may spend.
	Limit int64

	// Remaining is the number of requests left in the current window.
	Remaining int64

	// ResetAfter is the time until the limiter fully resets for the key.
	ResetAfter time.Duration
}

// BlockedDetails carries the limiter state reported with a blocked verdict.
type BlockedDetails struct {
	// RetryAfter is the time until the next request will be allowed.
	// Always >= 0 on a blocked verdict.
	RetryAfter time.Duration

	// ResetAfter is the time until the limiter fully resets for the key.
	ResetAfter time.Duration
}

// Verdict is a decoded CL.THROTTLE reply. Exactly one of the two detail
// views is meaningful: BlockedDetails when Blocked is true, AllowedDetails
// otherwise.
type Verdict struct {
	// Blocked reports whether the request must not proceed.
	Blocked bool

	limit      int64
	remaining  int64
	retryAfter time.Duration
	resetAfter time.Duration
}

// AllowedDetails returns the allowed-side view of the verdict.
// Only meaningful when Blocked is false.
func (v Verdict) AllowedDetails() AllowedDetails {
	return AllowedDetails{
		Limit:      v.limit,
		Remaining:  v.remaining,
		ResetAfter: v.resetAfter,
	}
}

// BlockedDetails returns the blocked-side view of the verdict.
// Only meaningful when Blocked is true.
func (v Verdict) BlockedDetails() BlockedDetails {
	return BlockedDetails{
		RetryAfter: v.retryAfter,
		ResetAfter: v.resetAfter,
	}
}

// String renders the verdict for logs.
func (v Verdict) String() string {
	if v.Blocked {
		return fmt.Sprintf("blocked (retry after %s, reset after %s)", v.retryAfter, v.resetAfter)
	}
	return fmt.Sprintf("allowed (%d/%d remaining, reset after %s)", v.remaining, v.limit, v.resetAfter)
}

// ProtocolError reports a CL.THROTTLE reply that deviates from the expected
// five-integer shape. It is fatal to the request being decoded and is never
// silently coerced into a verdict.
type ProtocolError struct {
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return "unexpected CL.THROTTLE reply: " + e.Reason
}

// ParseReply decodes a raw reply into a Verdict.
//
// A well-formed reply is a five-element array of integers:
//
//	[0] blocked flag (0 or 1)
//	[1] limit
//	[2] remaining
//	[3] retry-after seconds (-1 when not blocked)
//	[4] reset-after seconds
//
// The -1 retry hint on allowed replies never surfaces: an allowed verdict
// carries no retry-after at all. Any deviation from the five-integer shape
// yields a *ProtocolError and a zero Verdict that must not be used.
func ParseReply(reply interface{}) (Verdict, error) {
	elems, ok := reply.([]interface{})
	if !ok {
		return Verdict{}, &ProtocolError{Reason: fmt.Sprintf("want array, got %T", reply)}
	}
	if len(elems) != replyLen {
		return Verdict{}, &ProtocolError{Reason: fmt.Sprintf("want %d elements, got %d", replyLen, len(elems))}
	}

	var ints [replyLen]int64
	for i, e := range elems {
		n, ok := e.(int64)
		if !ok {
			return Verdict{}, &ProtocolError{Reason: fmt.Sprintf("element %d: want integer, got %T", i, e)}
		}
		ints[i] = n
	}

	switch ints[0] {
	case 0:
		return Verdict{
			Blocked:    false,
			limit:      ints[1],
			remaining:  ints[2],
			resetAfter: time.Duration(ints[4]) * time.Second,
		}, nil
	case 1:
		return Verdict{
			Blocked:    true,
			limit:      ints[1],
			remaining:  ints[2],
			retryAfter: time.Duration(ints[3]) * time.Second,
			resetAfter: time.Duration(ints[4]) * time.Second,
		}, nil
	default:
		return Verdict{}, &ProtocolError{Reason: fmt.Sprintf("blocked flag: want 0 or 1, got %d", ints[0])}
	}
}
