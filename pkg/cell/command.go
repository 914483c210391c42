package cell

import "time"

// CommandName is the redis-cell throttle command.
const CommandName = "CL.THROTTLE"

// Command encodes a (key, policy) pair into the CL.THROTTLE argument list:
//
//	CL.THROTTLE <key> <burst> <tokens> <period_seconds> <apply>
//
// Argument order and the integral-seconds unit for the period are a wire
// contract with the redis-cell module and must not change.
func Command(key string, p Policy) []interface{} {
	return []interface{}{
		CommandName,
		key,
		p.Burst,
		p.Tokens,
		int64(p.Period / time.Second),
		p.Apply,
	}
}
