// Package ratelimit provides a rate-limiting middleware for generic
// request/response pipelines. The limiting decision itself is delegated to a
// Redis/Valkey deployment running the redis-cell module; this package
// determines the rule for a request, performs the CL.THROTTLE round trip,
// and steers the pipeline on the verdict.
//
// The pipeline is pluggable through three seams: a RuleProvider that maps a
// request to an optional Rule, an ErrorHandler that turns every recovered
// failure into a response, and optional success/unruled handlers that shape
// responses after the inner service completes. See Config.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Sentinel-Gate/cellgate/pkg/cell"
)

// RateLimit wraps an inner Service with the rate-limit decision pipeline.
// Instances are produced by a Layer; each holds the inner service, a shared
// read-only Config, and a cheap connection handle, so the struct itself is
// safe to copy and every Call owns its per-request state.
type RateLimit[Req, Resp any] struct {
	inner  Service[Req, Resp]
	config *Config[Req, Resp]
	conn   cell.Conn
	pool   cell.Pool
	logger *slog.Logger
}

// Ready forwards the inner service's readiness signal unchanged. Inner
// services without the capability are always ready.
func (rl *RateLimit[Req, Resp]) Ready(ctx context.Context) error {
	if rc, ok := rl.inner.(ReadyChecker); ok {
		return rc.Ready(ctx)
	}
	return nil
}

// Call runs one request through the decision pipeline:
//
//	provide rule -> encode command -> store round trip -> decode verdict
//	-> forward or short-circuit
//
// Every recovered failure (rule provision, transport, protocol, blocked
// verdict) resolves to a response via the error handler; only inner-service
// errors propagate to the caller unchanged. A ruled request costs exactly
// one store round trip, and the inner service runs exactly once unless the
// verdict is blocked.
func (rl *RateLimit[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	rule, err := rl.config.provider.ProvideRule(req)
	if err != nil {
		var perr *ProvideRuleError
		if !errors.As(err, &perr) {
			perr = &ProvideRuleError{Detail: err.Error()}
		}
		return rl.config.onError(perr, req), nil
	}

	if rule == nil {
		resp, err := rl.inner.Call(ctx, req)
		if err != nil {
			return resp, err
		}
		if rl.config.onUnruled != nil {
			rl.config.onUnruled(&resp)
		}
		return resp, nil
	}

	verdict, err := rl.throttle(ctx, rule)
	if err != nil {
		return rl.config.onError(err, req), nil
	}

	if verdict.Blocked {
		details := RequestBlockedDetails{
			Details: verdict.BlockedDetails(),
			Rule:    *rule,
		}
		rl.logger.Debug("request blocked",
			"key", rule.Key.String(),
			"policy", rule.Policy.Name,
			"resource", rule.Resource,
			"retry_after", details.Details.RetryAfter,
		)
		return rl.config.onError(&RateLimitError{Details: details}, req), nil
	}

	rl.logger.Debug("request allowed",
		"key", rule.Key.String(),
		"policy", rule.Policy.Name,
		"remaining", verdict.AllowedDetails().Remaining,
	)

	resp, err := rl.inner.Call(ctx, req)
	if err != nil {
		return resp, err
	}
	if rl.config.onSuccess != nil {
		rl.config.onSuccess(RequestAllowedDetails{
			Details:  verdict.AllowedDetails(),
			Policy:   rule.Policy,
			Resource: rule.Resource,
		}, &resp)
	}
	return resp, nil
}

// throttle performs the store round trip for the rule, acquiring a pooled
// connection first when the pipeline was built from a Pool. The returned
// error is always one of *TransportError or *cell.ProtocolError.
func (rl *RateLimit[Req, Resp]) throttle(ctx context.Context, rule *Rule) (cell.Verdict, error) {
	conn := rl.conn
	if rl.pool != nil {
		pooled, release, err := rl.pool.Acquire(ctx)
		if err != nil {
			return cell.Verdict{}, &TransportError{Err: err}
		}
		defer release()
		conn = pooled
	}

	verdict, err := cell.Throttle(ctx, conn, rule.Key.String(), rule.Policy)
	if err != nil {
		var perr *cell.ProtocolError
		if errors.As(err, &perr) {
			// A reply of the wrong shape means the server is not what we
			// think it is; worth surfacing louder than a plain failure.
			rl.logger.Warn("unexpected reply from rate limit store",
				"key", rule.Key.String(),
				"error", err,
			)
			return cell.Verdict{}, perr
		}
		return cell.Verdict{}, &TransportError{Err: err}
	}
	return verdict, nil
}

// Compile-time checks that the wrapper satisfies the capabilities it wraps.
var (
	_ Service[int, int] = (*RateLimit[int, int])(nil)
	_ ReadyChecker      = (*RateLimit[int, int])(nil)
)
