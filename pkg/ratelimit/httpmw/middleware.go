package httpmw

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/Sentinel-Gate/cellgate/pkg/ratelimit"
)

// Config is the pipeline configuration specialized for net/http.
type Config = ratelimit.Config[*http.Request, *Response]

// Layer is the pipeline factory specialized for net/http.
type Layer = ratelimit.Layer[*http.Request, *Response]

// Middleware wraps an http.Handler chain with the rate limit pipeline built
// from the layer, in the usual func(next) form. Each request runs the full
// decision pipeline; the downstream handler writes into a buffered Response
// that is flushed after the pipeline finishes.
func Middleware(layer *Layer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		inner := ratelimit.ServiceFunc[*http.Request, *Response](
			func(ctx context.Context, r *http.Request) (*Response, error) {
				resp := NewResponse()
				next.ServeHTTP(resp, r.WithContext(ctx))
				return resp, nil
			})
		rl := layer.Wrap(inner)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resp, err := rl.Call(r.Context(), r)
			if err != nil {
				// The buffered inner service never errors, so this branch is
				// unreachable with a well-formed handler chain.
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			_ = resp.Flush(w)
		})
	}
}

// DefaultErrorHandler turns the four recovered error kinds into the
// conventional HTTP responses: 401 for failed rule provision, 429 with a
// Retry-After header for a blocked verdict, 500 for transport and protocol
// failures.
func DefaultErrorHandler(logger *slog.Logger) ratelimit.ErrorHandler[*http.Request, *Response] {
	return func(err error, r *http.Request) *Response {
		resp := NewResponse()
		switch e := err.(type) {
		case *ratelimit.ProvideRuleError:
			logger.Warn("failed to define rule for request",
				"path", r.URL.Path,
				"detail", e.Detail,
			)
			writeText(resp, http.StatusUnauthorized, "unauthorized")

		case *ratelimit.RateLimitError:
			logger.Warn("request throttled",
				"path", r.URL.Path,
				"key", e.Details.Rule.Key.String(),
				"policy", e.Details.Rule.Policy.Name,
				"resource", e.Details.Rule.Resource,
			)
			resp.Header().Set("Retry-After", formatSeconds(e.Details.Details.RetryAfter))
			writeText(resp, http.StatusTooManyRequests, "too many requests")

		default:
			logger.Error("rate limit pipeline failed",
				"path", r.URL.Path,
				"error", err,
			)
			writeText(resp, http.StatusInternalServerError, "internal error")
		}
		return resp
	}
}

// RateLimitHeaders is a success handler that reports the limiter state in
// the de-facto X-RateLimit-* response headers.
func RateLimitHeaders(d ratelimit.RequestAllowedDetails, resp **Response) {
	h := (*resp).Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Details.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Details.Remaining, 10))
	h.Set("X-RateLimit-Reset", formatSeconds(d.Details.ResetAfter))
}

// writeText sets the status and writes a plain-text body.
func writeText(resp *Response, status int, body string) {
	resp.Header().Set("Content-Type", "text/plain; charset=utf-8")
	resp.SetStatus(status)
	_, _ = resp.Write([]byte(body + "\n"))
}

// formatSeconds renders a duration as whole seconds, rounded up, never
// negative, as Retry-After expects.
func formatSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.FormatInt(int64(math.Ceil(d.Seconds())), 10)
}
