package gateway

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/Sentinel-Gate/cellgate/internal/config"
)

// newTestServer assembles a gateway over the in-process counter store and
// a throwaway upstream.
func newTestServer(t *testing.T, upstreamURL string, cfgRules []config.RuleConfig) *Server {
	t.Helper()

	cfg := &config.Config{
		Server:   config.ServerConfig{Memory: true},
		Upstream: config.UpstreamConfig{URL: upstreamURL},
		Rules:    cfgRules,
	}
	cfg.SetDefaults()

	s, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func echoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "1")
		fmt.Fprintf(w, "echo %s %s", r.Method, r.URL.Path)
	}))
	t.Cleanup(upstream.Close)
	return upstream
}

func TestServer_EnforcesQuotaEndToEnd(t *testing.T) {
	upstream := echoUpstream(t)
	s := newTestServer(t, upstream.URL, []config.RuleConfig{
		{Name: "per-ip", KeyBy: "ip", Tokens: 3, Period: "1m", Apply: 1, Resource: "per-ip"},
	})

	// The first three requests pass through to the upstream.
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
		body, _ := io.ReadAll(rec.Body)
		if got := string(body); got != "echo GET /things" {
			t.Errorf("request %d: body = %q, want upstream echo", i+1, got)
		}
		if rec.Header().Get("X-Upstream") != "1" {
			t.Errorf("request %d: upstream header missing", i+1)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Errorf("request %d: X-RateLimit-Limit = %q, want 3", i+1, got)
		}
		want := fmt.Sprintf("%d", 2-i)
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != want {
			t.Errorf("request %d: X-RateLimit-Remaining = %q, want %s", i+1, got, want)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Errorf("request %d: X-Request-ID missing", i+1)
		}
	}

	// The fourth is blocked before reaching the upstream.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on blocked response")
	}
	if rec.Header().Get("X-Upstream") != "" {
		t.Error("blocked request reached the upstream")
	}

	// Decision metrics reflect the traffic.
	var m dto.Metric
	if err := s.metrics.DecisionsTotal.WithLabelValues("allowed").Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.Counter.GetValue() != 3 {
		t.Errorf("decisions_total{outcome=allowed} = %f, want 3", m.Counter.GetValue())
	}
	if err := s.metrics.DecisionsTotal.WithLabelValues("blocked").Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.Counter.GetValue() != 1 {
		t.Errorf("decisions_total{outcome=blocked} = %f, want 1", m.Counter.GetValue())
	}
	if err := s.metrics.BlockedTotal.WithLabelValues("per-ip").Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.Counter.GetValue() != 1 {
		t.Errorf("blocked_total{resource=per-ip} = %f, want 1", m.Counter.GetValue())
	}
}

func TestServer_UnruledRequestsBypassQuota(t *testing.T) {
	upstream := echoUpstream(t)
	s := newTestServer(t, upstream.URL, []config.RuleConfig{
		{Name: "api-only", Match: `path.startsWith("/api/")`, KeyBy: "ip", Tokens: 1, Period: "1m", Apply: 1},
	})

	// Requests outside /api/ never consume quota.
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health-page", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "" {
			t.Errorf("request %d: rate limit headers present on unruled request", i+1)
		}
	}
}

func TestServer_MissingKeyHeaderIsRejected(t *testing.T) {
	upstream := echoUpstream(t)
	s := newTestServer(t, upstream.URL, []config.RuleConfig{
		{Name: "keyed", KeyBy: "header:X-Api-Key", Tokens: 10, Period: "1m", Apply: 1},
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	var m dto.Metric
	if err := s.metrics.DecisionsTotal.WithLabelValues("rejected").Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.Counter.GetValue() != 1 {
		t.Errorf("decisions_total{outcome=rejected} = %f, want 1", m.Counter.GetValue())
	}
}

func TestServer_Healthz(t *testing.T) {
	upstream := echoUpstream(t)
	s := newTestServer(t, upstream.URL, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	upstream := echoUpstream(t)
	s := newTestServer(t, upstream.URL, []config.RuleConfig{
		{Name: "per-ip", KeyBy: "ip", Tokens: 10, Period: "1m", Apply: 1},
	})

	// Generate one decision so the counters have samples.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things", nil))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "cellgate_decisions_total") {
		t.Error("metrics output missing cellgate_decisions_total")
	}
}

func TestProxy_ForwardsHeadersAndStatus(t *testing.T) {
	var gotXFF, gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXFF = r.Header.Get("X-Forwarded-For")
		gotHost = r.Header.Get("X-Forwarded-Host")
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(upstream.Close)

	p, err := NewProxy(config.UpstreamConfig{URL: upstream.URL, Timeout: "5s"}, testLogger())
	if err != nil {
		t.Fatalf("NewProxy() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/x?q=1", nil)
	req.Host = "gateway.example.com"
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
	if gotXFF == "" {
		t.Error("X-Forwarded-For not set on upstream request")
	}
	if gotHost != "gateway.example.com" {
		t.Errorf("X-Forwarded-Host = %q, want gateway.example.com", gotHost)
	}
}

func TestProxy_UnreachableUpstreamIsBadGateway(t *testing.T) {
	t.Parallel()

	// A port nothing listens on.
	p, err := NewProxy(config.UpstreamConfig{URL: "http://127.0.0.1:1", Timeout: "1s"}, testLogger())
	if err != nil {
		t.Fatalf("NewProxy() error: %v", err)
	}

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestNew_RejectsBadRuleExpression(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Server:   config.ServerConfig{Memory: true},
		Upstream: config.UpstreamConfig{URL: "http://localhost:3000"},
		Rules: []config.RuleConfig{
			{Name: "bad", Match: "method ==", KeyBy: "ip", Tokens: 1, Period: "1s", Apply: 1},
		},
	}
	cfg.SetDefaults()

	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("New() expected error for malformed rule, got nil")
	}
}
