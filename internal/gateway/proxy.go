package gateway

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sentinel-Gate/cellgate/internal/config"
)

// hopByHopHeaders are connection-scoped headers that must not be forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy forwards requests to the single configured upstream.
type Proxy struct {
	base           *url.URL
	client         *http.Client
	passHostHeader bool
	logger         *slog.Logger
}

// NewProxy builds the upstream proxy from configuration.
func NewProxy(cfg config.UpstreamConfig, logger *slog.Logger) (*Proxy, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}

	return &Proxy{
		base: base,
		client: &http.Client{
			Timeout: config.ParseDuration(cfg.Timeout, 30*time.Second),
			// Do not follow redirects, pass them through to the caller.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		passHostHeader: cfg.PassHostHeader,
		logger:         logger,
	}, nil
}

// ServeHTTP forwards the request to the upstream and copies the response
// back to the client. On upstream failure it returns 502 Bad Gateway.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upstreamURL := strings.TrimRight(p.base.String(), "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, r.Body)
	if err != nil {
		p.logger.Error("failed to create upstream request", "error", err, "url", upstreamURL)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	// Copy headers from the original request.
	for key, values := range r.Header {
		for _, v := range values {
			outReq.Header.Add(key, v)
		}
	}
	for _, h := range hopByHopHeaders {
		outReq.Header.Del(h)
	}

	if p.passHostHeader {
		outReq.Host = r.Host
	}

	// Add X-Forwarded-* headers.
	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", scheme)
	outReq.Header.Set("X-Forwarded-Host", r.Host)

	resp, err := p.client.Do(outReq)
	if err != nil {
		p.logger.Error("upstream unreachable", "error", err, "url", upstreamURL)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug("error copying upstream response body", "error", err)
	}
}
