package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Sentinel-Gate/cellgate/internal/config"
	"github.com/Sentinel-Gate/cellgate/internal/rules"
	"github.com/Sentinel-Gate/cellgate/pkg/cell"
	"github.com/Sentinel-Gate/cellgate/pkg/ratelimit"
	"github.com/Sentinel-Gate/cellgate/pkg/ratelimit/httpmw"
)

// Server is the assembled CellGate gateway: listener, rate limit layer,
// metrics and the upstream proxy.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *Metrics

	registry *prometheus.Registry
	handler  http.Handler

	memConn     *cell.MemoryConn
	redisClient *redis.Client
}

// New assembles a Server from validated configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	s.metrics = NewMetrics(s.registry)

	conn, err := s.openConn()
	if err != nil {
		return nil, err
	}

	provider, err := rules.New(cfg.Rules, logger)
	if err != nil {
		s.closeConn()
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	proxy, err := NewProxy(cfg.Upstream, logger)
	if err != nil {
		s.closeConn()
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}

	rlConfig := ratelimit.NewConfig(provider, s.instrumentedErrorHandler()).
		OnSuccess(func(d ratelimit.RequestAllowedDetails, resp **httpmw.Response) {
			s.metrics.DecisionsTotal.WithLabelValues("allowed").Inc()
			httpmw.RateLimitHeaders(d, resp)
		}).
		OnUnruled(func(**httpmw.Response) {
			s.metrics.DecisionsTotal.WithLabelValues("bypass").Inc()
		})

	layer := ratelimit.NewLayer(rlConfig, conn).WithLogger(logger)

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", s.handleHealthz)

	var proxied http.Handler = proxy
	proxied = httpmw.Middleware(layer)(proxied)
	proxied = MetricsMiddleware(s.metrics)(proxied)
	proxied = RequestIDMiddleware(logger)(proxied)
	mux.Handle("/", proxied)

	s.handler = mux
	return s, nil
}

// openConn connects the counter store selected by configuration.
func (s *Server) openConn() (cell.Conn, error) {
	if s.cfg.Server.Memory {
		s.memConn = cell.NewMemoryConn()
		s.memConn.StartCleanup(context.Background())
		s.logger.Warn("using in-process counter store, counters are per-instance and volatile")
		return s.memConn, nil
	}

	s.redisClient = redis.NewClient(&redis.Options{
		Addr:        s.cfg.Redis.Addr,
		Password:    s.cfg.Redis.Password,
		DB:          s.cfg.Redis.DB,
		DialTimeout: config.ParseDuration(s.cfg.Redis.DialTimeout, 5*time.Second),
		PoolSize:    s.cfg.Redis.PoolSize,
	})
	return s.redisClient, nil
}

// closeConn releases whichever counter store openConn created.
func (s *Server) closeConn() {
	if s.memConn != nil {
		s.memConn.Stop()
		s.memConn = nil
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
		s.redisClient = nil
	}
}

// instrumentedErrorHandler wraps the default HTTP error handler with
// decision metrics.
func (s *Server) instrumentedErrorHandler() ratelimit.ErrorHandler[*http.Request, *httpmw.Response] {
	base := httpmw.DefaultErrorHandler(s.logger)
	return func(err error, req *http.Request) *httpmw.Response {
		switch e := err.(type) {
		case *ratelimit.RateLimitError:
			s.metrics.DecisionsTotal.WithLabelValues("blocked").Inc()
			s.metrics.BlockedTotal.WithLabelValues(e.Details.Rule.Resource).Inc()
		case *ratelimit.ProvideRuleError:
			s.metrics.DecisionsTotal.WithLabelValues("rejected").Inc()
		default:
			s.metrics.DecisionsTotal.WithLabelValues("error").Inc()
		}
		return base(err, req)
	}
}

// Handler returns the assembled HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleHealthz reports liveness and, when Redis is configured, store
// reachability.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.redisClient != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			s.logger.Warn("health check: counter store unreachable", "error", err)
			http.Error(w, "counter store unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	defer s.closeConn()

	httpServer := &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.ParseDuration(s.cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// Close releases resources when the server is used without Run (tests).
func (s *Server) Close() {
	s.closeConn()
}
