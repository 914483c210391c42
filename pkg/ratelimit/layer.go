package ratelimit

import (
	"log/slog"

	"github.com/Sentinel-Gate/cellgate/pkg/cell"
)

// Layer binds a Config and a store connection once and stamps out pipeline
// instances around inner services. Wrapping is cheap: no config re-parse, no
// new connections, just a struct holding shared handles.
type Layer[Req, Resp any] struct {
	config *Config[Req, Resp]
	conn   cell.Conn
	pool   cell.Pool
	logger *slog.Logger
}

// NewLayer creates a Layer over a shared, internally-synchronized connection
// handle. go-redis clients pool internally, so one Conn serves any number of
// concurrent pipelines.
func NewLayer[Req, Resp any](config *Config[Req, Resp], conn cell.Conn) *Layer[Req, Resp] {
	return &Layer[Req, Resp]{
		config: config,
		conn:   conn,
		logger: slog.Default(),
	}
}

// NewPoolLayer creates a Layer that checks a connection out of the pool for
// each ruled request and releases it when the round trip finishes, on every
// exit path.
func NewPoolLayer[Req, Resp any](config *Config[Req, Resp], pool cell.Pool) *Layer[Req, Resp] {
	return &Layer[Req, Resp]{
		config: config,
		pool:   pool,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used by pipelines produced from this layer and
// returns the layer. Must only be called before the first Wrap.
func (l *Layer[Req, Resp]) WithLogger(logger *slog.Logger) *Layer[Req, Resp] {
	l.logger = logger
	return l
}

// Wrap produces a pipeline instance around the inner service.
func (l *Layer[Req, Resp]) Wrap(inner Service[Req, Resp]) *RateLimit[Req, Resp] {
	return &RateLimit[Req, Resp]{
		inner:  inner,
		config: l.config,
		conn:   l.conn,
		pool:   l.pool,
		logger: l.logger,
	}
}
