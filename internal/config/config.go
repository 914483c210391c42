// Package config provides configuration types for the CellGate gateway.
//
// Configuration is file-based (YAML) with environment variable overrides.
// The schema covers the listener, the upstream being protected, the
// redis-cell backed counter store, and the ordered rate limit rules.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/cellgate/pkg/cell"
)

// Config is the top-level configuration for the CellGate gateway.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Upstream configures the service requests are forwarded to.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Redis configures the connection to the redis-cell enabled server.
	// Ignored when Server.Memory is true.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// Metrics configures the Prometheus metrics endpoint.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// Rules are the rate limit rules, evaluated in order.
	// First matching rule wins; requests matching no rule pass through
	// without a counter store round trip.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`

	// DevMode enables development features (verbose logging, in-memory
	// counter store, a permissive default rule).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// TLS is out of scope; terminate it at a fronting proxy.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g. "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ShutdownTimeout bounds graceful shutdown (e.g. "10s").
	// Defaults to "10s" if empty.
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty"`

	// Memory replaces the Redis counter store with the in-process one.
	// Counters then live per instance and reset on restart; intended for
	// development and tests only.
	Memory bool `yaml:"memory" mapstructure:"memory"`
}

// UpstreamConfig configures the upstream service behind the gateway.
type UpstreamConfig struct {
	// URL is the base URL requests are proxied to (e.g. "http://localhost:3000").
	URL string `yaml:"url" mapstructure:"url" validate:"required,url"`

	// Timeout is the timeout for requests to the upstream (e.g. "30s").
	// Defaults to "30s" if not specified.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`

	// PassHostHeader forwards the client's Host header instead of the
	// upstream URL's host.
	PassHostHeader bool `yaml:"pass_host_header" mapstructure:"pass_host_header"`
}

// RedisConfig configures the redis-cell enabled Redis server.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	// Defaults to "127.0.0.1:6379" if empty.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`

	// Password authenticates against the Redis server. Optional.
	Password string `yaml:"password" mapstructure:"password"`

	// DB selects the Redis logical database. Defaults to 0.
	DB int `yaml:"db" mapstructure:"db" validate:"omitempty,min=0"`

	// DialTimeout bounds establishing a connection (e.g. "5s").
	// Defaults to "5s" if not specified.
	DialTimeout string `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"omitempty"`

	// PoolSize is the maximum number of socket connections.
	// Defaults to the go-redis default (10 per CPU) when 0.
	PoolSize int `yaml:"pool_size" mapstructure:"pool_size" validate:"omitempty,min=0"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns the /metrics endpoint on or off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Path is the URL path the metrics are served on.
	// Defaults to "/metrics" if empty.
	Path string `yaml:"path" mapstructure:"path" validate:"omitempty,startswith=/"`
}

// RuleConfig defines a single rate limit rule.
// Rules are evaluated in order; first match wins.
type RuleConfig struct {
	// Name is a human-readable identifier for this rule. It is attached
	// to decisions for logging and metrics.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Match is a CEL expression over the request that determines whether
	// this rule applies. Available variables: method, path, host, ip,
	// header (map of canonical header name to first value).
	// An empty expression matches every request.
	Match string `yaml:"match" mapstructure:"match"`

	// KeyBy selects the counter key for matching requests.
	// Valid forms: "ip", "static:<value>", "header:<name>".
	// A header selector rejects requests missing that header.
	KeyBy string `yaml:"key_by" mapstructure:"key_by" validate:"required,key_by"`

	// Tokens is the number of operations allowed per Period.
	Tokens int `yaml:"tokens" mapstructure:"tokens" validate:"required,min=1"`

	// Period is the refill window (e.g. "1s", "1m", "1h").
	// Must be at least one second; sub-second fractions do not survive
	// the wire encoding.
	Period string `yaml:"period" mapstructure:"period" validate:"required"`

	// Burst is the extra capacity above the steady rate. Defaults to 0.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=0"`

	// Apply is the number of tokens one request consumes. Defaults to 1.
	Apply int `yaml:"apply" mapstructure:"apply" validate:"omitempty,min=1"`

	// Resource labels decisions made under this rule (e.g. "api",
	// "search"). Defaults to Name.
	Resource string `yaml:"resource" mapstructure:"resource"`
}

// Policy converts the rule's quota fields into a counter store policy.
// Call only after Validate; Period is assumed parseable.
func (r RuleConfig) Policy() cell.Policy {
	period, _ := time.ParseDuration(r.Period)
	p := cell.PerPeriod(r.Tokens, period)
	if r.Burst > 0 {
		p = p.WithMaxBurst(r.Burst)
	}
	if r.Apply > 1 {
		p = p.WithApplyTokens(r.Apply)
	}
	name := r.Resource
	if name == "" {
		name = r.Name
	}
	return p.Named(name)
}

// SetDevDefaults applies permissive defaults for development mode.
// This allows running cellgate with minimal config (just upstream).
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if c.Server.LogLevel == "" || c.Server.LogLevel == "info" {
		c.Server.LogLevel = "debug"
	}

	// Without Redis configured, fall back to the in-process store.
	if !viper.IsSet("redis.addr") && !viper.IsSet("server.memory") {
		c.Server.Memory = true
	}

	// Provide a generous per-IP default rule if none configured.
	if len(c.Rules) == 0 {
		c.Rules = []RuleConfig{
			{
				Name:   "dev-per-ip",
				KeyBy:  "ip",
				Tokens: 1000,
				Period: "1m",
				Burst:  100,
			},
		}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults, bind to localhost only.
	// Users who need network access must explicitly set http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	// Upstream defaults
	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "30s"
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.DialTimeout == "" {
		c.Redis.DialTimeout = "5s"
	}

	// Metrics defaults, enabled unless explicitly turned off.
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("metrics.enabled") {
		c.Metrics.Enabled = true
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	// Per-rule defaults
	for i := range c.Rules {
		if c.Rules[i].Apply == 0 {
			c.Rules[i].Apply = 1
		}
		if c.Rules[i].Resource == "" {
			c.Rules[i].Resource = c.Rules[i].Name
		}
	}
}

// ParseDuration parses a duration field that has already passed validation.
// It exists so call sites do not have to re-handle an error that cannot
// occur after Validate.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// String renders a short description for startup logging. Secrets are
// never included.
func (c *Config) String() string {
	store := "redis:" + c.Redis.Addr
	if c.Server.Memory {
		store = "memory"
	}
	return fmt.Sprintf("listen=%s upstream=%s store=%s rules=%d dev=%t",
		c.Server.HTTPAddr, c.Upstream.URL, store, len(c.Rules), c.DevMode)
}
