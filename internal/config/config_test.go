package config

import (
	"strings"
	"testing"
	"time"
)

func TestSetDefaults(t *testing.T) {
	cfg := &Config{
		Upstream: UpstreamConfig{URL: "http://localhost:3000"},
		Rules: []RuleConfig{
			{Name: "per-ip", KeyBy: "ip", Tokens: 100, Period: "1m"},
		},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("Server.HTTPAddr = %q, want 127.0.0.1:8080", cfg.Server.HTTPAddr)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("Server.LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.ShutdownTimeout != "10s" {
		t.Errorf("Server.ShutdownTimeout = %q, want 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Upstream.Timeout != "30s" {
		t.Errorf("Upstream.Timeout = %q, want 30s", cfg.Upstream.Timeout)
	}
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Errorf("Redis.Addr = %q, want 127.0.0.1:6379", cfg.Redis.Addr)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true by default")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want /metrics", cfg.Metrics.Path)
	}
	if cfg.Rules[0].Apply != 1 {
		t.Errorf("Rules[0].Apply = %d, want 1", cfg.Rules[0].Apply)
	}
	if cfg.Rules[0].Resource != "per-ip" {
		t.Errorf("Rules[0].Resource = %q, want per-ip", cfg.Rules[0].Resource)
	}
}

func TestSetDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{HTTPAddr: "0.0.0.0:9000", LogLevel: "warn"},
		Upstream: UpstreamConfig{URL: "http://localhost:3000", Timeout: "5s"},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("Server.HTTPAddr = %q, want explicit value kept", cfg.Server.HTTPAddr)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("Server.LogLevel = %q, want warn", cfg.Server.LogLevel)
	}
	if cfg.Upstream.Timeout != "5s" {
		t.Errorf("Upstream.Timeout = %q, want 5s", cfg.Upstream.Timeout)
	}
}

func TestSetDevDefaults(t *testing.T) {
	cfg := &Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Server.LogLevel = %q, want debug in dev mode", cfg.Server.LogLevel)
	}
	if !cfg.Server.Memory {
		t.Error("Server.Memory = false, want in-process store in dev mode")
	}
	if len(cfg.Rules) != 1 {
		t.Fatalf("Rules = %d, want 1 default dev rule", len(cfg.Rules))
	}
	if cfg.Rules[0].KeyBy != "ip" {
		t.Errorf("dev rule KeyBy = %q, want ip", cfg.Rules[0].KeyBy)
	}
}

func TestSetDevDefaults_NoopWithoutDevMode(t *testing.T) {
	cfg := &Config{}
	cfg.SetDevDefaults()

	if cfg.Server.Memory {
		t.Error("Server.Memory = true, want false outside dev mode")
	}
	if len(cfg.Rules) != 0 {
		t.Errorf("Rules = %d, want none outside dev mode", len(cfg.Rules))
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	if got := ParseDuration("15s", time.Second); got != 15*time.Second {
		t.Errorf("ParseDuration(15s) = %s, want 15s", got)
	}
	if got := ParseDuration("", 7*time.Second); got != 7*time.Second {
		t.Errorf("ParseDuration(empty) = %s, want fallback 7s", got)
	}
	if got := ParseDuration("garbage", 7*time.Second); got != 7*time.Second {
		t.Errorf("ParseDuration(garbage) = %s, want fallback 7s", got)
	}
}

func TestConfig_StringOmitsSecrets(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Upstream: UpstreamConfig{URL: "http://localhost:3000"},
		Redis:    RedisConfig{Addr: "127.0.0.1:6379", Password: "hunter2"},
	}

	s := cfg.String()
	if strings.Contains(s, "hunter2") {
		t.Errorf("String() leaked the Redis password: %q", s)
	}
	if !strings.Contains(s, "redis:127.0.0.1:6379") {
		t.Errorf("String() = %q, want to name the redis store", s)
	}

	cfg.Server.Memory = true
	if !strings.Contains(cfg.String(), "store=memory") {
		t.Errorf("String() = %q, want store=memory", cfg.String())
	}
}
