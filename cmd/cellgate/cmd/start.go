package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/cellgate/internal/config"
	"github.com/Sentinel-Gate/cellgate/internal/gateway"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the CellGate gateway.

The gateway listens on server.http_addr, classifies each request against
the configured rules, asks the counter store for a verdict, and forwards
allowed requests to upstream.url.

Examples:
  # Start with config file settings
  cellgate start

  # Start against a local upstream without Redis
  cellgate start --dev

  # Start with a specific config file
  cellgate --config /path/to/config.yaml start`,
	RunE: runStart,
}

var (
	devMode  bool
	memStore bool
)

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, in-process counter store)")
	startCmd.Flags().BoolVar(&memStore, "memory", false, "Use the in-process counter store instead of Redis")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	if memStore {
		cfg.Server.Memory = true
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if path := config.ConfigFileUsed(); path != "" {
		logger.Info("loaded configuration", "file", path)
	} else {
		logger.Info("no config file found, using defaults and environment")
	}
	logger.Info("effective configuration", "config", cfg.String())

	srv, err := gateway.New(cfg, logger)
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	return srv.Run(ctx)
}

// newLogger builds the process logger from configuration.
// DevMode always forces debug.
func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
