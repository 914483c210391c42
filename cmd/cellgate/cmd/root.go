// Package cmd provides the CLI commands for CellGate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/cellgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cellgate",
	Short: "CellGate - rate limiting gateway backed by redis-cell",
	Long: `CellGate is an HTTP gateway that enforces rate limits in front of an
upstream service. Limiting decisions are delegated to a Redis server
running the redis-cell module, so quotas hold across gateway instances.

Quick start:
  1. Create a config file: cellgate.yaml
  2. Run: cellgate start

Configuration:
  Config is loaded from cellgate.yaml in the current directory,
  $HOME/.cellgate/, or /etc/cellgate/.

  Environment variables can override config values with the CELLGATE_ prefix.
  Example: CELLGATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway
  check       Probe the counter store with a single CL.THROTTLE call
  rules       Print the effective rate limit rules
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./cellgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
