package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/cellgate/internal/config"
	"github.com/Sentinel-Gate/cellgate/pkg/cell"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the counter store with a single CL.THROTTLE call",
	Long: `Send one CL.THROTTLE command to the configured counter store and print
the verdict. Useful for verifying that the redis-cell module is loaded
and for inspecting the state of a specific key.

Examples:
  # Consume one token from user123 under 10 req/min with burst 5
  cellgate check --key user123 --tokens 10 --period 1m --burst 5

  # Probe without Redis using the in-process store
  cellgate check --key user123 --tokens 10 --period 1m --memory`,
	RunE: runCheck,
}

var (
	checkKey    string
	checkTokens int
	checkPeriod string
	checkBurst  int
	checkApply  int
	checkMemory bool
)

func init() {
	checkCmd.Flags().StringVar(&checkKey, "key", "", "counter key to probe (required)")
	checkCmd.Flags().IntVar(&checkTokens, "tokens", 10, "operations allowed per period")
	checkCmd.Flags().StringVar(&checkPeriod, "period", "1m", "refill window (min 1s)")
	checkCmd.Flags().IntVar(&checkBurst, "burst", 0, "extra capacity above the steady rate")
	checkCmd.Flags().IntVar(&checkApply, "apply", 1, "tokens to consume with this probe")
	checkCmd.Flags().BoolVar(&checkMemory, "memory", false, "use the in-process counter store")
	_ = checkCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	period, err := time.ParseDuration(checkPeriod)
	if err != nil {
		return fmt.Errorf("invalid period %q: %w", checkPeriod, err)
	}

	policy := cell.PerPeriod(checkTokens, period)
	if checkBurst > 0 {
		policy = policy.WithMaxBurst(checkBurst)
	}
	if checkApply != 1 {
		policy = policy.WithApplyTokens(checkApply)
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	conn, closeConn, err := openCheckConn()
	if err != nil {
		return err
	}
	defer closeConn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	verdict, err := cell.Throttle(ctx, conn, checkKey, policy)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	if verdict.Blocked {
		blocked := verdict.BlockedDetails()
		fmt.Printf("BLOCKED  key=%s retry_after=%s reset_after=%s\n",
			checkKey, blocked.RetryAfter, blocked.ResetAfter)
		return nil
	}
	allowed := verdict.AllowedDetails()
	fmt.Printf("ALLOWED  key=%s remaining=%d/%d reset_after=%s\n",
		checkKey, allowed.Remaining, allowed.Limit, allowed.ResetAfter)
	return nil
}

// openCheckConn dials the store selected by flags and configuration.
func openCheckConn() (cell.Conn, func(), error) {
	if checkMemory {
		mc := cell.NewMemoryConn()
		return mc, mc.Stop, nil
	}

	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: config.ParseDuration(cfg.Redis.DialTimeout, 5*time.Second),
	})
	return client, func() { _ = client.Close() }, nil
}
