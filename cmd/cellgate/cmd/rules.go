package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/cellgate/internal/config"
	"github.com/Sentinel-Gate/cellgate/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the effective rate limit rules",
	Long: `Load the configuration the same way "start" does (file, environment,
defaults, dev-mode fallbacks) and print the resulting rule list as YAML.

Use this to verify what the gateway will actually enforce after all
override layers are applied.`,
	RunE: runRules,
}

var rulesDev bool

func init() {
	rulesCmd.Flags().BoolVar(&rulesDev, "dev", false, "Apply development mode defaults before printing")
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if rulesDev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	// Compile the rules the same way the gateway does, so expression and
	// selector errors surface here instead of at start time.
	if _, err := rules.New(cfg.Rules, slog.New(slog.DiscardHandler)); err != nil {
		return fmt.Errorf("invalid rules: %w", err)
	}

	if len(cfg.Rules) == 0 {
		fmt.Println("# no rules configured: every request bypasses the counter store")
		return nil
	}

	out, err := yaml.Marshal(cfg.Rules)
	if err != nil {
		return fmt.Errorf("failed to render rules: %w", err)
	}
	_, err = os.Stdout.Write(out)
	return err
}
