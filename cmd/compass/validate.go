package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/compass/pkg/cli"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration with environment overrides applied and report
every invalid field.

Examples:
  # Validate config.yaml in the working directory
  compass validate

  # Validate a specific file
  compass validate --config /etc/compass/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		for _, ce := range cli.ConfigErrors(err) {
			if ce.Field == "" {
				fmt.Fprintf(out, "✗ %s\n", ce.Message)
				continue
			}
			fmt.Fprintf(out, "✗ %s: %s\n", ce.Field, ce.Message)
		}
		return cli.NewCommandError("validate", err)
	}

	fmt.Fprintln(out, "✓ Configuration valid")
	if verbose {
		fmt.Fprintf(out, "  default algorithm: %s\n", cfg.Engine.DefaultAlgorithm)
		fmt.Fprintf(out, "  engine enabled: %t (rollout %.0f%%)\n", cfg.Engine.Enabled, cfg.Engine.RolloutPercentage*100)
		fmt.Fprintf(out, "  domain overrides: %d\n", len(cfg.Domains))
		fmt.Fprintf(out, "  snapshot backend: %s\n", cfg.Snapshot.Backend)
		if cfg.Ledger.Enabled {
			fmt.Fprintf(out, "  ledger backend: %s\n", cfg.Ledger.Backend)
		}
	}
	return nil
}
