package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/compass/pkg/cli"
	"mercator-hq/compass/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "compass",
	Short: "Compass - online decision engine",
	Long: `Compass is an online decision engine. It recommends an action for a
context, learns from the reward observed afterwards, and evaluates candidate
policies in shadow against the serving baseline.

Configuration is read from a YAML file and COMPASS_* environment variables.
Pass --config "" to configure from the environment only.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the configuration named by --config with environment
// overrides, or from the environment alone when the flag is empty.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.LoadFromEnvironment()
	}
	return config.LoadConfigWithEnvOverrides(cfgFile)
}
