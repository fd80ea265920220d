package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile   string
	verbose   bool
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - admission control, agent scoring and upstream connection pooling",
	Long: `Relay decides whether a user may send a request, which agent should serve it,
and leases a connection to that agent's provider from a bounded pool.

It provides:
  - Tiered per-user rate, token, concurrency and budget limits
  - Multi-factor agent scoring that adapts its weights from outcomes
  - A priority-queued connection pool with health checks and circuit breakers`,
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
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "relay.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "output format (table, json)")
}

// loadConfig loads the configuration file. When --config was not given and
// the default file does not exist, the built-in defaults are used.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) {
			config.SetConfig(config.NewDefault())
			return applyVerbose(config.GetConfig()), nil
		}
	}
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	return applyVerbose(config.GetConfig()), nil
}

func applyVerbose(cfg *config.Config) *config.Config {
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg
}

// newLogger builds the process logger and makes it the slog default.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Telemetry.Logging, os.Stderr)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	slog.SetDefault(logger)
	return logger, nil
}

func newPrinter(cmd *cobra.Command) (*cli.Printer, error) {
	format, err := cli.ParseOutputFormat(outputFmt)
	if err != nil {
		return nil, err
	}
	return cli.NewPrinter(format, cmd.OutOrStdout()), nil
}
