package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/pool"
	"mercator-hq/relay/pkg/server"
	"mercator-hq/relay/pkg/usage"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay service",
	Long: `Start the relay service with the specified configuration.

The service keeps the connection pool topped up and health-checked, sweeps
expired usage counters, reloads provider and agent changes from the config
file, and serves /metrics, /healthz, /readyz, /version and /status on the
admin address.

Examples:
  # Start with default config
  relay run

  # Start with custom config
  relay run --config /etc/relay/relay.yaml

  # Override admin listen address
  relay run --listen 0.0.0.0:9090

  # Validate config without starting
  relay run --dry-run`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override admin listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload providers and agents when the config file changes")
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Admin.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if runFlags.dryRun {
		logger.Info("configuration is valid",
			"path", cfgFile,
			"providers", len(cfg.Pool.Providers),
			"agents", len(cfg.Agents),
		)
		return nil
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	a, err := newApp(cfg, logger, appOptions{})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
	}()

	if s, ok := a.store.(usage.Sweepable); ok {
		sweeper := usage.NewSweeper(s, cfg.UsageStore.SweepSchedule)
		if err := sweeper.Start(ctx); err != nil {
			return cli.NewConfigError(cfgFile, err)
		}
		defer sweeper.Stop()
	}

	a.pool.Start(ctx)

	if runFlags.watch && cmd.Flags().Changed("config") {
		watcher, err := config.NewWatcher(cfgFile, 0, logger)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		go func() {
			if err := watcher.Watch(ctx, a.applyConfig); err != nil {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	srv := server.New(server.Options{
		Config:      cfg.Admin,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Metrics:     a.collector.Handler(),
		Checker:     a.checker,
		Status:      a.status,
		Version:     Version,
		Logger:      logger,
	})

	logger.Info("relay started",
		"version", Version,
		"admin", cfg.Admin.ListenAddress,
		"usage_store", cfg.UsageStore.Backend,
		"providers", len(cfg.Pool.Providers),
		"agents", len(cfg.Agents),
	)

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	logger.Info("shutting down, draining pool", "timeout", cfg.Pool.DrainTimeout)
	start := time.Now()
	if err := a.pool.Drain(context.Background()); err != nil && !errors.Is(err, pool.ErrPoolClosed) {
		logger.Warn("pool drain failed", "error", err)
	}
	logger.Info("relay stopped", "drain_duration", time.Since(start))
	return nil
}
