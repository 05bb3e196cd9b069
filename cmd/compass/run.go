package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/compass/pkg/cli"
	"mercator-hq/compass/pkg/config"
	"mercator-hq/compass/pkg/engine"
	"mercator-hq/compass/pkg/ledger"
	"mercator-hq/compass/pkg/server"
	"mercator-hq/compass/pkg/snapshot"
	"mercator-hq/compass/pkg/telemetry"
	"mercator-hq/compass/pkg/telemetry/health"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the decision engine",
	Long: `Start the decision engine and its operations server.

On start the engine optionally restores the latest snapshot of every domain,
then exports policy state on the configured cron schedule and once more on
shutdown. With watch enabled, edits to the configuration file are applied
without a restart.

Examples:
  # Start with default config
  compass run

  # Start with custom config
  compass run --config /etc/compass/config.yaml

  # Override listen address
  compass run --listen 0.0.0.0:9090

  # Validate config without starting
  compass run --dry-run`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runEngine(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewCommandError("run", err)
	}
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	tel, err := telemetry.New(&cfg.Telemetry, nil)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer tel.Shutdown()
	logger := tel.Logger()
	logger.SetDefault()

	fmt.Fprintf(out, "Compass v%s\n", Version)
	if cfgFile != "" {
		fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	}

	registry, err := config.NewRegistry(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	snapshots, err := snapshot.Open(cfg.Snapshot)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to open snapshot backend: %w", err))
	}
	defer snapshots.Close()
	tel.Health().RegisterOptionalCheck("snapshots", health.PingCheck(snapshots))
	tel.Health().RegisterCheck("config", health.RegistryCheck(registry))

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithSink(tel.Sink()),
		engine.WithSnapshots(snapshots, cfg.Snapshot.Retain),
	}

	var store ledger.Storage
	if cfg.Ledger.Enabled {
		store, err = ledger.Open(cfg.Ledger)
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to open ledger: %w", err))
		}
		defer store.Close()

		recorder := ledger.NewRecorder(store, ledger.RecorderConfig{
			AsyncBuffer:  cfg.Ledger.AsyncBuffer,
			WriteTimeout: cfg.Ledger.WriteTimeout,
			Logger:       logger.Slog(),
		})
		defer recorder.Close()
		opts = append(opts, engine.WithRecorder(recorder))
		tel.Health().RegisterOptionalCheck("ledger", health.PingCheck(store))
		fmt.Fprintf(out, "✓ Ledger initialized (%s)\n", cfg.Ledger.Backend)
	}

	eng, err := engine.New(registry, opts...)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	if cfg.Snapshot.RestoreOnStart {
		restored, err := eng.Restore(ctx)
		if err != nil {
			logger.Warn("snapshot restore incomplete", "error", err)
		}
		fmt.Fprintf(out, "✓ Restored %d domain(s) from snapshots\n", len(restored))
	}

	if cfg.Watch.Enabled && cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, registry, cfg.Watch.Debounce, logger.Slog())
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		watcher.OnReload = func(*config.Config) {
			if err := eng.Rebuild(); err != nil {
				logger.Error("policy rebuild after reload failed", "error", err)
			}
		}
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
		fmt.Fprintf(out, "✓ Watching %s for changes\n", cfgFile)
	}

	if cfg.Snapshot.Schedule != "" {
		sched, err := snapshot.NewScheduler(cfg.Snapshot.Schedule, func(ctx context.Context) error {
			_, err := eng.Export(ctx)
			return err
		}, logger.Slog())
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				logger.Warn("snapshot scheduler did not stop cleanly", "error", err)
			}
		}()
		logger.Debug("snapshot scheduler started", "schedule", cfg.Snapshot.Schedule, "next", sched.Next())
	}

	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithHealth(tel.Health()),
		server.WithMetrics(cfg.Telemetry.Metrics.Path, tel.MetricsHandler()),
		server.WithBuildInfo(server.BuildInfo{Version: Version, Commit: GitCommit, BuildTime: BuildDate}),
	}
	if store != nil {
		srvOpts = append(srvOpts, server.WithLedger(store))
	}
	srv, err := server.NewServer(&cfg.Server, eng, srvOpts...)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintf(out, "✓ Operations server on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	exportCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if saved, err := eng.Export(exportCtx); err != nil {
		logger.Error("final snapshot export failed", "error", err)
	} else {
		logger.Info("final snapshot export complete", "domains", len(saved))
	}

	fmt.Fprintln(out, "✓ Engine stopped")
	return nil
}
