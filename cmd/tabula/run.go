package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tabula/pkg/cli"
	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/schedule"
	"mercator-hq/tabula/pkg/server"
	"mercator-hq/tabula/pkg/telemetry/health"
	"mercator-hq/tabula/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	noWorkers     bool
	noSchedules   bool
	noWatch       bool
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the export server, job workers and schedules",
	Long: `Start the tabula server with the specified configuration.

The server exposes the configured datasets over HTTP, runs queued export jobs
on background workers and fires the configured cron schedules. Changes to the
configuration file reload datasets and schedules without a restart.

Examples:
  # Start with default config
  tabula run

  # Start with custom config
  tabula run --config /etc/tabula/config.yaml

  # Serve only; jobs are executed by other processes sharing a Redis queue
  tabula run --no-workers --no-schedules

  # Validate config without starting the server
  tabula run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().BoolVar(&runFlags.noWorkers, "no-workers", false, "do not start job workers")
	runCmd.Flags().BoolVar(&runFlags.noSchedules, "no-schedules", false, "do not run cron schedules")
	runCmd.Flags().BoolVar(&runFlags.noWatch, "no-watch", false, "do not reload the config file on change")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}

	logger, err := setupLogging(cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer logger.Shutdown()

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := eng.Close(shutdownCtx); err != nil {
			slog.Error("Shutdown incomplete", "error", err)
		}
	}()

	if !runFlags.noWorkers {
		if err := eng.startWorkers(ctx); err != nil {
			return cli.NewCommandError("run", err)
		}
	}

	sched, err := startScheduler(ctx, cfg, eng)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer sched.Stop()

	checker := health.New(5 * time.Second)
	checker.Register("datasets", eng.catalog.Ping)
	checker.Register("queue", eng.queue.Check)

	srv, err := server.NewServer(&cfg.Server, server.Deps{
		Dispatcher:  eng.dispatcher,
		Datasets:    eng.catalog,
		Tracer:      eng.tracer,
		Jobs:        eng.queue,
		Metrics:     metricsFor(cfg, eng),
		Health:      checker,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Build:       server.BuildInfo{Version: Version, Commit: GitCommit, BuildTime: BuildDate},
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	if !runFlags.noWatch {
		if err := watchConfig(ctx, eng, sched, srv); err != nil {
			slog.Warn("Configuration watcher disabled", "error", err)
		}
	}

	slog.Info("Tabula started",
		"version", Version,
		"config", cfgFile,
		"address", cfg.Server.ListenAddress,
		"datasets", len(cfg.Datasets),
		"workers", !runFlags.noWorkers,
		"schedules", len(sched.Entries()),
		"auth", cfg.Server.Auth.Enabled,
	)

	// Start blocks until a signal cancels ctx.
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}

// startScheduler registers the configured schedules and status pruning.
// With --no-schedules only pruning runs.
func startScheduler(ctx context.Context, cfg *config.Config, eng *engine) (*schedule.Scheduler, error) {
	sched := schedule.New(eng.dispatcher, eng.catalog)
	sched.SetMetrics(eng.metrics)
	sched.SetTracer(eng.tracer)

	if !runFlags.noSchedules {
		if err := sched.Apply(cfg.Schedules); err != nil {
			return nil, err
		}
	}
	if err := sched.AddPruning(cfg.Queue.Status.PruneSchedule, cfg.Queue.Status.Retention, eng.queue); err != nil {
		return nil, err
	}

	sched.Start(ctx)
	return sched, nil
}

// watchConfig reloads datasets, schedules and API keys when the config file
// changes. Other server, disk and queue settings require a restart.
func watchConfig(ctx context.Context, eng *engine, sched *schedule.Scheduler, srv *server.Server) error {
	watcher, err := config.NewWatcher(cfgFile, 0)
	if err != nil {
		return err
	}

	watcher.OnReload(func(next *config.Config) {
		if err := eng.catalog.Reload(next.Datasets); err != nil {
			slog.Error("Dataset reload failed", "error", err)
			return
		}
		if keys := srv.Keys(); keys != nil {
			if err := keys.Replace(next.Server.Auth.Keys); err != nil {
				slog.Error("API key reload failed", "error", err)
			}
		}
		if runFlags.noSchedules {
			return
		}
		if err := sched.Apply(next.Schedules); err != nil {
			slog.Error("Schedule reload failed", "error", err)
		}
	})

	go func() {
		if err := watcher.Watch(ctx); err != nil {
			slog.Error("Configuration watcher stopped", "error", err)
		}
	}()
	return nil
}

// metricsFor returns the collector when the metrics endpoint is enabled.
func metricsFor(cfg *config.Config, eng *engine) *metrics.Collector {
	if !cfg.Telemetry.Metrics.Enabled {
		return nil
	}
	return eng.metrics
}
