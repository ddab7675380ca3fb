package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/indexretain/pkg/cli"
	"mercator-hq/indexretain/pkg/config"
	"mercator-hq/indexretain/pkg/index/aging"
	"mercator-hq/indexretain/pkg/index/checkpoint"
	"mercator-hq/indexretain/pkg/index/engine"
	"mercator-hq/indexretain/pkg/server"
	"mercator-hq/indexretain/pkg/telemetry/health"
	"mercator-hq/indexretain/pkg/telemetry/metrics"
	"mercator-hq/indexretain/pkg/telemetry/tracing"
)

const shutdownTimeout = 10 * time.Second

type runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the checkpoint scheduler and aging feed",
		Long: `Run checkpoints of every configured index on the configured cron schedule.

While running, storage aging notices dropped as JSON files into
<aging.spool_dir>/<index id>/ are applied to the index, the configuration file
is watched and re-applied on change, and metrics and health endpoints are
served on telemetry.metrics.listen_address.

Examples:
  # Start with default config
  indexretain run

  # Start with custom config
  indexretain run --config /etc/indexretain/config.yaml

  # Validate config without starting
  indexretain run --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, g, f)
		},
	}

	cmd.Flags().StringVarP(&f.listenAddress, "listen", "l", "", "override metrics and health listen address")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "validate config without starting")
	return cmd
}

func runDaemon(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	cfg, err := g.loadConfig(cmd, func(cfg *config.Config) {
		if f.listenAddress != "" {
			cfg.Telemetry.Metrics.ListenAddress = f.listenAddress
		}
		if f.logLevel != "" {
			cfg.Telemetry.Logging.Level = f.logLevel
		}
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if f.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	logger := slog.Default()
	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()
	if tracer.Enabled() {
		fmt.Fprintf(out, "✓ Tracing to %s\n", cfg.Telemetry.Tracing.Endpoint)
	}

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	reg, err := engine.NewRegistry(ctx, cfg, engine.Options{Logger: logger, Metrics: collector})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer reg.Close()
	fmt.Fprintf(out, "✓ Indexes opened (%d indexes)\n", len(reg.IndexIDs()))

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	reg.RegisterHealth(checker)

	opts := server.Options{
		Address:         cfg.Telemetry.Metrics.ListenAddress,
		Health:          checker,
		HealthConfig:    cfg.Telemetry.Health,
		ShutdownTimeout: shutdownTimeout,
		Logger:          logger,
	}
	if cfg.Telemetry.Metrics.Enabled {
		opts.Metrics = collector.Handler()
		opts.MetricsPath = cfg.Telemetry.Metrics.Path
	}
	srv := server.New(opts)

	scheduler := checkpoint.NewScheduler(reg, cfg.Checkpoint.Schedule, cfg.Checkpoint.Timeout, logger)

	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := scheduler.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})

	eg.Go(func() error {
		return srv.Start(gctx)
	})

	eg.Go(func() error {
		watcher := config.NewWatcher(g.cfgFile, 0, logger)
		return watcher.Watch(gctx, func(next *config.Config) {
			if err := reg.Apply(gctx, next); err != nil {
				logger.Error("failed to apply reloaded configuration", "error", err)
			}
		})
	})

	if cfg.Aging.SpoolDir != "" {
		if err := startSpools(gctx, eg, reg, cfg.Aging, logger); err != nil {
			stop()
			_ = eg.Wait()
			return cli.NewCommandError("run", err)
		}
	}

	fmt.Fprintf(out, "✓ Checkpoint schedule: %s\n", cfg.Checkpoint.Schedule)
	fmt.Fprintf(out, "✓ Health endpoint: http://%s%s\n", srv.Addr(), cfg.Telemetry.Health.ReadinessPath)
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", srv.Addr(), cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := eg.Wait(); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Stopped")
	return nil
}

// startSpools starts one spool watcher per index, each feeding that index's
// aging coordinator. Indexes added by a later reload are picked up on restart.
func startSpools(ctx context.Context, eg *errgroup.Group, reg *engine.Registry, cfg config.AgingConfig, logger *slog.Logger) error {
	for _, id := range reg.IndexIDs() {
		e, err := reg.Get(id)
		if err != nil {
			return err
		}

		events := make(chan aging.Event, cfg.Buffer)
		watcher := aging.NewSpoolWatcher(filepath.Join(cfg.SpoolDir, id), logger.With("index_id", id))

		eg.Go(func() error {
			defer close(events)
			return watcher.Run(ctx, events)
		})
		eg.Go(func() error {
			return e.RunAging(ctx, events)
		})
	}
	return nil
}
