package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/beacon/internal/alerts"
	"github.com/hugo-lorenzo-mato/beacon/internal/api"
	"github.com/hugo-lorenzo-mato/beacon/internal/config"
	"github.com/hugo-lorenzo-mato/beacon/internal/events"
	"github.com/hugo-lorenzo-mato/beacon/internal/logging"
	"github.com/hugo-lorenzo-mato/beacon/internal/logstore"
	"github.com/hugo-lorenzo-mato/beacon/internal/metrics"
	"github.com/hugo-lorenzo-mato/beacon/internal/storage"
	"github.com/hugo-lorenzo-mato/beacon/internal/tasks"
	"github.com/hugo-lorenzo-mato/beacon/internal/tracker"
	"github.com/hugo-lorenzo-mato/beacon/internal/web/sse"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the observability service",
	Long: `Start the beacon service: the log store, workflow tracker, metrics
collector and alert engine, exposed over a REST API with SSE fan-out.

Examples:
  # Start with defaults (localhost:8080)
  beacon serve

  # Start on a custom host and port
  beacon serve --host 0.0.0.0 --port 3000`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"Host address to bind to (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"Port to listen on (overrides config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := logging.New(logging.Config{
		Level:  logLevel,
		Format: logFormat,
		Output: os.Stdout,
	})
	slogger := logger.Logger

	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("store close failed", "error", closeErr)
		}
	}()

	bus := events.New(256)
	defer bus.Close()

	logs := logstore.New(store, bus, slogger, logstore.Config{
		RetentionDays: cfg.Retention.Days,
		RingSize:      cfg.Limits.LogRingSize,
		SweepInterval: cfg.Retention.SweepIntervalDuration(),
	})

	trk := tracker.New(store, logs, bus, slogger, tracker.Config{
		MaxActive:  cfg.Limits.MaxActiveWorkflows,
		MaxHistory: cfg.Limits.MaxHistory,
	})

	engine := alerts.New(store, logs, bus, slogger, alerts.Config{
		SweepInterval:     cfg.Alerts.SweepIntervalDuration(),
		DefaultDismissHrs: cfg.Alerts.DefaultDismissAfterHours,
		RulesPath:         cfg.Alerts.RulesPath,
	})

	collector := metrics.New(store, bus, engine, metrics.NewSystemSampler("/"), slogger, metrics.Config{
		SampleInterval: cfg.Sampler.IntervalDuration(),
		SweepInterval:  cfg.Retention.SweepIntervalDuration(),
		RetentionDays:  cfg.Retention.Days,
		RingSize:       cfg.Limits.MetricsRingSize,
		Thresholds: metrics.Thresholds{
			CPUWarning:   cfg.Thresholds.CPUWarning,
			CPUCritical:  cfg.Thresholds.CPUCritical,
			MemWarning:   cfg.Thresholds.MemoryWarning,
			MemCritical:  cfg.Thresholds.MemoryCritical,
			DiskWarning:  cfg.Thresholds.DiskWarning,
			DiskCritical: cfg.Thresholds.DiskCritical,
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := engine.Restore(ctx); err != nil {
		return fmt.Errorf("restoring alert state: %w", err)
	}

	logs.Start(ctx)
	defer logs.Stop()
	collector.Start(ctx)
	defer collector.Stop()
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("starting alert engine: %w", err)
	}
	defer engine.Stop()

	// Failed workflows arrive on the blocking priority channel; the
	// monitor turns them into rule evaluations.
	monitor := alerts.NewFailureMonitor(engine, bus, slogger)
	monitor.Start(ctx)
	defer monitor.Stop()

	// Terminal workflows age out on the same window as the logs.
	workflowSweep := tasks.NewLoop("workflow_sweep", cfg.Retention.SweepIntervalDuration(),
		func(ctx context.Context) error {
			cutoff := time.Now().Add(-cfg.Retention.RetentionWindow())
			deleted, err := store.DeleteWorkflowsBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			if deleted > 0 {
				logger.Info("workflow retention sweep", "deleted", deleted)
			}
			return nil
		}, slogger)
	workflowSweep.Start(ctx)
	defer workflowSweep.Stop()

	broadcaster := sse.NewBroadcaster(bus, logs, trk, engine, cfg.Fanout.IntervalDuration(), slogger)
	broadcaster.Start(ctx)
	defer broadcaster.Stop()

	server := api.NewServer(logs, trk, collector, engine, bus,
		api.WithLogger(slogger), api.WithBroadcaster(broadcaster))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, addr)
	})

	logger.Info("beacon started",
		"addr", addr,
		"db", store.Path(),
		"retention_days", cfg.Retention.Days)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("beacon stopped")
	return nil
}
