package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/livewatch/internal/alert"
	"github.com/hazz-dev/livewatch/internal/config"
	"github.com/hazz-dev/livewatch/internal/detector"
	"github.com/hazz-dev/livewatch/internal/metrics"
	"github.com/hazz-dev/livewatch/internal/policy"
	"github.com/hazz-dev/livewatch/internal/reboot"
	"github.com/hazz-dev/livewatch/internal/scheduler"
	"github.com/hazz-dev/livewatch/internal/server"
	"github.com/hazz-dev/livewatch/internal/storage"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the watchdog loop",
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(config.RequireAll)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return watch(ctx, cfg, watchDeps{
		source:    detector.NewYtDlpSource(cfg.Detect.YtDlpPath),
		transport: reboot.NewSSHTransport(logger),
	}, logger)
}

type watchDeps struct {
	source    detector.Source
	transport reboot.Transport
}

// watch runs the loop until ctx is cancelled. An in-flight tick, including
// a reboot, is allowed to finish.
func watch(ctx context.Context, cfg *config.Config, deps watchDeps, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	det, err := buildDetector(cfg, deps.source, logger)
	if err != nil {
		return err
	}
	rb := buildRebooter(cfg, deps.transport, logger)
	mon := policy.NewMonitor(cfg.Channel.URL, cfg.Policy.MaxFailures, det, rb, logger)

	m := metrics.New()
	mon.OnTick(m.Observe)

	var db *storage.DB
	if cfg.Storage.Path != "" {
		db, err = storage.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		mon.OnTick(func(r policy.TickResult) {
			insertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := db.InsertTick(insertCtx, r); err != nil {
				logger.Error("storing tick", "tick", r.ID, "error", err)
			}
		})
	}

	if cfg.Alerts.Webhook.URL != "" {
		alerter := alert.New(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Cooldown.Duration, logger)
		mon.OnTick(alerter.Notify)
		defer alerter.Wait()
	}

	logger.Info("starting livewatch",
		"channel", cfg.Channel.URL,
		"max_failures", cfg.Policy.MaxFailures,
		"interval", cfg.Policy.Interval.Duration,
		"dry_run", cfg.DryRun,
	)

	sched := scheduler.New(cfg.Policy.Interval.Duration, func(ctx context.Context) {
		mon.Tick(ctx)
	}, logger)
	sched.Start(ctx)

	var serverErr chan error
	if cfg.Server.Address != "" {
		opts := server.Options{Metrics: m.Handler(logger)}
		if db != nil {
			opts.Store = db
		}
		srv := server.New(mon, opts, logger)
		serverErr = make(chan error, 1)
		go func() {
			serverErr <- srv.ListenAndServe(ctx, cfg.Server.Address)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		// The server only returns early on a listen failure.
		cancel()
		sched.Wait()
		return fmt.Errorf("HTTP server: %w", err)
	}

	sched.Wait()
	if serverErr != nil {
		if err := <-serverErr; err != nil {
			logger.Error("HTTP server shutdown", "error", err)
		}
	}
	logger.Info("shutdown complete")
	return nil
}
