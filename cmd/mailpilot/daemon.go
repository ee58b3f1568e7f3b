package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailpilot/internal/bus"
	"mailpilot/internal/config"
	"mailpilot/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Poll the mailbox on a schedule until interrupted",
		Long: `Runs the pipeline on the cron schedule from general.pollSchedule
(default "@every 5m"). Overlapping runs are skipped; ledger retention
pruning runs once a day.`,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := bus.NewEventBus(logger)
	eventBus.On(bus.EventStageFailed, func(e bus.Event) {
		logger.Warn("stage failed", "email", e.EmailID, "detail", e.Payload)
	})
	eventBus.On(bus.EventEmailSettled, func(e bus.Event) {
		logger.Debug("email settled", "email", e.EmailID)
	})
	coord, store, err := buildComponents(ctx, cfg, eventBus)
	if err != nil {
		return err
	}
	defer store.Close()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", metrics.Collector.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("metrics server listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	// SkipIfStillRunning: a slow provider must not stack batches on
	// top of each other.
	sched := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DiscardLogger),
	))

	runOnce := func() {
		started := time.Now()
		outcomes, err := coord.RunBatch(ctx)
		if err != nil {
			logger.Error("batch run failed", "err", err)
			return
		}
		logger.Info("batch run finished",
			"emails", len(outcomes),
			"elapsed", time.Since(started).Round(time.Millisecond))
	}

	if _, err := sched.AddFunc(cfg.General.PollSchedule, runOnce); err != nil {
		return fmt.Errorf("invalid poll schedule %q: %w", cfg.General.PollSchedule, err)
	}
	if _, err := sched.AddFunc("@daily", func() {
		pruned, err := store.Prune(ctx, cfg.Ledger.RetentionDays)
		if err != nil {
			logger.Error("prune failed", "err", err)
			return
		}
		logger.Info("archive pruned", "rows", pruned)
	}); err != nil {
		return err
	}

	logger.Info("daemon started", "schedule", cfg.General.PollSchedule)
	runOnce() // immediate first pass, then follow the schedule
	sched.Start()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx := sched.Stop()
	select {
	case <-shutdownCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("in-flight batch did not finish before shutdown deadline")
	}
	if metricsSrv != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(closeCtx)
	}
	return nil
}
