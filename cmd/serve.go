package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/analysis"
	"github.com/JakeFAU/archive-coordinator/internal/api"
	"github.com/JakeFAU/archive-coordinator/internal/broadcast"
	"github.com/JakeFAU/archive-coordinator/internal/config"
	"github.com/JakeFAU/archive-coordinator/internal/lifecycle"
	"github.com/JakeFAU/archive-coordinator/internal/listener"
	"github.com/JakeFAU/archive-coordinator/internal/logging"
	"github.com/JakeFAU/archive-coordinator/internal/metrics"
	"github.com/JakeFAU/archive-coordinator/internal/reaper"
	"github.com/JakeFAU/archive-coordinator/internal/recorder"
	"github.com/JakeFAU/archive-coordinator/internal/storage/gcs"
	"github.com/JakeFAU/archive-coordinator/internal/storage/memory"
	"github.com/JakeFAU/archive-coordinator/internal/storage/postgres"
	"github.com/JakeFAU/archive-coordinator/internal/storage/pubsub"
	"github.com/JakeFAU/archive-coordinator/internal/store"
	"github.com/JakeFAU/archive-coordinator/internal/trim"
)

const janitorInterval = time.Minute

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		jobs  store.JobStore
		queue store.Queue
		logs  store.LogStore
		bus   store.Bus
	)

	var pgJobs *postgres.JobStore
	switch cfg.Store.Provider {
	case "memory":
		ms := memory.New()
		jobs, queue, logs, bus = ms, ms, ms, ms
	case "postgres":
		pool, poolErr := pgxpool.New(ctx, cfg.Store.DSN)
		if poolErr != nil {
			return fmt.Errorf("connect postgres: %w", poolErr)
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
		pgJobs = postgres.NewJobStore(pool)
		jobs = pgJobs
		queue = pgJobs
		logs = postgres.NewLogStore(pool, logger.Named("logstore"))
		bus = postgres.NewBus(pool, cfg.BusDSN(), logger.Named("bus"))
	default:
		return fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}

	// A postgres bus can back a memory store so multiple processes share
	// signals without sharing job state.
	if cfg.Bus.Provider == "postgres" && cfg.Store.Provider != "postgres" {
		pool, poolErr := pgxpool.New(ctx, cfg.BusDSN())
		if poolErr != nil {
			return fmt.Errorf("connect bus postgres: %w", poolErr)
		}
		defer pool.Close()
		bus = postgres.NewBus(pool, cfg.BusDSN(), logger.Named("bus"))
	}

	if cfg.Queue.MirrorPubSub {
		mirror, mirrorErr := pubsub.NewMirrorQueue(ctx, queue, cfg.Queue.ProjectID, cfg.Queue.TopicPrefix, logger.Named("pubsub"))
		if mirrorErr != nil {
			return fmt.Errorf("init pubsub mirror: %w", mirrorErr)
		}
		defer func() { _ = mirror.Close() }()
		queue = mirror
	}

	var cold store.ColdStorage
	if cfg.Recorder.GCSBucket != "" {
		gcsStore, gcsErr := gcs.New(ctx, cfg.Recorder.GCSBucket, cfg.Recorder.Prefix)
		if gcsErr != nil {
			return fmt.Errorf("init cold storage: %w", gcsErr)
		}
		defer func() { _ = gcsStore.Close() }()
		cold = gcsStore
	} else {
		cold = memory.NewColdStorage()
	}

	hooks := []lifecycle.Hook{
		lifecycle.DefaultTuningHook{
			DelayMin:    cfg.Registry.DelayMinMs,
			DelayMax:    cfg.Registry.DelayMaxMs,
			Concurrency: cfg.Registry.Concurrency,
		},
		lifecycle.IgnoreSetHook{Patterns: cfg.Registry.IgnorePatterns},
	}
	manager := lifecycle.New(jobs, queue, logs, bus, hooks, logger.Named("lifecycle"))

	analyzer := analysis.New(jobs, logs, logger.Named("analysis"))
	broadcaster := broadcast.New(jobs, logs, bus, logger.Named("broadcast"))
	trimmer := trim.New(jobs, logs, cold, cfg.Engine.TrimThreshold, logger.Named("trim"))

	listeners := []*listener.Listener{
		listener.New(bus, store.ChannelLogUpdates, "analysis", analyzer, logger),
		listener.New(bus, store.ChannelLogUpdates, "broadcast", broadcaster, logger),
		listener.New(bus, store.ChannelLogUpdates, "trim", trimmer, logger),
	}
	if cfg.Recorder.Enabled {
		rec := recorder.New(jobs, cold, logger.Named("recorder"))
		listeners = append(listeners, listener.New(bus, store.ChannelLogUpdates, "recorder", rec, logger))
	}
	for _, l := range listeners {
		go func(l *listener.Listener) {
			if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("listener stopped", zap.Error(err))
				stop()
			}
		}(l)
	}

	if cfg.Reaper.Enabled {
		r := reaper.New(
			jobs,
			queue,
			manager,
			time.Duration(cfg.Reaper.IntervalSeconds)*time.Second,
			cfg.Reaper.Threshold,
			logger.Named("reaper"),
		)
		go func() {
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reaper stopped", zap.Error(err))
			}
		}()
	}

	if pgJobs != nil {
		go runJanitor(ctx, pgJobs, logger.Named("janitor"))
	}

	apiServer := api.NewServer(manager, jobs, logs, queue, bus, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// runJanitor periodically deletes job rows whose retention TTL has passed.
func runJanitor(ctx context.Context, jobs *postgres.JobStore, logger *zap.Logger) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := jobs.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("expired-job sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired jobs removed", zap.Int64("count", n))
			}
		}
	}
}
