package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/schedcore/internal/config"
	"github.com/careloop/schedcore/internal/db"
	"github.com/careloop/schedcore/internal/logger"
	"github.com/careloop/schedcore/internal/metrics"
	"github.com/careloop/schedcore/internal/scheduling"
	"github.com/careloop/schedcore/internal/slot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Info("sweep-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.SweepInterval),
		zap.Duration("no_show_grace", cfg.NoShowGrace),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	met := metrics.NewCollector("schedcore_sweeper")
	store := slot.NewPgStore(pgPool)
	sweeper := scheduling.NewSweeper(store, cfg.NoShowGrace, zlog, met)

	// Run once at startup
	runOnce(rootCtx, zlog, sweeper)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zlog.Info("shutdown signal received, stopping sweep worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, zlog, sweeper)
		}
	}
}

func runOnce(ctx context.Context, zlog *zap.Logger, sweeper *scheduling.Sweeper) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	stats, err := sweeper.Sweep(runCtx, time.Now())
	if err != nil {
		zlog.Warn("sweep run error", zap.Error(err))
		return
	}
	zlog.Info("sweep run complete",
		zap.Int("scanned", stats.Scanned),
		zap.Int("completed", stats.Completed),
		zap.Int("no_shows", stats.NoShows),
		zap.Duration("took", time.Since(start)),
	)
}
