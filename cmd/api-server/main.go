package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/schedcore/internal/api"
	"github.com/careloop/schedcore/internal/config"
	"github.com/careloop/schedcore/internal/db"
	"github.com/careloop/schedcore/internal/logger"
	"github.com/careloop/schedcore/internal/metrics"
	"github.com/careloop/schedcore/internal/queue"
	redisclient "github.com/careloop/schedcore/internal/redis"
	"github.com/careloop/schedcore/internal/scheduling"
	"github.com/careloop/schedcore/internal/slot"
	"github.com/careloop/schedcore/internal/syncengine"
)

const version = "0.3.0"

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

	zlog.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	schemaCtx, cancelSchema := context.WithTimeout(rootCtx, 10*time.Second)
	err = db.EnsureSchema(schemaCtx, pgPool)
	cancelSchema()
	if err != nil {
		zlog.Fatal("schema bootstrap error", zap.Error(err))
	}
	zlog.Info("connected to Postgres")

	// Connect Redis. The lock is contention shedding only, so a missing
	// Redis degrades to CAS-only booking instead of refusing to start.
	var locker redisclient.Locker = redisclient.NoopLocker{}
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zlog.Warn("redis unavailable, booking relies on compare-and-set only", zap.Error(err))
		rdb = nil
	} else {
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		defer func() {
			if err := rdb.Close(); err != nil {
				zlog.Warn("error closing redis", zap.Error(err))
			}
		}()
		zlog.Info("connected to Redis")
	}

	q, err := queue.Open(cfg.QueueDir)
	if err != nil {
		zlog.Fatal("mutation queue error", zap.Error(err))
	}
	if n := q.Len(); n > 0 {
		zlog.Info("restored pending mutations from disk", zap.Int("pending", n))
	}

	met := metrics.NewCollector("schedcore")
	store := slot.NewPgStore(pgPool)
	engine := syncengine.New(store, q, zlog.Named("sync"), met, cfg.DrainInterval)
	svc := scheduling.NewService(store, engine, locker, zlog.Named("scheduling"), met, cfg.BookingLeadTime)
	sweeper := scheduling.NewSweeper(store, cfg.NoShowGrace, zlog.Named("sweeper"), met)

	// One sweep on data load; the periodic passes belong to sweep-worker.
	sweepCtx, cancelSweep := context.WithTimeout(rootCtx, 20*time.Second)
	if _, err := sweeper.Sweep(sweepCtx, time.Now()); err != nil {
		zlog.Warn("startup sweep failed", zap.Error(err))
	}
	cancelSweep()

	go engine.Run(rootCtx)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: svc,
			PgPool:  pgPool,
			Redis:   rdb,
			Log:     zlog.Named("http"),
			Metrics: met,
			Env:     cfg.Env,
			Version: version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zlog.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	zlog.Info("shutting down api-server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown error", zap.Error(err))
	}

	// Give the queue one last chance to flush before exit.
	if engine.Pending() > 0 {
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		_ = engine.DrainOnce(drainCtx)
		cancelDrain()
		if n := engine.Pending(); n > 0 {
			zlog.Info("mutations remain queued for next start", zap.Int("pending", n))
		}
	}
}
