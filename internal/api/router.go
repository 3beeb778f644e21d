package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/careloop/schedcore/internal/metrics"
	"github.com/careloop/schedcore/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Log     *zap.Logger
	Metrics *metrics.Collector
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log, cfg.Metrics))

	// Health and observability
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Service, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Availability
	r.Post("/availability", generateAvailabilityHandler(cfg.Service))
	r.Get("/providers/{id}/slots", listOpenSlotsHandler(cfg.Service))
	r.Get("/providers/{id}/schedule", providerScheduleHandler(cfg.Service))

	// Booking lifecycle
	r.Post("/slots/{id}/book", bookSlotHandler(cfg.Service))
	r.Post("/slots/{id}/block", setBlockHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/reschedule", rescheduleHandler(cfg.Service))

	// Uniform offline-safe entry point
	r.Post("/mutations", enqueueMutationHandler(cfg.Service))
	r.Get("/sync/status", syncStatusHandler(cfg.Service))

	return r
}
