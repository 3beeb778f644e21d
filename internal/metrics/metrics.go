package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	MutationsTotal   *prometheus.CounterVec
	MutationsDropped prometheus.Counter
	QueuePending     prometheus.Gauge
	DrainRunsTotal   *prometheus.CounterVec
	BookingConflicts prometheus.Counter
	SlotsGenerated   prometheus.Counter
	SweepTransitions *prometheus.CounterVec
}

func NewCollector(serviceName string) *Collector {
	return &Collector{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		MutationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "sync",
			Name:      "mutations_total",
			Help:      "Mutations handled by the sync engine, by kind and mode (direct, queued, replayed).",
		}, []string{"kind", "mode"}),

		MutationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "sync",
			Name:      "mutations_dropped_total",
			Help:      "Queued mutations dropped at drain time due to non-transient errors. Alert if growing.",
		}),

		QueuePending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "sync",
			Name:      "queue_pending",
			Help:      "Current number of mutations waiting to be drained.",
		}),

		DrainRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "sync",
			Name:      "drain_runs_total",
			Help:      "Drain attempts by outcome (clean, offline).",
		}, []string{"outcome"}),

		BookingConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "scheduling",
			Name:      "booking_conflicts_total",
			Help:      "Booking attempts rejected because the slot was no longer available.",
		}),

		SlotsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "scheduling",
			Name:      "slots_generated_total",
			Help:      "Slot records created by the availability generator.",
		}),

		SweepTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "scheduling",
			Name:      "sweep_transitions_total",
			Help:      "Lifecycle sweeper transitions by kind (completed, no_show).",
		}, []string{"kind"}),
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
