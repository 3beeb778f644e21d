// Package syncengine routes every write through a single path: apply
// directly against the slot store while it is reachable, otherwise persist
// the mutation in the durable queue and replay it in order once connectivity
// returns.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/careloop/schedcore/internal/metrics"
	"github.com/careloop/schedcore/internal/queue"
	"github.com/careloop/schedcore/internal/slot"
)

// Result is what a caller gets back from Execute. Queued means the store was
// unreachable and the slot is the optimistic view, not a confirmed record.
type Result struct {
	Slot    *slot.Slot
	Queued  bool
	EntryID uint64
}

type Engine struct {
	store slot.Store
	q     *queue.Queue
	cb    *gobreaker.CircuitBreaker[*slot.Slot]
	log   *zap.Logger
	met   *metrics.Collector

	drainInterval time.Duration
	drainMu       sync.Mutex
	kick          chan struct{}
}

func New(store slot.Store, q *queue.Queue, log *zap.Logger, met *metrics.Collector, drainInterval time.Duration) *Engine {
	e := &Engine{
		store:         store,
		q:             q,
		log:           log,
		met:           met,
		drainInterval: drainInterval,
		kick:          make(chan struct{}, 1),
	}

	e.cb = gobreaker.NewCircuitBreaker[*slot.Slot](gobreaker.Settings{
		Name:        "slot-store",
		MaxRequests: 1,
		Timeout:     drainInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		// Only reachability failures count against the breaker; a domain
		// rejection proves the store is reachable.
		IsSuccessful: func(err error) bool {
			return err == nil || !slot.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("slot store connectivity changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if to == gobreaker.StateClosed {
				e.requestDrain()
			}
		},
	})

	e.syncGauge()
	return e
}

// Offline reports whether the engine currently considers the store
// unreachable.
func (e *Engine) Offline() bool {
	return e.cb.State() == gobreaker.StateOpen
}

// Pending is the number of mutations waiting to sync.
func (e *Engine) Pending() int {
	return e.q.Len()
}

// Execute applies the mutation directly when the store is reachable. When it
// is not, the mutation is persisted and the caller receives an optimistic
// result immediately; a non-transient rejection is always surfaced as-is.
func (e *Engine) Execute(ctx context.Context, m Mutation) (Result, error) {
	if err := m.Validate(); err != nil {
		return Result{}, err
	}

	s, err := e.apply(ctx, m)
	if err == nil {
		e.count(m.Kind, "direct")
		return Result{Slot: s}, nil
	}
	if !retryable(err) {
		return Result{}, err
	}

	return e.enqueue(m)
}

func (e *Engine) apply(ctx context.Context, m Mutation) (*slot.Slot, error) {
	return e.cb.Execute(func() (*slot.Slot, error) {
		return m.Apply(ctx, e.store)
	})
}

func (e *Engine) enqueue(m Mutation) (Result, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Result{}, err
	}

	entry, err := e.q.Append(string(m.Kind), payload)
	if err != nil {
		return Result{}, err
	}

	e.count(m.Kind, "queued")
	e.syncGauge()
	e.log.Info("mutation queued for later sync",
		zap.Uint64("entry_id", entry.ID),
		zap.String("kind", string(m.Kind)),
	)

	return Result{Slot: m.Optimistic(), Queued: true, EntryID: entry.ID}, nil
}

// DrainOnce replays queued mutations in id order, one at a time, removing
// each only after the store confirms it. A transient failure stops the run so
// FIFO order is preserved across retries; a non-transient failure drops the
// entry, since retrying a deterministic rejection would loop forever.
func (e *Engine) DrainOnce(ctx context.Context) error {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	entries := e.q.List()
	if len(entries) == 0 {
		return nil
	}

	for _, entry := range entries {
		var m Mutation
		if err := json.Unmarshal(entry.Payload, &m); err != nil {
			e.log.Error("dropping undecodable queue entry",
				zap.Uint64("entry_id", entry.ID),
				zap.Error(err),
			)
			e.drop(entry.ID)
			continue
		}

		_, err := e.apply(ctx, m)
		if err != nil {
			if retryable(err) {
				e.countDrain("offline")
				e.log.Debug("store unreachable, drain paused",
					zap.Uint64("entry_id", entry.ID),
					zap.Int("remaining", e.q.Len()),
				)
				return err
			}
			e.log.Warn("dropping queued mutation after non-transient failure",
				zap.Uint64("entry_id", entry.ID),
				zap.String("kind", entry.Kind),
				zap.Error(err),
			)
			e.drop(entry.ID)
			continue
		}

		if err := e.q.Remove(entry.ID); err != nil && !errors.Is(err, queue.ErrEntryNotFound) {
			return err
		}
		e.count(m.Kind, "replayed")
		e.syncGauge()
	}

	e.countDrain("clean")
	e.log.Info("queue drained", zap.Int("remaining", e.q.Len()))
	return nil
}

// Run drains on startup and then on every tick or explicit kick until the
// context ends.
func (e *Engine) Run(ctx context.Context) {
	e.runOnce(ctx)

	ticker := time.NewTicker(e.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runOnce(ctx)
		case <-e.kick:
			e.runOnce(ctx)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context) {
	if e.q.Len() == 0 {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, e.drainInterval)
	defer cancel()
	_ = e.DrainOnce(runCtx)
}

func (e *Engine) requestDrain() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) drop(id uint64) {
	if err := e.q.Remove(id); err != nil && !errors.Is(err, queue.ErrEntryNotFound) {
		e.log.Error("removing queue entry failed", zap.Uint64("entry_id", id), zap.Error(err))
	}
	if e.met != nil {
		e.met.MutationsDropped.Inc()
	}
	e.syncGauge()
}

func (e *Engine) count(kind Kind, mode string) {
	if e.met != nil {
		e.met.MutationsTotal.WithLabelValues(string(kind), mode).Inc()
	}
}

func (e *Engine) countDrain(outcome string) {
	if e.met != nil {
		e.met.DrainRunsTotal.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) syncGauge() {
	if e.met != nil {
		e.met.QueuePending.Set(float64(e.q.Len()))
	}
}

// retryable marks errors that mean "store unreachable right now" rather than
// a domain outcome: those keep their queue entry.
func retryable(err error) bool {
	return slot.IsTransient(err) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}
