package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careloop/schedcore/internal/metrics"
	"github.com/careloop/schedcore/internal/slot"
)

// NoShowReason annotates appointments the sweeper cancels because the member
// never turned up.
const NoShowReason = "no-show"

type SweepStats struct {
	Scanned   int
	Completed int
	NoShows   int
}

// Sweeper advances stale records through the lifecycle without user action.
// Every transition is a forward-only compare-and-set, so the pass is safe to
// run redundantly and concurrently with user-driven writes.
type Sweeper struct {
	store slot.Store
	grace time.Duration
	log   *zap.Logger
	met   *metrics.Collector
}

func NewSweeper(store slot.Store, grace time.Duration, log *zap.Logger, met *metrics.Collector) *Sweeper {
	return &Sweeper{store: store, grace: grace, log: log, met: met}
}

// Sweep promotes records whose end has passed to completed, and cancels
// confirmed appointments whose start passed more than the grace period ago
// as no-shows. A record another writer already advanced is skipped.
func (w *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	var stats SweepStats

	candidates, err := w.store.ListLifecycleCandidates(ctx, now)
	if err != nil {
		return stats, err
	}

	for _, c := range candidates {
		stats.Scanned++

		switch {
		case !c.EndTime.After(now):
			if ok := w.transition(ctx, c.ID, "completed", func(ctx context.Context) error {
				_, err := w.store.CompleteSlot(ctx, c.ID)
				return err
			}); ok {
				stats.Completed++
			}

		case c.Status == slot.StatusConfirmed && c.MemberID != nil && !c.StartTime.After(now.Add(-w.grace)):
			if ok := w.transition(ctx, c.ID, "no_show", func(ctx context.Context) error {
				_, err := w.store.CancelSlot(ctx, c.ID, NoShowReason)
				return err
			}); ok {
				stats.NoShows++
			}
		}
	}

	if stats.Completed > 0 || stats.NoShows > 0 {
		w.log.Info("lifecycle sweep complete",
			zap.Int("scanned", stats.Scanned),
			zap.Int("completed", stats.Completed),
			zap.Int("no_shows", stats.NoShows),
		)
	}
	return stats, nil
}

func (w *Sweeper) transition(ctx context.Context, id uuid.UUID, kind string, apply func(ctx context.Context) error) bool {
	err := apply(ctx)
	if err != nil {
		// Concurrent writer got there first; the record is already where it
		// needs to be.
		if errors.Is(err, slot.ErrAlreadyTerminal) || errors.Is(err, slot.ErrNotFound) {
			return false
		}
		w.log.Warn("sweep transition failed",
			zap.String("slot_id", id.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return false
	}

	if w.met != nil {
		w.met.SweepTransitions.WithLabelValues(kind).Inc()
	}
	return true
}
