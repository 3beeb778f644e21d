package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careloop/schedcore/internal/slot"
	"github.com/careloop/schedcore/internal/syncengine"
)

const maxGenerateRange = 366 // days

// GenerateParams describes one availability run: a date range, a daily
// window, and either open-slot stepping or a single block per day.
type GenerateParams struct {
	ProviderID   uuid.UUID
	From, To     time.Time      // calendar days, inclusive; time-of-day ignored
	DayStart     time.Duration  // offset from midnight
	DayEnd       time.Duration  // offset from midnight, must exceed DayStart
	SlotDuration time.Duration  // per-slot length (open mode)
	Break        time.Duration  // gap between consecutive slots (open mode)
	Weekdays     []time.Weekday // empty means every day
	Block        bool
	Reason       string
	Location     *time.Location // provider-local time; defaults to time.Local
}

func (p GenerateParams) validate() error {
	if p.ProviderID == uuid.Nil {
		return fmt.Errorf("%w: provider id is required", ErrValidation)
	}
	if p.From.IsZero() || p.To.IsZero() {
		return fmt.Errorf("%w: date range is required", ErrValidation)
	}
	if p.From.After(p.To) {
		return fmt.Errorf("%w: range end precedes range start", ErrValidation)
	}
	if p.To.Sub(p.From) > maxGenerateRange*24*time.Hour {
		return fmt.Errorf("%w: date range exceeds %d days", ErrValidation, maxGenerateRange)
	}
	if p.DayStart < 0 || p.DayEnd > 24*time.Hour || p.DayStart >= p.DayEnd {
		return fmt.Errorf("%w: daily window is invalid", ErrValidation)
	}
	if !p.Block {
		if p.SlotDuration <= 0 {
			return fmt.Errorf("%w: slot duration must be positive", ErrValidation)
		}
		if p.Break < 0 {
			return fmt.Errorf("%w: break must not be negative", ErrValidation)
		}
	}
	return nil
}

func (p GenerateParams) matchesWeekday(d time.Weekday) bool {
	if len(p.Weekdays) == 0 {
		return true
	}
	for _, w := range p.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// ParseClock converts "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid clock value %q", ErrValidation, s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// GenerateAvailability walks each matching calendar day and emits slot records
// through the sync engine. The batch is not transactional: on a mid-run
// failure, the count of records already created is returned with the error.
func (s *Service) GenerateAvailability(ctx context.Context, p GenerateParams) (int, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}

	loc := p.Location
	if loc == nil {
		loc = time.Local
	}

	from := midnight(p.From, loc)
	to := midnight(p.To, loc)

	created := 0
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if !p.matchesWeekday(day.Weekday()) {
			continue
		}

		windowStart := day.Add(p.DayStart)
		windowEnd := day.Add(p.DayEnd)

		var err error
		if p.Block {
			err = s.generateBlock(ctx, p, windowStart, windowEnd, &created)
		} else {
			err = s.generateOpenSlots(ctx, p, windowStart, windowEnd, &created)
		}
		if err != nil {
			s.log.Warn("availability run stopped early",
				zap.String("provider_id", p.ProviderID.String()),
				zap.Int("created", created),
				zap.Error(err),
			)
			return created, err
		}
	}

	s.log.Info("availability generated",
		zap.String("provider_id", p.ProviderID.String()),
		zap.Bool("block", p.Block),
		zap.Int("created", created),
	)
	return created, nil
}

// generateOpenSlots steps through the daily window in duration+break strides.
// A candidate that overlaps any existing non-cancelled record is skipped
// whole; intervals are never split or truncated to fit.
func (s *Service) generateOpenSlots(ctx context.Context, p GenerateParams, windowStart, windowEnd time.Time, created *int) error {
	step := p.SlotDuration + p.Break
	for t := windowStart; !t.Add(p.SlotDuration).After(windowEnd); t = t.Add(step) {
		end := t.Add(p.SlotDuration)

		overlaps, err := s.store.ListOverlapping(ctx, p.ProviderID, t, end)
		if err != nil {
			return err
		}
		if len(overlaps) > 0 {
			continue
		}

		m := syncengine.Mutation{
			Kind: syncengine.KindCreateSlot,
			Create: &syncengine.CreateOp{
				ID:         uuid.New(),
				ProviderID: p.ProviderID,
				StartTime:  t,
				EndTime:    end,
				Status:     slot.StatusPending,
			},
		}
		if _, err := s.engine.Execute(ctx, m); err != nil {
			return err
		}
		*created++
		if s.met != nil {
			s.met.SlotsGenerated.Inc()
		}
	}
	return nil
}

// generateBlock emits one record spanning the whole daily window. Open
// availability it overlaps is destroyed; confirmed and completed visits are
// preserved and coexist with the block.
func (s *Service) generateBlock(ctx context.Context, p GenerateParams, windowStart, windowEnd time.Time, created *int) error {
	overlaps, err := s.store.ListOverlapping(ctx, p.ProviderID, windowStart, windowEnd)
	if err != nil {
		return err
	}

	for _, o := range overlaps {
		if o.Status != slot.StatusPending {
			continue
		}
		m := syncengine.Mutation{
			Kind:          syncengine.KindDeletePending,
			DeletePending: &syncengine.DeletePendingOp{SlotID: o.ID},
		}
		if _, err := s.engine.Execute(ctx, m); err != nil {
			return err
		}
	}

	m := syncengine.Mutation{
		Kind: syncengine.KindCreateSlot,
		Create: &syncengine.CreateOp{
			ID:         uuid.New(),
			ProviderID: p.ProviderID,
			StartTime:  windowStart,
			EndTime:    windowEnd,
			Status:     slot.StatusBlocked,
			Notes:      p.Reason,
		},
	}
	if _, err := s.engine.Execute(ctx, m); err != nil {
		return err
	}
	*created++
	if s.met != nil {
		s.met.SlotsGenerated.Inc()
	}
	return nil
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
