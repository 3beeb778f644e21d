// Package scheduling is the single entry point external collaborators use to
// generate availability, book, cancel, reschedule, and query slots. Every
// write is routed through the sync engine; every read goes straight to the
// slot store.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careloop/schedcore/internal/metrics"
	redisclient "github.com/careloop/schedcore/internal/redis"
	"github.com/careloop/schedcore/internal/slot"
	"github.com/careloop/schedcore/internal/syncengine"
)

type Service struct {
	store    slot.Store
	engine   *syncengine.Engine
	locker   redisclient.Locker
	log      *zap.Logger
	met      *metrics.Collector
	leadTime time.Duration
}

func NewService(store slot.Store, engine *syncengine.Engine, locker redisclient.Locker, log *zap.Logger, met *metrics.Collector, leadTime time.Duration) *Service {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	return &Service{
		store:    store,
		engine:   engine,
		locker:   locker,
		log:      log,
		met:      met,
		leadTime: leadTime,
	}
}

// Pending is the number of writes waiting to sync, for "N changes waiting"
// displays.
func (s *Service) Pending() int {
	return s.engine.Pending()
}

// Offline reports the engine's current view of store connectivity.
func (s *Service) Offline() bool {
	return s.engine.Offline()
}

// ListOpenSlots returns the provider's bookable slots: pending, at least the
// configured lead time in the future, and not overlapped by any other
// non-cancelled record.
func (s *Service) ListOpenSlots(ctx context.Context, providerID uuid.UUID, from time.Time) ([]slot.Slot, error) {
	if providerID == uuid.Nil {
		return nil, fmt.Errorf("%w: provider id is required", ErrValidation)
	}

	cutoff := time.Now().Add(s.leadTime)
	if from.Before(cutoff) {
		from = cutoff
	}
	return s.store.ListOpenSlots(ctx, providerID, from)
}

// GetProviderSchedule returns every record for the provider in [from, to),
// regardless of status.
func (s *Service) GetProviderSchedule(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]slot.Slot, error) {
	if providerID == uuid.Nil {
		return nil, fmt.Errorf("%w: provider id is required", ErrValidation)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: range end precedes range start", ErrValidation)
	}
	return s.store.ListProviderRange(ctx, providerID, from, to)
}

// BookSlot reserves an open slot for a member. The result carries Queued=true
// when the store was unreachable and the booking was enqueued optimistically.
func (s *Service) BookSlot(ctx context.Context, slotID, memberID uuid.UUID, notes string) (syncengine.Result, error) {
	if slotID == uuid.Nil || memberID == uuid.Nil {
		return syncengine.Result{}, fmt.Errorf("%w: slot id and member id are required", ErrValidation)
	}

	// Fail fast while the store is reachable. A transient read failure falls
	// through to the offline path below.
	current, err := s.store.GetSlot(ctx, slotID)
	if err != nil && !slot.IsTransient(err) {
		return syncengine.Result{}, err
	}
	if current != nil && (current.Status != slot.StatusPending || current.MemberID != nil) {
		s.countConflict()
		return syncengine.Result{}, slot.ErrSlotUnavailable
	}

	m := syncengine.Mutation{
		Kind: syncengine.KindBook,
		Book: &syncengine.BookOp{SlotID: slotID, MemberID: memberID, Notes: notes},
	}

	res, err := s.executeLocked(ctx, slotID, m)
	if err != nil {
		if errors.Is(err, slot.ErrSlotUnavailable) {
			s.countConflict()
		}
		return syncengine.Result{}, err
	}

	if res.Queued && current != nil {
		// Enrich the optimistic view with the interval we read earlier.
		res.Slot.ProviderID = current.ProviderID
		res.Slot.StartTime = current.StartTime
		res.Slot.EndTime = current.EndTime
	}
	return res, nil
}

// executeLocked runs the mutation inside the per-slot Redis lock. The lock
// only sheds contention; when it cannot even be acquired because Redis is
// down, the mutation proceeds and the store's compare-and-set arbitrates.
func (s *Service) executeLocked(ctx context.Context, slotID uuid.UUID, m syncengine.Mutation) (syncengine.Result, error) {
	var res syncengine.Result
	var execErr error

	lockErr := s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		res, execErr = s.engine.Execute(lockCtx, m)
		return execErr
	})

	if lockErr != nil && (execErr == nil || !errors.Is(lockErr, execErr)) {
		if errors.Is(lockErr, redisclient.ErrLockNotAcquired) {
			return syncengine.Result{}, ErrSlotContended
		}
		s.log.Warn("slot lock unavailable, relying on compare-and-set",
			zap.String("slot_id", slotID.String()),
			zap.Error(lockErr),
		)
		return s.engine.Execute(ctx, m)
	}

	return res, execErr
}

// CancelAppointment cancels a pending or confirmed record, retaining it as
// history with a structured reason. The interval does not reopen: a new
// pending slot only appears if the provider regenerates availability.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID uuid.UUID, reason string) (syncengine.Result, error) {
	if appointmentID == uuid.Nil {
		return syncengine.Result{}, fmt.Errorf("%w: appointment id is required", ErrValidation)
	}

	current, err := s.store.GetSlot(ctx, appointmentID)
	if err != nil && !slot.IsTransient(err) {
		return syncengine.Result{}, err
	}
	if current != nil && current.Status.Terminal() {
		return syncengine.Result{}, slot.ErrAlreadyTerminal
	}

	m := syncengine.Mutation{
		Kind:   syncengine.KindCancel,
		Cancel: &syncengine.CancelOp{SlotID: appointmentID, Reason: reason},
	}
	return s.engine.Execute(ctx, m)
}

// RescheduleSwap moves a member's appointment to a new slot as one atomic
// swap: the new slot is booked before the old one is cancelled, so a failure
// never leaves the member with nothing. memberID may be uuid.Nil when the
// caller doesn't know it; it is then resolved from the old appointment, which
// requires the store to be reachable.
func (s *Service) RescheduleSwap(ctx context.Context, oldID, newID, memberID uuid.UUID) (syncengine.Result, error) {
	if oldID == uuid.Nil || newID == uuid.Nil {
		return syncengine.Result{}, fmt.Errorf("%w: old and new slot ids are required", ErrValidation)
	}
	if oldID == newID {
		return syncengine.Result{}, fmt.Errorf("%w: old and new slot ids must differ", ErrValidation)
	}

	if memberID == uuid.Nil {
		old, err := s.store.GetSlot(ctx, oldID)
		if err != nil {
			if slot.IsTransient(err) {
				return syncengine.Result{}, fmt.Errorf("%w: member id is required while the store is unreachable", ErrValidation)
			}
			return syncengine.Result{}, err
		}
		if old.MemberID == nil {
			return syncengine.Result{}, fmt.Errorf("%w: appointment has no member to reschedule", ErrValidation)
		}
		memberID = *old.MemberID
	}

	m := syncengine.Mutation{
		Kind:       syncengine.KindReschedule,
		Reschedule: &syncengine.RescheduleOp{OldID: oldID, NewID: newID, MemberID: memberID},
	}

	res, err := s.executeLocked(ctx, newID, m)
	if err != nil && errors.Is(err, slot.ErrSlotUnavailable) {
		s.countConflict()
	}
	return res, err
}

// ToggleBlock sets a slot's block state to an explicit value. The absolute
// form (never a relative flip) is what keeps a queued replay idempotent.
func (s *Service) ToggleBlock(ctx context.Context, slotID uuid.UUID, blocked bool, reason string) (syncengine.Result, error) {
	if slotID == uuid.Nil {
		return syncengine.Result{}, fmt.Errorf("%w: slot id is required", ErrValidation)
	}

	current, err := s.store.GetSlot(ctx, slotID)
	if err != nil && !slot.IsTransient(err) {
		return syncengine.Result{}, err
	}
	if current != nil {
		if current.Status.Terminal() {
			return syncengine.Result{}, slot.ErrAlreadyTerminal
		}
		if current.Status == slot.StatusConfirmed {
			return syncengine.Result{}, slot.ErrSlotUnavailable
		}
	}

	m := syncengine.Mutation{
		Kind:     syncengine.KindSetBlock,
		SetBlock: &syncengine.SetBlockOp{SlotID: slotID, Blocked: blocked, Reason: reason},
	}
	return s.engine.Execute(ctx, m)
}

// EnqueueOrExecute is the uniform offline-safe entry point: any facade
// operation expressed as a mutation flows through the same engine path.
func (s *Service) EnqueueOrExecute(ctx context.Context, m syncengine.Mutation) (syncengine.Result, error) {
	if err := m.Validate(); err != nil {
		return syncengine.Result{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.engine.Execute(ctx, m)
}

func (s *Service) countConflict() {
	if s.met != nil {
		s.met.BookingConflicts.Inc()
	}
}
