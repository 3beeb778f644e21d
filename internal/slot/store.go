package slot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot is not available")
	ErrAlreadyTerminal = errors.New("slot is already in a terminal state")

	// ErrStoreUnavailable wraps infrastructure failures (network, timeouts).
	// The sync engine treats anything matching it as retryable; everything
	// else is a logic error and is never retried.
	ErrStoreUnavailable = errors.New("slot store unavailable")
)

// IsTransient reports whether err is a store-reachability failure rather than
// a domain outcome.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Store is the authoritative slot collection. Implementations must make every
// write conditional on the record's prior state (compare-and-set) and
// repeat-safe, because the sync engine replays operations after interrupted
// drains:
//
//   - CreateSlot with an id that already exists returns the existing record.
//   - BookSlot on a slot already confirmed for the same member returns it.
//   - CancelSlot on a slot already cancelled returns it.
//   - DeletePending on a missing record is a no-op.
type Store interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)

	// CreateSlot inserts a new pending or blocked record. The id is always
	// generated by the caller, never by the store.
	CreateSlot(ctx context.Context, s *Slot) (*Slot, error)

	// BookSlot transitions pending -> confirmed, setting the member, only if
	// the slot is still pending and unbooked. Loses the race -> ErrSlotUnavailable.
	BookSlot(ctx context.Context, id, memberID uuid.UUID, notes string) (*Slot, error)

	// CancelSlot transitions pending|confirmed -> cancelled with a structured
	// reason. Completed records reject with ErrAlreadyTerminal.
	CancelSlot(ctx context.Context, id uuid.UUID, reason string) (*Slot, error)

	// CompleteSlot transitions pending|confirmed -> completed (sweeper only).
	CompleteSlot(ctx context.Context, id uuid.UUID) (*Slot, error)

	// SetBlocked sets the block state absolutely: true moves pending ->
	// blocked (reason kept in notes), false moves blocked -> pending. Setting
	// the state the record already holds succeeds as a no-op.
	SetBlocked(ctx context.Context, id uuid.UUID, blocked bool, reason string) (*Slot, error)

	// RescheduleSwap books newID for memberID and cancels oldID as one atomic
	// operation, booking first so a failure leaves the member holding their
	// original appointment. Returns the new appointment.
	RescheduleSwap(ctx context.Context, oldID, newID, memberID uuid.UUID) (*Slot, error)

	// DeletePending removes a record only while it is still pending. Used by
	// block generation to destroy open availability it overlaps.
	DeletePending(ctx context.Context, id uuid.UUID) error

	// ListOverlapping returns the provider's non-cancelled records
	// intersecting [start, end).
	ListOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]Slot, error)

	// ListOpenSlots returns pending records starting at or after from,
	// excluding any overlapped by another non-cancelled record.
	ListOpenSlots(ctx context.Context, providerID uuid.UUID, from time.Time) ([]Slot, error)

	// ListProviderRange returns every record for the provider intersecting
	// [from, to), regardless of status.
	ListProviderRange(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Slot, error)

	// ListLifecycleCandidates returns pending and confirmed records whose
	// start_time is before the given instant, for the sweeper.
	ListLifecycleCandidates(ctx context.Context, before time.Time) ([]Slot, error)
}
