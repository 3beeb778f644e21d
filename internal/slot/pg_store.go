package slot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const slotColumns = `id, provider_id, member_id, start_time, end_time, status, notes, cancel_reason, created_at, updated_at`

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var memberID *uuid.UUID
	var cancelReason *string

	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&memberID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.Notes,
		&cancelReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("scan slot", err)
	}

	s.MemberID = memberID
	s.CancelReason = cancelReason
	return &s, nil
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("read slot rows", err)
	}

	return result, nil
}

// storeErr marks infrastructure failures so the sync engine can tell them
// apart from domain outcomes. Constraint violations are deterministic and must
// not be classified as retryable, or a replay would loop on them forever.
func storeErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// Interface methods

func (r *PgStore) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgStore) CreateSlot(ctx context.Context, s *Slot) (*Slot, error) {
	// ON CONFLICT DO NOTHING makes a replayed create a no-op; the follow-up
	// read returns whichever record won.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO slots (id, provider_id, member_id, start_time, end_time, status, notes, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.ProviderID, s.MemberID, s.StartTime, s.EndTime, s.Status, s.Notes, s.CancelReason)
	if err != nil {
		return nil, storeErr("insert slot", err)
	}

	return r.GetSlot(ctx, s.ID)
}

func (r *PgStore) BookSlot(ctx context.Context, id, memberID uuid.UUID, notes string) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE slots
		SET status = 'confirmed',
		    member_id = $2,
		    notes = CASE WHEN $3 = '' THEN notes ELSE $3 END,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		  AND member_id IS NULL
		RETURNING `+slotColumns+`
	`, id, memberID, notes)

	booked, err := scanSlot(row)
	if err == nil {
		return booked, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// The conditional update missed: figure out why.
	current, getErr := r.GetSlot(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status == StatusConfirmed && current.MemberID != nil && *current.MemberID == memberID {
		// Replayed booking that already succeeded.
		return current, nil
	}
	return nil, ErrSlotUnavailable
}

func (r *PgStore) CancelSlot(ctx context.Context, id uuid.UUID, reason string) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE slots
		SET status = 'cancelled',
		    cancel_reason = NULLIF($2, ''),
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		RETURNING `+slotColumns+`
	`, id, reason)

	cancelled, err := scanSlot(row)
	if err == nil {
		return cancelled, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	current, getErr := r.GetSlot(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status == StatusCancelled {
		return current, nil
	}
	return nil, ErrAlreadyTerminal
}

func (r *PgStore) CompleteSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE slots
		SET status = 'completed',
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		RETURNING `+slotColumns+`
	`, id)

	completed, err := scanSlot(row)
	if err == nil {
		return completed, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	current, getErr := r.GetSlot(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status == StatusCompleted {
		return current, nil
	}
	return nil, ErrAlreadyTerminal
}

func (r *PgStore) SetBlocked(ctx context.Context, id uuid.UUID, blocked bool, reason string) (*Slot, error) {
	var row pgx.Row
	if blocked {
		row = r.pool.QueryRow(ctx, `
			UPDATE slots
			SET status = 'blocked',
			    notes = CASE WHEN $2 = '' THEN notes ELSE $2 END,
			    updated_at = now()
			WHERE id = $1
			  AND status = 'pending'
			RETURNING `+slotColumns+`
		`, id, reason)
	} else {
		row = r.pool.QueryRow(ctx, `
			UPDATE slots
			SET status = 'pending',
			    notes = '',
			    updated_at = now()
			WHERE id = $1
			  AND status = 'blocked'
			RETURNING `+slotColumns+`
		`, id)
	}

	updated, err := scanSlot(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	current, getErr := r.GetSlot(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	want := StatusPending
	if blocked {
		want = StatusBlocked
	}
	if current.Status == want {
		// Absolute set, already in the requested state.
		return current, nil
	}
	if current.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	return nil, ErrSlotUnavailable
}

func (r *PgStore) RescheduleSwap(ctx context.Context, oldID, newID, memberID uuid.UUID) (*Slot, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin reschedule tx", err)
	}
	defer tx.Rollback(ctx)

	// Book the new slot first; if anything after this fails the transaction
	// rolls back and the member keeps the original appointment.
	row := tx.QueryRow(ctx, `
		UPDATE slots
		SET status = 'confirmed',
		    member_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		  AND member_id IS NULL
		RETURNING `+slotColumns+`
	`, newID, memberID)

	booked, err := scanSlot(row)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return r.rescheduleReplayCheck(ctx, oldID, newID, memberID)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE slots
		SET status = 'cancelled',
		    cancel_reason = 'rescheduled',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'confirmed'
		  AND member_id = $2
	`, oldID, memberID)
	if err != nil {
		return nil, storeErr("cancel old appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, r.classifyOld(ctx, oldID, memberID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit reschedule tx", err)
	}

	return booked, nil
}

// rescheduleReplayCheck handles the conditional-booking miss: either this is
// a replay of a swap that already committed, or the new slot is genuinely
// taken.
func (r *PgStore) rescheduleReplayCheck(ctx context.Context, oldID, newID, memberID uuid.UUID) (*Slot, error) {
	newSlot, err := r.GetSlot(ctx, newID)
	if err != nil {
		return nil, err
	}
	if newSlot.Status == StatusConfirmed && newSlot.MemberID != nil && *newSlot.MemberID == memberID {
		oldSlot, err := r.GetSlot(ctx, oldID)
		if err == nil && oldSlot.Status == StatusCancelled {
			return newSlot, nil
		}
	}
	return nil, ErrSlotUnavailable
}

func (r *PgStore) classifyOld(ctx context.Context, oldID uuid.UUID, memberID uuid.UUID) error {
	old, err := r.GetSlot(ctx, oldID)
	if err != nil {
		return err
	}
	if old.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	return ErrSlotUnavailable
}

func (r *PgStore) DeletePending(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM slots
		WHERE id = $1
		  AND status = 'pending'
	`, id)
	if err != nil {
		return storeErr("delete pending slot", err)
	}
	return nil
}

func (r *PgStore) ListOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND status <> 'cancelled'
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, providerID, start, end)
	if err != nil {
		return nil, storeErr("list overlapping slots", err)
	}
	return collectSlots(rows)
}

func (r *PgStore) ListOpenSlots(ctx context.Context, providerID uuid.UUID, from time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots s
		WHERE s.provider_id = $1
		  AND s.status = 'pending'
		  AND s.start_time >= $2
		  AND NOT EXISTS (
			SELECT 1 FROM slots o
			WHERE o.provider_id = s.provider_id
			  AND o.id <> s.id
			  AND o.status <> 'cancelled'
			  AND o.start_time < s.end_time
			  AND o.end_time > s.start_time
		  )
		ORDER BY s.start_time
	`, providerID, from)
	if err != nil {
		return nil, storeErr("list open slots", err)
	}
	return collectSlots(rows)
}

func (r *PgStore) ListProviderRange(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, providerID, from, to)
	if err != nil {
		return nil, storeErr("list provider range", err)
	}
	return collectSlots(rows)
}

func (r *PgStore) ListLifecycleCandidates(ctx context.Context, before time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE status IN ('pending', 'confirmed')
		  AND start_time < $1
		ORDER BY start_time
	`, before)
	if err != nil {
		return nil, storeErr("list lifecycle candidates", err)
	}
	return collectSlots(rows)
}
