package slot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newPendingSlot(providerID uuid.UUID, start time.Time, dur time.Duration) *Slot {
	return &Slot{
		ID:         uuid.New(),
		ProviderID: providerID,
		StartTime:  start,
		EndTime:    start.Add(dur),
		Status:     StatusPending,
	}
}

func mustCreate(t *testing.T, m *MemStore, s *Slot) *Slot {
	t.Helper()
	created, err := m.CreateSlot(context.Background(), s)
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	return created
}

func TestBookSlotConcurrentSingleWinner(t *testing.T) {
	m := NewMemStore()
	providerID := uuid.New()
	s := mustCreate(t, m, newPendingSlot(providerID, time.Now().Add(time.Hour), 45*time.Minute))

	const contenders = 50
	var wg sync.WaitGroup
	results := make([]error, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = m.BookSlot(context.Background(), s.ID, uuid.New(), "")
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotUnavailable):
		default:
			t.Errorf("contender %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestBookSlotReplaySameMemberSucceeds(t *testing.T) {
	m := NewMemStore()
	s := mustCreate(t, m, newPendingSlot(uuid.New(), time.Now().Add(time.Hour), 45*time.Minute))
	memberID := uuid.New()

	first, err := m.BookSlot(context.Background(), s.ID, memberID, "knee pain")
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	// Same member booking the same slot again is a replayed mutation, not a
	// conflict.
	replay, err := m.BookSlot(context.Background(), s.ID, memberID, "knee pain")
	if err != nil {
		t.Fatalf("replayed book: %v", err)
	}
	if replay.Status != StatusConfirmed || replay.MemberID == nil || *replay.MemberID != memberID {
		t.Fatalf("replay result = %+v, want confirmed for member %s", replay, memberID)
	}
	if !replay.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("replay mutated the record: updated_at %s != %s", replay.UpdatedAt, first.UpdatedAt)
	}

	// A different member is still rejected.
	if _, err := m.BookSlot(context.Background(), s.ID, uuid.New(), ""); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("other member book error = %v, want ErrSlotUnavailable", err)
	}
}

func TestCreateSlotReplayReturnsExisting(t *testing.T) {
	m := NewMemStore()
	s := newPendingSlot(uuid.New(), time.Now().Add(time.Hour), 30*time.Minute)

	first := mustCreate(t, m, s)
	_, err := m.BookSlot(context.Background(), s.ID, uuid.New(), "")
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	// Replayed create must not reset the booked record.
	again := mustCreate(t, m, s)
	if again.ID != first.ID {
		t.Fatalf("replayed create returned id %s, want %s", again.ID, first.ID)
	}
	if again.Status != StatusConfirmed {
		t.Fatalf("replayed create status = %s, want confirmed preserved", again.Status)
	}
}

func TestCancelSlot(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	s := mustCreate(t, m, newPendingSlot(uuid.New(), time.Now().Add(time.Hour), 30*time.Minute))
	memberID := uuid.New()
	if _, err := m.BookSlot(ctx, s.ID, memberID, ""); err != nil {
		t.Fatalf("book: %v", err)
	}

	cancelled, err := m.CancelSlot(ctx, s.ID, "member request")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "member request" {
		t.Fatalf("cancel reason = %v, want 'member request'", cancelled.CancelReason)
	}
	if cancelled.MemberID == nil || *cancelled.MemberID != memberID {
		t.Fatalf("member id not retained on cancelled record")
	}

	// Replay of the cancel succeeds without error.
	if _, err := m.CancelSlot(ctx, s.ID, "member request"); err != nil {
		t.Fatalf("replayed cancel: %v", err)
	}

	// But a completed record cannot be cancelled.
	done := mustCreate(t, m, newPendingSlot(uuid.New(), time.Now().Add(time.Hour), 30*time.Minute))
	if _, err := m.CompleteSlot(ctx, done.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := m.CancelSlot(ctx, done.ID, ""); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("cancel completed error = %v, want ErrAlreadyTerminal", err)
	}
}

func TestSetBlockedAbsoluteSemantics(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	s := mustCreate(t, m, newPendingSlot(uuid.New(), time.Now().Add(time.Hour), 30*time.Minute))

	blocked, err := m.SetBlocked(ctx, s.ID, true, "admin time")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if blocked.Status != StatusBlocked || blocked.Notes != "admin time" {
		t.Fatalf("blocked record = %+v", blocked)
	}

	// Setting the same state again is a replayed mutation and must not flip.
	again, err := m.SetBlocked(ctx, s.ID, true, "admin time")
	if err != nil {
		t.Fatalf("replayed block: %v", err)
	}
	if again.Status != StatusBlocked {
		t.Fatalf("replayed block status = %s, want blocked", again.Status)
	}

	unblocked, err := m.SetBlocked(ctx, s.ID, false, "")
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if unblocked.Status != StatusPending || unblocked.Notes != "" {
		t.Fatalf("unblocked record = %+v, want pending with notes cleared", unblocked)
	}

	// Booked slots are not blockable.
	booked := mustCreate(t, m, newPendingSlot(uuid.New(), time.Now().Add(time.Hour), 30*time.Minute))
	if _, err := m.BookSlot(ctx, booked.ID, uuid.New(), ""); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := m.SetBlocked(ctx, booked.ID, true, ""); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("block confirmed error = %v, want ErrSlotUnavailable", err)
	}
}

func TestRescheduleSwap(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	providerID := uuid.New()
	memberID := uuid.New()

	oldSlot := mustCreate(t, m, newPendingSlot(providerID, time.Now().Add(time.Hour), 30*time.Minute))
	newSlot := mustCreate(t, m, newPendingSlot(providerID, time.Now().Add(2*time.Hour), 30*time.Minute))
	if _, err := m.BookSlot(ctx, oldSlot.ID, memberID, ""); err != nil {
		t.Fatalf("book old: %v", err)
	}

	got, err := m.RescheduleSwap(ctx, oldSlot.ID, newSlot.ID, memberID)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if got.ID != newSlot.ID || got.Status != StatusConfirmed || *got.MemberID != memberID {
		t.Fatalf("swap result = %+v", got)
	}

	old, _ := m.GetSlot(ctx, oldSlot.ID)
	if old.Status != StatusCancelled {
		t.Fatalf("old slot status = %s, want cancelled", old.Status)
	}

	// Replay of the committed swap returns the same outcome.
	if _, err := m.RescheduleSwap(ctx, oldSlot.ID, newSlot.ID, memberID); err != nil {
		t.Fatalf("replayed swap: %v", err)
	}
}

func TestRescheduleSwapFailureLeavesOldIntact(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	providerID := uuid.New()
	memberID := uuid.New()

	oldSlot := mustCreate(t, m, newPendingSlot(providerID, time.Now().Add(time.Hour), 30*time.Minute))
	newSlot := mustCreate(t, m, newPendingSlot(providerID, time.Now().Add(2*time.Hour), 30*time.Minute))
	if _, err := m.BookSlot(ctx, oldSlot.ID, memberID, ""); err != nil {
		t.Fatalf("book old: %v", err)
	}
	// Someone else grabs the target slot first.
	if _, err := m.BookSlot(ctx, newSlot.ID, uuid.New(), ""); err != nil {
		t.Fatalf("book new: %v", err)
	}

	if _, err := m.RescheduleSwap(ctx, oldSlot.ID, newSlot.ID, memberID); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("swap error = %v, want ErrSlotUnavailable", err)
	}

	old, _ := m.GetSlot(ctx, oldSlot.ID)
	if old.Status != StatusConfirmed || old.MemberID == nil || *old.MemberID != memberID {
		t.Fatalf("old slot mutated by failed swap: %+v", old)
	}
}

func TestDeletePending(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	s := mustCreate(t, m, newPendingSlot(uuid.New(), time.Now().Add(time.Hour), 30*time.Minute))
	if err := m.DeletePending(ctx, s.ID); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
	if _, err := m.GetSlot(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete error = %v, want ErrNotFound", err)
	}

	// Replay on an already-deleted id is a no-op.
	if err := m.DeletePending(ctx, s.ID); err != nil {
		t.Fatalf("replayed delete: %v", err)
	}

	// A booked slot is never deleted.
	booked := mustCreate(t, m, newPendingSlot(uuid.New(), time.Now().Add(time.Hour), 30*time.Minute))
	if _, err := m.BookSlot(ctx, booked.ID, uuid.New(), ""); err != nil {
		t.Fatalf("book: %v", err)
	}
	if err := m.DeletePending(ctx, booked.ID); err != nil {
		t.Fatalf("delete booked: %v", err)
	}
	if _, err := m.GetSlot(ctx, booked.ID); err != nil {
		t.Fatalf("booked slot removed by DeletePending: %v", err)
	}
}

func TestOfflineStoreReturnsTransientErrors(t *testing.T) {
	m := NewMemStore()
	s := mustCreate(t, m, newPendingSlot(uuid.New(), time.Now().Add(time.Hour), 30*time.Minute))

	m.SetOffline(true)
	if _, err := m.GetSlot(context.Background(), s.ID); !IsTransient(err) {
		t.Fatalf("offline GetSlot error = %v, want transient", err)
	}
	if _, err := m.BookSlot(context.Background(), s.ID, uuid.New(), ""); !IsTransient(err) {
		t.Fatalf("offline BookSlot error = %v, want transient", err)
	}

	m.SetOffline(false)
	if _, err := m.GetSlot(context.Background(), s.ID); err != nil {
		t.Fatalf("online GetSlot after recovery: %v", err)
	}
}

func TestListOpenSlotsExcludesOverlapped(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	providerID := uuid.New()
	base := time.Now().Add(24 * time.Hour).Truncate(time.Hour)

	open := mustCreate(t, m, newPendingSlot(providerID, base, 30*time.Minute))
	shadowed := mustCreate(t, m, newPendingSlot(providerID, base.Add(time.Hour), 30*time.Minute))
	blocker := newPendingSlot(providerID, base.Add(time.Hour), time.Hour)
	blocker.Status = StatusBlocked
	mustCreate(t, m, blocker)

	got, err := m.ListOpenSlots(ctx, providerID, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(got) != 1 || got[0].ID != open.ID {
		t.Fatalf("open slots = %v, want only %s (shadowed %s must be hidden)", got, open.ID, shadowed.ID)
	}
}
