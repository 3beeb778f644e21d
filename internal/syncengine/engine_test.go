package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careloop/schedcore/internal/queue"
	"github.com/careloop/schedcore/internal/slot"
)

const testDrainInterval = 10 * time.Millisecond

func newTestEngine(t *testing.T) (*Engine, *slot.MemStore, *queue.Queue) {
	t.Helper()
	store := slot.NewMemStore()
	q, err := queue.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return New(store, q, zap.NewNop(), nil, testDrainInterval), store, q
}

// waitBreaker gives the connectivity breaker time to allow a half-open probe
// after the store comes back.
func waitBreaker() {
	time.Sleep(3 * testDrainInterval)
}

func createMutation(id, providerID uuid.UUID, start time.Time) Mutation {
	return Mutation{
		Kind: KindCreateSlot,
		Create: &CreateOp{
			ID:         id,
			ProviderID: providerID,
			StartTime:  start,
			EndTime:    start.Add(30 * time.Minute),
			Status:     slot.StatusPending,
		},
	}
}

func TestExecuteDirectWhileOnline(t *testing.T) {
	e, store, q := newTestEngine(t)
	ctx := context.Background()
	slotID := uuid.New()

	res, err := e.Execute(ctx, createMutation(slotID, uuid.New(), time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Queued {
		t.Fatal("online execute reported Queued")
	}
	if res.Slot == nil || res.Slot.ID != slotID {
		t.Fatalf("result slot = %+v", res.Slot)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", q.Len())
	}
	if _, err := store.GetSlot(ctx, slotID); err != nil {
		t.Fatalf("slot not in store: %v", err)
	}
}

func TestExecuteEnqueuesWhileOffline(t *testing.T) {
	e, store, q := newTestEngine(t)
	ctx := context.Background()
	store.SetOffline(true)

	slotID := uuid.New()
	memberID := uuid.New()
	res, err := e.Execute(ctx, Mutation{
		Kind: KindBook,
		Book: &BookOp{SlotID: slotID, MemberID: memberID},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Queued {
		t.Fatal("offline execute did not report Queued")
	}
	if res.EntryID == 0 {
		t.Fatal("queued result missing entry id")
	}
	if res.Slot == nil || res.Slot.Status != slot.StatusConfirmed || *res.Slot.MemberID != memberID {
		t.Fatalf("optimistic slot = %+v, want confirmed for member", res.Slot)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
	if e.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", e.Pending())
	}
}

func TestExecuteSurfacesDomainRejection(t *testing.T) {
	e, _, q := newTestEngine(t)
	ctx := context.Background()

	// Booking a slot that does not exist is a deterministic rejection, not a
	// reason to queue.
	_, err := e.Execute(ctx, Mutation{
		Kind: KindBook,
		Book: &BookOp{SlotID: uuid.New(), MemberID: uuid.New()},
	})
	if !errors.Is(err, slot.ErrNotFound) {
		t.Fatalf("execute error = %v, want ErrNotFound", err)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", q.Len())
	}
}

func TestExecuteRejectsInvalidMutation(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if _, err := e.Execute(context.Background(), Mutation{Kind: KindBook}); err == nil {
		t.Fatal("execute accepted mutation without payload")
	}
	if _, err := e.Execute(context.Background(), Mutation{Kind: "bogus"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("execute error = %v, want ErrUnknownKind", err)
	}
}

func TestDrainReplaysInOrder(t *testing.T) {
	e, store, q := newTestEngine(t)
	ctx := context.Background()
	store.SetOffline(true)

	slotID := uuid.New()
	providerID := uuid.New()
	memberID := uuid.New()

	// create, then book, then cancel: only FIFO replay can make all three
	// land, since each depends on the one before it.
	muts := []Mutation{
		createMutation(slotID, providerID, time.Now().Add(time.Hour)),
		{Kind: KindBook, Book: &BookOp{SlotID: slotID, MemberID: memberID}},
		{Kind: KindCancel, Cancel: &CancelOp{SlotID: slotID, Reason: "changed plans"}},
	}
	for i, m := range muts {
		res, err := e.Execute(ctx, m)
		if err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
		if !res.Queued {
			t.Fatalf("execute %d not queued", i)
		}
	}

	store.SetOffline(false)
	waitBreaker()

	if err := e.DrainOnce(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len after drain = %d, want 0", q.Len())
	}

	final, err := store.GetSlot(ctx, slotID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if final.Status != slot.StatusCancelled {
		t.Fatalf("final status = %s, want cancelled", final.Status)
	}
	if final.MemberID == nil || *final.MemberID != memberID {
		t.Fatal("book mutation did not land before cancel")
	}
}

func TestDrainStopsOnTransientFailure(t *testing.T) {
	e, store, q := newTestEngine(t)
	ctx := context.Background()
	store.SetOffline(true)

	for i := 0; i < 3; i++ {
		if _, err := e.Execute(ctx, createMutation(uuid.New(), uuid.New(), time.Now().Add(time.Duration(i+1)*time.Hour))); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}

	// Store still down: the drain must give up without touching any entry.
	if err := e.DrainOnce(ctx); err == nil {
		t.Fatal("drain succeeded against an offline store")
	}
	if q.Len() != 3 {
		t.Fatalf("queue len after failed drain = %d, want 3", q.Len())
	}
}

func TestDrainDropsNonTransientFailure(t *testing.T) {
	e, store, q := newTestEngine(t)
	ctx := context.Background()
	store.SetOffline(true)

	goodID := uuid.New()

	// First entry books a slot that will never exist; second creates a valid
	// record. The bad entry must not wedge the queue.
	if _, err := e.Execute(ctx, Mutation{
		Kind: KindBook,
		Book: &BookOp{SlotID: uuid.New(), MemberID: uuid.New()},
	}); err != nil {
		t.Fatalf("execute bad: %v", err)
	}
	if _, err := e.Execute(ctx, createMutation(goodID, uuid.New(), time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("execute good: %v", err)
	}

	store.SetOffline(false)
	waitBreaker()

	if err := e.DrainOnce(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len after drain = %d, want 0", q.Len())
	}
	if _, err := store.GetSlot(ctx, goodID); err != nil {
		t.Fatalf("good mutation did not land: %v", err)
	}
}

func TestDrainReplayIsIdempotent(t *testing.T) {
	e, store, q := newTestEngine(t)
	ctx := context.Background()
	store.SetOffline(true)

	slotID := uuid.New()
	create := createMutation(slotID, uuid.New(), time.Now().Add(time.Hour))
	if _, err := e.Execute(ctx, create); err != nil {
		t.Fatalf("execute: %v", err)
	}

	store.SetOffline(false)
	waitBreaker()

	// The create lands during the first drain; a second pass over an already
	// applied mutation must not duplicate or reset the record.
	if err := e.DrainOnce(ctx); err != nil {
		t.Fatalf("first drain: %v", err)
	}
	if _, err := store.BookSlot(ctx, slotID, uuid.New(), ""); err != nil {
		t.Fatalf("book: %v", err)
	}

	// Simulate the entry surviving a crash between apply and remove.
	raw, err := json.Marshal(create)
	if err != nil {
		t.Fatalf("marshal mutation: %v", err)
	}
	if _, err := q.Append(string(KindCreateSlot), raw); err != nil {
		t.Fatalf("re-append: %v", err)
	}
	if err := e.DrainOnce(ctx); err != nil {
		t.Fatalf("second drain: %v", err)
	}

	final, err := store.GetSlot(ctx, slotID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if final.Status != slot.StatusConfirmed {
		t.Fatalf("replay reset the record: status = %s, want confirmed", final.Status)
	}
}
