package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careloop/schedcore/internal/queue"
	"github.com/careloop/schedcore/internal/slot"
	"github.com/careloop/schedcore/internal/syncengine"
)

func newTestService(t *testing.T, leadTime time.Duration) (*Service, *slot.MemStore, *syncengine.Engine) {
	t.Helper()
	store := slot.NewMemStore()
	q, err := queue.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	engine := syncengine.New(store, q, zap.NewNop(), nil, 10*time.Millisecond)
	svc := NewService(store, engine, nil, zap.NewNop(), nil, leadTime)
	return svc, store, engine
}

func mustClock(t *testing.T, s string) time.Duration {
	t.Helper()
	d, err := ParseClock(s)
	if err != nil {
		t.Fatalf("parse clock %q: %v", s, err)
	}
	return d
}

// A Monday far enough out that lead-time filtering never interferes.
func nextMonday() time.Time {
	d := time.Now().UTC().AddDate(0, 0, 7)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func TestGenerateAvailabilityStepsThroughWindow(t *testing.T) {
	svc, store, _ := newTestService(t, 0)
	ctx := context.Background()
	providerID := uuid.New()
	day := nextMonday()

	// 09:00-17:00 with 45-minute visits and a 15-minute break steps every
	// hour; the last start that still fits is 16:00.
	created, err := svc.GenerateAvailability(ctx, GenerateParams{
		ProviderID:   providerID,
		From:         day,
		To:           day,
		DayStart:     mustClock(t, "09:00"),
		DayEnd:       mustClock(t, "17:00"),
		SlotDuration: 45 * time.Minute,
		Break:        15 * time.Minute,
		Location:     time.UTC,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if created != 8 {
		t.Fatalf("created = %d, want 8", created)
	}

	slots, err := store.ListProviderRange(ctx, providerID, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list range: %v", err)
	}
	if len(slots) != 8 {
		t.Fatalf("stored slots = %d, want 8", len(slots))
	}

	for i, s := range slots {
		wantStart := day.Add(9*time.Hour + time.Duration(i)*time.Hour)
		if !s.StartTime.Equal(wantStart) {
			t.Errorf("slot %d start = %s, want %s", i, s.StartTime, wantStart)
		}
		if got := s.EndTime.Sub(s.StartTime); got != 45*time.Minute {
			t.Errorf("slot %d duration = %s, want 45m", i, got)
		}
		if s.Status != slot.StatusPending {
			t.Errorf("slot %d status = %s, want pending", i, s.Status)
		}
	}
}

func TestGenerateAvailabilityHonorsWeekdays(t *testing.T) {
	svc, store, _ := newTestService(t, 0)
	ctx := context.Background()
	providerID := uuid.New()
	monday := nextMonday()

	// A full week, Mondays and Wednesdays only, one slot per day.
	created, err := svc.GenerateAvailability(ctx, GenerateParams{
		ProviderID:   providerID,
		From:         monday,
		To:           monday.AddDate(0, 0, 6),
		DayStart:     mustClock(t, "10:00"),
		DayEnd:       mustClock(t, "11:00"),
		SlotDuration: time.Hour,
		Weekdays:     []time.Weekday{time.Monday, time.Wednesday},
		Location:     time.UTC,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if created != 2 {
		t.Fatalf("created = %d, want 2", created)
	}

	slots, _ := store.ListProviderRange(ctx, providerID, monday, monday.AddDate(0, 0, 7))
	for _, s := range slots {
		if wd := s.StartTime.Weekday(); wd != time.Monday && wd != time.Wednesday {
			t.Errorf("slot generated on %s", wd)
		}
	}
}

func TestGenerateAvailabilitySkipsOverlaps(t *testing.T) {
	svc, store, _ := newTestService(t, 0)
	ctx := context.Background()
	providerID := uuid.New()
	day := nextMonday()

	// An existing visit in the middle of the window: regeneration must skip
	// that stride whole, not truncate around it.
	existing := &slot.Slot{
		ID:         uuid.New(),
		ProviderID: providerID,
		StartTime:  day.Add(12 * time.Hour),
		EndTime:    day.Add(12*time.Hour + 45*time.Minute),
		Status:     slot.StatusConfirmed,
	}
	if _, err := store.CreateSlot(ctx, existing); err != nil {
		t.Fatalf("seed existing: %v", err)
	}

	created, err := svc.GenerateAvailability(ctx, GenerateParams{
		ProviderID:   providerID,
		From:         day,
		To:           day,
		DayStart:     mustClock(t, "09:00"),
		DayEnd:       mustClock(t, "17:00"),
		SlotDuration: 45 * time.Minute,
		Break:        15 * time.Minute,
		Location:     time.UTC,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if created != 7 {
		t.Fatalf("created = %d, want 7 (12:00 stride occupied)", created)
	}

	slots, _ := store.ListProviderRange(ctx, providerID, day, day.AddDate(0, 0, 1))
	for _, s := range slots {
		if s.ID == existing.ID {
			continue
		}
		if s.Overlaps(existing.StartTime, existing.EndTime) {
			t.Errorf("generated slot %s-%s overlaps the existing visit", s.StartTime, s.EndTime)
		}
	}
}

func TestGenerateBlockDestroysPendingKeepsConfirmed(t *testing.T) {
	svc, store, _ := newTestService(t, 0)
	ctx := context.Background()
	providerID := uuid.New()
	day := nextMonday()

	base := GenerateParams{
		ProviderID:   providerID,
		From:         day,
		To:           day,
		DayStart:     mustClock(t, "09:00"),
		DayEnd:       mustClock(t, "17:00"),
		SlotDuration: 45 * time.Minute,
		Break:        15 * time.Minute,
		Location:     time.UTC,
	}
	if _, err := svc.GenerateAvailability(ctx, base); err != nil {
		t.Fatalf("generate: %v", err)
	}

	// Book one of the day's slots before the provider blocks the day.
	open, err := store.ListOpenSlots(ctx, providerID, day)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	memberID := uuid.New()
	booked, err := store.BookSlot(ctx, open[0].ID, memberID, "")
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	block := base
	block.Block = true
	block.Reason = "conference"
	created, err := svc.GenerateAvailability(ctx, block)
	if err != nil {
		t.Fatalf("generate block: %v", err)
	}
	if created != 1 {
		t.Fatalf("block created = %d, want 1", created)
	}

	slots, _ := store.ListProviderRange(ctx, providerID, day, day.AddDate(0, 0, 1))
	var blocks, pending, confirmed int
	for _, s := range slots {
		switch s.Status {
		case slot.StatusBlocked:
			blocks++
			if s.Notes != "conference" {
				t.Errorf("block notes = %q, want reason retained", s.Notes)
			}
		case slot.StatusPending:
			pending++
		case slot.StatusConfirmed:
			confirmed++
			if s.ID != booked.ID {
				t.Errorf("unexpected confirmed slot %s", s.ID)
			}
		}
	}
	if blocks != 1 || pending != 0 || confirmed != 1 {
		t.Fatalf("after block: blocks=%d pending=%d confirmed=%d, want 1/0/1", blocks, pending, confirmed)
	}
}

func TestGenerateAvailabilityValidation(t *testing.T) {
	svc, _, _ := newTestService(t, 0)
	day := nextMonday()

	valid := GenerateParams{
		ProviderID:   uuid.New(),
		From:         day,
		To:           day,
		DayStart:     mustClock(t, "09:00"),
		DayEnd:       mustClock(t, "17:00"),
		SlotDuration: 30 * time.Minute,
		Location:     time.UTC,
	}

	tests := []struct {
		name   string
		mutate func(p *GenerateParams)
	}{
		{"missing provider", func(p *GenerateParams) { p.ProviderID = uuid.Nil }},
		{"zero range", func(p *GenerateParams) { p.From, p.To = time.Time{}, time.Time{} }},
		{"reversed range", func(p *GenerateParams) { p.From, p.To = day.AddDate(0, 0, 1), day }},
		{"range too long", func(p *GenerateParams) { p.To = day.AddDate(2, 0, 0) }},
		{"window reversed", func(p *GenerateParams) { p.DayStart, p.DayEnd = p.DayEnd, p.DayStart }},
		{"zero duration", func(p *GenerateParams) { p.SlotDuration = 0 }},
		{"negative break", func(p *GenerateParams) { p.Break = -time.Minute }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.mutate(&p)
			if _, err := svc.GenerateAvailability(context.Background(), p); !errors.Is(err, ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d != 9*time.Hour+30*time.Minute {
		t.Fatalf("offset = %s, want 9h30m", d)
	}
	if _, err := ParseClock("25:00"); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}
