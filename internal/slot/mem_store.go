package slot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is the in-memory Store used by tests and ephemeral deployments.
// It honors the same compare-and-set contract as PgStore, and can simulate a
// lost connection so sync-engine behavior can be exercised without a network.
type MemStore struct {
	mu      sync.RWMutex
	slots   map[uuid.UUID]*Slot
	offline bool
	now     func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		slots: make(map[uuid.UUID]*Slot),
		now:   time.Now,
	}
}

// SetOffline makes every call fail with ErrStoreUnavailable until the store
// is brought back online.
func (m *MemStore) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

func (m *MemStore) checkOnline() error {
	if m.offline {
		return ErrStoreUnavailable
	}
	return nil
}

func (m *MemStore) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOnline(); err != nil {
		return nil, err
	}

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemStore) CreateSlot(ctx context.Context, s *Slot) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOnline(); err != nil {
		return nil, err
	}

	if existing, ok := m.slots[s.ID]; ok {
		return existing.Clone(), nil
	}

	stored := s.Clone()
	now := m.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.slots[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *MemStore) BookSlot(ctx context.Context, id, memberID uuid.UUID, notes string) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOnline(); err != nil {
		return nil, err
	}

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status == StatusConfirmed && s.MemberID != nil && *s.MemberID == memberID {
		return s.Clone(), nil
	}
	if s.Status != StatusPending || s.MemberID != nil {
		return nil, ErrSlotUnavailable
	}

	member := memberID
	s.Status = StatusConfirmed
	s.MemberID = &member
	if notes != "" {
		s.Notes = notes
	}
	s.UpdatedAt = m.now()
	return s.Clone(), nil
}

func (m *MemStore) CancelSlot(ctx context.Context, id uuid.UUID, reason string) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOnline(); err != nil {
		return nil, err
	}

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status == StatusCancelled {
		return s.Clone(), nil
	}
	if s.Status != StatusPending && s.Status != StatusConfirmed {
		return nil, ErrAlreadyTerminal
	}

	s.Status = StatusCancelled
	if reason != "" {
		r := reason
		s.CancelReason = &r
	}
	s.UpdatedAt = m.now()
	return s.Clone(), nil
}

func (m *MemStore) CompleteSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOnline(); err != nil {
		return nil, err
	}

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status == StatusCompleted {
		return s.Clone(), nil
	}
	if s.Status != StatusPending && s.Status != StatusConfirmed {
		return nil, ErrAlreadyTerminal
	}

	s.Status = StatusCompleted
	s.UpdatedAt = m.now()
	return s.Clone(), nil
}

func (m *MemStore) SetBlocked(ctx context.Context, id uuid.UUID, blocked bool, reason string) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOnline(); err != nil {
		return nil, err
	}

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrNotFound
	}

	want := StatusPending
	if blocked {
		want = StatusBlocked
	}
	if s.Status == want {
		return s.Clone(), nil
	}
	if s.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}

	switch {
	case blocked && s.Status == StatusPending:
		s.Status = StatusBlocked
		if reason != "" {
			s.Notes = reason
		}
	case !blocked && s.Status == StatusBlocked:
		s.Status = StatusPending
		s.Notes = ""
	default:
		return nil, ErrSlotUnavailable
	}

	s.UpdatedAt = m.now()
	return s.Clone(), nil
}

func (m *MemStore) RescheduleSwap(ctx context.Context, oldID, newID, memberID uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOnline(); err != nil {
		return nil, err
	}

	newSlot, ok := m.slots[newID]
	if !ok {
		return nil, ErrNotFound
	}
	oldSlot, ok := m.slots[oldID]
	if !ok {
		return nil, ErrNotFound
	}

	// Replay of a swap that already committed.
	if newSlot.Status == StatusConfirmed && newSlot.MemberID != nil && *newSlot.MemberID == memberID &&
		oldSlot.Status == StatusCancelled {
		return newSlot.Clone(), nil
	}

	if newSlot.Status != StatusPending || newSlot.MemberID != nil {
		return nil, ErrSlotUnavailable
	}
	if oldSlot.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	if oldSlot.Status != StatusConfirmed || oldSlot.MemberID == nil || *oldSlot.MemberID != memberID {
		return nil, ErrSlotUnavailable
	}

	// Both checks passed; apply under the single lock so no caller sees a
	// half-migrated state.
	member := memberID
	now := m.now()
	newSlot.Status = StatusConfirmed
	newSlot.MemberID = &member
	newSlot.UpdatedAt = now
	reason := "rescheduled"
	oldSlot.Status = StatusCancelled
	oldSlot.CancelReason = &reason
	oldSlot.UpdatedAt = now

	return newSlot.Clone(), nil
}

func (m *MemStore) DeletePending(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOnline(); err != nil {
		return err
	}

	s, ok := m.slots[id]
	if !ok {
		return nil
	}
	if s.Status != StatusPending {
		return nil
	}
	delete(m.slots, id)
	return nil
}

func (m *MemStore) ListOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOnline(); err != nil {
		return nil, err
	}

	var result []Slot
	for _, s := range m.slots {
		if s.ProviderID == providerID && s.Status != StatusCancelled && s.Overlaps(start, end) {
			result = append(result, *s.Clone())
		}
	}
	sortByStart(result)
	return result, nil
}

func (m *MemStore) ListOpenSlots(ctx context.Context, providerID uuid.UUID, from time.Time) ([]Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOnline(); err != nil {
		return nil, err
	}

	var result []Slot
	for _, s := range m.slots {
		if s.ProviderID != providerID || s.Status != StatusPending || s.StartTime.Before(from) {
			continue
		}
		if m.overlappedByOther(s) {
			continue
		}
		result = append(result, *s.Clone())
	}
	sortByStart(result)
	return result, nil
}

func (m *MemStore) overlappedByOther(s *Slot) bool {
	for _, o := range m.slots {
		if o.ID == s.ID || o.ProviderID != s.ProviderID || o.Status == StatusCancelled {
			continue
		}
		if o.Overlaps(s.StartTime, s.EndTime) {
			return true
		}
	}
	return false
}

func (m *MemStore) ListProviderRange(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOnline(); err != nil {
		return nil, err
	}

	var result []Slot
	for _, s := range m.slots {
		if s.ProviderID == providerID && s.Overlaps(from, to) {
			result = append(result, *s.Clone())
		}
	}
	sortByStart(result)
	return result, nil
}

func (m *MemStore) ListLifecycleCandidates(ctx context.Context, before time.Time) ([]Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOnline(); err != nil {
		return nil, err
	}

	var result []Slot
	for _, s := range m.slots {
		if (s.Status == StatusPending || s.Status == StatusConfirmed) && s.StartTime.Before(before) {
			result = append(result, *s.Clone())
		}
	}
	sortByStart(result)
	return result, nil
}

func sortByStart(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
}
