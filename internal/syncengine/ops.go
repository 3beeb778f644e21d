package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedcore/internal/slot"
)

// Kind identifies which facade call a mutation represents.
type Kind string

const (
	KindCreateSlot    Kind = "slot.create"
	KindBook          Kind = "slot.book"
	KindCancel        Kind = "slot.cancel"
	KindReschedule    Kind = "slot.reschedule"
	KindSetBlock      Kind = "slot.set_block"
	KindDeletePending Kind = "slot.delete_pending"
)

var ErrUnknownKind = errors.New("unknown mutation kind")

// Mutation is a tagged variant carrying one fully-resolved payload. Every
// record id is generated by the caller before the mutation is enqueued, so a
// replay targets the same identity as the first attempt. Relative operations
// (a "toggle") are deliberately absent: block state is always set to an
// explicit value.
type Mutation struct {
	Kind          Kind             `json:"kind"`
	Create        *CreateOp        `json:"create,omitempty"`
	Book          *BookOp          `json:"book,omitempty"`
	Cancel        *CancelOp        `json:"cancel,omitempty"`
	Reschedule    *RescheduleOp    `json:"reschedule,omitempty"`
	SetBlock      *SetBlockOp      `json:"set_block,omitempty"`
	DeletePending *DeletePendingOp `json:"delete_pending,omitempty"`
}

type CreateOp struct {
	ID         uuid.UUID   `json:"id"`
	ProviderID uuid.UUID   `json:"provider_id"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
	Status     slot.Status `json:"status"` // pending or blocked
	Notes      string      `json:"notes,omitempty"`
}

type BookOp struct {
	SlotID   uuid.UUID `json:"slot_id"`
	MemberID uuid.UUID `json:"member_id"`
	Notes    string    `json:"notes,omitempty"`
}

type CancelOp struct {
	SlotID uuid.UUID `json:"slot_id"`
	Reason string    `json:"reason,omitempty"`
}

type RescheduleOp struct {
	OldID    uuid.UUID `json:"old_id"`
	NewID    uuid.UUID `json:"new_id"`
	MemberID uuid.UUID `json:"member_id"`
}

type SetBlockOp struct {
	SlotID  uuid.UUID `json:"slot_id"`
	Blocked bool      `json:"blocked"`
	Reason  string    `json:"reason,omitempty"`
}

type DeletePendingOp struct {
	SlotID uuid.UUID `json:"slot_id"`
}

func (m Mutation) Validate() error {
	switch m.Kind {
	case KindCreateSlot:
		if m.Create == nil {
			return fmt.Errorf("%s: missing payload", m.Kind)
		}
		if m.Create.ID == uuid.Nil || m.Create.ProviderID == uuid.Nil {
			return fmt.Errorf("%s: id and provider_id are required", m.Kind)
		}
		if !m.Create.StartTime.Before(m.Create.EndTime) {
			return fmt.Errorf("%s: start_time must precede end_time", m.Kind)
		}
		if m.Create.Status != slot.StatusPending && m.Create.Status != slot.StatusBlocked {
			return fmt.Errorf("%s: status must be pending or blocked", m.Kind)
		}
	case KindBook:
		if m.Book == nil || m.Book.SlotID == uuid.Nil || m.Book.MemberID == uuid.Nil {
			return fmt.Errorf("%s: slot_id and member_id are required", m.Kind)
		}
	case KindCancel:
		if m.Cancel == nil || m.Cancel.SlotID == uuid.Nil {
			return fmt.Errorf("%s: slot_id is required", m.Kind)
		}
	case KindReschedule:
		if m.Reschedule == nil || m.Reschedule.OldID == uuid.Nil || m.Reschedule.NewID == uuid.Nil || m.Reschedule.MemberID == uuid.Nil {
			return fmt.Errorf("%s: old_id, new_id and member_id are required", m.Kind)
		}
	case KindSetBlock:
		if m.SetBlock == nil || m.SetBlock.SlotID == uuid.Nil {
			return fmt.Errorf("%s: slot_id is required", m.Kind)
		}
	case KindDeletePending:
		if m.DeletePending == nil || m.DeletePending.SlotID == uuid.Nil {
			return fmt.Errorf("%s: slot_id is required", m.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	return nil
}

// Apply runs the mutation against the store. The same code path serves the
// first (online) attempt and any later replay; repeat-safety comes from the
// Store contract, not a special replay mode.
func (m Mutation) Apply(ctx context.Context, store slot.Store) (*slot.Slot, error) {
	switch m.Kind {
	case KindCreateSlot:
		op := m.Create
		return store.CreateSlot(ctx, &slot.Slot{
			ID:         op.ID,
			ProviderID: op.ProviderID,
			StartTime:  op.StartTime,
			EndTime:    op.EndTime,
			Status:     op.Status,
			Notes:      op.Notes,
		})
	case KindBook:
		return store.BookSlot(ctx, m.Book.SlotID, m.Book.MemberID, m.Book.Notes)
	case KindCancel:
		return store.CancelSlot(ctx, m.Cancel.SlotID, m.Cancel.Reason)
	case KindReschedule:
		return store.RescheduleSwap(ctx, m.Reschedule.OldID, m.Reschedule.NewID, m.Reschedule.MemberID)
	case KindSetBlock:
		return store.SetBlocked(ctx, m.SetBlock.SlotID, m.SetBlock.Blocked, m.SetBlock.Reason)
	case KindDeletePending:
		return nil, store.DeletePending(ctx, m.DeletePending.SlotID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
}

// Optimistic synthesizes the record a caller may show while the mutation
// waits in the queue. Fields the payload does not carry stay zero.
func (m Mutation) Optimistic() *slot.Slot {
	switch m.Kind {
	case KindCreateSlot:
		op := m.Create
		return &slot.Slot{
			ID:         op.ID,
			ProviderID: op.ProviderID,
			StartTime:  op.StartTime,
			EndTime:    op.EndTime,
			Status:     op.Status,
			Notes:      op.Notes,
		}
	case KindBook:
		member := m.Book.MemberID
		return &slot.Slot{
			ID:       m.Book.SlotID,
			MemberID: &member,
			Status:   slot.StatusConfirmed,
			Notes:    m.Book.Notes,
		}
	case KindCancel:
		reason := m.Cancel.Reason
		s := &slot.Slot{ID: m.Cancel.SlotID, Status: slot.StatusCancelled}
		if reason != "" {
			s.CancelReason = &reason
		}
		return s
	case KindReschedule:
		member := m.Reschedule.MemberID
		return &slot.Slot{
			ID:       m.Reschedule.NewID,
			MemberID: &member,
			Status:   slot.StatusConfirmed,
		}
	case KindSetBlock:
		status := slot.StatusPending
		if m.SetBlock.Blocked {
			status = slot.StatusBlocked
		}
		return &slot.Slot{ID: m.SetBlock.SlotID, Status: status, Notes: m.SetBlock.Reason}
	default:
		return nil
	}
}
