package slot

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusBlocked   Status = "blocked"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further lifecycle transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Slot is the single record type covering open availability, booked visits,
// and provider blocks. Intervals are half-open: [StartTime, EndTime).
type Slot struct {
	ID           uuid.UUID
	ProviderID   uuid.UUID
	MemberID     *uuid.UUID
	StartTime    time.Time
	EndTime      time.Time
	Status       Status
	Notes        string
	CancelReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsBooked is the derived convenience flag: true while the interval is held
// (by a member or a provider block), false while it is open for booking.
func (s *Slot) IsBooked() bool {
	switch s.Status {
	case StatusConfirmed, StatusCompleted, StatusBlocked:
		return true
	default:
		return false
	}
}

// Overlaps reports whether the slot's interval intersects [start, end).
func (s *Slot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && s.EndTime.After(start)
}

func (s *Slot) Clone() *Slot {
	out := *s
	if s.MemberID != nil {
		id := *s.MemberID
		out.MemberID = &id
	}
	if s.CancelReason != nil {
		r := *s.CancelReason
		out.CancelReason = &r
	}
	return &out
}
