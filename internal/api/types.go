package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedcore/internal/slot"
)

type GenerateAvailabilityRequest struct {
	ProviderID   string `json:"provider_id"`
	From         string `json:"from"`      // 2006-01-02
	To           string `json:"to"`        // 2006-01-02, inclusive
	DayStart     string `json:"day_start"` // 15:04
	DayEnd       string `json:"day_end"`   // 15:04
	DurationMins int    `json:"duration_minutes"`
	BreakMins    int    `json:"break_minutes"`
	Weekdays     []int  `json:"weekdays,omitempty"` // 0=Sunday .. 6=Saturday
	Block        bool   `json:"block"`
	Reason       string `json:"reason,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

type GenerateAvailabilityResponse struct {
	Created int `json:"created"`
}

type BookSlotRequest struct {
	MemberID string `json:"member_id"`
	Notes    string `json:"notes,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	NewSlotID string `json:"new_slot_id"`
	MemberID  string `json:"member_id,omitempty"`
}

type SetBlockRequest struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

type SlotResponse struct {
	ID           uuid.UUID  `json:"id"`
	ProviderID   uuid.UUID  `json:"provider_id"`
	MemberID     *uuid.UUID `json:"member_id,omitempty"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	Status       string     `json:"status"`
	IsBooked     bool       `json:"is_booked"`
	Notes        string     `json:"notes,omitempty"`
	CancelReason *string    `json:"cancel_reason,omitempty"`
	Queued       bool       `json:"queued,omitempty"`
}

type SlotListResponse struct {
	Slots []SlotResponse `json:"slots"`
}

type SyncStatusResponse struct {
	Pending int  `json:"pending"`
	Offline bool `json:"offline"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s *slot.Slot, queued bool) SlotResponse {
	return SlotResponse{
		ID:           s.ID,
		ProviderID:   s.ProviderID,
		MemberID:     s.MemberID,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		Status:       string(s.Status),
		IsBooked:     s.IsBooked(),
		Notes:        s.Notes,
		CancelReason: s.CancelReason,
		Queued:       queued,
	}
}

func toSlotListResponse(slots []slot.Slot) SlotListResponse {
	out := SlotListResponse{Slots: make([]SlotResponse, 0, len(slots))}
	for i := range slots {
		out.Slots = append(out.Slots, toSlotResponse(&slots[i], false))
	}
	return out
}
