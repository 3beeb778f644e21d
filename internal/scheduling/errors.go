package scheduling

import "errors"

var (
	// ErrValidation rejects malformed input before any write is attempted.
	ErrValidation = errors.New("validation failed")

	// ErrSlotContended means another caller holds the booking lock for the
	// slot right now; refresh and retry.
	ErrSlotContended = errors.New("slot is currently being booked")
)
