package scheduling

import "errors"

// Errors returned by the slot inventory, the appointment lifecycle and the
// booking coordinator. Callers match them with errors.Is; returned errors
// usually wrap one of these with request-specific detail.
var (
	ErrInvalidRange      = errors.New("invalid time range")
	ErrDuplicateSlot     = errors.New("slot already exists for doctor at this date and time")
	ErrSlotBooked        = errors.New("slot is booked")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
)
