package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// DefaultGranularity is the slot length used when a caller does not supply one.
const DefaultGranularity = 30 * time.Minute

// Slot maps to the availability_slot table.
type Slot struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Date      string    `db:"slot_date" json:"date"`
	Time      string    `db:"slot_time" json:"time"`
	IsBooked  bool      `db:"is_booked" json:"is_booked"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SlotRequest describes one slot to be created by CreateSlot.
type SlotRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Time     string    `json:"time"`
}

// SlotFilter narrows ListSlots. Empty fields do not filter.
type SlotFilter struct {
	DoctorID      uuid.UUID
	Date          string
	OnlyAvailable bool
}

// Status is the canonical appointment status. No other spellings are accepted.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
	StatusNoShow    Status = "NoShow"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusCompleted, StatusNoShow, StatusCancelled},
	StatusRejected:  {StatusCancelled},
	StatusCompleted: nil,
	StatusNoShow:    nil,
	StatusCancelled: nil,
}

// ParseStatus accepts only the exact canonical status names.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return st, nil
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// HoldsSlot reports whether an appointment in this status keeps its slot booked.
func (s Status) HoldsSlot() bool {
	return s != StatusCancelled
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	StaffID            *uuid.UUID `db:"staff_id" json:"staff_id,omitempty"`
	SlotID             uuid.UUID  `db:"slot_id" json:"slot_id"`
	Date               string     `db:"appt_date" json:"date"`
	Time               string     `db:"appt_time" json:"time"`
	Purpose            string     `db:"purpose" json:"purpose"`
	Status             Status     `db:"status" json:"status"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// AppointmentRequest carries the fields needed to create an appointment.
type AppointmentRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	StaffID   *uuid.UUID
	SlotID    uuid.UUID
	Date      string
	Time      string
	Purpose   string
}

func (r AppointmentRequest) validate() error {
	switch {
	case r.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient_id is required", ErrValidation)
	case r.DoctorID == uuid.Nil:
		return fmt.Errorf("%w: doctor_id is required", ErrValidation)
	case r.SlotID == uuid.Nil:
		return fmt.Errorf("%w: slot_id is required", ErrValidation)
	case strings.TrimSpace(r.Purpose) == "":
		return fmt.Errorf("%w: purpose is required", ErrValidation)
	}
	if _, err := parseDate(r.Date); err != nil {
		return err
	}
	if _, err := parseClock(r.Time); err != nil {
		return err
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", ErrValidation)
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", ErrValidation, s)
	}
	return d, nil
}

// parseClock returns the offset of s from midnight.
func parseClock(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: time is required", ErrValidation)
	}
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("%w: time must be HH:MM, got %q", ErrValidation, s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func formatClock(d time.Duration) string {
	return time.Time{}.Add(d).Format(clockLayout)
}
