package scheduling

import (
	"context"
	"iter"

	"github.com/google/uuid"
)

// SlotRepository is the storage contract for availability slots.
//
// Implementations must enforce (doctor_id, date, time) uniqueness themselves
// and must implement SetBooked as a single conditional update.
type SlotRepository interface {
	// Create fails with ErrDuplicateSlot when the triple is taken.
	Create(ctx context.Context, sl *Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// Update re-keys an unbooked slot. ErrSlotBooked if booked, ErrNotFound if absent.
	Update(ctx context.Context, sl *Slot) error
	// Delete removes an unbooked slot. ErrSlotBooked if booked, ErrNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error
	// SetBooked flips is_booked to booked only if it currently differs.
	// ErrConflict when it already equals booked, ErrNotFound when the slot is absent.
	SetBooked(ctx context.Context, id uuid.UUID, booked bool) error
	List(ctx context.Context, f SlotFilter) iter.Seq2[*Slot, error]
}

// AppointmentRepository is the storage contract for appointments.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus moves the appointment from -> to only if its stored status
	// is still from. ErrConflict when it changed underneath, ErrNotFound when absent.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error)
	// Delete removes the appointment only if its stored status is still from.
	Delete(ctx context.Context, id uuid.UUID, from Status) error
	// HasActiveForSlot reports whether a live appointment other than except
	// holds slotID.
	HasActiveForSlot(ctx context.Context, slotID, except uuid.UUID) (bool, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
}
