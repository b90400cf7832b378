package scheduling

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AppointmentLifecycle owns appointment records and their status machine.
// It never touches slots; BookingCoordinator pairs the two.
type AppointmentLifecycle struct {
	repo AppointmentRepository
}

func NewAppointmentLifecycle(repo AppointmentRepository) *AppointmentLifecycle {
	return &AppointmentLifecycle{repo: repo}
}

func (l *AppointmentLifecycle) Create(ctx context.Context, req AppointmentRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	a := &Appointment{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		StaffID:   req.StaffID,
		SlotID:    req.SlotID,
		Date:      req.Date,
		Time:      req.Time,
		Purpose:   strings.TrimSpace(req.Purpose),
		Status:    StatusScheduled,
	}
	if err := l.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (l *AppointmentLifecycle) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return l.repo.GetByID(ctx, id)
}

func (l *AppointmentLifecycle) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return l.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

func (l *AppointmentLifecycle) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return l.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Cancel moves the appointment to Cancelled with a non-blank reason.
func (l *AppointmentLifecycle) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	cur, reason, err := l.checkCancel(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	return l.cancelFrom(ctx, cur, reason)
}

// cancelFrom cancels cur only if its stored status is still the one read.
func (l *AppointmentLifecycle) cancelFrom(ctx context.Context, cur *Appointment, reason string) (*Appointment, error) {
	return l.repo.UpdateStatus(ctx, cur.ID, cur.Status, StatusCancelled, &reason)
}

// checkCancel loads the appointment and verifies that it may be cancelled
// with reason, without changing anything.
func (l *AppointmentLifecycle) checkCancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, "", fmt.Errorf("%w: cancellation reason is required", ErrValidation)
	}
	cur, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !CanTransition(cur.Status, StatusCancelled) {
		return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, StatusCancelled)
	}
	return cur, reason, nil
}

// UpdateStatus applies any transition except cancellation, which needs a
// reason and goes through Cancel.
func (l *AppointmentLifecycle) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}
	if to == StatusCancelled {
		return nil, fmt.Errorf("%w: cancellation requires a reason", ErrValidation)
	}
	cur, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	return l.repo.UpdateStatus(ctx, id, cur.Status, to, nil)
}

// Delete removes the record. The caller must already have released its slot.
func (l *AppointmentLifecycle) Delete(ctx context.Context, id uuid.UUID) error {
	cur, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return l.deleteFrom(ctx, cur)
}

// deleteFrom removes cur only if its stored status is still the one read.
func (l *AppointmentLifecycle) deleteFrom(ctx context.Context, cur *Appointment) error {
	return l.repo.Delete(ctx, cur.ID, cur.Status)
}

// slotHeldByOther reports whether a live appointment other than a holds a's slot.
func (l *AppointmentLifecycle) slotHeldByOther(ctx context.Context, a *Appointment) (bool, error) {
	return l.repo.HasActiveForSlot(ctx, a.SlotID, a.ID)
}
