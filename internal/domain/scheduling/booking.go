package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinic/internal/platform/notification"
	"github.com/clinicops/clinic/internal/platform/telemetry"
)

const (
	// detachedTimeout bounds work that must finish once a slot has changed
	// state, even if the caller has gone away.
	detachedTimeout = 10 * time.Second
	rollbackRetries = 3
	// deleteAttempts bounds re-reads when an appointment changes status
	// while it is being deleted.
	deleteAttempts = 3
)

// BookingRequest is the input of BookAppointment. DoctorID is optional; when
// set it must match the slot's doctor.
type BookingRequest struct {
	SlotID    uuid.UUID  `json:"slot_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	StaffID   *uuid.UUID `json:"staff_id,omitempty"`
	Purpose   string     `json:"purpose"`
}

// appointmentEvent is the payload of every appointment.* event.
type appointmentEvent struct {
	AppointmentID uuid.UUID  `json:"appointment_id"`
	SlotID        uuid.UUID  `json:"slot_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	StaffID       *uuid.UUID `json:"staff_id,omitempty"`
	Date          string     `json:"date"`
	Time          string     `json:"time"`
	Status        Status     `json:"status"`
	Reason        *string    `json:"cancellation_reason,omitempty"`
}

// BookingCoordinator pairs slot state with appointment state. It keeps no
// state of its own; every operation leaves both stores consistent or, when a
// step fails after a slot was released, leaves the slot free.
type BookingCoordinator struct {
	slots     *SlotInventory
	appts     *AppointmentLifecycle
	guard     *ConsistencyGuard
	publisher notification.Publisher
	logger    zerolog.Logger
	metrics   *telemetry.SchedulingMetrics

	detachedTimeout time.Duration
	retryBackoff    time.Duration
}

func NewBookingCoordinator(
	slots *SlotInventory,
	appts *AppointmentLifecycle,
	guard *ConsistencyGuard,
	publisher notification.Publisher,
	logger zerolog.Logger,
	m *telemetry.SchedulingMetrics,
) *BookingCoordinator {
	if publisher == nil {
		publisher = notification.NopPublisher{}
	}
	return &BookingCoordinator{
		slots:           slots,
		appts:           appts,
		guard:           guard,
		publisher:       publisher,
		logger:          logger,
		metrics:         m,
		detachedTimeout: detachedTimeout,
		retryBackoff:    50 * time.Millisecond,
	}
}

// detach returns a context that ignores the caller's cancellation but still
// carries its values, with its own deadline.
func (c *BookingCoordinator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.detachedTimeout)
}

// BookAppointment reserves the slot and creates a Scheduled appointment on
// it. The request is validated before the slot is touched. If the
// appointment still cannot be created the slot is released again before the
// error is returned.
func (c *BookingCoordinator) BookAppointment(ctx context.Context, req BookingRequest) (appt *Appointment, err error) {
	start := time.Now()
	defer func() { c.observe("book", start, err) }()

	if req.SlotID == uuid.Nil {
		return nil, fmt.Errorf("%w: slot_id is required", ErrValidation)
	}
	slot, err := c.slots.GetSlot(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	if req.DoctorID != uuid.Nil && req.DoctorID != slot.DoctorID {
		return nil, fmt.Errorf("%w: slot %s belongs to another doctor", ErrValidation, slot.ID)
	}
	areq := AppointmentRequest{
		PatientID: req.PatientID,
		DoctorID:  slot.DoctorID,
		StaffID:   req.StaffID,
		SlotID:    slot.ID,
		Date:      slot.Date,
		Time:      slot.Time,
		Purpose:   req.Purpose,
	}
	if err := areq.validate(); err != nil {
		return nil, err
	}

	if err := c.slots.SetBooked(ctx, slot.ID, true); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: slot %s is already booked", ErrSlotUnavailable, slot.ID)
		}
		return nil, err
	}

	// The slot is ours now. From here on the caller's cancellation must not
	// strand it booked without an appointment.
	dctx, cancel := c.detach(ctx)
	defer cancel()

	appt, err = c.appts.Create(dctx, areq)
	if err != nil {
		return nil, c.rollbackBooking(dctx, slot.ID, err)
	}

	c.publish(dctx, notification.TypeAppointmentBooked, appt)
	return appt, nil
}

// rollbackBooking releases a slot whose appointment could not be created.
func (c *BookingCoordinator) rollbackBooking(ctx context.Context, slotID uuid.UUID, cause error) error {
	log := c.logger.With().Str("slot_id", slotID.String()).Logger()
	log.Warn().Err(cause).Msg("appointment create failed, releasing slot")

	var rerr error
	for attempt := 1; attempt <= rollbackRetries; attempt++ {
		if rerr = c.guard.ReleaseSlot(ctx, slotID); rerr == nil {
			c.metrics.ObserveCompensation("rollback")
			return cause
		}
		if attempt < rollbackRetries {
			select {
			case <-ctx.Done():
				attempt = rollbackRetries
			case <-time.After(time.Duration(attempt) * c.retryBackoff):
			}
		}
	}
	log.Error().Err(rerr).Msg("rollback failed: slot is booked without an appointment")
	c.metrics.ObserveCompensation("rollback_failed")
	return errors.Join(cause, fmt.Errorf("release slot %s: %w", slotID, rerr))
}

// CancelAppointment releases the slot first and then cancels the
// appointment. The reason and the transition are checked before the slot is
// touched, so an invalid request changes nothing.
func (c *BookingCoordinator) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (appt *Appointment, err error) {
	start := time.Now()
	defer func() { c.observe("cancel", start, err) }()

	cur, reason, err := c.appts.checkCancel(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if err := c.releaseFor(ctx, cur); err != nil {
		return nil, fmt.Errorf("release slot %s: %w", cur.SlotID, err)
	}

	dctx, cancel := c.detach(ctx)
	defer cancel()

	appt, err = c.appts.cancelFrom(dctx, cur, reason)
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		// Cancelled or removed concurrently; the slot may be someone else's by now.
		c.repairSlot(dctx, cur)
		return nil, err
	}
	if err != nil {
		c.logger.Error().Err(err).
			Str("appointment_id", id.String()).
			Str("slot_id", cur.SlotID.String()).
			Msg("slot released but appointment was not cancelled")
		return nil, err
	}
	c.publish(dctx, notification.TypeAppointmentCancelled, appt)
	return appt, nil
}

// DeleteAppointment releases the slot held by the appointment and removes
// the record. A cancelled appointment no longer holds its slot, which may
// since have been booked by someone else, so its slot is left alone. The
// record is only removed in the status it was read in; if that changed, the
// slot is repaired and the delete starts over from a fresh read.
func (c *BookingCoordinator) DeleteAppointment(ctx context.Context, id uuid.UUID) (err error) {
	start := time.Now()
	defer func() { c.observe("delete", start, err) }()

	for attempt := 1; ; attempt++ {
		var cur *Appointment
		if cur, err = c.appts.Get(ctx, id); err != nil {
			return err
		}
		if cur.Status.HoldsSlot() {
			if err = c.releaseFor(ctx, cur); err != nil {
				return fmt.Errorf("release slot %s: %w", cur.SlotID, err)
			}
		}

		dctx, cancel := c.detach(ctx)
		err = c.appts.deleteFrom(dctx, cur)
		if err == nil {
			c.publish(dctx, notification.TypeAppointmentDeleted, cur)
			cancel()
			return nil
		}
		if cur.Status.HoldsSlot() && (errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound)) {
			c.repairSlot(dctx, cur)
		}
		cancel()
		if !errors.Is(err, ErrConflict) || attempt == deleteAttempts {
			return err
		}
	}
}

// releaseFor frees the slot held by a unless another live appointment
// already holds it. That only happens when a was cancelled concurrently and
// its slot booked again.
func (c *BookingCoordinator) releaseFor(ctx context.Context, a *Appointment) error {
	held, err := c.appts.slotHeldByOther(ctx, a)
	if err != nil {
		return err
	}
	if held {
		c.metrics.ObserveCompensation("release_skipped_held")
		return nil
	}
	return c.guard.ReleaseSlot(ctx, a.SlotID)
}

// repairSlot books a's slot again when a release made on a stale read of a
// freed the slot of another live appointment.
func (c *BookingCoordinator) repairSlot(ctx context.Context, a *Appointment) {
	log := c.logger.With().
		Str("appointment_id", a.ID.String()).
		Str("slot_id", a.SlotID.String()).
		Logger()

	held, err := c.appts.slotHeldByOther(ctx, a)
	if err == nil && !held {
		return
	}
	if err == nil {
		err = c.slots.SetBooked(ctx, a.SlotID, true)
		switch {
		case err == nil:
			log.Warn().Msg("appointment changed concurrently, slot re-booked for its new holder")
			c.metrics.ObserveCompensation("repair")
			return
		case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
			return
		}
	}
	log.Error().Err(err).Msg("slot repair failed: a live appointment may hold a free slot")
	c.metrics.ObserveCompensation("repair_failed")
}

// UpdateStatus applies a status change. Cancelled is routed through
// CancelAppointment so the slot is released.
func (c *BookingCoordinator) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, reason string) (appt *Appointment, err error) {
	if to == StatusCancelled {
		return c.CancelAppointment(ctx, id, reason)
	}

	start := time.Now()
	defer func() { c.observe("update_status", start, err) }()

	appt, err = c.appts.UpdateStatus(ctx, id, to)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, notification.TypeAppointmentStatusChanged, appt)
	return appt, nil
}

// publish is best-effort: a failed publish is logged and counted only.
func (c *BookingCoordinator) publish(ctx context.Context, eventType string, a *Appointment) {
	evt, err := notification.NewEvent(eventType, a.ID.String(), appointmentEvent{
		AppointmentID: a.ID,
		SlotID:        a.SlotID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		StaffID:       a.StaffID,
		Date:          a.Date,
		Time:          a.Time,
		Status:        a.Status,
		Reason:        a.CancellationReason,
	})
	if err == nil {
		pctx, cancel := c.detach(ctx)
		err = c.publisher.Publish(pctx, evt)
		cancel()
	}
	c.metrics.ObserveEvent(eventType, err)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", a.ID.String()).
			Msg("failed to publish scheduling event")
	}
}

func (c *BookingCoordinator) observe(op string, start time.Time, err error) {
	c.metrics.ObserveOperation(op, outcomeOf(err), time.Since(start))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeOK
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrConflict):
		return telemetry.OutcomeConflict
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotFound):
		return telemetry.OutcomeInvalid
	}
	return telemetry.OutcomeError
}
