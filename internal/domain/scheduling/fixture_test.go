package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinic/internal/platform/notification"
)

// -- Fault-injecting repositories --

type faultySlotRepo struct {
	SlotRepository
	mu             sync.Mutex
	setBookedErr   func(booked bool) error
	afterSetBooked func(booked bool)
}

func (f *faultySlotRepo) SetBooked(ctx context.Context, id uuid.UUID, booked bool) error {
	f.mu.Lock()
	inject, after := f.setBookedErr, f.afterSetBooked
	f.mu.Unlock()
	if inject != nil {
		if err := inject(booked); err != nil {
			return err
		}
	}
	err := f.SlotRepository.SetBooked(ctx, id, booked)
	if err == nil && after != nil {
		after(booked)
	}
	return err
}

type faultyApptRepo struct {
	AppointmentRepository
	createErr error
	updateErr error
	deleteErr error

	mu sync.Mutex
	// afterGet runs once, after the next successful GetByID.
	afterGet func(a *Appointment)
}

func (f *faultyApptRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := f.AppointmentRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	hook := f.afterGet
	f.afterGet = nil
	f.mu.Unlock()
	if hook != nil {
		hook(a)
	}
	return a, nil
}

func (f *faultyApptRepo) Create(ctx context.Context, a *Appointment) error {
	if f.createErr != nil {
		return f.createErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.AppointmentRepository.Create(ctx, a)
}

func (f *faultyApptRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.AppointmentRepository.UpdateStatus(ctx, id, from, to, reason)
}

func (f *faultyApptRepo) Delete(ctx context.Context, id uuid.UUID, from Status) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.AppointmentRepository.Delete(ctx, id, from)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []notification.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, evt notification.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// -- Fixture --

type fixture struct {
	slotRepo *faultySlotRepo
	apptRepo *faultyApptRepo
	inv      *SlotInventory
	life     *AppointmentLifecycle
	guard    *ConsistencyGuard
	coord    *BookingCoordinator
	pub      *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		slotRepo: &faultySlotRepo{SlotRepository: NewSlotRepoMem()},
		apptRepo: &faultyApptRepo{AppointmentRepository: NewAppointmentRepoMem()},
		pub:      &capturePublisher{},
	}
	logger := zerolog.Nop()
	f.inv = NewSlotInventory(f.slotRepo, InventoryConfig{Concurrency: 4}, nil)
	f.life = NewAppointmentLifecycle(f.apptRepo)
	f.guard = NewConsistencyGuard(f.inv, logger, nil)
	f.coord = NewBookingCoordinator(f.inv, f.life, f.guard, f.pub, logger, nil)
	f.coord.retryBackoff = time.Millisecond
	return f
}

func (f *fixture) slot(t *testing.T, doctorID uuid.UUID, date, clock string) *Slot {
	t.Helper()
	sl, err := f.inv.CreateSlot(context.Background(), SlotRequest{DoctorID: doctorID, Date: date, Time: clock})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	return sl
}

func (f *fixture) isBooked(t *testing.T, id uuid.UUID) bool {
	t.Helper()
	sl, err := f.inv.GetSlot(context.Background(), id)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	return sl.IsBooked
}

func (f *fixture) book(t *testing.T, sl *Slot) *Appointment {
	t.Helper()
	appt, err := f.coord.BookAppointment(context.Background(), BookingRequest{
		SlotID:    sl.ID,
		PatientID: uuid.New(),
		Purpose:   "annual checkup",
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return appt
}
