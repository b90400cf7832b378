package scheduling

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// slotKey is the uniqueness key of a slot.
type slotKey struct {
	doctor uuid.UUID
	date   string
	time   string
}

// slotRepoMem is a mutex-guarded SlotRepository. Uniqueness and SetBooked
// are enforced under the lock, so it gives the same guarantees as the
// Postgres repository within a single process.
type slotRepoMem struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]*Slot
	keys  map[slotKey]uuid.UUID
}

// NewSlotRepoMem returns an empty in-memory slot store.
func NewSlotRepoMem() SlotRepository {
	return &slotRepoMem{
		slots: make(map[uuid.UUID]*Slot),
		keys:  make(map[slotKey]uuid.UUID),
	}
}

func (m *slotRepoMem) Create(_ context.Context, sl *Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := slotKey{sl.DoctorID, sl.Date, sl.Time}
	if _, taken := m.keys[k]; taken {
		return fmt.Errorf("%w: doctor %s at %s %s", ErrDuplicateSlot, sl.DoctorID, sl.Date, sl.Time)
	}
	if sl.ID == uuid.Nil {
		sl.ID = uuid.New()
	}
	now := time.Now()
	sl.IsBooked = false
	sl.CreatedAt = now
	sl.UpdatedAt = now

	stored := *sl
	m.slots[sl.ID] = &stored
	m.keys[k] = sl.ID
	return nil
}

func (m *slotRepoMem) GetByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sl, ok := m.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	out := *sl
	return &out, nil
}

func (m *slotRepoMem) Update(_ context.Context, sl *Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.slots[sl.ID]
	if !ok {
		return fmt.Errorf("%w: slot %s", ErrNotFound, sl.ID)
	}
	if cur.IsBooked {
		return fmt.Errorf("%w: slot %s", ErrSlotBooked, sl.ID)
	}
	oldKey := slotKey{cur.DoctorID, cur.Date, cur.Time}
	newKey := slotKey{cur.DoctorID, sl.Date, sl.Time}
	if id, taken := m.keys[newKey]; taken && id != cur.ID {
		return fmt.Errorf("%w: doctor %s at %s %s", ErrDuplicateSlot, cur.DoctorID, sl.Date, sl.Time)
	}

	delete(m.keys, oldKey)
	m.keys[newKey] = cur.ID
	cur.Date = sl.Date
	cur.Time = sl.Time
	cur.UpdatedAt = time.Now()
	*sl = *cur
	return nil
}

func (m *slotRepoMem) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, ok := m.slots[id]
	if !ok {
		return fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	if sl.IsBooked {
		return fmt.Errorf("%w: slot %s", ErrSlotBooked, id)
	}
	delete(m.keys, slotKey{sl.DoctorID, sl.Date, sl.Time})
	delete(m.slots, id)
	return nil
}

func (m *slotRepoMem) SetBooked(_ context.Context, id uuid.UUID, booked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, ok := m.slots[id]
	if !ok {
		return fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	if sl.IsBooked == booked {
		return fmt.Errorf("%w: slot %s (is_booked=%t)", ErrConflict, id, booked)
	}
	sl.IsBooked = booked
	sl.UpdatedAt = time.Now()
	return nil
}

// List snapshots the matching slots under the read lock and yields copies.
func (m *slotRepoMem) List(_ context.Context, f SlotFilter) iter.Seq2[*Slot, error] {
	return func(yield func(*Slot, error) bool) {
		m.mu.RLock()
		var results []Slot
		for _, sl := range m.slots {
			if f.DoctorID != uuid.Nil && sl.DoctorID != f.DoctorID {
				continue
			}
			if f.Date != "" && sl.Date != f.Date {
				continue
			}
			if f.OnlyAvailable && sl.IsBooked {
				continue
			}
			results = append(results, *sl)
		}
		m.mu.RUnlock()

		sort.Slice(results, func(i, j int) bool {
			if results[i].Date != results[j].Date {
				return results[i].Date < results[j].Date
			}
			return results[i].Time < results[j].Time
		})
		for i := range results {
			if !yield(&results[i], nil) {
				return
			}
		}
	}
}

// appointmentRepoMem is a mutex-guarded AppointmentRepository. Like the
// appointment_active_slot_idx index, it refuses a second live appointment
// on the same slot.
type appointmentRepoMem struct {
	mu    sync.RWMutex
	appts map[uuid.UUID]*Appointment
}

// NewAppointmentRepoMem returns an empty in-memory appointment store.
func NewAppointmentRepoMem() AppointmentRepository {
	return &appointmentRepoMem{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *appointmentRepoMem) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.appts {
		if existing.SlotID == a.SlotID && existing.Status.HoldsSlot() {
			return fmt.Errorf("%w: slot %s already has an active appointment", ErrConflict, a.SlotID)
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	stored := *a
	m.appts[a.ID] = &stored
	return nil
}

func (m *appointmentRepoMem) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	out := *a
	return &out, nil
}

func (m *appointmentRepoMem) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appts[id]
	if !ok {
		return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	if a.Status != from {
		return nil, fmt.Errorf("%w: appointment %s is %s, expected %s", ErrConflict, id, a.Status, from)
	}
	a.Status = to
	a.CancellationReason = reason
	a.UpdatedAt = time.Now()
	out := *a
	return &out, nil
}

func (m *appointmentRepoMem) Delete(_ context.Context, id uuid.UUID, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	if a.Status != from {
		return fmt.Errorf("%w: appointment %s is %s, expected %s", ErrConflict, id, a.Status, from)
	}
	delete(m.appts, id)
	return nil
}

func (m *appointmentRepoMem) HasActiveForSlot(_ context.Context, slotID, except uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.appts {
		if a.SlotID == slotID && a.ID != except && a.Status.HoldsSlot() {
			return true, nil
		}
	}
	return false, nil
}

func (m *appointmentRepoMem) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return m.list(func(a *Appointment) bool { return a.DoctorID == doctorID }, limit, offset)
}

func (m *appointmentRepoMem) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return m.list(func(a *Appointment) bool { return a.PatientID == patientID }, limit, offset)
}

func (m *appointmentRepoMem) list(match func(*Appointment) bool, limit, offset int) ([]*Appointment, int, error) {
	m.mu.RLock()
	var all []*Appointment
	for _, a := range m.appts {
		if match(a) {
			out := *a
			all = append(all, &out)
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date < all[j].Date
		}
		return all[i].Time < all[j].Time
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}
