package scheduling

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clinicops/clinic/internal/platform/telemetry"
)

// InventoryConfig tunes slot generation.
type InventoryConfig struct {
	// Granularity is used when a generation request leaves it zero.
	Granularity time.Duration
	// Concurrency bounds the number of in-flight creates in one batch.
	Concurrency int
}

// SlotInventory owns availability slots. It is the only writer of the
// availability_slot table.
type SlotInventory struct {
	repo    SlotRepository
	cfg     InventoryConfig
	metrics *telemetry.SchedulingMetrics
}

func NewSlotInventory(repo SlotRepository, cfg InventoryConfig, m *telemetry.SchedulingMetrics) *SlotInventory {
	if cfg.Granularity <= 0 {
		cfg.Granularity = DefaultGranularity
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &SlotInventory{repo: repo, cfg: cfg, metrics: m}
}

// GenerateSlots splits [start, end) into fixed steps of granularity. A final
// step that would run past end is dropped, so every slot ends by end.
// A zero granularity uses the inventory default.
func (inv *SlotInventory) GenerateSlots(doctorID uuid.UUID, date, start, end string, granularity time.Duration) ([]SlotRequest, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrValidation)
	}
	if _, err := parseDate(date); err != nil {
		return nil, err
	}
	from, err := parseClock(start)
	if err != nil {
		return nil, err
	}
	to, err := parseClock(end)
	if err != nil {
		return nil, err
	}
	if from >= to {
		return nil, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRange, start, end)
	}
	switch {
	case granularity == 0:
		granularity = inv.cfg.Granularity
	case granularity < 0:
		return nil, fmt.Errorf("%w: granularity must be positive", ErrValidation)
	}

	n := int((to - from) / granularity)
	reqs := make([]SlotRequest, 0, n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, SlotRequest{
			DoctorID: doctorID,
			Date:     date,
			Time:     formatClock(from + time.Duration(i)*granularity),
		})
	}
	return reqs, nil
}

func (inv *SlotInventory) CreateSlot(ctx context.Context, req SlotRequest) (*Slot, error) {
	if req.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrValidation)
	}
	if _, err := parseDate(req.Date); err != nil {
		return nil, err
	}
	offset, err := parseClock(req.Time)
	if err != nil {
		return nil, err
	}
	sl := &Slot{DoctorID: req.DoctorID, Date: req.Date, Time: formatClock(offset)}
	if err := inv.repo.Create(ctx, sl); err != nil {
		return nil, err
	}
	return sl, nil
}

// SlotFailure is one request of a batch that could not be created.
type SlotFailure struct {
	Request SlotRequest `json:"request"`
	Err     error       `json:"-"`
	Reason  string      `json:"error"`
}

// BatchResult reports a batch create. Created and Failed keep request order.
type BatchResult struct {
	Created []*Slot       `json:"created"`
	Failed  []SlotFailure `json:"failed"`
}

func (r *BatchResult) CreatedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(r.Created))
	for i, sl := range r.Created {
		ids[i] = sl.ID
	}
	return ids
}

// CreateSlots creates every request concurrently. A failing request, most
// often ErrDuplicateSlot, is recorded in Failed and the rest continue.
func (inv *SlotInventory) CreateSlots(ctx context.Context, reqs []SlotRequest) *BatchResult {
	slots := make([]*Slot, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(inv.cfg.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			slots[i], errs[i] = inv.CreateSlot(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{Created: []*Slot{}, Failed: []SlotFailure{}}
	for i := range reqs {
		if errs[i] != nil {
			res.Failed = append(res.Failed, SlotFailure{Request: reqs[i], Err: errs[i], Reason: errs[i].Error()})
			continue
		}
		res.Created = append(res.Created, slots[i])
	}
	inv.metrics.ObserveSlots(len(res.Created), len(res.Failed))
	return res
}

// GenerateAndCreate validates the window before anything is written; an
// invalid range creates zero slots.
func (inv *SlotInventory) GenerateAndCreate(ctx context.Context, doctorID uuid.UUID, date, start, end string, granularity time.Duration) (*BatchResult, error) {
	reqs, err := inv.GenerateSlots(doctorID, date, start, end, granularity)
	if err != nil {
		return nil, err
	}
	return inv.CreateSlots(ctx, reqs), nil
}

func (inv *SlotInventory) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return inv.repo.GetByID(ctx, id)
}

// ListSlots returns a lazy sequence; nothing is read until it is ranged over.
func (inv *SlotInventory) ListSlots(ctx context.Context, f SlotFilter) (iter.Seq2[*Slot, error], error) {
	if f.Date != "" {
		if _, err := parseDate(f.Date); err != nil {
			return nil, err
		}
	}
	return inv.repo.List(ctx, f), nil
}

// UpdateSlot moves an unbooked slot to a new date and time.
func (inv *SlotInventory) UpdateSlot(ctx context.Context, id uuid.UUID, date, clock string) (*Slot, error) {
	if _, err := parseDate(date); err != nil {
		return nil, err
	}
	offset, err := parseClock(clock)
	if err != nil {
		return nil, err
	}
	sl := &Slot{ID: id, Date: date, Time: formatClock(offset)}
	if err := inv.repo.Update(ctx, sl); err != nil {
		return nil, err
	}
	return sl, nil
}

func (inv *SlotInventory) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	return inv.repo.Delete(ctx, id)
}

// SetBooked is the atomic compare-and-set on is_booked. It fails with
// ErrConflict when the slot is already in the requested state.
func (inv *SlotInventory) SetBooked(ctx context.Context, id uuid.UUID, booked bool) error {
	return inv.repo.SetBooked(ctx, id, booked)
}
