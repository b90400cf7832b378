package scheduling

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestInventory() *SlotInventory {
	return NewSlotInventory(NewSlotRepoMem(), InventoryConfig{}, nil)
}

func TestGenerateSlots_TwoHourWindow(t *testing.T) {
	inv := newTestInventory()
	doc := uuid.New()

	reqs, err := inv.GenerateSlots(doc, "2026-03-14", "12:00", "14:00", 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"12:00", "12:30", "13:00", "13:30"}
	if len(reqs) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(reqs))
	}
	for i, r := range reqs {
		if r.Time != want[i] || r.DoctorID != doc || r.Date != "2026-03-14" {
			t.Errorf("slot %d: got %+v, want time %s", i, r, want[i])
		}
	}
}

func TestGenerateSlots_DropsPartialFinalSlot(t *testing.T) {
	inv := newTestInventory()
	reqs, err := inv.GenerateSlots(uuid.New(), "2026-03-14", "09:00", "10:45", 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("expected 3 whole slots, got %d", len(reqs))
	}
	last, _ := parseClock(reqs[len(reqs)-1].Time)
	end, _ := parseClock("10:45")
	if last+30*time.Minute > end {
		t.Errorf("last slot %s ends past window end", reqs[len(reqs)-1].Time)
	}
}

func TestGenerateSlots_EveryGranularityStaysInWindow(t *testing.T) {
	inv := newTestInventory()
	start, _ := parseClock("08:00")
	for _, end := range []string{"08:01", "08:15", "09:00", "11:20", "17:59"} {
		to, _ := parseClock(end)
		for _, g := range []time.Duration{5 * time.Minute, 15 * time.Minute, 20 * time.Minute, 30 * time.Minute, time.Hour} {
			reqs, err := inv.GenerateSlots(uuid.New(), "2026-03-14", "08:00", end, g)
			if err != nil {
				t.Fatalf("%s/%v: unexpected error: %v", end, g, err)
			}
			if want := int((to - start) / g); len(reqs) != want {
				t.Errorf("%s/%v: expected %d slots, got %d", end, g, want, len(reqs))
			}
			for _, r := range reqs {
				at, _ := parseClock(r.Time)
				if at+g > to {
					t.Errorf("%s/%v: slot %s overruns window", end, g, r.Time)
				}
			}
		}
	}
}

func TestGenerateSlots_DefaultGranularity(t *testing.T) {
	inv := newTestInventory()
	reqs, err := inv.GenerateSlots(uuid.New(), "2026-03-14", "12:00", "13:00", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 slots at the default 30m granularity, got %d", len(reqs))
	}

	custom := NewSlotInventory(NewSlotRepoMem(), InventoryConfig{Granularity: 15 * time.Minute}, nil)
	reqs, _ = custom.GenerateSlots(uuid.New(), "2026-03-14", "12:00", "13:00", 0)
	if len(reqs) != 4 {
		t.Fatalf("expected 4 slots at configured 15m granularity, got %d", len(reqs))
	}
}

func TestGenerateSlots_InvalidRange(t *testing.T) {
	inv := newTestInventory()
	for _, w := range [][2]string{{"14:00", "12:00"}, {"12:00", "12:00"}} {
		reqs, err := inv.GenerateSlots(uuid.New(), "2026-03-14", w[0], w[1], 30*time.Minute)
		if !errors.Is(err, ErrInvalidRange) {
			t.Errorf("%s-%s: expected ErrInvalidRange, got %v", w[0], w[1], err)
		}
		if len(reqs) != 0 {
			t.Errorf("%s-%s: expected no slots, got %d", w[0], w[1], len(reqs))
		}
	}
}

func TestGenerateSlots_BadInput(t *testing.T) {
	inv := newTestInventory()
	tests := []struct {
		name             string
		doctor           uuid.UUID
		date, start, end string
		granularity      time.Duration
	}{
		{"missing doctor", uuid.Nil, "2026-03-14", "12:00", "14:00", 0},
		{"bad date", uuid.New(), "14-03-2026", "12:00", "14:00", 0},
		{"bad start", uuid.New(), "2026-03-14", "noon", "14:00", 0},
		{"negative granularity", uuid.New(), "2026-03-14", "12:00", "14:00", -time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inv.GenerateSlots(tt.doctor, tt.date, tt.start, tt.end, tt.granularity)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestGenerateSlots_WindowShorterThanGranularity(t *testing.T) {
	inv := newTestInventory()
	reqs, err := inv.GenerateSlots(uuid.New(), "2026-03-14", "12:00", "12:20", 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 0 {
		t.Errorf("expected zero slots, got %d", len(reqs))
	}
}

func TestCreateSlot_Duplicate(t *testing.T) {
	inv := newTestInventory()
	doc := uuid.New()
	req := SlotRequest{DoctorID: doc, Date: "2026-03-14", Time: "09:00"}
	if _, err := inv.CreateSlot(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := inv.CreateSlot(context.Background(), req); !errors.Is(err, ErrDuplicateSlot) {
		t.Fatalf("expected ErrDuplicateSlot, got %v", err)
	}
	// Same time for another doctor is fine.
	req.DoctorID = uuid.New()
	if _, err := inv.CreateSlot(context.Background(), req); err != nil {
		t.Fatalf("unexpected error for another doctor: %v", err)
	}
}

func TestCreateSlots_PartialFailureKeepsGoing(t *testing.T) {
	inv := newTestInventory()
	doc := uuid.New()
	if _, err := inv.CreateSlot(context.Background(), SlotRequest{DoctorID: doc, Date: "2026-03-14", Time: "12:30"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := inv.GenerateAndCreate(context.Background(), doc, "2026-03-14", "12:00", "14:00", 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Created) != 3 || len(res.Failed) != 1 {
		t.Fatalf("expected 3 created / 1 failed, got %d / %d", len(res.Created), len(res.Failed))
	}
	if res.Failed[0].Request.Time != "12:30" || !errors.Is(res.Failed[0].Err, ErrDuplicateSlot) {
		t.Errorf("unexpected failure entry: %+v", res.Failed[0])
	}
	for i, want := range []string{"12:00", "13:00", "13:30"} {
		if res.Created[i].Time != want {
			t.Errorf("created[%d] = %s, want %s", i, res.Created[i].Time, want)
		}
	}
	if ids := res.CreatedIDs(); len(ids) != 3 || ids[0] != res.Created[0].ID {
		t.Errorf("CreatedIDs mismatch: %v", ids)
	}
}

func TestCreateSlots_ConcurrentBatchesNeverDuplicate(t *testing.T) {
	repo := NewSlotRepoMem()
	inv := NewSlotInventory(repo, InventoryConfig{Concurrency: 8}, nil)
	doc := uuid.New()

	results := make(chan *BatchResult, 4)
	for i := 0; i < 4; i++ {
		go func() {
			res, _ := inv.GenerateAndCreate(context.Background(), doc, "2026-03-14", "08:00", "12:00", 15*time.Minute)
			results <- res
		}()
	}
	created := 0
	for i := 0; i < 4; i++ {
		created += len((<-results).Created)
	}
	if created != 16 {
		t.Fatalf("expected 16 slots across all batches, got %d", created)
	}

	n := 0
	for _, err := range repo.List(context.Background(), SlotFilter{DoctorID: doc}) {
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		n++
	}
	if n != 16 {
		t.Errorf("expected 16 stored slots, got %d", n)
	}
}

func TestGenerateAndCreate_InvalidRangeCreatesNothing(t *testing.T) {
	repo := NewSlotRepoMem()
	inv := NewSlotInventory(repo, InventoryConfig{}, nil)
	doc := uuid.New()
	if _, err := inv.GenerateAndCreate(context.Background(), doc, "2026-03-14", "14:00", "12:00", 0); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	for range repo.List(context.Background(), SlotFilter{DoctorID: doc}) {
		t.Fatal("expected no slots to be created")
	}
}

func TestCreateSlots_CancelledContext(t *testing.T) {
	inv := newTestInventory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reqs, _ := inv.GenerateSlots(uuid.New(), "2026-03-14", "12:00", "13:00", 0)
	res := inv.CreateSlots(ctx, reqs)
	if len(res.Created) != 0 || len(res.Failed) != 2 {
		t.Fatalf("expected every request to fail, got %d created / %d failed", len(res.Created), len(res.Failed))
	}
	if !errors.Is(res.Failed[0].Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", res.Failed[0].Err)
	}
}

func TestListSlots_FiltersAndOrder(t *testing.T) {
	inv := newTestInventory()
	ctx := context.Background()
	doc, other := uuid.New(), uuid.New()
	for _, tm := range []string{"15:00", "09:00", "11:30"} {
		if _, err := inv.CreateSlot(ctx, SlotRequest{DoctorID: doc, Date: "2026-03-14", Time: tm}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	booked, _ := inv.CreateSlot(ctx, SlotRequest{DoctorID: doc, Date: "2026-03-15", Time: "08:00"})
	inv.CreateSlot(ctx, SlotRequest{DoctorID: other, Date: "2026-03-14", Time: "09:00"})
	if err := inv.SetBooked(ctx, booked.ID, true); err != nil {
		t.Fatalf("book: %v", err)
	}

	collect := func(f SlotFilter) []string {
		seq, err := inv.ListSlots(ctx, f)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var out []string
		for sl, err := range seq {
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			out = append(out, sl.Date+" "+sl.Time)
		}
		return out
	}

	if got := collect(SlotFilter{DoctorID: doc, Date: "2026-03-14"}); fmt.Sprint(got) != "[2026-03-14 09:00 2026-03-14 11:30 2026-03-14 15:00]" {
		t.Errorf("unexpected order: %v", got)
	}
	if got := collect(SlotFilter{DoctorID: doc}); len(got) != 4 {
		t.Errorf("expected 4 slots for doctor, got %d", len(got))
	}
	if got := collect(SlotFilter{DoctorID: doc, OnlyAvailable: true}); len(got) != 3 {
		t.Errorf("expected 3 available slots, got %d", len(got))
	}
	if _, err := inv.ListSlots(ctx, SlotFilter{Date: "tomorrow"}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for bad date filter, got %v", err)
	}
}

func TestUpdateAndDeleteSlot_RefuseBooked(t *testing.T) {
	inv := newTestInventory()
	ctx := context.Background()
	doc := uuid.New()
	sl, _ := inv.CreateSlot(ctx, SlotRequest{DoctorID: doc, Date: "2026-03-14", Time: "09:00"})

	moved, err := inv.UpdateSlot(ctx, sl.ID, "2026-03-14", "10:00")
	if err != nil {
		t.Fatalf("update unbooked slot: %v", err)
	}
	if moved.Time != "10:00" || moved.DoctorID != doc {
		t.Errorf("unexpected updated slot: %+v", moved)
	}

	if err := inv.SetBooked(ctx, sl.ID, true); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := inv.UpdateSlot(ctx, sl.ID, "2026-03-14", "11:00"); !errors.Is(err, ErrSlotBooked) {
		t.Errorf("expected ErrSlotBooked on update, got %v", err)
	}
	if err := inv.DeleteSlot(ctx, sl.ID); !errors.Is(err, ErrSlotBooked) {
		t.Errorf("expected ErrSlotBooked on delete, got %v", err)
	}

	if err := inv.SetBooked(ctx, sl.ID, false); err != nil {
		t.Fatalf("unbook: %v", err)
	}
	if err := inv.DeleteSlot(ctx, sl.ID); err != nil {
		t.Errorf("delete unbooked slot: %v", err)
	}
	if _, err := inv.GetSlot(ctx, sl.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateSlot_KeepsUniqueness(t *testing.T) {
	inv := newTestInventory()
	ctx := context.Background()
	doc := uuid.New()
	inv.CreateSlot(ctx, SlotRequest{DoctorID: doc, Date: "2026-03-14", Time: "09:00"})
	sl, _ := inv.CreateSlot(ctx, SlotRequest{DoctorID: doc, Date: "2026-03-14", Time: "09:30"})

	if _, err := inv.UpdateSlot(ctx, sl.ID, "2026-03-14", "09:00"); !errors.Is(err, ErrDuplicateSlot) {
		t.Fatalf("expected ErrDuplicateSlot, got %v", err)
	}
	if _, err := inv.UpdateSlot(ctx, uuid.New(), "2026-03-14", "12:00"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetBooked_CompareAndSet(t *testing.T) {
	inv := newTestInventory()
	ctx := context.Background()
	sl, _ := inv.CreateSlot(ctx, SlotRequest{DoctorID: uuid.New(), Date: "2026-03-14", Time: "09:00"})

	if err := inv.SetBooked(ctx, sl.ID, false); !errors.Is(err, ErrConflict) {
		t.Errorf("unbooking a free slot: expected ErrConflict, got %v", err)
	}
	if err := inv.SetBooked(ctx, sl.ID, true); err != nil {
		t.Fatalf("book: %v", err)
	}
	if err := inv.SetBooked(ctx, sl.ID, true); !errors.Is(err, ErrConflict) {
		t.Errorf("double book: expected ErrConflict, got %v", err)
	}
	if err := inv.SetBooked(ctx, uuid.New(), true); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing slot: expected ErrNotFound, got %v", err)
	}
}
