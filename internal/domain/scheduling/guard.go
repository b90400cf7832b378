package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinic/internal/platform/telemetry"
)

// ConsistencyGuard releases slots as a compensating action. Releasing is
// idempotent: a missing slot or one that is already free counts as released.
type ConsistencyGuard struct {
	slots   *SlotInventory
	logger  zerolog.Logger
	metrics *telemetry.SchedulingMetrics
}

func NewConsistencyGuard(slots *SlotInventory, logger zerolog.Logger, m *telemetry.SchedulingMetrics) *ConsistencyGuard {
	return &ConsistencyGuard{slots: slots, logger: logger, metrics: m}
}

// ReleaseSlot ensures the slot is not booked. Any error other than
// not-found or already-free is returned as is, and callers must stop.
func (g *ConsistencyGuard) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	err := g.slots.SetBooked(ctx, slotID, false)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		g.logger.Info().Str("slot_id", slotID.String()).Msg("release: slot no longer exists, treating as released")
		g.metrics.ObserveCompensation("release_not_found")
		return nil
	case errors.Is(err, ErrConflict):
		g.logger.Debug().Str("slot_id", slotID.String()).Msg("release: slot already free")
		g.metrics.ObserveCompensation("release_noop")
		return nil
	}
	g.logger.Error().Err(err).Str("slot_id", slotID.String()).Msg("release: slot state unknown")
	g.metrics.ObserveCompensation("release_failed")
	return err
}
