// Package notification hands scheduling events to the downstream
// notification pipeline (email/SMS delivery lives outside this service).
// Publishers are fire-and-forget from the caller's point of view: a failed
// publish never undoes the operation that produced the event.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types emitted by the booking coordinator.
const (
	TypeAppointmentBooked        = "appointment.booked"
	TypeAppointmentCancelled     = "appointment.cancelled"
	TypeAppointmentDeleted       = "appointment.deleted"
	TypeAppointmentStatusChanged = "appointment.status_changed"
)

// Event is the envelope written to every backend.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// NewEvent builds an Event with a fresh id, marshalling data as the payload.
func NewEvent(eventType, subject string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("notification: marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}, nil
}

// Publisher delivers events to a transport.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// LogPublisher writes events to the service log instead of a broker.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info().
		Str("event_id", evt.ID).
		Str("event_type", evt.Type).
		Str("subject", evt.Subject).
		RawJSON("data", evt.Data).
		Msg("scheduling event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
