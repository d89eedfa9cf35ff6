// Package events decouples booking side effects from the booking flow: the core emits typed
// events and consumers deliver them later.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aura-booking/backend/internal/models"
)

// Event is one domain event.
type Event struct {
	Trigger     models.TriggerEvent `json:"trigger_event"`
	OrganizerID uuid.UUID           `json:"organizer_id"`
	EventTypeID *uuid.UUID          `json:"event_type_id,omitempty"`
	Booking     *models.Booking     `json:"booking,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
	OccurredAt  time.Time           `json:"created_at"`
}

// New builds an event for a booking.
func New(trigger models.TriggerEvent, b *models.Booking, metadata map[string]any) Event {
	return Event{
		Trigger:     trigger,
		OrganizerID: b.UserID,
		EventTypeID: b.EventTypeID,
		Booking:     b,
		Metadata:    metadata,
		OccurredAt:  time.Now().UTC(),
	}
}

// Body is the JSON delivered to webhook subscribers and realtime clients.
func (e Event) Body() (json.RawMessage, error) {
	return json.Marshal(struct {
		TriggerEvent models.TriggerEvent `json:"triggerEvent"`
		CreatedAt    time.Time           `json:"createdAt"`
		Payload      Event               `json:"payload"`
	}{e.Trigger, e.OccurredAt, e})
}

// Emitter publishes domain events. Emission never fails the caller's operation.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(context.Context, Event) {}

// Multi fans an event out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, em := range m {
		em.Emit(ctx, e)
	}
}
