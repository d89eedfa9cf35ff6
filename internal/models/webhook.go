package models

import (
	"time"

	"github.com/google/uuid"
)

// TriggerEvent names a domain event that subscribers can listen to.
type TriggerEvent string

const (
	TriggerBookingCreated          TriggerEvent = "BOOKING_CREATED"
	TriggerBookingRescheduled      TriggerEvent = "BOOKING_RESCHEDULED"
	TriggerBookingRequested        TriggerEvent = "BOOKING_REQUESTED"
	TriggerBookingPaymentInitiated TriggerEvent = "BOOKING_PAYMENT_INITIATED"
	TriggerBookingCancelled        TriggerEvent = "BOOKING_CANCELLED"
	TriggerBookingRejected         TriggerEvent = "BOOKING_REJECTED"
	TriggerIntegrationFailed       TriggerEvent = "INTEGRATION_FAILED"
)

// AllTriggers lists every trigger a subscription may name.
var AllTriggers = []TriggerEvent{
	TriggerBookingCreated,
	TriggerBookingRescheduled,
	TriggerBookingRequested,
	TriggerBookingPaymentInitiated,
	TriggerBookingCancelled,
	TriggerBookingRejected,
	TriggerIntegrationFailed,
}

// ValidTrigger reports whether t is a known trigger.
func ValidTrigger(t TriggerEvent) bool {
	for _, k := range AllTriggers {
		if k == t {
			return true
		}
	}
	return false
}

// WebhookSubscription is a subscriber URL registered by an organizer.
type WebhookSubscription struct {
	ID          uuid.UUID      `json:"id"`
	UserID      uuid.UUID      `json:"user_id"`
	EventTypeID *uuid.UUID     `json:"event_type_id,omitempty"`
	URL         string         `json:"url"`
	Secret      string         `json:"-"`
	Triggers    []TriggerEvent `json:"triggers"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Subscribes reports whether the subscription listens to a trigger.
func (w *WebhookSubscription) Subscribes(t TriggerEvent) bool {
	for _, tr := range w.Triggers {
		if tr == t {
			return true
		}
	}
	return false
}
