package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusAccepted  BookingStatus = "ACCEPTED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusRejected  BookingStatus = "REJECTED"
)

// Booking is a confirmed or pending instance of an event type at a specific time.
type Booking struct {
	ID                 uuid.UUID          `json:"id"`
	UID                string             `json:"uid"`
	IdempotencyKey     string             `json:"-"`
	EventTypeID        *uuid.UUID         `json:"event_type_id,omitempty"`
	UserID             uuid.UUID          `json:"user_id"`
	HostIDs            []uuid.UUID        `json:"host_ids,omitempty"`
	Title              string             `json:"title"`
	Description        string             `json:"description,omitempty"`
	StartTime          time.Time          `json:"start_time"`
	EndTime            time.Time          `json:"end_time"`
	Status             BookingStatus      `json:"status"`
	Location           string             `json:"location,omitempty"`
	RecurringEventID   *string            `json:"recurring_event_id,omitempty"`
	FromReschedule     *string            `json:"from_reschedule,omitempty"`
	Rescheduled        bool               `json:"rescheduled"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	Paid               bool               `json:"paid"`
	Version            int                `json:"version"`
	Metadata           json.RawMessage    `json:"metadata,omitempty"`
	Attendees          []Attendee         `json:"attendees"`
	References         []BookingReference `json:"references,omitempty"`
	Payments           []Payment          `json:"payments,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Attendee is a booker or guest attending a booking.
type Attendee struct {
	ID        uuid.UUID    `json:"id"`
	BookingID uuid.UUID    `json:"booking_id"`
	Name      string       `json:"name"`
	Email     string       `json:"email"`
	TimeZone  string       `json:"time_zone"`
	Locale    string       `json:"locale,omitempty"`
	Seat      *BookingSeat `json:"seat,omitempty"`
}

// BookingSeat links an attendee to one seat of a seated booking.
type BookingSeat struct {
	ID           uuid.UUID       `json:"id"`
	ReferenceUID string          `json:"reference_uid"`
	BookingID    uuid.UUID       `json:"booking_id"`
	AttendeeID   uuid.UUID       `json:"attendee_id"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// IsLive reports whether the booking still holds a time slot.
func (b *Booking) IsLive() bool {
	return b.Status == BookingStatusAccepted || b.Status == BookingStatusPending
}

// Duration returns the booked length.
func (b *Booking) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}

// HasAttendee reports whether an attendee with the given email is on the booking.
func (b *Booking) HasAttendee(email string) bool {
	for _, a := range b.Attendees {
		if strings.EqualFold(a.Email, email) {
			return true
		}
	}
	return false
}

// AttendeeBySeat returns the attendee holding the seat with the given reference uid.
func (b *Booking) AttendeeBySeat(referenceUID string) *Attendee {
	for i := range b.Attendees {
		if s := b.Attendees[i].Seat; s != nil && s.ReferenceUID == referenceUID {
			return &b.Attendees[i]
		}
	}
	return nil
}
