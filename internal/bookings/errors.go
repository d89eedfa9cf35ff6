package bookings

import (
	"errors"
	"sort"
	"strings"

	"github.com/aura-booking/backend/internal/eventmanager"
)

var (
	// ErrBookingNotFound is returned when no booking matches a uid.
	ErrBookingNotFound = eventmanager.ErrBookingNotFound
	// ErrEventTypeNotFound is returned when the booked event type does not exist.
	ErrEventTypeNotFound = errors.New("event type not found")
	// ErrBookingConflict is returned when an identical booking already holds the slot.
	ErrBookingConflict = errors.New("booking already exists for this slot")
	// ErrConcurrentModification is returned when another request changed the booking first.
	ErrConcurrentModification = errors.New("booking was modified concurrently")
	// ErrBookingFull is returned when a seated slot has no room left.
	ErrBookingFull = errors.New("booking is full")
	// ErrBookingLimitReached is returned when a host reached a booking or duration limit.
	ErrBookingLimitReached = errors.New("booking limit reached")
	// ErrInvalidTransition is returned when the booking's status does not allow the operation.
	ErrInvalidTransition = errors.New("operation not allowed in current booking status")
	// ErrForbidden is returned when the caller does not organize the booking.
	ErrForbidden = errors.New("not the booking organizer")
)

// ValidationError carries per-field messages for a rejected booking request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "invalid booking: " + strings.Join(keys, ", ")
}
