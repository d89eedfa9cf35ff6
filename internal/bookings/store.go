package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-booking/backend/internal/models"
)

// Store is the booking persistence the service runs on. Methods taking a *models.Booking to
// change it compare-and-swap on its Version and bump it on success; a lost race returns
// ErrConcurrentModification.
type Store interface {
	// GetByUID loads a booking with attendees, references, payments and hosts.
	GetByUID(ctx context.Context, uid string) (*models.Booking, error)
	// FindByUID is GetByUID returning nil, nil for an unknown uid.
	FindByUID(ctx context.Context, uid string) (*models.Booking, error)
	// FindAtSlot returns the live booking of an event type starting at start, or nil.
	FindAtSlot(ctx context.Context, eventTypeID uuid.UUID, start time.Time) (*models.Booking, error)
	ListRecurring(ctx context.Context, recurringEventID string) ([]models.Booking, error)
	ListCancelledWithReferences(ctx context.Context, olderThan time.Time, limit int) ([]models.Booking, error)
	CountForHost(ctx context.Context, userID uuid.UUID, from, to time.Time, excludeUID string) (count, minutes int, err error)

	// Create inserts bookings with their hosts and attendees in one transaction.
	Create(ctx context.Context, bookings []*models.Booking) error
	// CreateRescheduled inserts b and cancels original, marking it rescheduled, in one transaction.
	CreateRescheduled(ctx context.Context, b, original *models.Booking) error
	UpdateTimes(ctx context.Context, b *models.Booking, start, end time.Time) error
	// SetStatus changes status. Cancelling or rejecting releases the idempotency key.
	SetStatus(ctx context.Context, b *models.Booking, status models.BookingStatus, reason string) error
	SetLocation(ctx context.Context, b *models.Booking, location string) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ReplaceReferences swaps the booking's reference set for refs in one transaction.
	ReplaceReferences(ctx context.Context, bookingID uuid.UUID, refs []models.PartialReference) error

	// AddAttendee takes a seat of a booking unless capacity seats are taken.
	AddAttendee(ctx context.Context, bookingID uuid.UUID, a *models.Attendee, capacity int) error
	// MoveAttendees moves attendees with their seats to another booking and deletes the removed ones.
	// Both bookings are locked while to's seats are counted against capacity. It returns the
	// number of attendees left on from.
	MoveAttendees(ctx context.Context, from, to uuid.UUID, move, remove []uuid.UUID, capacity int) (int, error)
	// RemoveAttendee deletes one attendee of a locked booking and returns how many remain.
	RemoveAttendee(ctx context.Context, bookingID, attendeeID uuid.UUID) (int, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	MovePayments(ctx context.Context, fromBookingID, toBookingID uuid.UUID) error
	// MarkPaid completes a payment and flags the booking paid.
	MarkPaid(ctx context.Context, b *models.Booking, paymentID uuid.UUID, providerPaymentID string) error
}
