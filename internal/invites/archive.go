package invites

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/queue"
)

// BookingLoader loads the booking an archive job names.
type BookingLoader interface {
	GetByUID(ctx context.Context, uid string) (*models.Booking, error)
}

// UserLoader loads the organizer.
type UserLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ObjectStore persists rendered invites and returns their object key.
type ObjectStore interface {
	PutInvite(ctx context.Context, bookingUID string, ics []byte) (string, error)
}

// Archiver renders the current state of a booking and stores it.
type Archiver struct {
	bookings BookingLoader
	users    UserLoader
	store    ObjectStore
	now      func() time.Time
	logger   *zap.Logger
}

// NewArchiver creates an invite archiver.
func NewArchiver(bookings BookingLoader, users UserLoader, store ObjectStore, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{bookings: bookings, users: users, store: store, now: time.Now, logger: logger}
}

// Archive renders and stores one invite revision and returns the object key.
func (a *Archiver) Archive(ctx context.Context, p queue.InviteArchivePayload) (string, error) {
	b, err := a.bookings.GetByUID(ctx, p.BookingUID)
	if err != nil {
		return "", fmt.Errorf("load booking %s: %w", p.BookingUID, err)
	}
	organizer, err := a.users.GetByID(ctx, b.UserID)
	if err != nil {
		// Rendered without an ORGANIZER line.
		a.logger.Warn("load organizer", zap.String("booking_uid", b.UID), zap.Error(err))
		organizer = nil
	}
	key, err := a.store.PutInvite(ctx, b.UID, Render(b, organizer, a.now()))
	if err != nil {
		return "", fmt.Errorf("store invite: %w", err)
	}
	a.logger.Info("invite archived",
		zap.String("booking_uid", b.UID),
		zap.String("trigger", p.Trigger),
		zap.String("method", string(MethodFor(b))),
		zap.String("key", key))
	return key, nil
}
