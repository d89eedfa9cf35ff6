package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/models"
)

// BookingLister lists a user's live bookings overlapping a range.
type BookingLister interface {
	ListBusy(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.Booking, error)
}

// BookingSource turns existing bookings into busy intervals.
type BookingSource struct {
	bookings BookingLister
}

// NewBookingSource creates a busy source backed by stored bookings.
func NewBookingSource(bookings BookingLister) *BookingSource {
	return &BookingSource{bookings: bookings}
}

// BusyTimes implements BusySource.
func (s *BookingSource) BusyTimes(ctx context.Context, q BusyQuery) ([]models.BusyInterval, error) {
	list, err := s.bookings.ListBusy(ctx, q.User.ID, q.From, q.To)
	if err != nil {
		return nil, err
	}
	ignore := make(map[string]struct{}, len(q.IgnoreUIDs))
	for _, uid := range q.IgnoreUIDs {
		ignore[uid] = struct{}{}
	}
	out := make([]models.BusyInterval, 0, len(list))
	for _, b := range list {
		if _, skip := ignore[b.UID]; skip || !b.IsLive() {
			continue
		}
		out = append(out, models.BusyInterval{Start: b.StartTime, End: b.EndTime, Source: "booking:" + b.UID})
	}
	return out, nil
}

// CalendarBusyFetcher reads busy times from a user's connected calendars.
type CalendarBusyFetcher interface {
	CalendarBusy(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.BusyInterval, error)
}

// CalendarSource adapts external calendars into a busy source.
// Failures degrade to "no external busy times" rather than blocking the booking.
type CalendarSource struct {
	fetcher CalendarBusyFetcher
	logger  *zap.Logger
}

// NewCalendarSource creates a busy source backed by connected calendars.
func NewCalendarSource(fetcher CalendarBusyFetcher, logger *zap.Logger) *CalendarSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarSource{fetcher: fetcher, logger: logger}
}

// BusyTimes implements BusySource.
func (s *CalendarSource) BusyTimes(ctx context.Context, q BusyQuery) ([]models.BusyInterval, error) {
	busy, err := s.fetcher.CalendarBusy(ctx, q.User.ID, q.From, q.To)
	if err != nil {
		s.logger.Warn("calendar busy times unavailable", zap.String("user_id", q.User.ID.String()), zap.Error(err))
		return nil, nil
	}
	return busy, nil
}
