package integrations

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-booking/backend/internal/models"
)

// CalendarAdapter writes events to, and reads busy times from, one provider account.
// Provider failures are always returned as errors.
type CalendarAdapter interface {
	CreateEvent(ctx context.Context, evt *CalendarEvent, credentialID uuid.UUID) (*ProviderEvent, error)
	UpdateEvent(ctx context.Context, uid string, evt *CalendarEvent, externalCalendarID string) (Outcome, error)
	DeleteEvent(ctx context.Context, uid string, evt *CalendarEvent, externalCalendarID string) error
	GetAvailability(ctx context.Context, from, to time.Time, selected []models.SelectedCalendar) ([]models.BusyInterval, error)
	ListCalendars(ctx context.Context) ([]IntegrationCalendar, error)
}

// VideoAdapter manages dedicated per-booking meetings.
type VideoAdapter interface {
	CreateMeeting(ctx context.Context, evt *CalendarEvent) (*ProviderEvent, error)
	UpdateMeeting(ctx context.Context, ref models.PartialReference, evt *CalendarEvent) (*ProviderEvent, error)
	DeleteMeeting(ctx context.Context, uid string) error
}
