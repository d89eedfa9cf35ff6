package integrations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/metrics"
	"github.com/aura-booking/backend/internal/models"
)

// CredentialLister lists a user's credentials.
type CredentialLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Credential, error)
}

// SelectedCalendarLister lists the calendars a user checks for conflicts.
type SelectedCalendarLister interface {
	ListSelected(ctx context.Context, userID uuid.UUID) ([]models.SelectedCalendar, error)
}

// BusyCollector gathers busy times from every connected calendar of a user.
type BusyCollector struct {
	registry *Registry
	creds    CredentialLister
	selected SelectedCalendarLister
	logger   *zap.Logger
}

// NewBusyCollector creates a collector.
func NewBusyCollector(registry *Registry, creds CredentialLister, selected SelectedCalendarLister, logger *zap.Logger) *BusyCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusyCollector{registry: registry, creds: creds, selected: selected, logger: logger}
}

// CalendarBusy returns busy times across the user's selected calendars.
// A failing credential is logged and skipped so one broken account does not hide the others.
func (c *BusyCollector) CalendarBusy(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.BusyInterval, error) {
	creds, err := c.creds.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	selected, err := c.selected.ListSelected(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []models.BusyInterval
	for _, cred := range creds {
		app, ok := c.registry.App(cred.Type)
		if !ok || app.Kind != KindCalendar || cred.Invalid {
			continue
		}
		var mine []models.SelectedCalendar
		for _, s := range selected {
			if s.CredentialID == cred.ID {
				mine = append(mine, s)
			}
		}
		if len(mine) == 0 {
			continue
		}
		adapter, err := c.registry.Calendar(cred)
		if err != nil {
			c.logger.Warn("calendar adapter unavailable", zap.String("credential_id", cred.ID.String()), zap.Error(err))
			continue
		}
		var busy []models.BusyInterval
		started := time.Now()
		err = c.registry.Breaker(cred).Execute(func() error {
			var callErr error
			busy, callErr = adapter.GetAvailability(ctx, from, to, mine)
			return callErr
		})
		metrics.ObserveIntegration(cred.Type, "get_availability", started, err)
		if err != nil {
			c.logger.Warn("calendar availability failed", zap.String("credential_id", cred.ID.String()), zap.String("type", cred.Type), zap.Error(err))
			continue
		}
		out = append(out, busy...)
	}
	return out, nil
}
