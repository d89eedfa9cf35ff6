// Package eventmanager creates, updates and deletes the external calendar events and video
// meetings behind a booking, one result per integration call.
package eventmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-booking/backend/internal/integrations"
	"github.com/aura-booking/backend/internal/metrics"
	"github.com/aura-booking/backend/internal/models"
)

// ErrBookingNotFound is returned when the booking to reschedule does not exist or is not reschedulable.
var ErrBookingNotFound = errors.New("booking not found")

// CredentialSource resolves credentials that are not in the organizer's in-memory list.
type CredentialSource interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Credential, error)
}

// BookingLoader loads a booking with its references. It returns nil, nil for an unknown uid.
type BookingLoader interface {
	FindByUID(ctx context.Context, uid string) (*models.Booking, error)
}

// PaymentMover re-associates payments when bookings merge.
type PaymentMover interface {
	MovePayments(ctx context.Context, fromBookingID, toBookingID uuid.UUID) error
}

// Options tunes the manager.
type Options struct {
	DefaultVideoApp string
	CallTimeout     time.Duration
}

// Manager holds the dependencies shared by every organizer. Bind it to one organizer with For.
type Manager struct {
	registry *integrations.Registry
	creds    CredentialSource
	bookings BookingLoader
	payments PaymentMover
	opts     Options
	logger   *zap.Logger
}

// New creates a manager.
func New(registry *integrations.Registry, creds CredentialSource, bookings BookingLoader, payments PaymentMover, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 20 * time.Second
	}
	return &Manager{registry: registry, creds: creds, bookings: bookings, payments: payments, opts: opts, logger: logger}
}

// For binds the manager to an organizer's credentials.
func (m *Manager) For(creds []models.Credential) *Scope {
	return &Scope{m: m, creds: creds}
}

// Scope runs event operations with one organizer's credentials.
type Scope struct {
	m     *Manager
	creds []models.Credential
}

// invoke runs one adapter call behind its breaker with a timeout. Panics become errors.
func (m *Manager) invoke(ctx context.Context, cred models.Credential, op string, fn func(ctx context.Context) error) (err error) {
	appType := cred.Type
	callCtx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
	defer cancel()
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s %s panicked: %v", appType, op, r)
		}
		metrics.ObserveIntegration(appType, op, started, err)
	}()
	return m.registry.Breaker(cred).Execute(func() error { return fn(callCtx) })
}

func (s *Scope) defaultVideoLocation() (string, bool) {
	app, ok := s.m.registry.App(s.m.opts.DefaultVideoApp)
	if !ok || app.Kind != integrations.KindVideo {
		return "", false
	}
	return app.LocationType(), true
}

// resolveLocation applies the default video fallbacks.
func (s *Scope) resolveLocation(evt *integrations.CalendarEvent) {
	if evt.Location == "" {
		if loc, ok := s.defaultVideoLocation(); ok {
			evt.Location = loc
		}
		return
	}
	calType, dynamic := s.m.registry.DynamicMeetCalendar(evt.Location)
	if !dynamic || s.hasCalendarOfType(evt, calType) {
		return
	}
	s.m.logger.Info("dynamic meet location has no compatible calendar, using default video",
		zap.String("location", evt.Location), zap.String("calendar_type", calType))
	if loc, ok := s.defaultVideoLocation(); ok {
		evt.Location = loc
	} else {
		evt.Location = ""
	}
}

func (s *Scope) hasCalendarOfType(evt *integrations.CalendarEvent, calType string) bool {
	if len(evt.DestinationCalendars) > 0 {
		for _, d := range evt.DestinationCalendars {
			if d.Integration == calType {
				return true
			}
		}
		return false
	}
	first, ok := s.firstCalendarCredential()
	return ok && first.Type == calType
}

func (s *Scope) firstCalendarCredential() (models.Credential, bool) {
	for _, c := range s.creds {
		app, ok := s.m.registry.App(c.Type)
		if ok && app.Kind == integrations.KindCalendar && !c.Invalid {
			return c, true
		}
	}
	return models.Credential{}, false
}

func (s *Scope) credentialByType(t string) (models.Credential, bool) {
	for _, c := range s.creds {
		if c.Type == t && !c.Invalid {
			return c, true
		}
	}
	return models.Credential{}, false
}

// credentialByID looks in the organizer's list first, then reads through the credential cache.
func (s *Scope) credentialByID(ctx context.Context, id uuid.UUID) (*models.Credential, bool) {
	for i := range s.creds {
		if s.creds[i].ID == id {
			return &s.creds[i], true
		}
	}
	if s.m.creds == nil {
		return nil, false
	}
	c, err := s.m.creds.Get(ctx, id)
	if err != nil {
		s.m.logger.Warn("credential could not be resolved", zap.String("credential_id", id.String()), zap.Error(err))
		return nil, false
	}
	return c, true
}

// credentialForRef resolves the credential that owns a stored reference.
func (s *Scope) credentialForRef(ctx context.Context, ref models.PartialReference) (*models.Credential, bool) {
	if global, ok := s.m.registry.GlobalCredential(ref.Type); ok {
		return &global, true
	}
	if ref.CredentialID != nil {
		return s.credentialByID(ctx, *ref.CredentialID)
	}
	c, ok := s.credentialByType(ref.Type)
	if !ok {
		return nil, false
	}
	return &c, true
}

func (s *Scope) videoCredential(app integrations.App) (*models.Credential, bool) {
	if global, ok := s.m.registry.GlobalCredential(app.Type); ok {
		return &global, true
	}
	c, ok := s.credentialByType(app.Type)
	if !ok {
		return nil, false
	}
	return &c, true
}

func credentialIDPtr(c *models.Credential) *uuid.UUID {
	if c == nil || c.ID == uuid.Nil {
		return nil
	}
	id := c.ID
	return &id
}

func failed(r EventResult, err error) EventResult {
	r.Success = false
	r.Error = err.Error()
	return r
}

// patchVideo embeds a successful meeting in the event so calendar invites carry the join link.
func patchVideo(evt *integrations.CalendarEvent, r EventResult) {
	pe := r.event()
	if !r.Success || pe == nil {
		return
	}
	evt.VideoCallData = &integrations.VideoCallData{Type: r.Type, ID: pe.ID, Password: pe.Password, URL: pe.URL}
	if pe.URL != "" {
		evt.Location = pe.URL
	}
}

// fanOut runs independent calls concurrently and keeps results in input order.
func fanOut(n int, call func(i int) EventResult) []EventResult {
	results := make([]EventResult, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			results[i] = call(i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
