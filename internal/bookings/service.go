// Package bookings implements the booking lifecycle: creation, rescheduling, seats, cancellation,
// confirmation and payment, with the external calendar side effects tracked as references.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/availability"
	"github.com/aura-booking/backend/internal/eventmanager"
	"github.com/aura-booking/backend/internal/events"
	"github.com/aura-booking/backend/internal/eventtypes"
	"github.com/aura-booking/backend/internal/metrics"
	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/internal/recurrence"
)

// EventTypeSource loads event types and their hosts.
type EventTypeSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.EventType, error)
	HostUsers(ctx context.Context, e *models.EventType) ([]models.HostUser, error)
}

// UserSource loads organizer accounts.
type UserSource interface {
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error)
}

// CredentialLister lists an organizer's integration credentials.
type CredentialLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Credential, error)
}

// AvailabilityResolver filters host candidates down to those free for a slot.
type AvailabilityResolver interface {
	Resolve(ctx context.Context, eventType *models.EventType, candidates []models.HostUser, window availability.Window, rc *availability.RecurringContext, opts ...availability.Option) ([]models.HostUser, error)
}

// HostSelector orders the available hosts; the first one organizes.
type HostSelector interface {
	Select(ctx context.Context, available []models.HostUser, eventType *models.EventType) ([]models.HostUser, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store       Store
	EventTypes  EventTypeSource
	Users       UserSource
	Credentials CredentialLister
	Resolver    AvailabilityResolver
	Policy      HostSelector
	Events      *eventmanager.Manager
	Emitter     events.Emitter
	Logger      *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// PaymentProvider defaults to stripe.
	PaymentProvider string
	// SweepGrace is how long a cancelled booking keeps its references before the sweep deletes them.
	SweepGrace time.Duration
}

// Service runs booking operations.
type Service struct {
	store      Store
	eventTypes EventTypeSource
	users      UserSource
	creds      CredentialLister
	resolver   AvailabilityResolver
	policy     HostSelector
	em         *eventmanager.Manager
	emitter    events.Emitter
	logger     *zap.Logger
	now        func() time.Time
	provider   string
	sweepGrace time.Duration
}

// NewService creates a booking service.
func NewService(d Deps) *Service {
	s := &Service{
		store:      d.Store,
		eventTypes: d.EventTypes,
		users:      d.Users,
		creds:      d.Credentials,
		resolver:   d.Resolver,
		policy:     d.Policy,
		em:         d.Events,
		emitter:    d.Emitter,
		logger:     d.Logger,
		now:        d.Now,
		provider:   d.PaymentProvider,
		sweepGrace: d.SweepGrace,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.emitter == nil {
		s.emitter = events.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.provider == "" {
		s.provider = models.PaymentProviderStripe
	}
	if s.sweepGrace <= 0 {
		s.sweepGrace = 10 * time.Minute
	}
	return s
}

// Result is the outcome of creating or rescheduling a booking.
type Result struct {
	Booking            *models.Booking            `json:"booking"`
	Series             []*models.Booking          `json:"series,omitempty"`
	Payment            *models.Payment            `json:"payment,omitempty"`
	Integrations       []eventmanager.EventResult `json:"integrations,omitempty"`
	IntegrationsFailed bool                       `json:"integrations_failed"`
}

func (s *Service) eventType(ctx context.Context, id uuid.UUID) (*models.EventType, error) {
	et, err := s.eventTypes.GetByID(ctx, id)
	if errors.Is(err, eventtypes.ErrNotFound) {
		return nil, ErrEventTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event type: %w", err)
	}
	return et, nil
}

// Create books a slot, or reschedules when the request names a booking to move.
func (s *Service) Create(ctx context.Context, req *Request) (res *Result, err error) {
	op := "create"
	if req.RescheduleUID != "" {
		op = "reschedule"
	}
	defer func() { metrics.ObserveBooking(op, err) }()

	et, err := s.eventType(ctx, req.EventTypeID)
	if err != nil {
		return nil, err
	}
	if err := Validate(req, et, s.now()); err != nil {
		return nil, err
	}
	if req.RescheduleUID != "" {
		return s.reschedule(ctx, et, req)
	}
	if et.IsSeated() {
		existing, err := s.store.FindAtSlot(ctx, et.ID, req.Start)
		if err != nil {
			return nil, fmt.Errorf("find seated booking: %w", err)
		}
		if existing != nil {
			return s.joinSeat(ctx, et, existing, req)
		}
	}

	candidates, err := s.eventTypes.HostUsers(ctx, et)
	if err != nil {
		return nil, fmt.Errorf("load hosts: %w", err)
	}
	starts, err := s.occurrenceStarts(et, req)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"recurring_count": err.Error()}}
	}
	var rc *availability.RecurringContext
	if len(starts) > 1 {
		rc = &availability.RecurringContext{Dates: starts}
	}
	available, err := s.resolver.Resolve(ctx, et, candidates, availability.Window{From: req.Start, To: req.End}, rc)
	if err != nil {
		return nil, err
	}
	hosts, err := s.policy.Select(ctx, available, et)
	if err != nil {
		return nil, err
	}
	if err := s.checkLimits(ctx, et, hosts, starts, ""); err != nil {
		return nil, err
	}

	series := s.newBookings(et, req, hosts, starts)
	if err := s.store.Create(ctx, series); err != nil {
		return nil, err
	}
	first := series[0]
	res = &Result{Booking: first}
	if len(series) > 1 {
		res.Series = series
	}
	s.logger.Info("booking created",
		zap.String("uid", first.UID),
		zap.String("organizer_id", first.UserID.String()),
		zap.Int("occurrences", len(series)),
		zap.String("status", string(first.Status)))

	switch {
	case et.IsPaid():
		payment := &models.Payment{
			BookingID: first.ID,
			Provider:  s.provider,
			Amount:    et.Price,
			Currency:  et.Currency,
			Status:    models.PaymentStatusPending,
		}
		if err := s.store.CreatePayment(ctx, payment); err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}
		first.Payments = append(first.Payments, *payment)
		res.Payment = payment
		s.emitter.Emit(ctx, events.New(models.TriggerBookingPaymentInitiated, first, map[string]any{"paymentId": payment.ID}))
	case et.RequiresConfirmation:
		s.emitter.Emit(ctx, events.New(models.TriggerBookingRequested, first, nil))
	default:
		out, err := s.createEvents(ctx, et, series)
		if err != nil {
			return nil, err
		}
		res.Integrations, res.IntegrationsFailed = out.Results, out.AllFailed()
		s.emitter.Emit(ctx, events.New(models.TriggerBookingCreated, first, seriesMetadata(series)))
	}
	return res, nil
}

func seriesMetadata(series []*models.Booking) map[string]any {
	if len(series) < 2 {
		return nil
	}
	uids := make([]string, len(series))
	for i, b := range series {
		uids[i] = b.UID
	}
	return map[string]any{"recurringBookingUids": uids}
}

// occurrenceStarts returns the start of every booking the request creates.
func (s *Service) occurrenceStarts(et *models.EventType, req *Request) ([]time.Time, error) {
	if req.RecurringCount <= 1 || et.Recurring == nil {
		return []time.Time{req.Start.UTC()}, nil
	}
	loc := time.UTC
	if req.TimeZone != "" {
		if l, err := time.LoadLocation(req.TimeZone); err == nil {
			loc = l
		}
	}
	occ, err := recurrence.NewEngine(loc).Generate(*et.Recurring, req.Start, req.End, req.RecurringCount)
	if err != nil {
		return nil, err
	}
	return recurrence.Starts(occ), nil
}

// idempotencyKey identifies a booking by slot and organizer, so the same slot cannot be booked twice.
func idempotencyKey(b *models.Booking) string {
	name := fmt.Sprintf("%s|%s|%s", b.StartTime.UTC().Format(time.RFC3339), b.EndTime.UTC().Format(time.RFC3339), b.UserID)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func (s *Service) attendeesFor(et *models.EventType, req *Request) []models.Attendee {
	tz := req.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	booker := models.Attendee{Name: strings.TrimSpace(req.Name), Email: strings.ToLower(req.Email), TimeZone: tz, Locale: req.Locale}
	if et.IsSeated() {
		booker.Seat = &models.BookingSeat{ReferenceUID: uuid.NewString()}
		return []models.Attendee{booker}
	}
	out := []models.Attendee{booker}
	for _, g := range req.Guests {
		if strings.EqualFold(g, req.Email) {
			continue
		}
		out = append(out, models.Attendee{Name: g, Email: strings.ToLower(g), TimeZone: tz, Locale: req.Locale})
	}
	return out
}

func (s *Service) newBookings(et *models.EventType, req *Request, hosts []models.HostUser, starts []time.Time) []*models.Booking {
	status := models.BookingStatusAccepted
	if et.RequiresConfirmation || et.IsPaid() {
		status = models.BookingStatusPending
	}
	hostIDs := make([]uuid.UUID, len(hosts))
	for i, h := range hosts {
		hostIDs[i] = h.User.ID
	}
	var recurringID *string
	if len(starts) > 1 {
		id := uuid.NewString()
		recurringID = &id
	}
	organizer := hosts[0].User
	out := make([]*models.Booking, len(starts))
	for i, st := range starts {
		etID := et.ID
		b := &models.Booking{
			UID:              uuid.NewString(),
			EventTypeID:      &etID,
			UserID:           organizer.ID,
			HostIDs:          hostIDs,
			Title:            fmt.Sprintf("%s between %s and %s", et.Title, organizer.FullName, strings.TrimSpace(req.Name)),
			Description:      req.Notes,
			StartTime:        st.UTC(),
			EndTime:          st.Add(et.Duration()).UTC(),
			Status:           status,
			Location:         resolveLocation(et, req.Location),
			RecurringEventID: recurringID,
			Metadata:         req.Metadata,
			Attendees:        s.attendeesFor(et, req),
		}
		b.IdempotencyKey = idempotencyKey(b)
		out[i] = b
	}
	return out
}

// scope binds the event manager to an organizer's credentials.
func (s *Service) scope(ctx context.Context, organizerID uuid.UUID) (*eventmanager.Scope, error) {
	creds, err := s.creds.ListByUser(ctx, organizerID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return s.em.For(creds), nil
}

// createEvents creates the external events of a new booking, or of a series once with the
// recurring rule, and writes the references to every occurrence.
func (s *Service) createEvents(ctx context.Context, et *models.EventType, series []*models.Booking) (eventmanager.CreateUpdateResult, error) {
	first := series[0]
	organizer, team, err := s.participants(ctx, first)
	if err != nil {
		return eventmanager.CreateUpdateResult{}, err
	}
	scope, err := s.scope(ctx, organizer.ID)
	if err != nil {
		return eventmanager.CreateUpdateResult{}, err
	}
	evt := buildEvent(et, first, organizer, team)
	if len(series) > 1 && et.Recurring != nil {
		rule := *et.Recurring
		rule.Count = len(series)
		evt.RecurringEvent = &rule
	}
	out, err := scope.Create(ctx, evt)
	if err != nil {
		return out, fmt.Errorf("create external events: %w", err)
	}
	for _, b := range series {
		if err := s.store.ReplaceReferences(ctx, b.ID, out.ReferencesToCreate); err != nil {
			return out, fmt.Errorf("save references: %w", err)
		}
	}
	s.reportFailures(ctx, first, out)
	return out, nil
}

// reportFailures logs failed integration calls and tells the organizer when all of them failed.
func (s *Service) reportFailures(ctx context.Context, b *models.Booking, out eventmanager.CreateUpdateResult) {
	failed := out.Failed()
	for _, f := range failed {
		s.logger.Warn("integration call failed",
			zap.String("uid", b.UID),
			zap.String("type", f.Type),
			zap.String("operation", f.Operation),
			zap.String("error", f.Error))
	}
	if out.AllFailed() {
		s.emitter.Emit(ctx, events.New(models.TriggerIntegrationFailed, b, map[string]any{"failures": failed}))
	}
}

// joinSeat adds the booker to an existing seated booking at the requested slot.
func (s *Service) joinSeat(ctx context.Context, et *models.EventType, b *models.Booking, req *Request) (*Result, error) {
	if b.HasAttendee(req.Email) {
		return nil, fmt.Errorf("%w: %s already holds a seat", ErrBookingConflict, req.Email)
	}
	attendee := s.attendeesFor(et, req)[0]
	if err := s.store.AddAttendee(ctx, b.ID, &attendee, *et.SeatsPerTimeSlot); err != nil {
		return nil, err
	}
	b.Attendees = append(b.Attendees, attendee)
	res := &Result{Booking: b}
	meta := map[string]any{"seatReferenceUid": attendee.Seat.ReferenceUID, "attendee": attendee.Email}

	if b.Status == models.BookingStatusAccepted {
		out, err := s.refreshAttendees(ctx, et, b)
		if err != nil {
			return nil, err
		}
		res.Integrations, res.IntegrationsFailed = out.Results, out.AllFailed()
	}
	s.emitter.Emit(ctx, events.New(models.TriggerBookingCreated, b, meta))
	return res, nil
}

// refreshAttendees pushes a booking's current attendee list to its calendars.
func (s *Service) refreshAttendees(ctx context.Context, et *models.EventType, b *models.Booking) (eventmanager.CreateUpdateResult, error) {
	organizer, team, err := s.participants(ctx, b)
	if err != nil {
		return eventmanager.CreateUpdateResult{}, err
	}
	scope, err := s.scope(ctx, organizer.ID)
	if err != nil {
		return eventmanager.CreateUpdateResult{}, err
	}
	out, err := scope.UpdateCalendarAttendees(ctx, buildEvent(et, b, organizer, team), b)
	if err != nil {
		return out, fmt.Errorf("update attendees: %w", err)
	}
	if err := s.store.ReplaceReferences(ctx, b.ID, out.ReferencesToCreate); err != nil {
		return out, fmt.Errorf("save references: %w", err)
	}
	s.reportFailures(ctx, b, out)
	return out, nil
}

// Get returns a booking by uid.
func (s *Service) Get(ctx context.Context, uid string) (*models.Booking, error) {
	return s.store.GetByUID(ctx, uid)
}
