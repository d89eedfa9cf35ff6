package bookings

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/eventmanager"
	"github.com/aura-booking/backend/internal/events"
	"github.com/aura-booking/backend/internal/metrics"
	"github.com/aura-booking/backend/internal/models"
)

// CancelRequest is the body of a cancellation.
type CancelRequest struct {
	Reason           string `json:"reason"`
	SeatReferenceUID string `json:"seat_reference_uid"`
	// AllRemaining cancels every upcoming occurrence of a recurring booking.
	AllRemaining bool `json:"all_remaining"`
}

func (s *Service) eventTypeOf(ctx context.Context, b *models.Booking) (*models.EventType, error) {
	if b.EventTypeID == nil {
		return &models.EventType{Title: b.Title}, nil
	}
	return s.eventType(ctx, *b.EventTypeID)
}

// series returns the occurrences of b's recurring series in status, or b alone.
func (s *Service) series(ctx context.Context, b *models.Booking, status models.BookingStatus) ([]*models.Booking, error) {
	if b.RecurringEventID == nil {
		return []*models.Booking{b}, nil
	}
	all, err := s.store.ListRecurring(ctx, *b.RecurringEventID)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}
	out := []*models.Booking{b}
	for i := range all {
		if all[i].ID != b.ID && all[i].Status == status {
			out = append(out, &all[i])
		}
	}
	return out, nil
}

// Cancel cancels a booking, one seat of it, or the rest of its recurring series.
func (s *Service) Cancel(ctx context.Context, uid string, req CancelRequest) (b *models.Booking, err error) {
	defer func() { metrics.ObserveBooking("cancel", err) }()

	b, err = s.store.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !b.IsLive() {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidTransition, b.Status)
	}
	et, err := s.eventTypeOf(ctx, b)
	if err != nil {
		return nil, err
	}
	if req.SeatReferenceUID != "" {
		return s.cancelSeat(ctx, et, b, req)
	}

	targets := []*models.Booking{b}
	shared := false
	if b.RecurringEventID != nil {
		all, err := s.store.ListRecurring(ctx, *b.RecurringEventID)
		if err != nil {
			return nil, fmt.Errorf("load series: %w", err)
		}
		now := s.now()
		for i := range all {
			o := &all[i]
			if o.ID == b.ID || !o.IsLive() {
				continue
			}
			if req.AllRemaining && !o.StartTime.Before(now) {
				targets = append(targets, o)
			} else {
				shared = true
			}
		}
	}

	// Occurrences of a series share their external events; they are deleted only when no live
	// occurrence is left holding them.
	var leftover []models.PartialReference
	if !shared && len(b.References) > 0 {
		leftover, err = s.deleteExternal(ctx, et, b)
		if err != nil {
			return nil, err
		}
	}
	uids := make([]string, 0, len(targets))
	for i, t := range targets {
		if err := s.store.SetStatus(ctx, t, models.BookingStatusCancelled, req.Reason); err != nil {
			return nil, err
		}
		keep := leftover
		if i > 0 {
			keep = nil
		}
		if err := s.store.ReplaceReferences(ctx, t.ID, keep); err != nil {
			return nil, fmt.Errorf("release references: %w", err)
		}
		uids = append(uids, t.UID)
	}
	s.logger.Info("booking cancelled", zap.String("uid", b.UID), zap.Int("occurrences", len(uids)))

	var meta map[string]any
	if len(uids) > 1 {
		meta = map[string]any{"cancelledUids": uids}
	}
	s.emitter.Emit(ctx, events.New(models.TriggerBookingCancelled, b, meta))
	return b, nil
}

// deleteExternal deletes b's external events and returns the references that survived.
func (s *Service) deleteExternal(ctx context.Context, et *models.EventType, b *models.Booking) ([]models.PartialReference, error) {
	organizer, team, err := s.participants(ctx, b)
	if err != nil {
		return nil, err
	}
	scope, err := s.scope(ctx, organizer.ID)
	if err != nil {
		return nil, err
	}
	results := scope.DeleteEvents(ctx, buildEvent(et, b, organizer, team), referencesOf(b))
	s.reportFailures(ctx, b, eventmanager.CreateUpdateResult{Results: results})
	return eventmanager.BuildReferences(results), nil
}

func (s *Service) cancelSeat(ctx context.Context, et *models.EventType, b *models.Booking, req CancelRequest) (*models.Booking, error) {
	attendee := b.AttendeeBySeat(req.SeatReferenceUID)
	if attendee == nil {
		return nil, fmt.Errorf("%w: seat %s", ErrBookingNotFound, req.SeatReferenceUID)
	}
	if len(b.Attendees) == 1 {
		return s.Cancel(ctx, b.UID, CancelRequest{Reason: req.Reason})
	}
	left, err := s.store.RemoveAttendee(ctx, b.ID, attendee.ID)
	if err != nil {
		return nil, fmt.Errorf("remove attendee: %w", err)
	}
	if left == 0 {
		// Concurrent seat cancellations took the other attendees.
		return s.Cancel(ctx, b.UID, CancelRequest{Reason: req.Reason})
	}
	current, err := s.store.GetByUID(ctx, b.UID)
	if err != nil {
		return nil, err
	}
	if current.Status == models.BookingStatusAccepted {
		if _, err := s.refreshAttendees(ctx, et, current); err != nil {
			return nil, err
		}
	}
	s.emitter.Emit(ctx, events.New(models.TriggerBookingCancelled, current, map[string]any{
		"seatReferenceUid": req.SeatReferenceUID,
		"attendee":         attendee.Email,
	}))
	return current, nil
}

// pendingFor loads a pending booking the caller organizes.
func (s *Service) pendingFor(ctx context.Context, uid string, callerID uuid.UUID) (*models.Booking, error) {
	b, err := s.store.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if b.UserID != callerID {
		return nil, ErrForbidden
	}
	if b.Status != models.BookingStatusPending {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidTransition, b.Status)
	}
	return b, nil
}

// accept moves pending bookings to ACCEPTED and creates their external events.
func (s *Service) accept(ctx context.Context, et *models.EventType, series []*models.Booking) (*Result, error) {
	for _, o := range series {
		if err := s.store.SetStatus(ctx, o, models.BookingStatusAccepted, ""); err != nil {
			return nil, err
		}
	}
	out, err := s.createEvents(ctx, et, series)
	if err != nil {
		return nil, err
	}
	first := series[0]
	s.emitter.Emit(ctx, events.New(models.TriggerBookingCreated, first, seriesMetadata(series)))
	res := &Result{Booking: first, Integrations: out.Results, IntegrationsFailed: out.AllFailed()}
	if len(series) > 1 {
		res.Series = series
	}
	return res, nil
}

// Confirm accepts a booking awaiting the organizer, with the rest of its series.
func (s *Service) Confirm(ctx context.Context, uid string, callerID uuid.UUID) (res *Result, err error) {
	defer func() { metrics.ObserveBooking("confirm", err) }()

	b, err := s.pendingFor(ctx, uid, callerID)
	if err != nil {
		return nil, err
	}
	et, err := s.eventTypeOf(ctx, b)
	if err != nil {
		return nil, err
	}
	series, err := s.series(ctx, b, models.BookingStatusPending)
	if err != nil {
		return nil, err
	}
	if et.IsPaid() && !anyPaid(series) {
		return nil, fmt.Errorf("%w: payment pending", ErrInvalidTransition)
	}
	return s.accept(ctx, et, series)
}

func anyPaid(series []*models.Booking) bool {
	for _, b := range series {
		if b.Paid {
			return true
		}
	}
	return false
}

// Reject declines a booking awaiting the organizer, with the rest of its series.
func (s *Service) Reject(ctx context.Context, uid string, callerID uuid.UUID, reason string) (b *models.Booking, err error) {
	defer func() { metrics.ObserveBooking("reject", err) }()

	b, err = s.pendingFor(ctx, uid, callerID)
	if err != nil {
		return nil, err
	}
	series, err := s.series(ctx, b, models.BookingStatusPending)
	if err != nil {
		return nil, err
	}
	for _, o := range series {
		if err := s.store.SetStatus(ctx, o, models.BookingStatusRejected, reason); err != nil {
			return nil, err
		}
	}
	s.emitter.Emit(ctx, events.New(models.TriggerBookingRejected, b, map[string]any{"reason": reason}))
	return b, nil
}

// MarkPaid records a completed payment. Bookings that need no confirmation are accepted;
// the others move on to the organizer. Repeated callbacks are no-ops.
func (s *Service) MarkPaid(ctx context.Context, uid, providerPaymentID string) (res *Result, err error) {
	defer func() { metrics.ObserveBooking("payment", err) }()

	b, err := s.store.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if b.Paid {
		return &Result{Booking: b}, nil
	}
	if !b.IsLive() {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidTransition, b.Status)
	}
	var payment *models.Payment
	for i := range b.Payments {
		if b.Payments[i].Status == models.PaymentStatusPending {
			payment = &b.Payments[i]
			break
		}
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: no pending payment", ErrInvalidTransition)
	}
	if err := s.store.MarkPaid(ctx, b, payment.ID, providerPaymentID); err != nil {
		return nil, err
	}
	s.logger.Info("booking paid", zap.String("uid", b.UID), zap.String("provider_payment_id", providerPaymentID))

	et, err := s.eventTypeOf(ctx, b)
	if err != nil {
		return nil, err
	}
	if et.RequiresConfirmation || b.Status == models.BookingStatusAccepted {
		if b.Status == models.BookingStatusPending {
			s.emitter.Emit(ctx, events.New(models.TriggerBookingRequested, b, nil))
		}
		return &Result{Booking: b}, nil
	}
	series, err := s.series(ctx, b, models.BookingStatusPending)
	if err != nil {
		return nil, err
	}
	return s.accept(ctx, et, series)
}

// UpdateLocation moves a booking to another location and updates its external events.
func (s *Service) UpdateLocation(ctx context.Context, uid string, callerID uuid.UUID, location string) (*Result, error) {
	b, err := s.store.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if b.UserID != callerID {
		return nil, ErrForbidden
	}
	if !b.IsLive() {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidTransition, b.Status)
	}
	et, err := s.eventTypeOf(ctx, b)
	if err != nil {
		return nil, err
	}
	if location == "" || (len(et.Locations) > 0 && !offersLocation(et, location)) {
		return nil, &ValidationError{Fields: map[string]string{"location": "not offered by this event type"}}
	}
	if err := s.store.SetLocation(ctx, b, resolveLocation(et, location)); err != nil {
		return nil, err
	}
	res := &Result{Booking: b}
	if b.Status != models.BookingStatusAccepted {
		return res, nil
	}
	organizer, team, err := s.participants(ctx, b)
	if err != nil {
		return nil, err
	}
	scope, err := s.scope(ctx, organizer.ID)
	if err != nil {
		return nil, err
	}
	out, err := scope.UpdateLocation(ctx, buildEvent(et, b, organizer, team), b)
	if err != nil {
		return nil, fmt.Errorf("update location: %w", err)
	}
	if err := s.store.ReplaceReferences(ctx, b.ID, out.ReferencesToCreate); err != nil {
		return nil, fmt.Errorf("save references: %w", err)
	}
	s.reportFailures(ctx, b, out)
	res.Integrations, res.IntegrationsFailed = out.Results, out.AllFailed()
	return res, nil
}

// SweepStale retries the external deletions of cancelled bookings that still hold references.
// It returns how many bookings were released completely.
func (s *Service) SweepStale(ctx context.Context, limit int) (int, error) {
	stale, err := s.store.ListCancelledWithReferences(ctx, s.now().Add(-s.sweepGrace), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale bookings: %w", err)
	}
	released := 0
	for i := range stale {
		b := &stale[i]
		et, err := s.eventTypeOf(ctx, b)
		if err != nil {
			s.logger.Warn("sweep: event type unavailable", zap.String("uid", b.UID), zap.Error(err))
			et = &models.EventType{Title: b.Title}
		}
		leftover, err := s.deleteExternal(ctx, et, b)
		if err != nil {
			s.logger.Warn("sweep: delete failed", zap.String("uid", b.UID), zap.Error(err))
			continue
		}
		if err := s.store.ReplaceReferences(ctx, b.ID, leftover); err != nil {
			return released, fmt.Errorf("release references of %s: %w", b.UID, err)
		}
		if len(leftover) == 0 {
			released++
		}
	}
	if len(stale) > 0 {
		s.logger.Info("stale references swept", zap.Int("bookings", len(stale)), zap.Int("released", released))
	}
	return released, nil
}
