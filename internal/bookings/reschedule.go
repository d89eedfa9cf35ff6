package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/availability"
	"github.com/aura-booking/backend/internal/eventmanager"
	"github.com/aura-booking/backend/internal/events"
	"github.com/aura-booking/backend/internal/models"
)

func referencesOf(b *models.Booking) []models.PartialReference {
	out := make([]models.PartialReference, len(b.References))
	for i, r := range b.References {
		out[i] = r.Partial()
	}
	return out
}

// originalHosts returns the original booking's hosts, organizer first, when every one of them
// is in available. It returns nil otherwise.
func originalHosts(original *models.Booking, available []models.HostUser) []models.HostUser {
	byID := make(map[uuid.UUID]models.HostUser, len(available))
	for _, h := range available {
		byID[h.User.ID] = h
	}
	organizer, ok := byID[original.UserID]
	if !ok {
		return nil
	}
	out := []models.HostUser{organizer}
	for _, id := range original.HostIDs {
		if id == original.UserID {
			continue
		}
		h, ok := byID[id]
		if !ok {
			return nil
		}
		out = append(out, h)
	}
	return out
}

// freeHosts resolves the hosts for moving original to [start, end). The original hosts are kept
// when they are all free; otherwise hosts are selected again unless keepOnly is set.
func (s *Service) freeHosts(ctx context.Context, et *models.EventType, original *models.Booking, start, end time.Time, keepOnly bool) ([]models.HostUser, error) {
	candidates, err := s.eventTypes.HostUsers(ctx, et)
	if err != nil {
		return nil, fmt.Errorf("load hosts: %w", err)
	}
	available, err := s.resolver.Resolve(ctx, et, candidates, availability.Window{From: start, To: end}, nil,
		availability.IgnoreBooking(original.UID))
	if err != nil {
		return nil, err
	}
	if hosts := originalHosts(original, available); hosts != nil {
		return hosts, nil
	}
	if keepOnly {
		return nil, availability.ErrNoAvailableHosts
	}
	return s.policy.Select(ctx, available, et)
}

// reschedule moves a booking to the requested slot as a new booking that replaces it.
func (s *Service) reschedule(ctx context.Context, et *models.EventType, req *Request) (*Result, error) {
	original, err := s.store.GetByUID(ctx, req.RescheduleUID)
	if err != nil {
		return nil, err
	}
	if !original.IsLive() {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidTransition, original.Status)
	}
	if original.EventTypeID == nil || *original.EventTypeID != et.ID {
		return nil, &ValidationError{Fields: map[string]string{"event_type_id": "does not match the booking being rescheduled"}}
	}
	if et.IsSeated() {
		return s.rescheduleSeated(ctx, et, original, req)
	}

	hosts, err := s.freeHosts(ctx, et, original, req.Start, req.End, false)
	if err != nil {
		return nil, err
	}
	if err := s.checkLimits(ctx, et, hosts, []time.Time{req.Start.UTC()}, original.UID); err != nil {
		return nil, err
	}

	shared, err := s.sharesSeriesEvents(ctx, original)
	if err != nil {
		return nil, err
	}
	b := successor(original, hosts, req.Start, req.End)
	if shared {
		// The series event stays with the other occurrences; the moved one stands alone.
		b.RecurringEventID = nil
	}
	if req.Location != "" {
		b.Location = resolveLocation(et, req.Location)
	}
	if err := s.store.CreateRescheduled(ctx, b, original); err != nil {
		return nil, err
	}
	s.logger.Info("booking rescheduled",
		zap.String("uid", b.UID),
		zap.String("from_uid", original.UID),
		zap.Bool("organizer_changed", b.UserID != original.UserID))

	res := &Result{Booking: b}
	if b.Status == models.BookingStatusAccepted {
		out, err := s.moveEvents(ctx, et, original, b, shared)
		if err != nil {
			return nil, err
		}
		res.Integrations, res.IntegrationsFailed = out.Results, out.AllFailed()
	}
	if len(original.Payments) > 0 {
		if err := s.store.MovePayments(ctx, original.ID, b.ID); err != nil {
			return nil, fmt.Errorf("move payments: %w", err)
		}
	}
	s.emitter.Emit(ctx, events.New(models.TriggerBookingRescheduled, b, map[string]any{"rescheduleUid": original.UID}))
	return res, nil
}

// successor builds the booking that replaces original at a new slot.
func successor(original *models.Booking, hosts []models.HostUser, start, end time.Time) *models.Booking {
	hostIDs := make([]uuid.UUID, len(hosts))
	for i, h := range hosts {
		hostIDs[i] = h.User.ID
	}
	from := original.UID
	b := &models.Booking{
		UID:              uuid.NewString(),
		EventTypeID:      original.EventTypeID,
		UserID:           hosts[0].User.ID,
		HostIDs:          hostIDs,
		Title:            original.Title,
		Description:      original.Description,
		StartTime:        start.UTC(),
		EndTime:          end.UTC(),
		Status:           original.Status,
		Location:         original.Location,
		RecurringEventID: original.RecurringEventID,
		FromReschedule:   &from,
		Paid:             original.Paid,
		Metadata:         original.Metadata,
	}
	for _, a := range original.Attendees {
		b.Attendees = append(b.Attendees, models.Attendee{Name: a.Name, Email: a.Email, TimeZone: a.TimeZone, Locale: a.Locale})
	}
	b.IdempotencyKey = idempotencyKey(b)
	return b
}

// sharesSeriesEvents reports whether another live occurrence of b's series still holds one of
// b's external events.
func (s *Service) sharesSeriesEvents(ctx context.Context, b *models.Booking) (bool, error) {
	if b.RecurringEventID == nil || len(b.References) == 0 {
		return false, nil
	}
	all, err := s.store.ListRecurring(ctx, *b.RecurringEventID)
	if err != nil {
		return false, fmt.Errorf("load series: %w", err)
	}
	mine := make(map[string]struct{}, len(b.References))
	for _, r := range b.References {
		mine[r.Type+"/"+r.UID] = struct{}{}
	}
	for _, o := range all {
		if o.ID == b.ID || !o.IsLive() {
			continue
		}
		for _, r := range o.References {
			if _, ok := mine[r.Type+"/"+r.UID]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// moveEvents transfers the external events of original to b. With an unchanged organizer the
// events are updated in place; otherwise they are deleted with the old organizer's credentials
// and created with the new one's. References the deletion could not clear stay on original.
// When shared, original's events belong to the rest of its series: they are left untouched and
// b gets events of its own.
func (s *Service) moveEvents(ctx context.Context, et *models.EventType, original, b *models.Booking, shared bool) (eventmanager.CreateUpdateResult, error) {
	organizer, team, err := s.participants(ctx, b)
	if err != nil {
		return eventmanager.CreateUpdateResult{}, err
	}
	scope, err := s.scope(ctx, organizer.ID)
	if err != nil {
		return eventmanager.CreateUpdateResult{}, err
	}
	evt := buildEvent(et, b, organizer, team)

	var out eventmanager.CreateUpdateResult
	var leftover []models.PartialReference
	switch {
	case shared:
		out, err = scope.Create(ctx, evt)
		if err != nil {
			return out, fmt.Errorf("create external events: %w", err)
		}
	case b.UserID == original.UserID:
		out, err = scope.Reschedule(ctx, evt, original.UID, nil)
		if err != nil {
			return out, fmt.Errorf("reschedule external events: %w", err)
		}
	default:
		oldScope, err := s.scope(ctx, original.UserID)
		if err != nil {
			return out, err
		}
		leftover = eventmanager.BuildReferences(oldScope.DeleteEvents(ctx, evt, referencesOf(original)))
		out, err = scope.Create(ctx, evt)
		if err != nil {
			return out, fmt.Errorf("create external events: %w", err)
		}
	}
	if err := s.store.ReplaceReferences(ctx, b.ID, out.ReferencesToCreate); err != nil {
		return out, fmt.Errorf("save references: %w", err)
	}
	if err := s.store.ReplaceReferences(ctx, original.ID, leftover); err != nil {
		return out, fmt.Errorf("release references: %w", err)
	}
	s.reportFailures(ctx, b, out)
	return out, nil
}

func (s *Service) rescheduleSeated(ctx context.Context, et *models.EventType, original *models.Booking, req *Request) (*Result, error) {
	var attendee *models.Attendee
	if req.SeatReferenceUID != "" {
		attendee = original.AttendeeBySeat(req.SeatReferenceUID)
		if attendee == nil {
			return nil, fmt.Errorf("%w: seat %s", ErrBookingNotFound, req.SeatReferenceUID)
		}
	}
	target, err := s.store.FindAtSlot(ctx, et.ID, req.Start)
	if err != nil {
		return nil, fmt.Errorf("find seated booking: %w", err)
	}
	if target != nil && target.ID == original.ID {
		return &Result{Booking: original}, nil
	}
	if target == nil {
		if _, err := s.freeHosts(ctx, et, original, req.Start, req.End, true); err != nil {
			return nil, err
		}
	}
	return s.HandleSeatedReschedule(ctx, et, original, target, attendee, req.Start, req.End)
}

// HandleSeatedReschedule moves a seated booking, or one attendee of it, to [start, end).
// target is the booking already holding that slot, if any. Without an attendee the whole
// booking moves: in place when the slot is free, merged into target otherwise.
func (s *Service) HandleSeatedReschedule(ctx context.Context, et *models.EventType, original, target *models.Booking, attendee *models.Attendee, start, end time.Time) (*Result, error) {
	switch {
	case attendee != nil:
		return s.moveAttendee(ctx, et, original, target, attendee, start, end)
	case target != nil:
		return s.mergeInto(ctx, et, original, target)
	default:
		return s.moveInPlace(ctx, et, original, start, end)
	}
}

func (s *Service) moveInPlace(ctx context.Context, et *models.EventType, b *models.Booking, start, end time.Time) (*Result, error) {
	if err := s.store.UpdateTimes(ctx, b, start.UTC(), end.UTC()); err != nil {
		return nil, err
	}
	res := &Result{Booking: b}
	if b.Status == models.BookingStatusAccepted {
		organizer, team, err := s.participants(ctx, b)
		if err != nil {
			return nil, err
		}
		scope, err := s.scope(ctx, organizer.ID)
		if err != nil {
			return nil, err
		}
		out, err := scope.Reschedule(ctx, buildEvent(et, b, organizer, team), b.UID, nil)
		if err != nil {
			return nil, fmt.Errorf("reschedule external events: %w", err)
		}
		if err := s.store.ReplaceReferences(ctx, b.ID, out.ReferencesToCreate); err != nil {
			return nil, fmt.Errorf("save references: %w", err)
		}
		s.reportFailures(ctx, b, out)
		res.Integrations, res.IntegrationsFailed = out.Results, out.AllFailed()
	}
	s.emitter.Emit(ctx, events.New(models.TriggerBookingRescheduled, b, map[string]any{"rescheduleUid": b.UID}))
	return res, nil
}

// mergeInto moves every attendee of original into target and retires original. Attendees already
// on target are dropped. Nothing changes when the merged booking would exceed its seats.
func (s *Service) mergeInto(ctx context.Context, et *models.EventType, original, target *models.Booking) (*Result, error) {
	var move, remove []uuid.UUID
	for _, a := range original.Attendees {
		if target.HasAttendee(a.Email) {
			remove = append(remove, a.ID)
		} else {
			move = append(move, a.ID)
		}
	}
	if len(target.Attendees)+len(move) > *et.SeatsPerTimeSlot {
		return nil, fmt.Errorf("%w: %d seats", ErrBookingFull, *et.SeatsPerTimeSlot)
	}
	if _, err := s.store.MoveAttendees(ctx, original.ID, target.ID, move, remove, *et.SeatsPerTimeSlot); err != nil {
		return nil, err
	}

	if len(original.References) > 0 {
		organizer, team, err := s.participants(ctx, original)
		if err != nil {
			return nil, err
		}
		scope, err := s.scope(ctx, organizer.ID)
		if err != nil {
			return nil, err
		}
		out, err := scope.Reschedule(ctx, buildEvent(et, original, organizer, team), original.UID, &target.ID)
		if err != nil {
			return nil, fmt.Errorf("delete merged events: %w", err)
		}
		if err := s.store.ReplaceReferences(ctx, original.ID, out.ReferencesToCreate); err != nil {
			return nil, fmt.Errorf("release references: %w", err)
		}
	} else if len(original.Payments) > 0 {
		if err := s.store.MovePayments(ctx, original.ID, target.ID); err != nil {
			return nil, fmt.Errorf("move payments: %w", err)
		}
	}
	if err := s.store.SetStatus(ctx, original, models.BookingStatusCancelled, "merged into "+target.UID); err != nil {
		return nil, err
	}

	merged, err := s.store.GetByUID(ctx, target.UID)
	if err != nil {
		return nil, err
	}
	res := &Result{Booking: merged}
	if merged.Status == models.BookingStatusAccepted {
		out, err := s.refreshAttendees(ctx, et, merged)
		if err != nil {
			return nil, err
		}
		res.Integrations, res.IntegrationsFailed = out.Results, out.AllFailed()
	}
	s.logger.Info("seated bookings merged", zap.String("from_uid", original.UID), zap.String("into_uid", merged.UID),
		zap.Int("moved", len(move)), zap.Int("dropped", len(remove)))
	s.emitter.Emit(ctx, events.New(models.TriggerBookingRescheduled, merged, map[string]any{"rescheduleUid": original.UID}))
	return res, nil
}

// moveAttendee moves one seat of original to target, or to a new booking when the slot is free.
// An original left without attendees is removed with its external events.
func (s *Service) moveAttendee(ctx context.Context, et *models.EventType, original, target *models.Booking, attendee *models.Attendee, start, end time.Time) (*Result, error) {
	res := &Result{}
	var left int
	if target != nil {
		if target.HasAttendee(attendee.Email) {
			return nil, fmt.Errorf("%w: %s already holds a seat", ErrBookingConflict, attendee.Email)
		}
		if len(target.Attendees)+1 > *et.SeatsPerTimeSlot {
			return nil, fmt.Errorf("%w: %d seats", ErrBookingFull, *et.SeatsPerTimeSlot)
		}
		n, err := s.store.MoveAttendees(ctx, original.ID, target.ID, []uuid.UUID{attendee.ID}, nil, *et.SeatsPerTimeSlot)
		if err != nil {
			return nil, err
		}
		left = n
		moved, err := s.store.GetByUID(ctx, target.UID)
		if err != nil {
			return nil, err
		}
		res.Booking = moved
		if moved.Status == models.BookingStatusAccepted {
			out, err := s.refreshAttendees(ctx, et, moved)
			if err != nil {
				return nil, err
			}
			res.Integrations, res.IntegrationsFailed = out.Results, out.AllFailed()
		}
	} else {
		hosts := make([]models.HostUser, 0, len(original.HostIDs)+1)
		hosts = append(hosts, models.HostUser{User: models.User{ID: original.UserID}})
		for _, id := range original.HostIDs {
			if id != original.UserID {
				hosts = append(hosts, models.HostUser{User: models.User{ID: id}})
			}
		}
		fresh := successor(original, hosts, start, end)
		fresh.Attendees = nil
		fresh.Paid = false
		if err := s.store.Create(ctx, []*models.Booking{fresh}); err != nil {
			return nil, err
		}
		n, err := s.store.MoveAttendees(ctx, original.ID, fresh.ID, []uuid.UUID{attendee.ID}, nil, *et.SeatsPerTimeSlot)
		if err != nil {
			return nil, err
		}
		left = n
		fresh.Attendees = []models.Attendee{*attendee}
		res.Booking = fresh
		if fresh.Status == models.BookingStatusAccepted {
			out, err := s.createEvents(ctx, et, []*models.Booking{fresh})
			if err != nil {
				return nil, err
			}
			res.Integrations, res.IntegrationsFailed = out.Results, out.AllFailed()
		}
	}

	if err := s.shrink(ctx, et, original, left); err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, events.New(models.TriggerBookingRescheduled, res.Booking, map[string]any{
		"rescheduleUid":    original.UID,
		"seatReferenceUid": attendee.Seat.ReferenceUID,
	}))
	return res, nil
}

// shrink updates original after an attendee left it, remaining attendees counted by the store.
// Emptied bookings are deleted once their external events are gone; if some deletions fail the
// booking is cancelled instead and keeps those references for the sweep.
func (s *Service) shrink(ctx context.Context, et *models.EventType, original *models.Booking, remaining int) error {
	if remaining > 0 {
		current, err := s.store.GetByUID(ctx, original.UID)
		if err != nil {
			return err
		}
		if current.Status != models.BookingStatusAccepted {
			return nil
		}
		_, err = s.refreshAttendees(ctx, et, current)
		return err
	}

	var leftover []models.PartialReference
	if len(original.References) > 0 {
		organizer, team, err := s.participants(ctx, original)
		if err != nil {
			return err
		}
		scope, err := s.scope(ctx, organizer.ID)
		if err != nil {
			return err
		}
		leftover = eventmanager.BuildReferences(scope.DeleteEvents(ctx, buildEvent(et, original, organizer, team), referencesOf(original)))
	}
	if len(leftover) == 0 {
		return s.store.Delete(ctx, original.ID)
	}
	if err := s.store.ReplaceReferences(ctx, original.ID, leftover); err != nil {
		return fmt.Errorf("keep undeleted references: %w", err)
	}
	err := s.store.SetStatus(ctx, original, models.BookingStatusCancelled, "all attendees moved")
	if errors.Is(err, ErrConcurrentModification) {
		s.logger.Warn("emptied booking changed concurrently", zap.String("uid", original.UID))
		return nil
	}
	return err
}
