package eventmanager

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/integrations"
	"github.com/aura-booking/backend/internal/models"
)

type calendarTarget struct {
	cred       models.Credential
	externalID string
}

// Create makes the external events of a new booking: the dedicated meeting first, then
// every calendar concurrently. It fails only for non-integration errors.
func (s *Scope) Create(ctx context.Context, in *integrations.CalendarEvent) (CreateUpdateResult, error) {
	evt := in.Clone()
	s.resolveLocation(evt)

	var results []EventResult
	if s.m.registry.IsDedicatedLocation(evt.Location) {
		video := s.createVideo(ctx, evt)
		results = append(results, video)
		patchVideo(evt, video)
	}
	results = append(results, s.createAllCalendarEvents(ctx, evt)...)
	return CreateUpdateResult{Results: results, ReferencesToCreate: BuildReferences(results)}, nil
}

func (s *Scope) createVideo(ctx context.Context, evt *integrations.CalendarEvent) EventResult {
	app, _ := s.m.registry.VideoAppForLocation(evt.Location)
	res := EventResult{Type: app.Type, AppName: app.Name, Operation: OpCreate}
	cred, ok := s.videoCredential(app)
	if !ok {
		s.m.logger.Warn("no credential for video app", zap.String("type", app.Type))
		return failed(res, fmt.Errorf("no credential for %s", app.Type))
	}
	res.CredentialID = credentialIDPtr(cred)
	adapter, err := s.m.registry.Video(*cred)
	if err != nil {
		return failed(res, err)
	}
	var pe *integrations.ProviderEvent
	err = s.m.invoke(ctx, *cred, "create_meeting", func(ctx context.Context) error {
		var callErr error
		pe, callErr = adapter.CreateMeeting(ctx, evt)
		return callErr
	})
	if err != nil {
		s.m.logger.Warn("video meeting creation failed", zap.String("type", app.Type), zap.Error(err))
		return failed(res, err)
	}
	res.Success = true
	res.CreatedEvent = pe
	res.UID = pe.ID
	return res
}

// calendarTargets lists the calendars to write: each distinct destination (or the first
// calendar credential when none is set) plus every other-calendar credential.
func (s *Scope) calendarTargets(ctx context.Context, evt *integrations.CalendarEvent) []calendarTarget {
	var targets []calendarTarget
	seen := make(map[string]struct{})
	add := func(cred models.Credential, externalID string) {
		key := cred.ID.String() + "|" + externalID
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		targets = append(targets, calendarTarget{cred: cred, externalID: externalID})
	}

	if len(evt.DestinationCalendars) > 0 {
		for _, d := range evt.DestinationCalendars {
			var cred *models.Credential
			if d.CredentialID != nil {
				cred, _ = s.credentialByID(ctx, *d.CredentialID)
			} else if c, ok := s.credentialByType(d.Integration); ok {
				cred = &c
			}
			if cred == nil || cred.Invalid {
				s.m.logger.Warn("destination calendar has no usable credential",
					zap.String("integration", d.Integration), zap.String("external_id", d.ExternalID))
				continue
			}
			add(*cred, d.ExternalID)
		}
	} else if first, ok := s.firstCalendarCredential(); ok {
		add(first, "")
	}

	for _, c := range s.creds {
		app, ok := s.m.registry.App(c.Type)
		if ok && app.Kind == integrations.KindOtherCalendar && !c.Invalid {
			add(c, "")
		}
	}
	return targets
}

func (s *Scope) createAllCalendarEvents(ctx context.Context, evt *integrations.CalendarEvent) []EventResult {
	targets := s.calendarTargets(ctx, evt)
	return fanOut(len(targets), func(i int) EventResult {
		return s.createCalendarEvent(ctx, evt.Clone(), targets[i])
	})
}

func (s *Scope) createCalendarEvent(ctx context.Context, evt *integrations.CalendarEvent, t calendarTarget) EventResult {
	cred := t.cred
	res := EventResult{
		Type:               cred.Type,
		AppName:            s.m.registry.Name(cred.Type),
		Operation:          OpCreate,
		CredentialID:       credentialIDPtr(&cred),
		ExternalCalendarID: t.externalID,
	}
	adapter, err := s.m.registry.Calendar(cred)
	if err != nil {
		return failed(res, err)
	}
	var pe *integrations.ProviderEvent
	err = s.m.invoke(ctx, cred, "create_event", func(ctx context.Context) error {
		var callErr error
		pe, callErr = adapter.CreateEvent(ctx, evt, cred.ID)
		return callErr
	})
	if err != nil {
		s.m.logger.Warn("calendar event creation failed", zap.String("type", cred.Type),
			zap.String("credential_id", cred.ID.String()), zap.Error(err))
		return failed(res, err)
	}
	res.Success = true
	res.CreatedEvent = pe
	res.UID = pe.ID
	res.ICalUID = pe.ICalUID
	if pe.ExternalCalendarID != "" {
		res.ExternalCalendarID = pe.ExternalCalendarID
	}
	return res
}

// Reschedule moves the external events of the booking with rescheduleUID to the event's new time.
// With newBookingID the booking is being merged into another one: its events are deleted
// instead and its payments follow the merge.
func (s *Scope) Reschedule(ctx context.Context, in *integrations.CalendarEvent, rescheduleUID string, newBookingID *uuid.UUID) (CreateUpdateResult, error) {
	booking, err := s.m.bookings.FindByUID(ctx, rescheduleUID)
	if err != nil {
		return CreateUpdateResult{}, fmt.Errorf("load booking %s: %w", rescheduleUID, err)
	}
	if booking == nil || !reschedulable(booking.Status) {
		return CreateUpdateResult{}, fmt.Errorf("%w: %s", ErrBookingNotFound, rescheduleUID)
	}
	evt := in.Clone()
	s.resolveLocation(evt)

	if newBookingID != nil {
		refs := partials(booking.References)
		results := s.DeleteEvents(ctx, evt, refs)
		if s.m.payments != nil {
			if err := s.m.payments.MovePayments(ctx, booking.ID, *newBookingID); err != nil {
				return CreateUpdateResult{}, fmt.Errorf("move payments: %w", err)
			}
		}
		return CreateUpdateResult{Results: results, ReferencesToCreate: BuildReferences(results)}, nil
	}

	var results []EventResult
	var kept []models.PartialReference
	if s.m.registry.IsDedicatedLocation(evt.Location) {
		video := s.updateOrCreateVideo(ctx, evt, booking)
		results = append(results, video)
		patchVideo(evt, video)
	} else {
		kept = videoRefs(booking)
	}
	results = append(results, s.updateAllCalendarEvents(ctx, evt, booking)...)
	return CreateUpdateResult{Results: results, ReferencesToCreate: append(BuildReferences(results), kept...)}, nil
}

func reschedulable(status models.BookingStatus) bool {
	switch status {
	case models.BookingStatusAccepted, models.BookingStatusCancelled, models.BookingStatusPending:
		return true
	}
	return false
}

func partials(refs []models.BookingReference) []models.PartialReference {
	out := make([]models.PartialReference, len(refs))
	for i, r := range refs {
		out[i] = r.Partial()
	}
	return out
}

// videoRefs returns the meetings of a booking, kept as they are when the location is not dedicated.
func videoRefs(booking *models.Booking) []models.PartialReference {
	var out []models.PartialReference
	for _, r := range booking.References {
		if models.IsVideoType(r.Type) {
			out = append(out, r.Partial())
		}
	}
	return out
}

func (s *Scope) updateOrCreateVideo(ctx context.Context, evt *integrations.CalendarEvent, booking *models.Booking) EventResult {
	app, _ := s.m.registry.VideoAppForLocation(evt.Location)
	var existing *models.PartialReference
	for _, r := range booking.References {
		if r.Type == app.Type {
			p := r.Partial()
			existing = &p
			break
		}
	}
	if existing == nil {
		return s.createVideo(ctx, evt)
	}
	res := EventResult{Type: app.Type, AppName: app.Name, Operation: OpUpdate, CredentialID: existing.CredentialID, original: existing}
	cred, ok := s.credentialForRef(ctx, *existing)
	if !ok {
		return failed(res, fmt.Errorf("no credential for %s", app.Type))
	}
	adapter, err := s.m.registry.Video(*cred)
	if err != nil {
		return failed(res, err)
	}
	var pe *integrations.ProviderEvent
	err = s.m.invoke(ctx, *cred, "update_meeting", func(ctx context.Context) error {
		var callErr error
		pe, callErr = adapter.UpdateMeeting(ctx, *existing, evt)
		return callErr
	})
	if err != nil {
		s.m.logger.Warn("video meeting update failed", zap.String("type", app.Type), zap.Error(err))
		return failed(res, err)
	}
	res.Success = true
	res.UpdatedEvents = []integrations.ProviderEvent{*pe}
	res.UID = pe.ID
	if res.UID == "" {
		res.UID = existing.UID
	}
	return res
}

// updateAllCalendarEvents updates every calendar reference of the booking. A reference whose
// credential cannot be resolved is skipped and carried over unchanged. Without calendar
// references the calendar events are created instead.
func (s *Scope) updateAllCalendarEvents(ctx context.Context, evt *integrations.CalendarEvent, booking *models.Booking) []EventResult {
	var refs []models.PartialReference
	for _, r := range booking.References {
		if models.IsCalendarType(r.Type) {
			refs = append(refs, r.Partial())
		}
	}
	if len(refs) == 0 {
		return s.createAllCalendarEvents(ctx, evt)
	}
	return fanOut(len(refs), func(i int) EventResult {
		return s.updateCalendarEvent(ctx, evt.Clone(), refs[i])
	})
}

func (s *Scope) updateCalendarEvent(ctx context.Context, evt *integrations.CalendarEvent, ref models.PartialReference) EventResult {
	res := EventResult{
		Type:               ref.Type,
		AppName:            s.m.registry.Name(ref.Type),
		Operation:          OpUpdate,
		CredentialID:       ref.CredentialID,
		ExternalCalendarID: ref.ExternalCalendarID,
		original:           &ref,
	}
	cred, ok := s.credentialForRef(ctx, ref)
	if !ok {
		s.m.logger.Warn("skipping calendar update, credential unresolved", zap.String("type", ref.Type), zap.String("uid", ref.UID))
		return failed(res, fmt.Errorf("credential for %s unresolved", ref.Type))
	}
	adapter, err := s.m.registry.Calendar(*cred)
	if err != nil {
		return failed(res, err)
	}
	var out integrations.Outcome
	err = s.m.invoke(ctx, *cred, "update_event", func(ctx context.Context) error {
		var callErr error
		out, callErr = adapter.UpdateEvent(ctx, ref.UID, evt, ref.ExternalCalendarID)
		return callErr
	})
	if err != nil {
		s.m.logger.Warn("calendar event update failed", zap.String("type", ref.Type), zap.String("uid", ref.UID), zap.Error(err))
		return failed(res, err)
	}
	res.Success = true
	res.UpdatedEvents = out.Events()
	res.UID = ref.UID
	if first, ok := out.First(); ok {
		if first.ID != "" {
			res.UID = first.ID
		}
		res.ICalUID = first.ICalUID
	} else {
		res.UpdatedEvents = []integrations.ProviderEvent{{Type: ref.Type, ID: ref.UID}}
	}
	return res
}

// UpdateLocation applies a new location: a dedicated location gets a fresh meeting, the old
// meeting is deleted once it is replaced, then every calendar event is updated.
func (s *Scope) UpdateLocation(ctx context.Context, in *integrations.CalendarEvent, booking *models.Booking) (CreateUpdateResult, error) {
	evt := in.Clone()
	var results []EventResult
	oldVideo := videoRefs(booking)
	replaced := true
	if s.m.registry.IsDedicatedLocation(evt.Location) {
		video := s.createVideo(ctx, evt)
		results = append(results, video)
		patchVideo(evt, video)
		replaced = video.Success
	}
	var kept []models.PartialReference
	if replaced {
		results = append(results, s.DeleteEvents(ctx, evt, oldVideo)...)
	} else {
		kept = oldVideo
	}
	results = append(results, s.updateAllCalendarEvents(ctx, evt, booking)...)
	return CreateUpdateResult{Results: results, ReferencesToCreate: append(BuildReferences(results), kept...)}, nil
}

// UpdateCalendarAttendees pushes attendee changes to the calendars only.
func (s *Scope) UpdateCalendarAttendees(ctx context.Context, in *integrations.CalendarEvent, booking *models.Booking) (CreateUpdateResult, error) {
	evt := in.Clone()
	results := s.updateAllCalendarEvents(ctx, evt, booking)
	return CreateUpdateResult{Results: results, ReferencesToCreate: append(BuildReferences(results), videoRefs(booking)...)}, nil
}

// DeleteEvents removes the external events behind references concurrently.
func (s *Scope) DeleteEvents(ctx context.Context, evt *integrations.CalendarEvent, refs []models.PartialReference) []EventResult {
	return fanOut(len(refs), func(i int) EventResult {
		return s.deleteEvent(ctx, evt, refs[i])
	})
}

func (s *Scope) deleteEvent(ctx context.Context, evt *integrations.CalendarEvent, ref models.PartialReference) EventResult {
	res := EventResult{
		Type:               ref.Type,
		AppName:            s.m.registry.Name(ref.Type),
		Operation:          OpDelete,
		UID:                ref.UID,
		CredentialID:       ref.CredentialID,
		ExternalCalendarID: ref.ExternalCalendarID,
		original:           &ref,
	}
	cred, ok := s.credentialForRef(ctx, ref)
	if !ok {
		return failed(res, fmt.Errorf("credential for %s unresolved", ref.Type))
	}
	var err error
	if models.IsVideoType(ref.Type) {
		var adapter integrations.VideoAdapter
		if adapter, err = s.m.registry.Video(*cred); err == nil {
			uid := ref.MeetingID
			if uid == "" {
				uid = ref.UID
			}
			err = s.m.invoke(ctx, *cred, "delete_meeting", func(ctx context.Context) error {
				return adapter.DeleteMeeting(ctx, uid)
			})
		}
	} else {
		var adapter integrations.CalendarAdapter
		if adapter, err = s.m.registry.Calendar(*cred); err == nil {
			err = s.m.invoke(ctx, *cred, "delete_event", func(ctx context.Context) error {
				return adapter.DeleteEvent(ctx, ref.UID, evt, ref.ExternalCalendarID)
			})
		}
	}
	if err != nil {
		s.m.logger.Warn("external event deletion failed", zap.String("type", ref.Type), zap.String("uid", ref.UID), zap.Error(err))
		return failed(res, err)
	}
	res.Success = true
	return res
}
