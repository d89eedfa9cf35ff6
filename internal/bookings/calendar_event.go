package bookings

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aura-booking/backend/internal/integrations"
	"github.com/aura-booking/backend/internal/models"
)

func person(u models.User) integrations.Person {
	return integrations.Person{Name: u.FullName, Email: u.Email, TimeZone: u.TimeZone, Locale: u.Locale}
}

// buildEvent renders a booking into the event every adapter receives. Seated event types that
// hide attendees from each other send no attendee list.
func buildEvent(et *models.EventType, b *models.Booking, organizer models.User, team []models.User) *integrations.CalendarEvent {
	evt := &integrations.CalendarEvent{
		Type:                 et.Slug,
		Title:                b.Title,
		Description:          b.Description,
		StartTime:            b.StartTime.UTC(),
		EndTime:              b.EndTime.UTC(),
		Organizer:            person(organizer),
		Location:             b.Location,
		UID:                  b.UID,
		SeatsPerTimeSlot:     et.SeatsPerTimeSlot,
		RequiresConfirmation: et.RequiresConfirmation,
	}
	if !et.IsSeated() || et.SeatsShowAttendees {
		for _, a := range b.Attendees {
			evt.Attendees = append(evt.Attendees, integrations.Person{Name: a.Name, Email: a.Email, TimeZone: a.TimeZone, Locale: a.Locale})
		}
	}
	for _, m := range team {
		evt.TeamMembers = append(evt.TeamMembers, person(m))
	}
	switch {
	case et.DestinationCalendar != nil:
		evt.DestinationCalendars = []models.DestinationCalendar{*et.DestinationCalendar}
	case organizer.DestinationCalendar != nil:
		evt.DestinationCalendars = []models.DestinationCalendar{*organizer.DestinationCalendar}
	}
	return evt
}

// participants loads a booking's organizer and co-hosts.
func (s *Service) participants(ctx context.Context, b *models.Booking) (models.User, []models.User, error) {
	ids := append([]uuid.UUID{b.UserID}, b.HostIDs...)
	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return models.User{}, nil, fmt.Errorf("load hosts: %w", err)
	}
	byID := make(map[uuid.UUID]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	organizer, ok := byID[b.UserID]
	if !ok {
		return models.User{}, nil, fmt.Errorf("organizer %s not found", b.UserID)
	}
	var team []models.User
	for _, id := range b.HostIDs {
		if u, ok := byID[id]; ok && id != b.UserID {
			team = append(team, u)
		}
	}
	return organizer, team, nil
}
