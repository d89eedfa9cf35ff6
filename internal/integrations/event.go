// Package integrations defines the calendar and video adapter contracts and the registry
// that maps integration types to adapter factories.
package integrations

import (
	"time"

	"github.com/google/uuid"

	"github.com/aura-booking/backend/internal/models"
)

// Person is an organizer, attendee or team member as sent to providers.
type Person struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"time_zone"`
	Locale   string `json:"locale,omitempty"`
}

// VideoCallData is the join information of a dedicated meeting.
type VideoCallData struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Password string `json:"password,omitempty"`
	URL      string `json:"url"`
}

// CalendarEvent is the fully populated event handed to every adapter. Times are UTC.
type CalendarEvent struct {
	Type                 string                       `json:"type"`
	Title                string                       `json:"title"`
	Description          string                       `json:"description,omitempty"`
	StartTime            time.Time                    `json:"start_time"`
	EndTime              time.Time                    `json:"end_time"`
	Organizer            Person                       `json:"organizer"`
	Attendees            []Person                     `json:"attendees"`
	TeamMembers          []Person                     `json:"team_members,omitempty"`
	Location             string                       `json:"location,omitempty"`
	VideoCallData        *VideoCallData               `json:"video_call_data,omitempty"`
	DestinationCalendars []models.DestinationCalendar `json:"destination_calendars,omitempty"`
	UID                  string                       `json:"uid"`
	ICalUID              string                       `json:"ical_uid,omitempty"`
	RecurringEvent       *models.RecurringRule        `json:"recurring_event,omitempty"`
	SeatsPerTimeSlot     *int                         `json:"seats_per_time_slot,omitempty"`
	RequiresConfirmation bool                         `json:"requires_confirmation"`
}

// Clone returns a copy safe to hand to a concurrent adapter call.
func (e *CalendarEvent) Clone() *CalendarEvent {
	c := *e
	c.Attendees = append([]Person(nil), e.Attendees...)
	c.TeamMembers = append([]Person(nil), e.TeamMembers...)
	c.DestinationCalendars = append([]models.DestinationCalendar(nil), e.DestinationCalendars...)
	if e.VideoCallData != nil {
		v := *e.VideoCallData
		c.VideoCallData = &v
	}
	return &c
}

// AllParticipants returns attendees followed by team members.
func (e *CalendarEvent) AllParticipants() []Person {
	out := make([]Person, 0, len(e.Attendees)+len(e.TeamMembers))
	out = append(out, e.Attendees...)
	return append(out, e.TeamMembers...)
}

// ExternalCalendarID returns the destination calendar for a credential. A destination bound to
// the credential wins over one that only names the integration type.
func (e *CalendarEvent) ExternalCalendarID(credentialID uuid.UUID, integration string) string {
	fallback := ""
	for _, d := range e.DestinationCalendars {
		if d.CredentialID != nil && *d.CredentialID == credentialID {
			return d.ExternalID
		}
		if d.CredentialID == nil && d.Integration == integration && fallback == "" {
			fallback = d.ExternalID
		}
	}
	return fallback
}

// ProviderEvent is what a provider returned for a created or updated event or meeting.
type ProviderEvent struct {
	Type               string            `json:"type"`
	ID                 string            `json:"id"`
	ICalUID            string            `json:"ical_uid,omitempty"`
	URL                string            `json:"url,omitempty"`
	Password           string            `json:"password,omitempty"`
	ExternalCalendarID string            `json:"external_calendar_id,omitempty"`
	AdditionalInfo     map[string]string `json:"additional_info,omitempty"`
}

// IntegrationCalendar is one external calendar a credential can read or write.
type IntegrationCalendar struct {
	ExternalID   string `json:"external_id"`
	Integration  string `json:"integration"`
	Name         string `json:"name"`
	Primary      bool   `json:"primary"`
	ReadOnly     bool   `json:"read_only"`
	CredentialID string `json:"credential_id"`
}
