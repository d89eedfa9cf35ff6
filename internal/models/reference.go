package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reference type suffixes identify the kind of external object a reference points at.
const (
	ReferenceSuffixCalendar      = "_calendar"
	ReferenceSuffixOtherCalendar = "_other_calendar"
	ReferenceSuffixVideo         = "_video"
)

// BookingReference points from a booking to one externally created calendar or video event.
type BookingReference struct {
	ID                 uuid.UUID  `json:"id"`
	BookingID          uuid.UUID  `json:"booking_id"`
	Type               string     `json:"type"`
	UID                string     `json:"uid"`
	MeetingID          string     `json:"meeting_id,omitempty"`
	MeetingPassword    string     `json:"meeting_password,omitempty"`
	MeetingURL         string     `json:"meeting_url,omitempty"`
	ExternalCalendarID string     `json:"external_calendar_id,omitempty"`
	CredentialID       *uuid.UUID `json:"credential_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// PartialReference is a reference not yet attached to a persisted booking row.
type PartialReference struct {
	Type               string     `json:"type"`
	UID                string     `json:"uid"`
	MeetingID          string     `json:"meeting_id,omitempty"`
	MeetingPassword    string     `json:"meeting_password,omitempty"`
	MeetingURL         string     `json:"meeting_url,omitempty"`
	ExternalCalendarID string     `json:"external_calendar_id,omitempty"`
	CredentialID       *uuid.UUID `json:"credential_id,omitempty"`
}

// IsCalendarType reports whether a reference type targets a calendar (including "other" calendars).
func IsCalendarType(t string) bool {
	return strings.HasSuffix(t, ReferenceSuffixCalendar)
}

// IsVideoType reports whether a reference type targets a video meeting.
func IsVideoType(t string) bool {
	return strings.HasSuffix(t, ReferenceSuffixVideo)
}

// Partial strips persistence identity from a stored reference.
func (r BookingReference) Partial() PartialReference {
	return PartialReference{
		Type:               r.Type,
		UID:                r.UID,
		MeetingID:          r.MeetingID,
		MeetingPassword:    r.MeetingPassword,
		MeetingURL:         r.MeetingURL,
		ExternalCalendarID: r.ExternalCalendarID,
		CredentialID:       r.CredentialID,
	}
}
