package bookings

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aura-booking/backend/internal/models"
)

// Request is a booking request as posted by the booker.
type Request struct {
	EventTypeID      uuid.UUID       `json:"event_type_id" binding:"required"`
	Start            time.Time       `json:"start" binding:"required"`
	End              time.Time       `json:"end" binding:"required"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	Guests           []string        `json:"guests"`
	Notes            string          `json:"notes"`
	TimeZone         string          `json:"time_zone"`
	Locale           string          `json:"locale"`
	Location         string          `json:"location"`
	RescheduleUID    string          `json:"reschedule_uid"`
	SeatReferenceUID string          `json:"seat_reference_uid"`
	RecurringCount   int             `json:"recurring_count"`
	Metadata         json.RawMessage `json:"metadata"`
}

// Validate checks a request against its event type at now.
func Validate(req *Request, et *models.EventType, now time.Time) error {
	fields := map[string]string{}
	if req.RescheduleUID == "" {
		if strings.TrimSpace(req.Name) == "" {
			fields["name"] = "required"
		}
		if _, err := mail.ParseAddress(req.Email); err != nil {
			fields["email"] = "invalid email"
		}
	} else if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			fields["email"] = "invalid email"
		}
	}
	for _, g := range req.Guests {
		if _, err := mail.ParseAddress(g); err != nil {
			fields["guests"] = "invalid email " + g
			break
		}
	}
	if !req.Start.Before(req.End) {
		fields["end"] = "must be after start"
	} else if req.End.Sub(req.Start) != et.Duration() {
		fields["end"] = fmt.Sprintf("booking must last %d minutes", et.Length)
	}
	notice := time.Duration(et.MinimumBookingNotice) * time.Minute
	if req.Start.Before(now.Add(notice)) {
		if req.Start.Before(now) {
			fields["start"] = "must be in the future"
		} else {
			fields["start"] = fmt.Sprintf("must be booked at least %d minutes ahead", et.MinimumBookingNotice)
		}
	}
	if req.TimeZone != "" {
		if _, err := time.LoadLocation(req.TimeZone); err != nil {
			fields["time_zone"] = "unknown time zone"
		}
	}
	if req.SeatReferenceUID != "" {
		if !et.IsSeated() {
			fields["seat_reference_uid"] = "event type has no seats"
		} else if req.RescheduleUID == "" {
			fields["seat_reference_uid"] = "only valid when rescheduling"
		}
	}
	if req.RecurringCount != 0 {
		switch {
		case et.Recurring == nil:
			fields["recurring_count"] = "event type does not recur"
		case req.RecurringCount < 1 || req.RecurringCount > et.Recurring.Count:
			fields["recurring_count"] = fmt.Sprintf("must be between 1 and %d", et.Recurring.Count)
		case req.RescheduleUID != "":
			fields["recurring_count"] = "cannot reschedule a whole series"
		}
	}
	if req.Location != "" && len(et.Locations) > 0 && !offersLocation(et, req.Location) {
		fields["location"] = "not offered by this event type"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func offersLocation(et *models.EventType, location string) bool {
	for _, l := range et.Locations {
		if l.Type == location || (l.Address != "" && l.Address == location) || (l.Link != "" && l.Link == location) {
			return true
		}
	}
	return false
}

// resolveLocation picks the booking's location: the booker's choice, else the first offered one.
// Address and link locations store their value, integration locations their type.
func resolveLocation(et *models.EventType, requested string) string {
	if requested == "" && len(et.Locations) > 0 {
		requested = et.Locations[0].Type
	}
	for _, l := range et.Locations {
		if l.Type != requested {
			continue
		}
		switch {
		case l.Address != "":
			return l.Address
		case l.Link != "":
			return l.Link
		}
	}
	return requested
}
