package eventtypes

import (
	"regexp"
	"strings"

	"github.com/aura-booking/backend/internal/models"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "invalid event type" }

// LocationChecker reports whether an integration location is registered.
type LocationChecker func(location string) bool

// Validate checks an event type before it is stored.
func Validate(e *models.EventType, knownLocation LocationChecker) error {
	fields := map[string]string{}
	if !slugPattern.MatchString(e.Slug) {
		fields["slug"] = "lowercase letters, digits and dashes"
	}
	if strings.TrimSpace(e.Title) == "" {
		fields["title"] = "required"
	}
	if e.Length <= 0 || e.Length > 24*60 {
		fields["length"] = "must be between 1 and 1440 minutes"
	}
	switch e.SchedulingType {
	case models.SchedulingIndividual, models.SchedulingCollective, models.SchedulingRoundRobin, models.SchedulingManaged:
	default:
		fields["scheduling_type"] = "unknown scheduling type"
	}
	if e.SeatsPerTimeSlot != nil && *e.SeatsPerTimeSlot < 1 {
		fields["seats_per_time_slot"] = "must be positive"
	}
	if e.IsSeated() && e.Recurring != nil {
		fields["recurring"] = "seated event types cannot recur"
	}
	if e.Price.IsNegative() {
		fields["price"] = "must not be negative"
	}
	if e.IsPaid() && e.Currency == "" {
		fields["currency"] = "required for paid event types"
	}
	if e.BeforeBuffer < 0 || e.AfterBuffer < 0 {
		fields["buffers"] = "must not be negative"
	}
	if e.MinimumBookingNotice < 0 {
		fields["minimum_booking_notice"] = "must not be negative"
	}
	if r := e.Recurring; r != nil {
		switch r.Frequency {
		case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly:
		default:
			fields["recurring.freq"] = "unknown frequency"
		}
		if r.Count < 1 {
			fields["recurring.count"] = "must be positive"
		}
	}
	for _, l := range e.Locations {
		if strings.HasPrefix(l.Type, "integrations:") && knownLocation != nil && !knownLocation(l.Type) {
			fields["locations"] = "unknown integration " + l.Type
		}
	}
	for p, n := range e.BookingLimits {
		if !validPeriod(p) || n < 1 {
			fields["booking_limits"] = "invalid limit for " + string(p)
		}
	}
	for p, n := range e.DurationLimits {
		if !validPeriod(p) || n < 1 {
			fields["duration_limits"] = "invalid limit for " + string(p)
		}
	}
	if e.SchedulingType == models.SchedulingRoundRobin && e.RoundRobinHostCount < 1 {
		e.RoundRobinHostCount = 1
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validPeriod(p models.LimitPeriod) bool {
	switch p {
	case models.LimitPerDay, models.LimitPerWeek, models.LimitPerMonth, models.LimitPerYear:
		return true
	}
	return false
}
