package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SchedulingType decides how hosts are picked for an event type.
type SchedulingType string

const (
	SchedulingIndividual SchedulingType = "INDIVIDUAL"
	SchedulingCollective SchedulingType = "COLLECTIVE"
	SchedulingRoundRobin SchedulingType = "ROUND_ROBIN"
	SchedulingManaged    SchedulingType = "MANAGED"
)

// LimitPeriod is the window a booking or duration limit applies to.
type LimitPeriod string

const (
	LimitPerDay   LimitPeriod = "PER_DAY"
	LimitPerWeek  LimitPeriod = "PER_WEEK"
	LimitPerMonth LimitPeriod = "PER_MONTH"
	LimitPerYear  LimitPeriod = "PER_YEAR"
)

// EventType is a bookable meeting template.
type EventType struct {
	ID                   uuid.UUID             `json:"id"`
	OwnerID              uuid.UUID             `json:"owner_id"`
	Slug                 string                `json:"slug"`
	Title                string                `json:"title"`
	Description          string                `json:"description,omitempty"`
	Length               int                   `json:"length"` // minutes
	SchedulingType       SchedulingType        `json:"scheduling_type"`
	Hosts                []Host                `json:"hosts"`
	Locations            []Location            `json:"locations,omitempty"`
	SeatsPerTimeSlot     *int                  `json:"seats_per_time_slot,omitempty"`
	SeatsShowAttendees   bool                  `json:"seats_show_attendees"`
	RequiresConfirmation bool                  `json:"requires_confirmation"`
	Price                decimal.Decimal       `json:"price"`
	Currency             string                `json:"currency"`
	Recurring            *RecurringRule        `json:"recurring,omitempty"`
	BeforeBuffer         int                   `json:"before_buffer"` // minutes
	AfterBuffer          int                   `json:"after_buffer"`  // minutes
	MinimumBookingNotice int                   `json:"minimum_booking_notice"` // minutes
	DestinationCalendar  *DestinationCalendar  `json:"destination_calendar,omitempty"`
	BookingLimits        map[LimitPeriod]int   `json:"booking_limits,omitempty"`
	DurationLimits       map[LimitPeriod]int   `json:"duration_limits,omitempty"` // minutes
	RoundRobinHostCount  int                   `json:"round_robin_host_count"`
	Metadata             json.RawMessage       `json:"metadata,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// Host is an eligible host of an event type.
type Host struct {
	UserID   uuid.UUID `json:"user_id"`
	IsFixed  bool      `json:"is_fixed"`
	Priority int       `json:"priority"`
}

// Location is one configured meeting location ("integrations:zego_video", "link", "inPerson", ...).
type Location struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
	Link    string `json:"link,omitempty"`
}

// DestinationCalendar is the external calendar new events are written to.
type DestinationCalendar struct {
	Integration  string     `json:"integration"`
	ExternalID   string     `json:"external_id"`
	CredentialID *uuid.UUID `json:"credential_id,omitempty"`
}

// RecurringFrequency is the unit a recurring rule repeats on.
type RecurringFrequency string

const (
	FrequencyDaily   RecurringFrequency = "DAILY"
	FrequencyWeekly  RecurringFrequency = "WEEKLY"
	FrequencyMonthly RecurringFrequency = "MONTHLY"
)

// RecurringRule describes a recurring series offered by an event type.
type RecurringRule struct {
	Frequency RecurringFrequency `json:"freq"`
	Interval  int                `json:"interval"`
	Count     int                `json:"count"`
}

// Duration returns the configured length.
func (e *EventType) Duration() time.Duration {
	return time.Duration(e.Length) * time.Minute
}

// IsSeated reports whether bookings of this type share slots between attendees.
func (e *EventType) IsSeated() bool {
	return e.SeatsPerTimeSlot != nil && *e.SeatsPerTimeSlot > 0
}

// IsPaid reports whether bookings require a payment before confirmation.
func (e *EventType) IsPaid() bool {
	return e.Price.IsPositive()
}

// FixedHosts returns hosts flagged as fixed.
func (e *EventType) FixedHosts() []Host {
	var out []Host
	for _, h := range e.Hosts {
		if h.IsFixed {
			out = append(out, h)
		}
	}
	return out
}

// HostUser is an event type host resolved to its user record.
type HostUser struct {
	User     User `json:"user"`
	IsFixed  bool `json:"is_fixed"`
	Priority int  `json:"priority"`
}
