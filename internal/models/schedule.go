package models

import (
	"time"

	"github.com/google/uuid"
)

// Schedule is a user's weekly availability plus one-off overrides.
type Schedule struct {
	ID           uuid.UUID      `json:"id"`
	UserID       uuid.UUID      `json:"user_id"`
	TimeZone     string         `json:"time_zone"`
	WorkingHours []WorkingHours `json:"working_hours"`
	Overrides    []DateOverride `json:"date_overrides,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// WorkingHours is a recurring weekly block, times as "HH:MM" in the schedule time zone.
type WorkingHours struct {
	Days      []time.Weekday `json:"days"`
	StartTime string         `json:"start_time"`
	EndTime   string         `json:"end_time"`
}

// DateOverride replaces working hours for one calendar date. Equal start and end mark the day unavailable.
type DateOverride struct {
	Date      string `json:"date"` // YYYY-MM-DD
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// BusyInterval is a span during which a host cannot take a booking.
type BusyInterval struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source string    `json:"source,omitempty"`
}
