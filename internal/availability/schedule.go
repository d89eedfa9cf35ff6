package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aura-booking/backend/internal/models"
)

const dateLayout = "2006-01-02"

// DefaultSchedule is used for hosts that never saved one: weekdays 09:00-17:00 in their own zone.
func DefaultSchedule(timeZone string) *models.Schedule {
	if timeZone == "" {
		timeZone = "UTC"
	}
	return &models.Schedule{
		TimeZone: timeZone,
		WorkingHours: []models.WorkingHours{{
			Days:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			StartTime: "09:00",
			EndTime:   "17:00",
		}},
	}
}

// parseClock parses "HH:MM" into minutes after midnight. "24:00" is accepted as end of day.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}

// ValidateSchedule checks that every block parses and is well ordered.
func ValidateSchedule(s *models.Schedule) error {
	if _, err := time.LoadLocation(s.TimeZone); err != nil {
		return fmt.Errorf("time zone %q: %w", s.TimeZone, err)
	}
	for _, wh := range s.WorkingHours {
		start, err := parseClock(wh.StartTime)
		if err != nil {
			return err
		}
		end, err := parseClock(wh.EndTime)
		if err != nil {
			return err
		}
		if end <= start {
			return fmt.Errorf("working hours %s-%s end before start", wh.StartTime, wh.EndTime)
		}
	}
	for _, o := range s.Overrides {
		if _, err := time.Parse(dateLayout, o.Date); err != nil {
			return fmt.Errorf("override date %q: %w", o.Date, err)
		}
		start, err := parseClock(o.StartTime)
		if err != nil {
			return err
		}
		end, err := parseClock(o.EndTime)
		if err != nil {
			return err
		}
		if end < start {
			return fmt.Errorf("override %s end before start", o.Date)
		}
	}
	return nil
}

type block struct {
	start, end time.Time
}

// blocksFor returns the bookable blocks of the local day containing t.
// Date overrides for that day replace the weekly working hours.
func blocksFor(s *models.Schedule, loc *time.Location, t time.Time) []block {
	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	date := local.Format(dateLayout)

	at := func(minutes int) time.Time {
		return day.Add(time.Duration(minutes) * time.Minute)
	}

	var overrides []block
	overridden := false
	for _, o := range s.Overrides {
		if o.Date != date {
			continue
		}
		overridden = true
		start, err1 := parseClock(o.StartTime)
		end, err2 := parseClock(o.EndTime)
		if err1 != nil || err2 != nil || end <= start {
			continue
		}
		overrides = append(overrides, block{start: at(start), end: at(end)})
	}
	if overridden {
		return overrides
	}

	var out []block
	for _, wh := range s.WorkingHours {
		if !containsDay(wh.Days, local.Weekday()) {
			continue
		}
		start, err1 := parseClock(wh.StartTime)
		end, err2 := parseClock(wh.EndTime)
		if err1 != nil || err2 != nil || end <= start {
			continue
		}
		out = append(out, block{start: at(start), end: at(end)})
	}
	return out
}

func containsDay(days []time.Weekday, d time.Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}

// WithinWorkingHours reports whether [start, end) lies inside one bookable block of the schedule.
func WithinWorkingHours(s *models.Schedule, start, end time.Time) (bool, error) {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return false, fmt.Errorf("load location %q: %w", s.TimeZone, err)
	}
	for _, b := range blocksFor(s, loc, start) {
		if !start.Before(b.start) && !end.After(b.end) {
			return true, nil
		}
	}
	return false, nil
}
