// Package recurrence expands an event type's recurring rule into occurrence slots.
package recurrence

import (
	"errors"
	"time"

	"github.com/aura-booking/backend/internal/models"
)

// MaxOccurrences caps the size of a single series.
const MaxOccurrences = 104

var (
	// ErrInvalidFrequency indicates the rule frequency is not supported.
	ErrInvalidFrequency = errors.New("recurrence: invalid frequency")
	// ErrInvalidDuration indicates the base slot does not end after it starts.
	ErrInvalidDuration = errors.New("recurrence: slot duration must be positive")
	// ErrInvalidCount indicates the occurrence count is out of range.
	ErrInvalidCount = errors.New("recurrence: count must be between 1 and 104")
)

// Occurrence is one generated slot of a series.
type Occurrence struct {
	Index int
	Start time.Time
	End   time.Time
}

// Engine expands rules in a wall-clock location so occurrences keep their local time across
// DST changes.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine for the booker's location. A nil loc means UTC.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Generate produces count occurrences, the first at baseStart. count overrides rule.Count when positive.
func (e *Engine) Generate(rule models.RecurringRule, baseStart, baseEnd time.Time, count int) ([]Occurrence, error) {
	if !baseEnd.After(baseStart) {
		return nil, ErrInvalidDuration
	}
	if count <= 0 {
		count = rule.Count
	}
	if count < 1 || count > MaxOccurrences {
		return nil, ErrInvalidCount
	}
	interval := rule.Interval
	if interval <= 0 {
		interval = 1
	}
	step, err := stepper(rule.Frequency, interval)
	if err != nil {
		return nil, err
	}

	duration := baseEnd.Sub(baseStart)
	first := baseStart.In(e.location)
	out := make([]Occurrence, 0, count)
	for i := 0; i < count; i++ {
		start := step(first, i).UTC()
		out = append(out, Occurrence{Index: i, Start: start, End: start.Add(duration)})
	}
	return out, nil
}

// Starts returns only the start times, the shape availability checks take.
func Starts(occ []Occurrence) []time.Time {
	out := make([]time.Time, len(occ))
	for i, o := range occ {
		out[i] = o.Start
	}
	return out
}

func stepper(freq models.RecurringFrequency, interval int) (func(time.Time, int) time.Time, error) {
	switch freq {
	case models.FrequencyDaily:
		return func(t time.Time, i int) time.Time { return t.AddDate(0, 0, i*interval) }, nil
	case models.FrequencyWeekly:
		return func(t time.Time, i int) time.Time { return t.AddDate(0, 0, 7*i*interval) }, nil
	case models.FrequencyMonthly:
		return addMonthsClamped(interval), nil
	default:
		return nil, ErrInvalidFrequency
	}
}

// addMonthsClamped keeps the day of month, clamped to the last day of shorter months.
func addMonthsClamped(interval int) func(time.Time, int) time.Time {
	return func(t time.Time, i int) time.Time {
		y, m, d := t.Date()
		target := time.Date(y, m+time.Month(i*interval), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
		last := time.Date(target.Year(), target.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
		if d > last {
			d = last
		}
		return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	}
}
