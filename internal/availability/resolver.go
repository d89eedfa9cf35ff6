package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/metrics"
	"github.com/aura-booking/backend/internal/models"
)

var (
	// ErrNoAvailableHosts is returned when every candidate is busy or off hours.
	ErrNoAvailableHosts = errors.New("no available hosts")
	// ErrInvalidWindow is returned when the requested window ends before it starts.
	ErrInvalidWindow = errors.New("window end is before start")
	// ErrNoCandidates is returned when no host candidates were supplied.
	ErrNoCandidates = errors.New("no host candidates")
)

// Window is the requested booking slot.
type Window struct {
	From time.Time
	To   time.Time
}

// Length returns the slot duration.
func (w Window) Length() time.Duration { return w.To.Sub(w.From) }

// RecurringContext carries the full series when a recurring booking is requested.
type RecurringContext struct {
	Dates []time.Time // start of every occurrence, first one equals the window start
	Index int         // position of the occurrence being booked
}

// BusyQuery asks a busy source for a user's commitments.
type BusyQuery struct {
	User       models.User
	From       time.Time
	To         time.Time
	IgnoreUIDs []string // bookings being replaced, e.g. the original of a reschedule
}

// BusySource yields busy intervals for one user.
type BusySource interface {
	BusyTimes(ctx context.Context, q BusyQuery) ([]models.BusyInterval, error)
}

// ScheduleSource loads a user's schedule; nil with no error means none saved.
type ScheduleSource interface {
	GetSchedule(ctx context.Context, userID uuid.UUID) (*models.Schedule, error)
}

// Option tunes a single Resolve call.
type Option func(*resolveOptions)

type resolveOptions struct {
	ignoreUIDs []string
}

// IgnoreBooking excludes a booking (by uid) from busy times.
func IgnoreBooking(uid string) Option {
	return func(o *resolveOptions) {
		if uid != "" {
			o.ignoreUIDs = append(o.ignoreUIDs, uid)
		}
	}
}

// Resolver decides which host candidates are free for a window.
type Resolver struct {
	schedules ScheduleSource
	sources   []BusySource
	logger    *zap.Logger
}

// NewResolver creates a resolver reading schedules and the given busy sources in order.
func NewResolver(schedules ScheduleSource, logger *zap.Logger, sources ...BusySource) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{schedules: schedules, sources: sources, logger: logger}
}

// Resolve returns the candidates free for window, in input order.
// Hosts are checked one after another so reads against rate-limited calendars stay ordered.
func (r *Resolver) Resolve(ctx context.Context, eventType *models.EventType, candidates []models.HostUser, window Window, rc *RecurringContext, opts ...Option) ([]models.HostUser, error) {
	if window.To.Before(window.From) {
		return nil, ErrInvalidWindow
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	// Later occurrences of a series inherit the decision made for the first one.
	if rc != nil && rc.Index > 0 {
		return candidates, nil
	}

	var o resolveOptions
	for _, fn := range opts {
		fn(&o)
	}

	before := time.Duration(eventType.BeforeBuffer) * time.Minute
	after := time.Duration(eventType.AfterBuffer) * time.Minute
	length := window.Length()
	dates := []time.Time{window.From}
	if rc != nil && len(rc.Dates) > 1 {
		dates = rc.Dates
	}
	from, to := span(dates, length)
	from = from.Add(-before - after)
	to = to.Add(before + after)

	available := make([]models.HostUser, 0, len(candidates))
	for _, c := range candidates {
		ok, err := r.hostAvailable(ctx, c.User, window, dates, length, BusyQuery{User: c.User, From: from, To: to, IgnoreUIDs: o.ignoreUIDs}, before, after)
		if err != nil {
			return nil, err
		}
		metrics.ObserveAvailability(ok)
		if ok {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return nil, ErrNoAvailableHosts
	}
	return available, nil
}

func (r *Resolver) hostAvailable(ctx context.Context, user models.User, window Window, dates []time.Time, length time.Duration, q BusyQuery, before, after time.Duration) (bool, error) {
	schedule, err := r.schedules.GetSchedule(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("load schedule for %s: %w", user.ID, err)
	}
	if schedule == nil {
		schedule = DefaultSchedule(user.TimeZone)
	}
	inHours, err := WithinWorkingHours(schedule, window.From, window.To)
	if err != nil {
		return false, err
	}
	if !inHours {
		r.logger.Debug("host outside working hours", zap.String("user_id", user.ID.String()), zap.Time("start", window.From))
		return false, nil
	}

	var busy []models.BusyInterval
	for _, src := range r.sources {
		b, err := src.BusyTimes(ctx, q)
		if err != nil {
			return false, fmt.Errorf("busy times for %s: %w", user.ID, err)
		}
		busy = append(busy, b...)
	}
	busy = withBuffers(busy, before, after)

	for _, d := range dates {
		if b, hit := FirstConflict(busy, d, length); hit {
			r.logger.Debug("host busy",
				zap.String("user_id", user.ID.String()),
				zap.Time("slot", d),
				zap.Time("busy_start", b.Start),
				zap.Time("busy_end", b.End),
				zap.String("source", b.Source),
			)
			return false, nil
		}
	}
	return true, nil
}

func span(dates []time.Time, length time.Duration) (time.Time, time.Time) {
	from, to := dates[0], dates[0].Add(length)
	for _, d := range dates[1:] {
		if d.Before(from) {
			from = d
		}
		if e := d.Add(length); e.After(to) {
			to = e
		}
	}
	return from, to
}
