package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/aura-booking/backend/internal/models"
)

// periodBounds returns the [start, end) of the limit period containing t, in loc.
// Weeks start on Monday.
func periodBounds(p models.LimitPeriod, t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	y, m, d := local.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	switch p {
	case models.LimitPerWeek:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case models.LimitPerMonth:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	case models.LimitPerYear:
		start := time.Date(y, 1, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0)
	default:
		return day, day.AddDate(0, 0, 1)
	}
}

// checkLimits fails when booking starts for every host would exceed a booking-count or
// duration limit. Starts of the same series falling in one period count together.
// excludeUID leaves a booking out of the existing totals, the original of a reschedule.
func (s *Service) checkLimits(ctx context.Context, et *models.EventType, hosts []models.HostUser, starts []time.Time, excludeUID string) error {
	if len(et.BookingLimits) == 0 && len(et.DurationLimits) == 0 {
		return nil
	}
	length := et.Length
	for _, h := range hosts {
		loc, err := time.LoadLocation(h.User.TimeZone)
		if err != nil || h.User.TimeZone == "" {
			loc = time.UTC
		}
		for _, p := range []models.LimitPeriod{models.LimitPerDay, models.LimitPerWeek, models.LimitPerMonth, models.LimitPerYear} {
			maxCount, hasCount := et.BookingLimits[p]
			maxMinutes, hasMinutes := et.DurationLimits[p]
			if !hasCount && !hasMinutes {
				continue
			}
			checked := map[time.Time]bool{}
			for _, st := range starts {
				from, to := periodBounds(p, st, loc)
				if checked[from] {
					continue
				}
				checked[from] = true
				inSeries := 0
				for _, other := range starts {
					if !other.Before(from) && other.Before(to) {
						inSeries++
					}
				}
				count, minutes, err := s.store.CountForHost(ctx, h.User.ID, from.UTC(), to.UTC(), excludeUID)
				if err != nil {
					return fmt.Errorf("count bookings for %s: %w", h.User.ID, err)
				}
				if hasCount && count+inSeries > maxCount {
					return fmt.Errorf("%w: %d bookings %s", ErrBookingLimitReached, maxCount, p)
				}
				if hasMinutes && minutes+inSeries*length > maxMinutes {
					return fmt.Errorf("%w: %d minutes %s", ErrBookingLimitReached, maxMinutes, p)
				}
			}
		}
	}
	return nil
}
