// Package hosts picks the organizer and co-hosts of a booking from the available candidates.
package hosts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aura-booking/backend/internal/models"
)

// ErrHostsUnavailable is returned when a fixed host is missing from the available set.
var ErrHostsUnavailable = errors.New("some fixed hosts are unavailable")

// RecencySource reports when each user last received a booking of an event type.
// Users never booked are absent from the map.
type RecencySource interface {
	LastBookedAt(ctx context.Context, eventTypeID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error)
}

// Policy applies the scheduling type's host selection rules.
type Policy struct {
	recency RecencySource
}

// NewPolicy creates a selection policy.
func NewPolicy(recency RecencySource) *Policy {
	return &Policy{recency: recency}
}

// Select orders the hosts for a booking: fixed hosts first (the first is the organizer),
// then the round-robin picks.
func (p *Policy) Select(ctx context.Context, available []models.HostUser, eventType *models.EventType) ([]models.HostUser, error) {
	if len(available) == 0 {
		return nil, ErrHostsUnavailable
	}
	fixed, pool := partition(available)
	if eventType.SchedulingType == models.SchedulingCollective {
		fixed, pool = available, nil
	}
	if err := requireFixed(fixed, eventType); err != nil {
		return nil, err
	}

	switch eventType.SchedulingType {
	case models.SchedulingRoundRobin:
		lucky, err := p.drawLucky(ctx, pool, eventType)
		if err != nil {
			return nil, err
		}
		return append(fixed, lucky...), nil
	case models.SchedulingCollective:
		return fixed, nil
	default:
		if len(fixed) > 0 {
			return fixed, nil
		}
		return available[:1], nil
	}
}

func partition(available []models.HostUser) (fixed, pool []models.HostUser) {
	for _, h := range available {
		if h.IsFixed {
			fixed = append(fixed, h)
		} else {
			pool = append(pool, h)
		}
	}
	return fixed, pool
}

// requireFixed fails unless every fixed host of the event type made it into the available set.
// Collective event types treat every host as fixed.
func requireFixed(fixed []models.HostUser, eventType *models.EventType) error {
	have := make(map[uuid.UUID]struct{}, len(fixed))
	for _, h := range fixed {
		have[h.User.ID] = struct{}{}
	}
	var missing []uuid.UUID
	for _, h := range eventType.Hosts {
		if !h.IsFixed && eventType.SchedulingType != models.SchedulingCollective {
			continue
		}
		if _, ok := have[h.UserID]; !ok {
			missing = append(missing, h.UserID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrHostsUnavailable, missing)
	}
	return nil
}

// drawLucky picks round-robin hosts one at a time until the required count is reached
// or the pool runs out. A user is never drawn twice.
func (p *Policy) drawLucky(ctx context.Context, pool []models.HostUser, eventType *models.EventType) ([]models.HostUser, error) {
	need := eventType.RoundRobinHostCount
	if need <= 0 {
		need = 1
	}
	if len(pool) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(pool))
	for i, h := range pool {
		ids[i] = h.User.ID
	}
	last := map[uuid.UUID]time.Time{}
	if p.recency != nil {
		var err error
		last, err = p.recency.LastBookedAt(ctx, eventType.ID, ids)
		if err != nil {
			return nil, fmt.Errorf("load booking recency: %w", err)
		}
	}

	chosen := make(map[uuid.UUID]struct{}, need)
	var out []models.HostUser
	for len(out) < need {
		lucky, ok := luckiest(pool, last, chosen)
		if !ok {
			break
		}
		chosen[lucky.User.ID] = struct{}{}
		out = append(out, lucky)
	}
	return out, nil
}

// luckiest returns the least recently booked candidate not yet chosen.
// Never-booked users come first; ties go to the higher priority, then the lower user id.
func luckiest(pool []models.HostUser, last map[uuid.UUID]time.Time, chosen map[uuid.UUID]struct{}) (models.HostUser, bool) {
	candidates := make([]models.HostUser, 0, len(pool))
	for _, h := range pool {
		if _, taken := chosen[h.User.ID]; !taken {
			candidates = append(candidates, h)
		}
	}
	if len(candidates) == 0 {
		return models.HostUser{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ti, bi := last[candidates[i].User.ID]
		tj, bj := last[candidates[j].User.ID]
		if bi != bj {
			return !bi
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].User.ID.String() < candidates[j].User.ID.String()
	})
	return candidates[0], true
}
