// Package schedules stores each organizer's weekly working hours and date overrides.
package schedules

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-booking/backend/internal/models"
)

// Repository handles schedule persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a schedules repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetSchedule returns the user's schedule, or nil when none is saved.
func (r *Repository) GetSchedule(ctx context.Context, userID uuid.UUID) (*models.Schedule, error) {
	const q = `SELECT id, user_id, time_zone, working_hours, date_overrides, updated_at FROM schedules WHERE user_id = $1`
	var s models.Schedule
	err := r.pool.QueryRow(ctx, q, userID).Scan(&s.ID, &s.UserID, &s.TimeZone, &s.WorkingHours, &s.Overrides, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert replaces the user's schedule.
func (r *Repository) Upsert(ctx context.Context, s *models.Schedule) error {
	const q = `INSERT INTO schedules (user_id, time_zone, working_hours, date_overrides)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET time_zone = EXCLUDED.time_zone, working_hours = EXCLUDED.working_hours,
			date_overrides = EXCLUDED.date_overrides, updated_at = NOW()
		RETURNING id, updated_at`
	overrides := s.Overrides
	if overrides == nil {
		overrides = []models.DateOverride{}
	}
	return r.pool.QueryRow(ctx, q, s.UserID, s.TimeZone, s.WorkingHours, overrides).Scan(&s.ID, &s.UpdatedAt)
}
