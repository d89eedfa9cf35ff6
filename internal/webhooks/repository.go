// Package webhooks stores organizer webhook subscriptions and delivers signed event payloads to them.
package webhooks

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/database"
)

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("webhook subscription not found")

// Repository handles subscription persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a subscription repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, user_id, event_type_id, url, secret, triggers, active, created_at`

func scan(row pgx.Row) (*models.WebhookSubscription, error) {
	var (
		s        models.WebhookSubscription
		triggers []string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.EventTypeID, &s.URL, &s.Secret, &triggers, &s.Active, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Triggers = make([]models.TriggerEvent, len(triggers))
	for i, t := range triggers {
		s.Triggers[i] = models.TriggerEvent(t)
	}
	return &s, nil
}

func triggerStrings(ts []models.TriggerEvent) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

// Create inserts a subscription and fills its id and created_at.
func (r *Repository) Create(ctx context.Context, s *models.WebhookSubscription) error {
	const q = `INSERT INTO webhook_subscriptions (user_id, event_type_id, url, secret, triggers, active)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, s.UserID, s.EventTypeID, s.URL, s.Secret, triggerStrings(s.Triggers), s.Active).
		Scan(&s.ID, &s.CreatedAt)
}

// GetByID returns one subscription.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookSubscription, error) {
	q := `SELECT ` + columns + ` FROM webhook_subscriptions WHERE id = $1`
	s, err := scan(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.WebhookSubscription, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.WebhookSubscription
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// ListByUser returns an organizer's subscriptions, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.WebhookSubscription, error) {
	q := `SELECT ` + columns + ` FROM webhook_subscriptions WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, q, userID)
}

// ListForTrigger returns the active subscriptions of an organizer that listen to trigger, either
// for every event type or for eventTypeID.
func (r *Repository) ListForTrigger(ctx context.Context, userID uuid.UUID, eventTypeID *uuid.UUID, trigger models.TriggerEvent) ([]models.WebhookSubscription, error) {
	q := `SELECT ` + columns + ` FROM webhook_subscriptions
		WHERE user_id = $1 AND active AND $3 = ANY(triggers)
		AND (event_type_id IS NULL OR event_type_id = $2)`
	return r.list(ctx, q, userID, eventTypeID, string(trigger))
}

// Delete removes a subscription owned by userID.
func (r *Repository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	const q = `DELETE FROM webhook_subscriptions WHERE id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, q, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
