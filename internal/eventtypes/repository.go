// Package eventtypes stores bookable event types and resolves their hosts to users.
package eventtypes

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-booking/backend/internal/models"
)

// ErrNotFound is returned when no event type matches.
var ErrNotFound = errors.New("event type not found")

// Repository handles event type persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an event types repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, owner_id, slug, title, description, length_minutes, scheduling_type, locations,
	seats_per_time_slot, seats_show_attendees, requires_confirmation, price, currency, recurring,
	before_buffer, after_buffer, minimum_booking_notice, destination_calendar, booking_limits,
	duration_limits, round_robin_host_count, metadata, created_at, updated_at`

func scanEventType(row pgx.Row) (*models.EventType, error) {
	var e models.EventType
	err := row.Scan(&e.ID, &e.OwnerID, &e.Slug, &e.Title, &e.Description, &e.Length, &e.SchedulingType, &e.Locations,
		&e.SeatsPerTimeSlot, &e.SeatsShowAttendees, &e.RequiresConfirmation, &e.Price, &e.Currency, &e.Recurring,
		&e.BeforeBuffer, &e.AfterBuffer, &e.MinimumBookingNotice, &e.DestinationCalendar, &e.BookingLimits,
		&e.DurationLimits, &e.RoundRobinHostCount, &e.Metadata, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts an event type with its hosts in one transaction.
func (r *Repository) Create(ctx context.Context, e *models.EventType) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `INSERT INTO event_types (owner_id, slug, title, description, length_minutes, scheduling_type, locations,
		seats_per_time_slot, seats_show_attendees, requires_confirmation, price, currency, recurring,
		before_buffer, after_buffer, minimum_booking_notice, destination_calendar, booking_limits,
		duration_limits, round_robin_host_count, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING id, created_at, updated_at`
	err = tx.QueryRow(ctx, q, e.OwnerID, e.Slug, e.Title, e.Description, e.Length, e.SchedulingType, e.Locations,
		e.SeatsPerTimeSlot, e.SeatsShowAttendees, e.RequiresConfirmation, e.Price, e.Currency, e.Recurring,
		e.BeforeBuffer, e.AfterBuffer, e.MinimumBookingNotice, e.DestinationCalendar, e.BookingLimits,
		e.DurationLimits, e.RoundRobinHostCount, e.Metadata).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert event type: %w", err)
	}

	batch := &pgx.Batch{}
	for _, h := range e.Hosts {
		batch.Queue(`INSERT INTO event_type_hosts (event_type_id, user_id, is_fixed, priority) VALUES ($1, $2, $3, $4)`,
			e.ID, h.UserID, h.IsFixed, h.Priority)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert hosts: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetByID returns an event type with its hosts.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.EventType, error) {
	e, err := scanEventType(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM event_types WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if e.Hosts, err = r.hosts(ctx, e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

// ListByOwner returns an organizer's event types, hosts included.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.EventType, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM event_types WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.EventType
	for rows.Next() {
		e, err := scanEventType(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Hosts, err = r.hosts(ctx, list[i].ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r *Repository) hosts(ctx context.Context, eventTypeID uuid.UUID) ([]models.Host, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, is_fixed, priority FROM event_type_hosts WHERE event_type_id = $1 ORDER BY priority DESC, user_id`, eventTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Host
	for rows.Next() {
		var h models.Host
		if err := rows.Scan(&h.UserID, &h.IsFixed, &h.Priority); err != nil {
			return nil, err
		}
		list = append(list, h)
	}
	return list, rows.Err()
}

// HostUsers resolves the event type's hosts to users, in host order. Without explicit hosts the
// owner hosts alone as a fixed host.
func (r *Repository) HostUsers(ctx context.Context, e *models.EventType) ([]models.HostUser, error) {
	hosts := e.Hosts
	if len(hosts) == 0 {
		hosts = []models.Host{{UserID: e.OwnerID, IsFixed: true}}
	}
	ids := make([]uuid.UUID, len(hosts))
	for i, h := range hosts {
		ids[i] = h.UserID
	}
	const q = `SELECT id, email, full_name, role, time_zone, locale, destination_calendar FROM users WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := make(map[uuid.UUID]models.User, len(ids))
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.TimeZone, &u.Locale, &u.DestinationCalendar); err != nil {
			return nil, err
		}
		users[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return JoinHosts(hosts, users), nil
}

// JoinHosts pairs hosts with their users, skipping hosts whose user no longer exists.
func JoinHosts(hosts []models.Host, users map[uuid.UUID]models.User) []models.HostUser {
	out := make([]models.HostUser, 0, len(hosts))
	for _, h := range hosts {
		u, ok := users[h.UserID]
		if !ok {
			continue
		}
		out = append(out, models.HostUser{User: u, IsFixed: h.IsFixed, Priority: h.Priority})
	}
	return out
}
