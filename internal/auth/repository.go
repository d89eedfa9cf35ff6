package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-booking/backend/internal/models"
)

// ErrUserNotFound is returned when no user matches.
var ErrUserNotFound = errors.New("user not found")

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, password_hash, full_name, role, time_zone, locale, destination_calendar, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role, &u.TimeZone, &u.Locale, &u.DestinationCalendar, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

// ListByIDs returns the users with the given ids, in no particular order.
func (r *Repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *u)
	}
	return list, rows.Err()
}

// CreateUserParams holds optional profile fields for registration.
type CreateUserParams struct {
	TimeZone string
	Locale   string
}

// Create inserts a new user.
func (r *Repository) Create(ctx context.Context, email, passwordHash, fullName string, role models.Role, profile *CreateUserParams) (*models.User, error) {
	const q = `INSERT INTO users (email, password_hash, full_name, role, time_zone, locale)
		VALUES ($1, $2, $3, $4, COALESCE(NULLIF($5,''), 'UTC'), COALESCE(NULLIF($6,''), 'en'))
		RETURNING ` + userColumns
	tz, locale := "", ""
	if profile != nil {
		tz, locale = profile.TimeZone, profile.Locale
	}
	return scanUser(r.pool.QueryRow(ctx, q, email, passwordHash, fullName, string(role), tz, locale))
}

// SetDestinationCalendar stores the calendar new bookings are written to when the event type names none.
func (r *Repository) SetDestinationCalendar(ctx context.Context, id uuid.UUID, dest *models.DestinationCalendar) error {
	const q = `UPDATE users SET destination_calendar = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, dest)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
