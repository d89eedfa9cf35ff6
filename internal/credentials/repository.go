// Package credentials stores integration credentials sealed at rest and serves them through a
// Redis read-through cache.
package credentials

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/database"
)

// SealedCredential is a credential row whose key is still ciphertext.
type SealedCredential struct {
	models.Credential
	Sealed []byte `json:"sealed"`
}

// Repository handles credential persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a credential repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a credential and fills its id and timestamps.
func (r *Repository) Create(ctx context.Context, c *models.Credential, sealed []byte) error {
	const q = `INSERT INTO credentials (user_id, type, app_id, sealed_key)
		VALUES ($1, $2, $3, $4) RETURNING id, invalid, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, c.UserID, c.Type, c.AppID, sealed).
		Scan(&c.ID, &c.Invalid, &c.CreatedAt, &c.UpdatedAt)
}

// GetSealed returns one credential.
func (r *Repository) GetSealed(ctx context.Context, id uuid.UUID) (*SealedCredential, error) {
	const q = `SELECT id, user_id, type, app_id, sealed_key, invalid, created_at, updated_at
		FROM credentials WHERE id = $1`
	var s SealedCredential
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.UserID, &s.Type, &s.AppID, &s.Sealed, &s.Invalid, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListSealedByUser returns a user's credentials, oldest first.
func (r *Repository) ListSealedByUser(ctx context.Context, userID uuid.UUID) ([]SealedCredential, error) {
	const q = `SELECT id, user_id, type, app_id, sealed_key, invalid, created_at, updated_at
		FROM credentials WHERE user_id = $1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []SealedCredential
	for rows.Next() {
		var s SealedCredential
		if err := rows.Scan(&s.ID, &s.UserID, &s.Type, &s.AppID, &s.Sealed, &s.Invalid, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// UpdateSealedKey replaces the key of a credential and clears its invalid flag.
func (r *Repository) UpdateSealedKey(ctx context.Context, id uuid.UUID, sealed []byte) error {
	const q = `UPDATE credentials SET sealed_key = $2, invalid = FALSE, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, sealed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInvalid flags a credential whose provider rejected it.
func (r *Repository) MarkInvalid(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE credentials SET invalid = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// ListSelected returns the calendars a user reads busy times from.
func (r *Repository) ListSelected(ctx context.Context, userID uuid.UUID) ([]models.SelectedCalendar, error) {
	const q = `SELECT user_id, credential_id, integration, external_id
		FROM selected_calendars WHERE user_id = $1 ORDER BY integration, external_id`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.SelectedCalendar
	for rows.Next() {
		var s models.SelectedCalendar
		if err := rows.Scan(&s.UserID, &s.CredentialID, &s.Integration, &s.ExternalID); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// ReplaceSelected sets the selected calendars of one credential in a single transaction.
func (r *Repository) ReplaceSelected(ctx context.Context, userID, credentialID uuid.UUID, integration string, externalIDs []string) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM selected_calendars WHERE user_id = $1 AND credential_id = $2`, userID, credentialID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, ext := range externalIDs {
			batch.Queue(`INSERT INTO selected_calendars (user_id, credential_id, integration, external_id)
				VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`, userID, credentialID, integration, ext)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
