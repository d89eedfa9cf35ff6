package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Credential is a per-user integration credential. Key carries provider token state (decrypted).
type Credential struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      string          `json:"type"`
	AppID     string          `json:"app_id"`
	Key       json.RawMessage `json:"-"`
	Invalid   bool            `json:"invalid"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SelectedCalendar is an external calendar read for busy times.
type SelectedCalendar struct {
	UserID       uuid.UUID `json:"user_id"`
	CredentialID uuid.UUID `json:"credential_id"`
	Integration  string    `json:"integration"`
	ExternalID   string    `json:"external_id"`
}
