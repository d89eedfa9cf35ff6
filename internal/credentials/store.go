package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/metrics"
	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/utils"
)

// ErrNotFound is returned for unknown credentials.
var ErrNotFound = errors.New("credential not found")

const cacheKeyPrefix = "credential:"

// Repo is the persistence the store reads through to.
type Repo interface {
	Create(ctx context.Context, c *models.Credential, sealed []byte) error
	GetSealed(ctx context.Context, id uuid.UUID) (*SealedCredential, error)
	ListSealedByUser(ctx context.Context, userID uuid.UUID) ([]SealedCredential, error)
	UpdateSealedKey(ctx context.Context, id uuid.UUID, sealed []byte) error
	MarkInvalid(ctx context.Context, id uuid.UUID) error
	ListSelected(ctx context.Context, userID uuid.UUID) ([]models.SelectedCalendar, error)
	ReplaceSelected(ctx context.Context, userID, credentialID uuid.UUID, integration string, externalIDs []string) error
}

// Store opens sealed credentials and caches them in Redis. Cached values stay sealed.
type Store struct {
	repo   Repo
	rdb    *redis.Client
	sealer *utils.Sealer
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore creates a credential store. A nil Redis client disables caching.
func NewStore(repo Repo, rdb *redis.Client, sealer *utils.Sealer, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{repo: repo, rdb: rdb, sealer: sealer, ttl: ttl, logger: logger}
}

// CacheKey is the Redis key a credential is cached under.
func CacheKey(id uuid.UUID) string {
	return cacheKeyPrefix + id.String()
}

// Get returns a credential by id: Redis first, Postgres on a miss.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	if sc, ok := s.fromCache(ctx, id); ok {
		metrics.ObserveCredentialCache(true)
		return s.open(sc)
	}
	metrics.ObserveCredentialCache(false)
	sc, err := s.repo.GetSealed(ctx, id)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, sc)
	return s.open(sc)
}

func (s *Store) fromCache(ctx context.Context, id uuid.UUID) (*SealedCredential, bool) {
	if s.rdb == nil {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, CacheKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("credential cache read failed", zap.String("credential_id", id.String()), zap.Error(err))
		}
		return nil, false
	}
	var sc SealedCredential
	if err := json.Unmarshal(raw, &sc); err != nil {
		s.logger.Warn("credential cache entry corrupt", zap.String("credential_id", id.String()), zap.Error(err))
		return nil, false
	}
	return &sc, true
}

func encodeEntry(sc *SealedCredential) (string, error) {
	raw, err := json.Marshal(sc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Store) toCache(ctx context.Context, sc *SealedCredential) {
	if s.rdb == nil {
		return
	}
	entry, err := encodeEntry(sc)
	if err == nil {
		err = s.rdb.Set(ctx, CacheKey(sc.ID), entry, s.ttl).Err()
	}
	if err != nil {
		s.logger.Warn("credential cache write failed", zap.String("credential_id", sc.ID.String()), zap.Error(err))
	}
}

// Invalidate drops a cached credential.
func (s *Store) Invalidate(ctx context.Context, id uuid.UUID) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, CacheKey(id)).Err(); err != nil {
		s.logger.Warn("credential cache invalidate failed", zap.String("credential_id", id.String()), zap.Error(err))
	}
}

func (s *Store) open(sc *SealedCredential) (*models.Credential, error) {
	key, err := s.sealer.Open(sc.Sealed)
	if err != nil {
		return nil, fmt.Errorf("open credential %s: %w", sc.ID, err)
	}
	c := sc.Credential
	c.Key = key
	return &c, nil
}

// ListByUser returns a user's credentials with opened keys. Undecryptable rows are skipped.
func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Credential, error) {
	rows, err := s.repo.ListSealedByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Credential, 0, len(rows))
	for i := range rows {
		c, err := s.open(&rows[i])
		if err != nil {
			s.logger.Error("credential unreadable", zap.String("credential_id", rows[i].ID.String()), zap.Error(err))
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

// Register seals and stores a new credential.
func (s *Store) Register(ctx context.Context, userID uuid.UUID, typ string, key json.RawMessage) (*models.Credential, error) {
	sealed, err := s.sealer.Seal(key)
	if err != nil {
		return nil, err
	}
	c := &models.Credential{UserID: userID, Type: typ, AppID: typ}
	if err := s.repo.Create(ctx, c, sealed); err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	c.Key = key
	return c, nil
}

// SaveKey writes a refreshed key back and invalidates the cache entry.
func (s *Store) SaveKey(ctx context.Context, id uuid.UUID, key []byte) error {
	sealed, err := s.sealer.Seal(key)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateSealedKey(ctx, id, sealed); err != nil {
		return fmt.Errorf("update credential key: %w", err)
	}
	s.Invalidate(ctx, id)
	return nil
}

// MarkInvalid flags a credential and invalidates its cache entry.
func (s *Store) MarkInvalid(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.MarkInvalid(ctx, id); err != nil {
		return err
	}
	s.Invalidate(ctx, id)
	return nil
}

// ListSelected returns the user's selected calendars.
func (s *Store) ListSelected(ctx context.Context, userID uuid.UUID) ([]models.SelectedCalendar, error) {
	return s.repo.ListSelected(ctx, userID)
}

// SetSelected replaces the selected calendars of one of the user's credentials.
func (s *Store) SetSelected(ctx context.Context, userID uuid.UUID, cred *models.Credential, externalIDs []string) error {
	if cred.UserID != userID {
		return ErrNotFound
	}
	return s.repo.ReplaceSelected(ctx, userID, cred.ID, cred.Type, externalIDs)
}
