package credentials

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/utils"
)

const testKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

type memRepo struct {
	rows     map[uuid.UUID]*SealedCredential
	gets     int
	selected map[uuid.UUID][]string
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[uuid.UUID]*SealedCredential{}, selected: map[uuid.UUID][]string{}}
}

func (m *memRepo) Create(_ context.Context, c *models.Credential, sealed []byte) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.UpdatedAt = c.CreatedAt
	m.rows[c.ID] = &SealedCredential{Credential: *c, Sealed: sealed}
	return nil
}

func (m *memRepo) GetSealed(_ context.Context, id uuid.UUID) (*SealedCredential, error) {
	m.gets++
	sc, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (m *memRepo) ListSealedByUser(_ context.Context, userID uuid.UUID) ([]SealedCredential, error) {
	var out []SealedCredential
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateSealedKey(_ context.Context, id uuid.UUID, sealed []byte) error {
	sc, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	sc.Sealed = sealed
	return nil
}

func (m *memRepo) MarkInvalid(_ context.Context, id uuid.UUID) error {
	m.rows[id].Invalid = true
	return nil
}

func (m *memRepo) ListSelected(context.Context, uuid.UUID) ([]models.SelectedCalendar, error) {
	return nil, nil
}

func (m *memRepo) ReplaceSelected(_ context.Context, _, credentialID uuid.UUID, _ string, ids []string) error {
	m.selected[credentialID] = ids
	return nil
}

func newStore(t *testing.T) (*Store, *memRepo, redismock.ClientMock) {
	t.Helper()
	sealer, err := utils.NewSealer(testKey)
	require.NoError(t, err)
	client, mock := redismock.NewClientMock()
	repo := newMemRepo()
	return NewStore(repo, client, sealer, time.Minute, nil), repo, mock
}

func TestGetReadsThroughOnMiss(t *testing.T) {
	s, repo, mock := newStore(t)
	userID := uuid.New()
	sealed, err := s.sealer.Seal([]byte(`{"access_token":"a"}`))
	require.NoError(t, err)
	c := &models.Credential{UserID: userID, Type: "office365_calendar", AppID: "office365_calendar"}
	require.NoError(t, repo.Create(context.Background(), c, sealed))

	entry, err := encodeEntry(repo.rows[c.ID])
	require.NoError(t, err)
	mock.ExpectGet(CacheKey(c.ID)).RedisNil()
	mock.ExpectSet(CacheKey(c.ID), entry, time.Minute).SetVal("OK")

	got, err := s.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"a"}`, string(got.Key))
	assert.Equal(t, 1, repo.gets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetServesFromCache(t *testing.T) {
	s, repo, mock := newStore(t)
	id := uuid.New()
	sealed, err := s.sealer.Seal([]byte(`{"token":"t"}`))
	require.NoError(t, err)
	entry, err := encodeEntry(&SealedCredential{Credential: models.Credential{ID: id, Type: "crm_other_calendar"}, Sealed: sealed})
	require.NoError(t, err)
	mock.ExpectGet(CacheKey(id)).SetVal(entry)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "crm_other_calendar", got.Type)
	assert.JSONEq(t, `{"token":"t"}`, string(got.Key))
	assert.Zero(t, repo.gets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUnknown(t *testing.T) {
	s, _, mock := newStore(t)
	id := uuid.New()
	mock.ExpectGet(CacheKey(id)).RedisNil()
	_, err := s.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveKeyInvalidatesCache(t *testing.T) {
	s, repo, mock := newStore(t)
	c, err := s.Register(context.Background(), uuid.New(), "office365_calendar", json.RawMessage(`{"access_token":"old"}`))
	require.NoError(t, err)

	mock.ExpectDel(CacheKey(c.ID)).SetVal(1)
	require.NoError(t, s.SaveKey(context.Background(), c.ID, []byte(`{"access_token":"new"}`)))
	assert.NoError(t, mock.ExpectationsWereMet())

	plain, err := s.sealer.Open(repo.rows[c.ID].Sealed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"new"}`, string(plain))
}

func TestRegisterSealsKey(t *testing.T) {
	s, repo, _ := newStore(t)
	c, err := s.Register(context.Background(), uuid.New(), "crm_other_calendar", json.RawMessage(`{"endpoint":"https://crm"}`))
	require.NoError(t, err)
	assert.NotContains(t, string(repo.rows[c.ID].Sealed), "crm")
}

func TestListByUserOpensKeys(t *testing.T) {
	s, _, _ := newStore(t)
	userID := uuid.New()
	_, err := s.Register(context.Background(), userID, "crm_other_calendar", json.RawMessage(`{"endpoint":"https://crm"}`))
	require.NoError(t, err)
	_, err = s.Register(context.Background(), uuid.New(), "crm_other_calendar", json.RawMessage(`{}`))
	require.NoError(t, err)

	list, err := s.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, `{"endpoint":"https://crm"}`, string(list[0].Key))
}

func TestSetSelectedChecksOwner(t *testing.T) {
	s, repo, _ := newStore(t)
	owner := uuid.New()
	c, err := s.Register(context.Background(), owner, "office365_calendar", json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetSelected(context.Background(), uuid.New(), c, []string{"x"}), ErrNotFound)
	require.NoError(t, s.SetSelected(context.Background(), owner, c, []string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, repo.selected[c.ID])
}
