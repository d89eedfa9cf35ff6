package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-booking/backend/internal/middleware"
	"github.com/aura-booking/backend/internal/models"
)

type memStore struct {
	subs []models.WebhookSubscription
}

func (m *memStore) Create(_ context.Context, s *models.WebhookSubscription) error {
	s.ID = uuid.New()
	m.subs = append(m.subs, *s)
	return nil
}

func (m *memStore) ListByUser(_ context.Context, userID uuid.UUID) ([]models.WebhookSubscription, error) {
	var out []models.WebhookSubscription
	for _, s := range m.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, userID, id uuid.UUID) error {
	for i, s := range m.subs {
		if s.ID == id && s.UserID == userID {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func setup(userID uuid.UUID, store *memStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(store, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(middleware.ContextUserID, userID) })
	r.POST("/webhook-subscriptions", h.Create)
	r.GET("/webhook-subscriptions", h.List)
	r.DELETE("/webhook-subscriptions/:id", h.Delete)
	return r
}

func send(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestCreateSubscription(t *testing.T) {
	store := &memStore{}
	user := uuid.New()
	r := setup(user, store)

	w := send(r, http.MethodPost, "/webhook-subscriptions",
		`{"url":"https://hooks.example.com/b","secret":"x","triggers":["BOOKING_CREATED","BOOKING_CANCELLED"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, store.subs, 1)
	assert.Equal(t, user, store.subs[0].UserID)
	assert.True(t, store.subs[0].Active)
	assert.NotContains(t, w.Body.String(), `"secret"`)

	w = send(r, http.MethodGet, "/webhook-subscriptions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.WebhookSubscription `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)
}

func TestCreateRejectsBadInput(t *testing.T) {
	r := setup(uuid.New(), &memStore{})

	w := send(r, http.MethodPost, "/webhook-subscriptions", `{"url":"https://x.example.com","triggers":["MEETING_ENDED"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "triggers")

	w = send(r, http.MethodPost, "/webhook-subscriptions", `{"url":"ftp://x","triggers":["BOOKING_CREATED"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "url")

	w = send(r, http.MethodPost, "/webhook-subscriptions", `{"url":"https://x.example.com","triggers":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteSubscription(t *testing.T) {
	user := uuid.New()
	store := &memStore{subs: []models.WebhookSubscription{{ID: uuid.New(), UserID: user}}}
	r := setup(user, store)

	w := send(r, http.MethodDelete, "/webhook-subscriptions/"+store.subs[0].ID.String(), "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, store.subs)

	w = send(r, http.MethodDelete, "/webhook-subscriptions/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = send(r, http.MethodDelete, "/webhook-subscriptions/nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
