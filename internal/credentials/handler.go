package credentials

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/integrations"
	"github.com/aura-booking/backend/internal/metrics"
	"github.com/aura-booking/backend/internal/middleware"
	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/response"
)

// RegisterRequest is the body for POST /credentials.
type RegisterRequest struct {
	Type string          `json:"type" binding:"required"`
	Key  json.RawMessage `json:"key" binding:"required"`
}

// SelectedRequest is the body for PUT /credentials/:id/selected-calendars.
type SelectedRequest struct {
	ExternalIDs []string `json:"external_ids"`
}

// Handler handles credential HTTP endpoints.
type Handler struct {
	store    *Store
	registry *integrations.Registry
	logger   *zap.Logger
}

// NewHandler creates a credential handler.
func NewHandler(store *Store, registry *integrations.Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, registry: registry, logger: logger}
}

// Register handles POST /credentials.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	app, ok := h.registry.App(req.Type)
	if !ok || app.Global {
		response.BadRequest(c, "unknown integration type")
		return
	}
	if !json.Valid(req.Key) {
		response.BadRequest(c, "key must be JSON")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	cred, err := h.store.Register(c.Request.Context(), userID, req.Type, req.Key)
	if err != nil {
		h.logger.Error("register credential", zap.Error(err))
		response.Internal(c, "failed to save credential")
		return
	}
	response.Created(c, cred)
}

// List handles GET /credentials.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	creds, err := h.store.ListByUser(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to list credentials")
		return
	}
	if creds == nil {
		creds = []models.Credential{}
	}
	response.OK(c, creds)
}

// Calendars handles GET /credentials/:id/calendars.
func (h *Handler) Calendars(c *gin.Context) {
	cred, ok := h.owned(c)
	if !ok {
		return
	}
	adapter, err := h.registry.Calendar(*cred)
	if err != nil {
		response.BadRequest(c, "credential is not a calendar")
		return
	}
	var cals []integrations.IntegrationCalendar
	started := time.Now()
	err = h.registry.Breaker(*cred).Execute(func() error {
		var callErr error
		cals, callErr = adapter.ListCalendars(c.Request.Context())
		return callErr
	})
	metrics.ObserveIntegration(cred.Type, "list_calendars", started, err)
	if err != nil {
		h.logger.Warn("list calendars failed", zap.String("credential_id", cred.ID.String()), zap.Error(err))
		response.ServiceUnavailable(c, "calendar provider unavailable")
		return
	}
	response.OK(c, cals)
}

// SetSelected handles PUT /credentials/:id/selected-calendars.
func (h *Handler) SetSelected(c *gin.Context) {
	cred, ok := h.owned(c)
	if !ok {
		return
	}
	var req SelectedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.store.SetSelected(c.Request.Context(), userID, cred, req.ExternalIDs); err != nil {
		h.logger.Error("set selected calendars", zap.Error(err))
		response.Internal(c, "failed to save selected calendars")
		return
	}
	response.NoContent(c)
}

func (h *Handler) owned(c *gin.Context) (*models.Credential, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid credential id")
		return nil, false
	}
	cred, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "credential not found")
			return nil, false
		}
		response.Internal(c, "failed to load credential")
		return nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if cred.UserID != userID {
		response.NotFound(c, "credential not found")
		return nil, false
	}
	return cred, true
}
