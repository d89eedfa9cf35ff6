package webhooks

import (
	"context"
	"errors"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/middleware"
	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/response"
)

// Store is the persistence the handler needs.
type Store interface {
	Create(ctx context.Context, s *models.WebhookSubscription) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.WebhookSubscription, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

// CreateRequest is the body for POST /webhook-subscriptions.
type CreateRequest struct {
	URL         string                `json:"url" binding:"required"`
	Secret      string                `json:"secret"`
	EventTypeID *uuid.UUID            `json:"event_type_id"`
	Triggers    []models.TriggerEvent `json:"triggers" binding:"required,min=1"`
}

// Handler handles webhook subscription endpoints.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a webhook subscription handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

func validate(req *CreateRequest) map[string]string {
	fields := map[string]string{}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fields["url"] = "must be an absolute http(s) URL"
	}
	for _, t := range req.Triggers {
		if !models.ValidTrigger(t) {
			fields["triggers"] = "unknown trigger " + string(t)
			break
		}
	}
	return fields
}

// Create handles POST /webhook-subscriptions.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if fields := validate(&req); len(fields) > 0 {
		response.Invalid(c, "invalid subscription", fields)
		return
	}
	userID, _ := middleware.UserID(c)
	s := &models.WebhookSubscription{
		UserID:      userID,
		EventTypeID: req.EventTypeID,
		URL:         req.URL,
		Secret:      req.Secret,
		Triggers:    req.Triggers,
		Active:      true,
	}
	if err := h.store.Create(c.Request.Context(), s); err != nil {
		h.logger.Error("create webhook subscription failed", zap.String("user_id", userID.String()), zap.Error(err))
		response.Internal(c, "failed to create subscription")
		return
	}
	response.Created(c, s)
}

// List handles GET /webhook-subscriptions.
func (h *Handler) List(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	list, err := h.store.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list webhook subscriptions failed", zap.Error(err))
		response.Internal(c, "failed to list subscriptions")
		return
	}
	if list == nil {
		list = []models.WebhookSubscription{}
	}
	response.OK(c, list)
}

// Delete handles DELETE /webhook-subscriptions/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid subscription id")
		return
	}
	userID, _ := middleware.UserID(c)
	if err := h.store.Delete(c.Request.Context(), userID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "subscription not found")
			return
		}
		h.logger.Error("delete webhook subscription failed", zap.Error(err))
		response.Internal(c, "failed to delete subscription")
		return
	}
	response.NoContent(c)
}
