package schedules

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/availability"
	"github.com/aura-booking/backend/internal/middleware"
	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/response"
)

// Store is the persistence the handler needs.
type Store interface {
	GetSchedule(ctx context.Context, userID uuid.UUID) (*models.Schedule, error)
	Upsert(ctx context.Context, s *models.Schedule) error
}

// PutRequest is the body for PUT /schedules/me.
type PutRequest struct {
	TimeZone     string                `json:"time_zone" binding:"required"`
	WorkingHours []models.WorkingHours `json:"working_hours"`
	Overrides    []models.DateOverride `json:"date_overrides"`
}

// Handler handles schedule HTTP endpoints.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a schedules handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Get handles GET /schedules/me. Organizers without a saved schedule see the default one.
func (h *Handler) Get(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	s, err := h.store.GetSchedule(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("get schedule failed", zap.Error(err))
		response.Internal(c, "failed to load schedule")
		return
	}
	if s == nil {
		s = availability.DefaultSchedule("UTC")
		s.UserID = userID
	}
	response.OK(c, s)
}

// Put handles PUT /schedules/me.
func (h *Handler) Put(c *gin.Context) {
	var req PutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, _ := middleware.UserID(c)
	s := &models.Schedule{UserID: userID, TimeZone: req.TimeZone, WorkingHours: req.WorkingHours, Overrides: req.Overrides}
	if s.WorkingHours == nil {
		s.WorkingHours = []models.WorkingHours{}
	}
	if err := availability.ValidateSchedule(s); err != nil {
		response.Invalid(c, "invalid schedule", map[string]string{"schedule": err.Error()})
		return
	}
	if err := h.store.Upsert(c.Request.Context(), s); err != nil {
		h.logger.Error("save schedule failed", zap.String("user_id", userID.String()), zap.Error(err))
		response.Internal(c, "failed to save schedule")
		return
	}
	response.OK(c, s)
}
