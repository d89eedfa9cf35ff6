package eventtypes

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/availability"
	"github.com/aura-booking/backend/internal/middleware"
	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/internal/recurrence"
	"github.com/aura-booking/backend/pkg/response"
)

// CreateRequest is the body for POST /event-types.
type CreateRequest struct {
	Slug                 string                     `json:"slug" binding:"required"`
	Title                string                     `json:"title" binding:"required"`
	Description          string                     `json:"description"`
	Length               int                        `json:"length" binding:"required"`
	SchedulingType       models.SchedulingType      `json:"scheduling_type"`
	Hosts                []models.Host              `json:"hosts"`
	Locations            []models.Location          `json:"locations"`
	SeatsPerTimeSlot     *int                       `json:"seats_per_time_slot"`
	SeatsShowAttendees   bool                       `json:"seats_show_attendees"`
	RequiresConfirmation bool                       `json:"requires_confirmation"`
	Price                decimal.Decimal            `json:"price"`
	Currency             string                     `json:"currency"`
	Recurring            *models.RecurringRule      `json:"recurring"`
	BeforeBuffer         int                        `json:"before_buffer"`
	AfterBuffer          int                        `json:"after_buffer"`
	MinimumBookingNotice int                        `json:"minimum_booking_notice"`
	DestinationCalendar  *models.DestinationCalendar `json:"destination_calendar"`
	BookingLimits        map[models.LimitPeriod]int `json:"booking_limits"`
	DurationLimits       map[models.LimitPeriod]int `json:"duration_limits"`
	RoundRobinHostCount  int                        `json:"round_robin_host_count"`
	Metadata             json.RawMessage            `json:"metadata"`
}

// AvailableHost is the public view of a free host.
type AvailableHost struct {
	UserID   uuid.UUID `json:"user_id"`
	Name     string    `json:"name"`
	TimeZone string    `json:"time_zone"`
}

// Handler handles event type HTTP endpoints.
type Handler struct {
	repo     *Repository
	resolver *availability.Resolver
	known    LocationChecker
	logger   *zap.Logger
}

// NewHandler creates an event types handler.
func NewHandler(repo *Repository, resolver *availability.Resolver, known LocationChecker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, resolver: resolver, known: known, logger: logger}
}

// Create handles POST /event-types. The caller owns the new event type.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ownerID, _ := middleware.UserID(c)
	if req.SchedulingType == "" {
		req.SchedulingType = models.SchedulingIndividual
	}
	e := &models.EventType{
		OwnerID:              ownerID,
		Slug:                 req.Slug,
		Title:                req.Title,
		Description:          req.Description,
		Length:               req.Length,
		SchedulingType:       req.SchedulingType,
		Hosts:                req.Hosts,
		Locations:            req.Locations,
		SeatsPerTimeSlot:     req.SeatsPerTimeSlot,
		SeatsShowAttendees:   req.SeatsShowAttendees,
		RequiresConfirmation: req.RequiresConfirmation,
		Price:                req.Price,
		Currency:             req.Currency,
		Recurring:            req.Recurring,
		BeforeBuffer:         req.BeforeBuffer,
		AfterBuffer:          req.AfterBuffer,
		MinimumBookingNotice: req.MinimumBookingNotice,
		DestinationCalendar:  req.DestinationCalendar,
		BookingLimits:        req.BookingLimits,
		DurationLimits:       req.DurationLimits,
		RoundRobinHostCount:  req.RoundRobinHostCount,
		Metadata:             req.Metadata,
	}
	if err := Validate(e, h.known); err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		response.Invalid(c, "invalid event type", ve.Fields)
		return
	}
	if err := h.repo.Create(c.Request.Context(), e); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			response.Conflict(c, "slug already in use")
			return
		}
		h.logger.Error("create event type failed", zap.Error(err))
		response.Internal(c, "failed to create event type")
		return
	}
	response.Created(c, e)
}

// Get handles GET /event-types/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event type id")
		return
	}
	e, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "event type not found")
		return
	}
	if err != nil {
		h.logger.Error("get event type failed", zap.Error(err))
		response.Internal(c, "failed to load event type")
		return
	}
	response.OK(c, e)
}

// List handles GET /event-types for the caller.
func (h *Handler) List(c *gin.Context) {
	ownerID, _ := middleware.UserID(c)
	list, err := h.repo.ListByOwner(c.Request.Context(), ownerID)
	if err != nil {
		h.logger.Error("list event types failed", zap.Error(err))
		response.Internal(c, "failed to list event types")
		return
	}
	response.OK(c, list)
}

// Availability handles GET /event-types/:id/availability?from=&to=[&recurring_count=].
// It answers which hosts are free for the slot, checking every occurrence of a recurring series.
func (h *Handler) Availability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event type id")
		return
	}
	from, errFrom := time.Parse(time.RFC3339, c.Query("from"))
	to, errTo := time.Parse(time.RFC3339, c.Query("to"))
	if errFrom != nil || errTo != nil {
		response.BadRequest(c, "from and to must be RFC3339 timestamps")
		return
	}
	ctx := c.Request.Context()
	e, err := h.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "event type not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load event type")
		return
	}
	candidates, err := h.repo.HostUsers(ctx, e)
	if err != nil {
		response.Internal(c, "failed to load hosts")
		return
	}

	var rc *availability.RecurringContext
	if e.Recurring != nil {
		occ, err := recurrence.NewEngine(time.UTC).Generate(*e.Recurring, from, to, 0)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		rc = &availability.RecurringContext{Dates: recurrence.Starts(occ)}
	}

	free, err := h.resolver.Resolve(ctx, e, candidates, availability.Window{From: from.UTC(), To: to.UTC()}, rc)
	switch {
	case errors.Is(err, availability.ErrNoAvailableHosts):
		response.OK(c, gin.H{"available": false, "hosts": []AvailableHost{}})
		return
	case errors.Is(err, availability.ErrInvalidWindow), errors.Is(err, availability.ErrNoCandidates):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		h.logger.Error("resolve availability failed", zap.String("event_type_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to resolve availability")
		return
	}
	out := make([]AvailableHost, len(free))
	for i, hu := range free {
		out[i] = AvailableHost{UserID: hu.User.ID, Name: hu.User.FullName, TimeZone: hu.User.TimeZone}
	}
	response.OK(c, gin.H{"available": true, "hosts": out})
}
