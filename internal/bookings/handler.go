package bookings

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/availability"
	"github.com/aura-booking/backend/internal/hosts"
	"github.com/aura-booking/backend/internal/middleware"
	"github.com/aura-booking/backend/pkg/response"
	"github.com/aura-booking/backend/pkg/utils"
)

// Handler handles booking HTTP endpoints.
type Handler struct {
	svc           *Service
	paymentSecret string
	logger        *zap.Logger
}

// NewHandler creates a bookings handler. paymentSecret signs payment provider callbacks.
func NewHandler(svc *Service, paymentSecret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, paymentSecret: paymentSecret, logger: logger}
}

// fail maps service errors onto the response envelope.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		response.Invalid(c, "invalid booking", ve.Fields)
	case errors.Is(err, ErrBookingNotFound):
		response.NotFound(c, "booking not found")
	case errors.Is(err, ErrEventTypeNotFound):
		response.NotFound(c, "event type not found")
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrBookingLimitReached):
		response.UnprocessableEntity(c, err.Error())
	case errors.Is(err, availability.ErrNoAvailableHosts), errors.Is(err, availability.ErrNoCandidates),
		errors.Is(err, hosts.ErrHostsUnavailable):
		response.Conflict(c, "no host is available for this slot")
	case errors.Is(err, ErrBookingConflict), errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrBookingFull):
		response.Conflict(c, err.Error())
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		response.Internal(c, op+" failed")
	}
}

// Create handles POST /bookings. A reschedule_uid reschedules that booking instead.
func (h *Handler) Create(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Create(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "create booking", err)
		return
	}
	response.Created(c, res)
}

// Get handles GET /bookings/:uid.
func (h *Handler) Get(c *gin.Context) {
	b, err := h.svc.Get(c.Request.Context(), c.Param("uid"))
	if err != nil {
		h.fail(c, "get booking", err)
		return
	}
	response.OK(c, b)
}

// Cancel handles POST /bookings/:uid/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	b, err := h.svc.Cancel(c.Request.Context(), c.Param("uid"), req)
	if err != nil {
		h.fail(c, "cancel booking", err)
		return
	}
	response.OK(c, b)
}

// Confirm handles POST /bookings/:uid/confirm.
func (h *Handler) Confirm(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	res, err := h.svc.Confirm(c.Request.Context(), c.Param("uid"), userID)
	if err != nil {
		h.fail(c, "confirm booking", err)
		return
	}
	response.OK(c, res)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /bookings/:uid/reject.
func (h *Handler) Reject(c *gin.Context) {
	var req rejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	userID, _ := middleware.UserID(c)
	b, err := h.svc.Reject(c.Request.Context(), c.Param("uid"), userID, req.Reason)
	if err != nil {
		h.fail(c, "reject booking", err)
		return
	}
	response.OK(c, b)
}

type locationRequest struct {
	Location string `json:"location" binding:"required"`
}

// UpdateLocation handles PATCH /bookings/:uid/location.
func (h *Handler) UpdateLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, _ := middleware.UserID(c)
	res, err := h.svc.UpdateLocation(c.Request.Context(), c.Param("uid"), userID, req.Location)
	if err != nil {
		h.fail(c, "update location", err)
		return
	}
	response.OK(c, res)
}

// PaymentEvent is the callback payment providers post once a charge settles.
type PaymentEvent struct {
	Type              string `json:"type"`
	BookingUID        string `json:"booking_uid"`
	ProviderPaymentID string `json:"provider_payment_id"`
}

// PaymentSucceeded is the only callback type that changes a booking.
const PaymentSucceeded = "payment.succeeded"

// PaymentWebhook handles POST /webhooks/payments. The raw body must carry a hex HMAC-SHA256
// signature in X-Signature.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	if !utils.VerifySignature(h.paymentSecret, body, c.GetHeader("X-Signature")) {
		response.Unauthorized(c, "invalid signature")
		return
	}
	var evt PaymentEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.BookingUID == "" {
		response.BadRequest(c, "invalid payment event")
		return
	}
	if evt.Type != PaymentSucceeded {
		response.OK(c, gin.H{"ignored": evt.Type})
		return
	}
	res, err := h.svc.MarkPaid(c.Request.Context(), evt.BookingUID, evt.ProviderPaymentID)
	if err != nil {
		h.fail(c, "payment callback", err)
		return
	}
	response.OK(c, res)
}

// Sweep handles POST /admin/sweep?limit=. It releases stale references now instead of waiting for
// the worker's schedule.
func (h *Handler) Sweep(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	n, err := h.svc.SweepStale(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "sweep", err)
		return
	}
	response.OK(c, gin.H{"released": n})
}
