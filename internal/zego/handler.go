package zego

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/config"
	"github.com/aura-booking/backend/internal/middleware"
	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/response"
)

// ErrNoRoom is returned for bookings without a ZEGOCLOUD reference.
var ErrNoRoom = errors.New("booking has no video room")

// BookingFinder loads a booking with attendees and references.
type BookingFinder interface {
	GetByUID(ctx context.Context, uid string) (*models.Booking, error)
}

// Handler issues room tokens to booking participants.
type Handler struct {
	bookings BookingFinder
	cfg      config.ZegoConfig
	logger   *zap.Logger
}

// NewHandler creates a ZEGO handler.
func NewHandler(bookings BookingFinder, cfg config.ZegoConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{bookings: bookings, cfg: cfg, logger: logger}
}

// RoomID returns the ZEGOCLOUD room of a booking.
func RoomID(b *models.Booking) (string, error) {
	for _, ref := range b.References {
		if ref.Type != AppType {
			continue
		}
		if ref.MeetingID != "" {
			return ref.MeetingID, nil
		}
		return ref.UID, nil
	}
	return "", ErrNoRoom
}

// GuestToken handles GET /bookings/:uid/video-token?email=. The email must belong to an attendee.
func (h *Handler) GuestToken(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		response.BadRequest(c, "email is required")
		return
	}
	b, roomID, ok := h.room(c)
	if !ok {
		return
	}
	if !b.HasAttendee(email) {
		response.Forbidden(c, "not an attendee of this booking")
		return
	}
	h.issue(c, b, roomID, ParticipantID(email), RoleGuest)
}

// HostToken handles GET /bookings/:uid/host-video-token. JWT required; only the organizer may call it.
func (h *Handler) HostToken(c *gin.Context) {
	b, roomID, ok := h.room(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if b.UserID != userID {
		response.Forbidden(c, "only the organizer may host this room")
		return
	}
	email, _ := c.Get(middleware.ContextUserEmail)
	emailStr, _ := email.(string)
	h.issue(c, b, roomID, ParticipantID(emailStr), RoleHost)
}

func (h *Handler) room(c *gin.Context) (*models.Booking, string, bool) {
	if !h.cfg.Enabled() {
		response.ServiceUnavailable(c, "ZEGOCLOUD not configured (ZEGO_APP_ID, ZEGO_SERVER_SECRET)")
		return nil, "", false
	}
	b, err := h.bookings.GetByUID(c.Request.Context(), c.Param("uid"))
	if err != nil || b == nil {
		response.NotFound(c, "booking not found")
		return nil, "", false
	}
	if !b.IsLive() {
		response.Conflict(c, "booking is not active")
		return nil, "", false
	}
	roomID, err := RoomID(b)
	if err != nil {
		response.NotFound(c, err.Error())
		return nil, "", false
	}
	return b, roomID, true
}

func (h *Handler) issue(c *gin.Context, b *models.Booking, roomID, participant, role string) {
	token, err := GenerateRoomToken(h.cfg.AppID, h.cfg.ServerSecret, roomID, participant, h.cfg.TokenTTLSeconds)
	if err != nil {
		h.logger.Error("zego token generation failed", zap.Error(err), zap.String("booking_uid", b.UID))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, gin.H{
		"token":   token,
		"app_id":  h.cfg.AppID,
		"room_id": roomID,
		"user_id": participant,
		"role":    role,
	})
}
