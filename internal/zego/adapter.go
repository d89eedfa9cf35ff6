// Package zego provides dedicated per-booking video rooms on ZEGOCLOUD.
package zego

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aura-booking/backend/config"
	"github.com/aura-booking/backend/internal/integrations"
	"github.com/aura-booking/backend/internal/models"
)

// AppType is the reference type of ZEGOCLOUD rooms.
const AppType = "zego_video"

// App describes the integration for the registry. Rooms need no per-user credential.
func App(cfg config.ZegoConfig) integrations.App {
	return integrations.App{
		Type:      AppType,
		Name:      "ZEGOCLOUD Video",
		Kind:      integrations.KindVideo,
		Dedicated: true,
		Global:    true,
		NewVideo: func(models.Credential) (integrations.VideoAdapter, error) {
			return NewVideoAdapter(cfg), nil
		},
	}
}

// VideoAdapter creates rooms. Rooms live only as ids on our side, so there is nothing to delete remotely.
type VideoAdapter struct {
	cfg     config.ZegoConfig
	newRoom func() string
}

// NewVideoAdapter creates an adapter.
func NewVideoAdapter(cfg config.ZegoConfig) *VideoAdapter {
	return &VideoAdapter{
		cfg:     cfg,
		newRoom: func() string { return "bk-" + strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// RoomURL is the join link of a room.
func (a *VideoAdapter) RoomURL(roomID string) string {
	return strings.TrimRight(a.cfg.RoomBaseURL, "/") + "/" + roomID
}

// CreateMeeting allocates a room and pre-issues the organizer's token.
func (a *VideoAdapter) CreateMeeting(_ context.Context, evt *integrations.CalendarEvent) (*integrations.ProviderEvent, error) {
	if !a.cfg.Enabled() {
		return nil, fmt.Errorf("zego: not configured")
	}
	roomID := a.newRoom()
	token, err := GenerateRoomToken(a.cfg.AppID, a.cfg.ServerSecret, roomID, ParticipantID(evt.Organizer.Email), a.cfg.TokenTTLSeconds)
	if err != nil {
		return nil, err
	}
	return &integrations.ProviderEvent{
		Type: AppType,
		ID:   roomID,
		URL:  a.RoomURL(roomID),
		AdditionalInfo: map[string]string{
			"host_token": token,
		},
	}, nil
}

// UpdateMeeting keeps the existing room; a reschedule only needs a fresh organizer token.
func (a *VideoAdapter) UpdateMeeting(ctx context.Context, ref models.PartialReference, evt *integrations.CalendarEvent) (*integrations.ProviderEvent, error) {
	roomID := ref.MeetingID
	if roomID == "" {
		roomID = ref.UID
	}
	if roomID == "" {
		return a.CreateMeeting(ctx, evt)
	}
	token, err := GenerateRoomToken(a.cfg.AppID, a.cfg.ServerSecret, roomID, ParticipantID(evt.Organizer.Email), a.cfg.TokenTTLSeconds)
	if err != nil {
		return nil, err
	}
	url := ref.MeetingURL
	if url == "" {
		url = a.RoomURL(roomID)
	}
	return &integrations.ProviderEvent{
		Type:           AppType,
		ID:             roomID,
		URL:            url,
		AdditionalInfo: map[string]string{"host_token": token},
	}, nil
}

// DeleteMeeting is a no-op: tokens expire on their own and rooms close when empty.
func (a *VideoAdapter) DeleteMeeting(context.Context, string) error {
	return nil
}

// ParticipantID derives a stable ZEGO user id from an email address.
func ParticipantID(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])[:32]
}
