package zego

import (
	"encoding/json"
	"fmt"

	"github.com/ZEGOCLOUD/zego_server_assistant/token/go/src/token04"
)

// roomPayload restricts a token04 token to one room. See ZEGOCLOUD token04 docs.
type roomPayload struct {
	RoomID       string      `json:"RoomId"`
	Privilege    map[int]int `json:"Privilege"`
	StreamIDList []string    `json:"StreamIdList,omitempty"`
}

// Participant roles inside a booking room.
const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// GenerateRoomToken issues a token04 token for one participant of a meeting room.
// Every participant may log in and publish; serverSecret must be 32 characters.
func GenerateRoomToken(appID uint32, serverSecret, roomID, userID string, effectiveTimeSec int64) (string, error) {
	if appID == 0 || serverSecret == "" {
		return "", fmt.Errorf("zego: app_id and server_secret required")
	}
	if len(serverSecret) != 32 {
		return "", fmt.Errorf("zego: server_secret must be 32 characters")
	}
	if roomID == "" || userID == "" {
		return "", fmt.Errorf("zego: room and user id required")
	}
	payload := roomPayload{
		RoomID: roomID,
		Privilege: map[int]int{
			token04.PrivilegeKeyLogin:   token04.PrivilegeEnable,
			token04.PrivilegeKeyPublish: token04.PrivilegeEnable,
		},
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("zego: marshal payload: %w", err)
	}
	return token04.GenerateToken04(appID, userID, serverSecret, effectiveTimeSec, string(payloadJSON))
}
