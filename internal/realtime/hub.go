// Package realtime pushes booking events to organizer dashboards over WebSocket. Instances share
// events through Redis pub/sub so a dashboard sees bookings handled by any instance.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains organizer_id -> set of dashboard connections and broadcasts booking events.
type Hub struct {
	organizers map[uuid.UUID]map[string]*Client
	subs       map[uuid.UUID]func() // cancel Redis subscription per organizer
	mu         sync.RWMutex
	logger     *zap.Logger
	redisSub   RedisSubscriber
}

// RedisPublisher publishes an organizer's events for every instance.
type RedisPublisher interface {
	PublishOrganizerEvent(organizerID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to organizer channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeOrganizer(organizerID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		organizers: make(map[uuid.UUID]map[string]*Client),
		subs:       make(map[uuid.UUID]func()),
		logger:     logger,
		redisSub:   redisSub,
	}
}

// Register adds a dashboard connection. The first connection of an organizer opens its Redis subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.organizers[c.OrganizerID] == nil {
		h.organizers[c.OrganizerID] = make(map[string]*Client)
		if h.redisSub != nil {
			organizerID := c.OrganizerID
			cancel, err := h.redisSub.SubscribeOrganizer(organizerID, func(event string, payload []byte) {
				h.Broadcast(organizerID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("subscribe organizer channel failed", zap.String("organizer_id", organizerID.String()), zap.Error(err))
			} else {
				h.subs[organizerID] = cancel
			}
		}
	}
	h.organizers[c.OrganizerID][c.ID] = c
	h.logger.Debug("dashboard connected", zap.String("client_id", c.ID), zap.String("organizer_id", c.OrganizerID.String()))
}

// Unregister removes a connection. The last one to leave cancels the Redis subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.organizers[c.OrganizerID]
	if !ok {
		return
	}
	if _, ok := m[c.ID]; ok {
		delete(m, c.ID)
		close(c.send)
	}
	if len(m) == 0 {
		delete(h.organizers, c.OrganizerID)
		if cancel, ok := h.subs[c.OrganizerID]; ok {
			cancel()
			delete(h.subs, c.OrganizerID)
		}
	}
	h.logger.Debug("dashboard disconnected", zap.String("client_id", c.ID), zap.String("organizer_id", c.OrganizerID.String()))
}

// Broadcast sends a message to the organizer's local connections. Slow clients drop messages.
func (h *Hub) Broadcast(organizerID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.organizers[organizerID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("dashboard buffer full, dropping event", zap.String("client_id", c.ID), zap.String("event", event))
		}
	}
}

// Connections returns the number of open dashboards for an organizer.
func (h *Hub) Connections(organizerID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.organizers[organizerID])
}
