package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/yuzhe-s/chat-memo/internal/presence"
)

// Hub tracks open connections and their room subscriptions and fans events out.
//
// Fan-out to a room happens under the hub lock so every subscriber observes the
// same event order. Enqueueing never blocks.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]map[presence.RoomID]struct{}
	rooms   map[presence.RoomID]map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*Client]map[presence.RoomID]struct{}),
		rooms:   make(map[presence.RoomID]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a connection with no subscriptions.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		h.clients[client] = make(map[presence.RoomID]struct{})
	}
}

// Unregister drops the connection and every subscription it holds. It returns the
// rooms the connection was subscribed to and false when it was not registered.
func (h *Hub) Unregister(client *Client) ([]presence.RoomID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscriptions, ok := h.clients[client]
	if !ok {
		return nil, false
	}
	rooms := make([]presence.RoomID, 0, len(subscriptions))
	for roomID := range subscriptions {
		h.removeLocked(roomID, client)
		rooms = append(rooms, roomID)
	}
	delete(h.clients, client)
	return rooms, true
}

// Subscribe adds the connection to the room's fan-out set. added reports whether the
// subscription is new; registered is false when the connection is not registered.
func (h *Hub) Subscribe(roomID presence.RoomID, client *Client) (added, registered bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscriptions, ok := h.clients[client]
	if !ok {
		return false, false
	}
	if _, already := subscriptions[roomID]; already {
		return false, true
	}
	subscriptions[roomID] = struct{}{}
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[roomID] = members
	}
	members[client] = struct{}{}
	return true, true
}

// Unsubscribe removes the connection from the room's fan-out set.
func (h *Hub) Unsubscribe(roomID presence.RoomID, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subscriptions, ok := h.clients[client]; ok {
		delete(subscriptions, roomID)
	}
	h.removeLocked(roomID, client)
}

// DropRoom removes every subscription to the room and returns how many there were.
func (h *Hub) DropRoom(roomID presence.RoomID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[roomID]
	for client := range members {
		if subscriptions, ok := h.clients[client]; ok {
			delete(subscriptions, roomID)
		}
	}
	delete(h.rooms, roomID)
	return len(members)
}

// Send queues the event for a single connection.
func (h *Hub) Send(client *Client, event Event) bool {
	payload, err := event.encode()
	if err != nil {
		h.logger.Error("event encode failed", zap.String("event", event.Name), zap.Error(err))
		return false
	}
	return client.enqueue(payload)
}

// Broadcast queues the event for every subscriber of the room except the excluded
// connection, which may be nil. It returns the number of connections reached.
func (h *Hub) Broadcast(roomID presence.RoomID, event Event, exclude *Client) int {
	payload, err := event.encode()
	if err != nil {
		h.logger.Error("event encode failed", zap.String("event", event.Name), zap.Error(err))
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for client := range h.rooms[roomID] {
		if client == exclude {
			continue
		}
		if client.enqueue(payload) {
			delivered++
		}
	}
	return delivered
}

// BroadcastAll queues the event for every open connection.
func (h *Hub) BroadcastAll(event Event) int {
	payload, err := event.encode()
	if err != nil {
		h.logger.Error("event encode failed", zap.String("event", event.Name), zap.Error(err))
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for client := range h.clients {
		if client.enqueue(payload) {
			delivered++
		}
	}
	return delivered
}

// Subscribers returns the number of connections subscribed to the room.
func (h *Hub) Subscribers(roomID presence.RoomID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close closes every registered connection. Their read loops then run the normal
// disconnect path.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()
	for _, client := range clients {
		client.Close()
	}
}

func (h *Hub) removeLocked(roomID presence.RoomID, client *Client) {
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}
