package ws

import (
	"strings"
	"sync"

	"telecare-chat/internal/events"
	telecare_errors "telecare-chat/pkg/errors"
	"telecare-chat/pkg/logger"

	"go.uber.org/zap"
)

// Hub is the presence and room registry: it maps live connections to the
// rooms they have joined and fans events out to room members. All state is
// process-local and rebuilt from scratch on reconnect.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client (for cleanup)
	clients map[string]*Client

	// rooms maps room name to the set of clients joined to it
	rooms map[string]map[*Client]struct{}

	log *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[*Client]struct{}),
		log:     log,
	}
}

// Register adds a new connection to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
}

// Unregister removes a connection and every room membership it holds. Runs
// on any disconnect, clean or abnormal, triggered by the transport's read
// loop ending.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range client.rooms() {
		h.dropMembership(client, room)
	}
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
}

// Join adds the connection to a room and returns the resulting member count.
// Joining a room twice is a no-op. An empty or blank room name is rejected;
// there is no default room.
func (h *Hub) Join(client *Client, room string) (int, error) {
	if strings.TrimSpace(room) == "" {
		return 0, telecare_errors.ErrInvalidArgument
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
	client.joinRoom(room)

	return len(h.rooms[room]), nil
}

// Leave removes the connection from a room. Never errors, including for
// rooms the connection never joined.
func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropMembership(client, room)
}

// MemberCount returns the number of connections currently in a room.
func (h *Hub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every member of a room.
func (h *Hub) Broadcast(room string, event events.Event) {
	h.BroadcastRaw(room, "", event.Marshal())
}

// BroadcastExcept sends an event to every member of a room except the named
// connection.
func (h *Hub) BroadcastExcept(room, exceptClientID string, event events.Event) {
	h.BroadcastRaw(room, exceptClientID, event.Marshal())
}

// BroadcastRaw delivers pre-encoded bytes to a room's members. Also the
// entry point for events mirrored from other instances.
func (h *Hub) BroadcastRaw(room, exceptClientID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[room] {
		if exceptClientID != "" && c.ID == exceptClientID {
			continue
		}
		if !c.SendMessage(payload) {
			h.log.Warn("client send buffer full, dropping event",
				zap.String("client_id", c.ID),
				zap.String("room", room))
		}
	}
}

// dropMembership removes the client from one room. Caller holds h.mu.
func (h *Hub) dropMembership(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.leaveRoom(room)
}
