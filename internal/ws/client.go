package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Client represents a single WebSocket connection.
type Client struct {
	ID       string          // Unique connection ID
	DoctorID uuid.NullUUID   // Set when the connection carries doctor credentials
	Conn     *websocket.Conn // Underlying connection
	Send     chan []byte     // Outbound message channel

	mu    sync.RWMutex
	joins map[string]struct{} // Rooms this connection belongs to
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:    uuid.NewString(),
		Conn:  conn,
		Send:  make(chan []byte, 256),
		joins: make(map[string]struct{}),
	}
}

func (c *Client) joinRoom(room string) {
	c.mu.Lock()
	c.joins[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) leaveRoom(room string) {
	c.mu.Lock()
	delete(c.joins, room)
	c.mu.Unlock()
}

// rooms returns a snapshot of the connection's memberships.
func (c *Client) rooms() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]struct{}, len(c.joins))
	for room := range c.joins {
		snapshot[room] = struct{}{}
	}
	return snapshot
}

// InRoom reports whether the connection has joined the room.
func (c *Client) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.joins[room]
	return ok
}

// SendMessage queues a message without blocking. Returns false if the
// buffer is full and the message was dropped.
func (c *Client) SendMessage(msg []byte) bool {
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// WritePump drains the Send channel onto the wire and keeps the connection
// alive with pings. Runs in its own goroutine per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
