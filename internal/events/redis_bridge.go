package events

import (
	"context"
	"encoding/json"

	"telecare-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const bridgeChannel = "ws:rooms"

// RawSink delivers an already-encoded event to the local members of a room.
// Implemented by the websocket hub.
type RawSink interface {
	BroadcastRaw(room, exceptClientID string, payload []byte)
}

type bridgeFrame struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBridge is the horizontal-scale extension point: it mirrors room
// broadcasts across process instances over Redis pub/sub. Single-process
// deployments run without it.
type RedisBridge struct {
	id     string
	client *redis.Client
	sink   RawSink
	log    *logger.Logger
}

func NewRedisBridge(client *redis.Client, sink RawSink, log *logger.Logger) *RedisBridge {
	return &RedisBridge{id: uuid.NewString(), client: client, sink: sink, log: log}
}

// Run consumes mirrored broadcasts until the context is cancelled. The
// subscription channel reconnects and resubscribes on its own, so a
// transient Redis failure pauses mirroring instead of ending it.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, bridgeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleFrame([]byte(msg.Payload))
		}
	}
}

func (b *RedisBridge) handleFrame(payload []byte) {
	var frame bridgeFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		b.log.Warn("bridge frame decode failed", zap.Error(err))
		return
	}
	// Our own frames come back on the subscription; the local hub already
	// delivered them.
	if frame.Origin == b.id {
		return
	}
	b.sink.BroadcastRaw(frame.Room, frame.Except, frame.Payload)
}

func (b *RedisBridge) publish(room, except string, payload []byte) {
	frame, err := json.Marshal(bridgeFrame{Origin: b.id, Room: room, Except: except, Payload: payload})
	if err != nil {
		return
	}
	if err := b.client.Publish(context.Background(), bridgeChannel, frame).Err(); err != nil {
		b.log.Warn("bridge publish failed", zap.String("room", room), zap.Error(err))
	}
}

// MirroredBroadcaster broadcasts locally and mirrors every event to the
// other instances through the bridge.
type MirroredBroadcaster struct {
	Local  Broadcaster
	Bridge *RedisBridge
}

func (m *MirroredBroadcaster) Broadcast(room string, event Event) {
	m.Local.Broadcast(room, event)
	m.Bridge.publish(room, "", event.Marshal())
}

func (m *MirroredBroadcaster) BroadcastExcept(room, exceptClientID string, event Event) {
	m.Local.BroadcastExcept(room, exceptClientID, event)
	m.Bridge.publish(room, exceptClientID, event.Marshal())
}
