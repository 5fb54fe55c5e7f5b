package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outbound event names. These are part of the client wire protocol and must
// not change.
const (
	EventNewMessage           = "new_message"
	EventUpdateUnread         = "update_unread"
	EventTyping               = "typing"
	EventStopTyping           = "stop_typing"
	EventPaymentStatus        = "payment_status"
	EventConsultationStatus   = "consultation_status"
	EventConsultationExpiring = "consultation_expiring_soon"
)

// Room name prefixes, verbatim per the client protocol.
const (
	roomPrefixChat         = "chat:"
	roomPrefixDoctor       = "doctor:"
	roomPrefixConsultation = "consultation:"
)

func ChatRoom(chatID uuid.UUID) string {
	return roomPrefixChat + chatID.String()
}

func DoctorRoom(doctorID uuid.UUID) string {
	return roomPrefixDoctor + doctorID.String()
}

func ConsultationRoom(consultationID uuid.UUID) string {
	return roomPrefixConsultation + consultationID.String()
}

// ConsultationStatusPayload is the consultation_status event body, emitted
// on both scheduled expiry and manual termination.
type ConsultationStatusPayload struct {
	IsActive bool   `json:"isActive"`
	Expired  bool   `json:"expired"`
	Message  string `json:"message"`
}

// ExpiringPayload is the consultation_expiring_soon event body.
type ExpiringPayload struct {
	ConsultationID uuid.UUID `json:"consultationId"`
	Message        string    `json:"message"`
	TimeRemaining  int       `json:"timeRemaining"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Event is the envelope written to every socket.
type Event struct {
	Type      string      `json:"event"`
	Payload   interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

func New(eventType string, payload interface{}) Event {
	return Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Marshal encodes the event for the wire. Payloads are plain structs and
// maps, so failure here indicates a programming error.
func (e Event) Marshal() []byte {
	data, _ := json.Marshal(e)
	return data
}

// Broadcaster fans an event out to every connection in a room. Broadcast is
// fire-and-forget: it never blocks on a slow consumer and never reports
// per-connection failure.
type Broadcaster interface {
	Broadcast(room string, event Event)
	// BroadcastExcept skips the connection with the given client id, used by
	// typing fan-out where the sender must not receive its own event.
	BroadcastExcept(room, exceptClientID string, event Event)
}
