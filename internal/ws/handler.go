package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"telecare-chat/internal/events"
	"telecare-chat/internal/service"
	telecare_errors "telecare-chat/pkg/errors"
	"telecare-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Inbound event names, part of the client wire protocol.
const (
	inDoctorJoin  = "doctor_join"
	inJoinChat    = "join_chat"
	inLeaveChat   = "leave_chat"
	inTyping      = "typing"
	inStopTyping  = "stop_typing"
	inMarkAsRead  = "mark_as_read"
	inSendMessage = "send_message"
)

type inboundEvent struct {
	Event     string     `json:"event"`
	ChatID    uuid.UUID  `json:"chatId"`
	DoctorID  uuid.UUID  `json:"doctorId"`
	Sender    string     `json:"sender"`
	Content   string     `json:"content"`
	FileData  []byte     `json:"fileData"`
	FileName  string     `json:"fileName"`
	Type      string     `json:"type"`
	ReplyToID *uuid.UUID `json:"replyToId"`
	Role      string     `json:"role"`
}

type ackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ack struct {
	Event    string      `json:"event"`
	For      string      `json:"for"`
	Success  bool        `json:"success"`
	RoomName string      `json:"roomName,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Error    *ackError   `json:"error,omitempty"`
}

type doctorClaims struct {
	DoctorID string `json:"doctor_id"`
	jwt.RegisteredClaims
}

// Handler upgrades HTTP connections and drives the per-connection read loop.
type Handler struct {
	hub       *Hub
	chats     *service.ChatService
	jwtSecret []byte
	log       *logger.Logger
}

func NewHandler(hub *Hub, chats *service.ChatService, jwtSecret string, log *logger.Logger) *Handler {
	return &Handler{hub: hub, chats: chats, jwtSecret: []byte(jwtSecret), log: log}
}

func (h *Handler) Connect(c *gin.Context) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := NewClient(conn)
	h.hub.Register(client)
	go client.WritePump()

	// A client may authenticate as a doctor either at socket establishment
	// or via a later doctor_join event. Both paths land in the same room.
	if token := c.Query("token"); token != "" {
		if doctorID, ok := h.parseDoctorToken(token); ok {
			h.registerDoctorIdentity(client, doctorID)
		}
	}

	h.readLoop(client)
	h.hub.Unregister(client)
}

func (h *Handler) readLoop(client *Client) {
	conn := client.Conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket unexpected close",
					zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}
		h.dispatch(client, raw)
	}
}

func (h *Handler) dispatch(client *Client, raw []byte) {
	var in inboundEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		h.log.Warn("malformed client event", zap.String("client_id", client.ID), zap.Error(err))
		return
	}

	ctx := context.Background()

	switch in.Event {
	case inDoctorJoin:
		h.handleDoctorJoin(client, in)
	case inJoinChat:
		h.handleJoinChat(ctx, client, in)
	case inLeaveChat:
		h.hub.Leave(client, events.ChatRoom(in.ChatID))
	case inTyping:
		h.chats.Typing(in.ChatID, in.Sender, client.ID)
	case inStopTyping:
		h.chats.StopTyping(in.ChatID, in.Sender, client.ID)
	case inMarkAsRead:
		if err := h.chats.MarkAsRead(ctx, in.ChatID, in.Role); err != nil {
			h.sendAck(client, failureAck(in.Event, err))
			return
		}
		h.sendAck(client, ack{Event: "ack", For: in.Event, Success: true})
	case inSendMessage:
		h.handleSendMessage(ctx, client, in)
	default:
		h.log.Warn("unknown client event",
			zap.String("client_id", client.ID), zap.String("event", in.Event))
	}
}

func (h *Handler) handleDoctorJoin(client *Client, in inboundEvent) {
	if in.DoctorID == uuid.Nil {
		h.sendAck(client, failureAck(in.Event, telecare_errors.ErrInvalidArgument))
		return
	}
	h.registerDoctorIdentity(client, in.DoctorID)
	h.sendAck(client, ack{
		Event:    "ack",
		For:      in.Event,
		Success:  true,
		RoomName: events.DoctorRoom(in.DoctorID),
	})
}

func (h *Handler) handleJoinChat(ctx context.Context, client *Client, in inboundEvent) {
	c, err := h.chats.ResolveChat(ctx, in.ChatID)
	if err != nil {
		h.sendAck(client, failureAck(in.Event, err))
		return
	}

	room := events.ChatRoom(c.ID)
	if _, err := h.hub.Join(client, room); err != nil {
		h.sendAck(client, failureAck(in.Event, err))
		return
	}
	h.sendAck(client, ack{Event: "ack", For: in.Event, Success: true, RoomName: room})

	// Payment snapshot goes to the joining connection only, never the room.
	status, err := h.chats.PaymentStatus(ctx, c)
	if err != nil {
		if !errors.Is(err, telecare_errors.ErrNotFound) {
			h.log.Warn("payment snapshot lookup failed",
				zap.String("chat_id", c.ID.String()), zap.Error(err))
		}
		return
	}
	client.SendMessage(events.New(events.EventPaymentStatus, status).Marshal())
}

func (h *Handler) handleSendMessage(ctx context.Context, client *Client, in inboundEvent) {
	payload, err := h.chats.SendMessage(ctx, service.SendMessageInput{
		ChatID:    in.ChatID,
		Sender:    in.Sender,
		Content:   in.Content,
		FileData:  in.FileData,
		FileName:  in.FileName,
		Type:      in.Type,
		ReplyToID: in.ReplyToID,
	})
	if err != nil {
		h.sendAck(client, failureAck(in.Event, err))
		return
	}
	h.sendAck(client, ack{Event: "ack", For: in.Event, Success: true, Data: payload})
}

func (h *Handler) registerDoctorIdentity(client *Client, doctorID uuid.UUID) {
	client.DoctorID = uuid.NullUUID{UUID: doctorID, Valid: true}
	if _, err := h.hub.Join(client, events.DoctorRoom(doctorID)); err != nil {
		h.log.Warn("doctor room join failed",
			zap.String("client_id", client.ID), zap.Error(err))
	}
}

func (h *Handler) parseDoctorToken(token string) (uuid.UUID, bool) {
	claims := &doctorClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return h.jwtSecret, nil
	})
	if err != nil || !parsed.Valid || claims.DoctorID == "" {
		return uuid.Nil, false
	}
	doctorID, err := uuid.Parse(claims.DoctorID)
	if err != nil {
		return uuid.Nil, false
	}
	return doctorID, true
}

func (h *Handler) sendAck(client *Client, a ack) {
	data, _ := json.Marshal(a)
	client.SendMessage(data)
}

func failureAck(event string, err error) ack {
	return ack{
		Event:   "ack",
		For:     event,
		Success: false,
		Error: &ackError{
			Code:    telecare_errors.Code(err),
			Message: err.Error(),
		},
	}
}
