package service

import (
	"context"
	"sync"
	"time"

	"telecare-chat/internal/cache"
	"telecare-chat/internal/domain/chat"
	"telecare-chat/internal/domain/consultation"
	"telecare-chat/internal/events"
	"telecare-chat/internal/notify"
	"telecare-chat/internal/repository"
	telecare_errors "telecare-chat/pkg/errors"
	"telecare-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PushScheduler queues a notification task without blocking the caller.
type PushScheduler interface {
	Enqueue(task notify.Task)
}

// BlobResolver turns an uploaded buffer into a durable URL.
type BlobResolver interface {
	Resolve(ctx context.Context, data []byte, filename string) (string, error)
}

// ChatService is the message broadcast engine: it validates, persists and
// fans out chat traffic, and maintains the unread counters.
type ChatService struct {
	chats         repository.ChatRepository
	unreads       repository.UnreadRepository
	consultations repository.ConsultationRepository
	availability  *cache.AvailabilityCache
	broadcaster   events.Broadcaster
	push          PushScheduler
	blobs         BlobResolver
	log           *logger.Logger
	now           func() time.Time

	// One mutex per chat serializes persist+broadcast, so broadcast order
	// equals commit order even when concurrent sends target the same chat.
	locks sync.Map
}

func NewChatService(
	chats repository.ChatRepository,
	unreads repository.UnreadRepository,
	consultations repository.ConsultationRepository,
	availability *cache.AvailabilityCache,
	broadcaster events.Broadcaster,
	push PushScheduler,
	blobs BlobResolver,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		chats:         chats,
		unreads:       unreads,
		consultations: consultations,
		availability:  availability,
		broadcaster:   broadcaster,
		push:          push,
		blobs:         blobs,
		log:           log,
		now:           time.Now,
	}
}

// SendMessageInput is the inbound send_message contract.
type SendMessageInput struct {
	ChatID    uuid.UUID
	Sender    string
	Content   string
	FileData  []byte
	FileName  string
	Type      string
	ReplyToID *uuid.UUID
}

// MessagePayload is the acknowledged and broadcast shape of a message.
type MessagePayload struct {
	ID      uuid.UUID          `json:"id"`
	ChatID  uuid.UUID          `json:"chatId"`
	Sender  string             `json:"sender"`
	Content string             `json:"content"`
	Type    string             `json:"type"`
	ReplyTo *chat.ReplySummary `json:"replyTo,omitempty"`
	SentAt  time.Time          `json:"sentAt"`
}

// UnreadPayload is the update_unread event body.
type UnreadPayload struct {
	ChatID      uuid.UUID `json:"chatId"`
	Role        string    `json:"role"`
	UnreadCount int       `json:"unreadCount"`
}

// TypingPayload is the typing/stop_typing event body.
type TypingPayload struct {
	ChatID uuid.UUID `json:"chatId"`
	Sender string    `json:"sender"`
}

// SendMessage validates, persists and fans out one message. The broadcast
// happens strictly after the message is committed; unread-counter delivery
// and push dispatch are best-effort relative to it.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (MessagePayload, error) {
	if err := validateSend(in); err != nil {
		return MessagePayload{}, err
	}

	c, err := s.chats.GetByID(ctx, in.ChatID)
	if err != nil {
		return MessagePayload{}, err
	}
	if !c.IsActive {
		return MessagePayload{}, telecare_errors.ErrChatInactive
	}
	s.checkKey(c)
	s.availability.Set(c.ID, c.DoctorID)

	content := in.Content
	msgType := in.Type
	if msgType == "" {
		msgType = chat.TypeText
	}
	if len(in.FileData) > 0 {
		if s.blobs == nil {
			return MessagePayload{}, telecare_errors.ErrDependency
		}
		url, err := s.blobs.Resolve(ctx, in.FileData, in.FileName)
		if err != nil {
			return MessagePayload{}, err
		}
		content = url
	}

	var reply *chat.ReplySummary
	if in.ReplyToID != nil {
		ref, err := s.chats.GetMessageByID(ctx, *in.ReplyToID)
		if err != nil {
			return MessagePayload{}, err
		}
		if ref.ChatID != c.ID {
			return MessagePayload{}, telecare_errors.ErrInvalidArgument
		}
		reply = &chat.ReplySummary{
			ID:      ref.ID,
			Content: ref.Content,
			Sender:  ref.Sender,
			Type:    ref.Type,
		}
	}

	lock := s.chatLock(c.ID)
	lock.Lock()

	now := s.now()
	day, err := s.chats.GetOrCreateDate(ctx, c.ID, now)
	if err != nil {
		lock.Unlock()
		return MessagePayload{}, err
	}

	msg := chat.ChatMessage{
		ID:         uuid.New(),
		ChatID:     c.ID,
		ChatDateID: day.ID,
		Sender:     in.Sender,
		Content:    content,
		Type:       msgType,
		SentAt:     now,
	}
	if in.ReplyToID != nil {
		msg.ReplyToID = uuid.NullUUID{UUID: *in.ReplyToID, Valid: true}
	}
	if err := s.chats.CreateMessage(ctx, &msg); err != nil {
		lock.Unlock()
		return MessagePayload{}, err
	}
	if err := s.chats.SetLastMessage(ctx, c.ID, msg.ID, now); err != nil {
		s.log.Warn("last message pointer update failed",
			zap.String("chat_id", c.ID.String()), zap.Error(err))
	}

	payload := MessagePayload{
		ID:      msg.ID,
		ChatID:  msg.ChatID,
		Sender:  msg.Sender,
		Content: msg.Content,
		Type:    msg.Type,
		ReplyTo: reply,
		SentAt:  msg.SentAt,
	}
	s.broadcaster.Broadcast(events.ChatRoom(c.ID), events.New(events.EventNewMessage, payload))
	lock.Unlock()

	s.bumpUnread(ctx, c, in.Sender)
	s.schedulePush(c, msg)

	return payload, nil
}

// bumpUnread increments the counter of the role opposite the sender and
// broadcasts the new count. Failures are logged, never propagated: unread
// delivery failure is not a message delivery failure.
func (s *ChatService) bumpUnread(ctx context.Context, c chat.Chat, sender string) {
	var (
		count int
		role  string
		err   error
	)
	if sender == chat.SenderUser {
		role = chat.SenderDoctor
		count, err = s.unreads.IncrementDoctor(ctx, c.ID, c.DoctorID)
	} else {
		role = chat.SenderUser
		count, err = s.unreads.IncrementUser(ctx, c.ID, c.UserID)
	}
	if err != nil {
		s.log.Warn("unread counter update failed",
			zap.String("chat_id", c.ID.String()),
			zap.String("role", role),
			zap.Error(err))
		return
	}
	s.broadcaster.Broadcast(events.ChatRoom(c.ID), events.New(events.EventUpdateUnread, UnreadPayload{
		ChatID:      c.ID,
		Role:        role,
		UnreadCount: count,
	}))
}

func (s *ChatService) schedulePush(c chat.Chat, msg chat.ChatMessage) {
	if s.push == nil {
		return
	}
	task := notify.Task{ChatID: c.ID, Message: msg}
	if msg.Sender == chat.SenderDoctor {
		task.RecipientUserID = uuid.NullUUID{UUID: c.UserID, Valid: true}
	}
	s.push.Enqueue(task)
}

// MarkAsRead zeroes every unread row for the given role in the chat and
// broadcasts the reset to the room.
func (s *ChatService) MarkAsRead(ctx context.Context, chatID uuid.UUID, role string) error {
	if chatID == uuid.Nil || (role != chat.SenderUser && role != chat.SenderDoctor) {
		return telecare_errors.ErrInvalidArgument
	}
	if _, err := s.unreads.ResetRole(ctx, chatID, role); err != nil {
		return err
	}
	s.broadcaster.Broadcast(events.ChatRoom(chatID), events.New(events.EventUpdateUnread, UnreadPayload{
		ChatID:      chatID,
		Role:        role,
		UnreadCount: 0,
	}))
	return nil
}

// Typing fans out a typing indicator to every other member of the room. No
// persistence.
func (s *ChatService) Typing(chatID uuid.UUID, sender, senderClientID string) {
	s.broadcaster.BroadcastExcept(events.ChatRoom(chatID), senderClientID,
		events.New(events.EventTyping, TypingPayload{ChatID: chatID, Sender: sender}))
}

// StopTyping is the counterpart of Typing.
func (s *ChatService) StopTyping(chatID uuid.UUID, sender, senderClientID string) {
	s.broadcaster.BroadcastExcept(events.ChatRoom(chatID), senderClientID,
		events.New(events.EventStopTyping, TypingPayload{ChatID: chatID, Sender: sender}))
}

// ResolveChat loads a chat and refreshes the availability cache. Used by the
// join path.
func (s *ChatService) ResolveChat(ctx context.Context, chatID uuid.UUID) (chat.Chat, error) {
	if chatID == uuid.Nil {
		return chat.Chat{}, telecare_errors.ErrInvalidArgument
	}
	c, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return chat.Chat{}, err
	}
	s.checkKey(c)
	s.availability.Set(c.ID, c.DoctorID)
	return c, nil
}

// PaymentStatus builds the payment/activity snapshot unicast to a newly
// joined connection.
func (s *ChatService) PaymentStatus(ctx context.Context, c chat.Chat) (consultation.PaymentStatus, error) {
	latest, err := s.consultations.LatestByParticipants(ctx, c.UserID, c.DoctorID)
	if err != nil {
		return consultation.PaymentStatus{}, err
	}
	status := consultation.PaymentStatus{
		ChatID:    c.ID,
		PaidAt:    latest.StartedAt,
		ExpiresAt: latest.ExpiresAt,
		IsActive:  latest.IsActive,
	}
	if latest.PaymentID.Valid {
		status.PaymentID = latest.PaymentID.UUID.String()
	}
	return status, nil
}

// StartConsultation opens a new time-boxed consultation. Called by upstream
// glue once a payment has settled.
func (s *ChatService) StartConsultation(ctx context.Context, patientID, doctorID uuid.UUID, paymentID uuid.NullUUID, duration time.Duration) (consultation.Consultation, error) {
	if patientID == uuid.Nil || doctorID == uuid.Nil || duration <= 0 {
		return consultation.Consultation{}, telecare_errors.ErrInvalidArgument
	}
	now := s.now()
	c := consultation.Consultation{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  doctorID,
		PaymentID: paymentID,
		IsActive:  true,
		StartedAt: now,
		ExpiresAt: now.Add(duration),
	}
	if err := s.consultations.Create(ctx, &c); err != nil {
		return consultation.Consultation{}, err
	}
	return c, nil
}

// TerminateConsultation is the manual Active -> Inactive edge, requested by
// upstream glue outside the scheduler. The room learns about it the same way
// it learns about a scheduled expiry, minus the expired marker.
func (s *ChatService) TerminateConsultation(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return telecare_errors.ErrInvalidArgument
	}
	if err := s.consultations.Terminate(ctx, id); err != nil {
		return err
	}
	s.broadcaster.Broadcast(events.ConsultationRoom(id),
		events.New(events.EventConsultationStatus, events.ConsultationStatusPayload{
			IsActive: false,
			Expired:  false,
			Message:  "Your consultation has ended",
		}))
	return nil
}

// checkKey logs an integrity warning when the stored chat key diverges from
// its derivation. Repair happens offline, never here.
func (s *ChatService) checkKey(c chat.Chat) {
	if !c.KeyMatches() {
		s.log.Warn("chat key does not match participant derivation",
			zap.String("chat_id", c.ID.String()),
			zap.String("chat_key", c.ChatKey))
	}
}

func (s *ChatService) chatLock(chatID uuid.UUID) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(chatID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func validateSend(in SendMessageInput) error {
	if in.ChatID == uuid.Nil {
		return telecare_errors.ErrInvalidArgument
	}
	if in.Sender != chat.SenderUser && in.Sender != chat.SenderDoctor {
		return telecare_errors.ErrInvalidArgument
	}
	if in.Content == "" && len(in.FileData) == 0 {
		return telecare_errors.ErrInvalidArgument
	}
	return nil
}
