package notify

import (
	"context"
	"errors"
	"time"

	"telecare-chat/internal/domain/chat"
	telecare_errors "telecare-chat/pkg/errors"
	"telecare-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Fixed notices for non-text and structured content.
const (
	noticePhoto        = "Sent a photo"
	noticeDocument     = "Sent a document"
	noticePrescription = "New digital prescription"
	noticeClinicalNote = "New doctor's note"
)

// Provider delivers one out-of-band notification to a device token.
type Provider interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// TokenSource resolves the active delivery token for a recipient.
type TokenSource interface {
	ActiveToken(ctx context.Context, userID uuid.UUID) (string, error)
}

// DoctorSource resolves the doctor assigned to a chat. Backed by the
// availability cache with persistence fallthrough.
type DoctorSource interface {
	Resolve(ctx context.Context, chatID uuid.UUID) (uuid.UUID, error)
}

// Task is one queued notification. RecipientUserID is set by the caller when
// the recipient is the patient; when the sender is the patient the recipient
// doctor is resolved at delivery time.
type Task struct {
	ChatID          uuid.UUID
	RecipientUserID uuid.NullUUID
	Message         chat.ChatMessage
}

// Dispatcher delivers notifications from a buffered queue, fully detached
// from the request cycle that produced them. Delivery failure is logged and
// never surfaces to the sender.
type Dispatcher struct {
	tasks      chan Task
	provider   Provider
	tokens     TokenSource
	doctors    DoctorSource
	previewLen int
	log        *logger.Logger
}

func NewDispatcher(provider Provider, tokens TokenSource, doctors DoctorSource, previewLen int, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		tasks:      make(chan Task, 256),
		provider:   provider,
		tokens:     tokens,
		doctors:    doctors,
		previewLen: previewLen,
		log:        log,
	}
}

// Start runs the delivery worker until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case task := <-d.tasks:
				d.deliver(ctx, task)
			}
		}
	}()
}

// Enqueue schedules a notification without blocking the caller. A full
// queue drops the task; the message itself was already delivered in-band.
func (d *Dispatcher) Enqueue(task Task) {
	select {
	case d.tasks <- task:
	default:
		d.log.Warn("push queue full, dropping notification",
			zap.String("chat_id", task.ChatID.String()))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, task Task) {
	recipient, err := d.recipient(ctx, task)
	if err != nil {
		d.log.Warn("push recipient resolution failed",
			zap.String("chat_id", task.ChatID.String()), zap.Error(err))
		return
	}

	token, err := d.tokens.ActiveToken(ctx, recipient)
	if err != nil {
		if errors.Is(err, telecare_errors.ErrNotFound) {
			// No registered device. Silent skip.
			return
		}
		d.log.Warn("push token lookup failed",
			zap.String("recipient", recipient.String()), zap.Error(err))
		return
	}

	body := FormatBody(task.Message, d.previewLen)
	data := map[string]string{
		"chatId":    task.ChatID.String(),
		"messageId": task.Message.ID.String(),
		"type":      task.Message.Type,
	}

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := d.provider.Send(sendCtx, token, "New message", body, data); err != nil {
		d.log.Warn("push delivery failed",
			zap.String("recipient", recipient.String()), zap.Error(err))
	}
}

func (d *Dispatcher) recipient(ctx context.Context, task Task) (uuid.UUID, error) {
	if task.Message.Sender == chat.SenderUser {
		return d.doctors.Resolve(ctx, task.ChatID)
	}
	if !task.RecipientUserID.Valid {
		return uuid.Nil, telecare_errors.ErrInvalidArgument
	}
	return task.RecipientUserID.UUID, nil
}

// FormatBody renders the notification body. Policy, first match wins:
// image, binary document, structured prescription/note, then plain text
// truncated to previewLen runes with an ellipsis marker.
func FormatBody(m chat.ChatMessage, previewLen int) string {
	switch m.Type {
	case chat.TypeImage:
		return noticePhoto
	case chat.TypePDF, chat.TypeFile:
		return noticeDocument
	}

	switch Classify(m.Content) {
	case KindPrescription:
		return noticePrescription
	case KindClinicalNote:
		return noticeClinicalNote
	}

	runes := []rune(m.Content)
	if len(runes) <= previewLen {
		return m.Content
	}
	return string(runes[:previewLen]) + "..."
}
