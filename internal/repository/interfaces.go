package repository

import (
	"context"
	"time"

	"telecare-chat/internal/domain/chat"
	"telecare-chat/internal/domain/consultation"

	"github.com/google/uuid"
)

// ChatRepository is the persistence gateway for chats, their per-day
// buckets and their messages.
type ChatRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (chat.Chat, error)
	GetOrCreateDate(ctx context.Context, chatID uuid.UUID, day time.Time) (chat.ChatDate, error)
	CreateMessage(ctx context.Context, m *chat.ChatMessage) error
	GetMessageByID(ctx context.Context, id uuid.UUID) (chat.ChatMessage, error)
	SetLastMessage(ctx context.Context, chatID, messageID uuid.UUID, at time.Time) error
	ListChats(ctx context.Context, offset, limit int) ([]chat.Chat, error)
	UpdateChatKey(ctx context.Context, id uuid.UUID, key string) error
}

// UnreadRepository maintains the per-(chat, role) unread counters.
type UnreadRepository interface {
	// IncrementDoctor atomically bumps the doctor-side counter by one,
	// creating the row with count 1 when absent, and returns the new count.
	IncrementDoctor(ctx context.Context, chatID, doctorID uuid.UUID) (int, error)
	// IncrementUser is the user-side counterpart of IncrementDoctor.
	IncrementUser(ctx context.Context, chatID, userID uuid.UUID) (int, error)
	// ResetRole zeroes every row for the chat whose identity slot matches
	// the given role, leaving the other role's rows untouched.
	ResetRole(ctx context.Context, chatID uuid.UUID, role string) (int64, error)
}

// ConsultationRepository is the persistence gateway for consultations.
type ConsultationRepository interface {
	Create(ctx context.Context, c *consultation.Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (consultation.Consultation, error)
	// ExpireDue deactivates every active consultation whose deadline has
	// passed and returns the affected records.
	ExpireDue(ctx context.Context, now time.Time) ([]consultation.Consultation, error)
	// ExpiringWithin lists active consultations whose deadline falls inside
	// (now, now+window]. Read-only.
	ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]consultation.Consultation, error)
	// DeleteInactiveBefore removes inactive consultations whose deadline is
	// older than the cutoff and returns how many were deleted.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Terminate is the manual Active -> Inactive edge.
	Terminate(ctx context.Context, id uuid.UUID) error
	// LatestByParticipants returns the most recently started consultation
	// for a patient/doctor pair.
	LatestByParticipants(ctx context.Context, patientID, doctorID uuid.UUID) (consultation.Consultation, error)
}

// PushTokenRepository resolves delivery tokens for push notifications.
type PushTokenRepository interface {
	ActiveToken(ctx context.Context, userID uuid.UUID) (string, error)
}
