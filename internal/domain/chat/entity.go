package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sender roles
const (
	SenderUser   = "user"
	SenderDoctor = "doctor"
)

// Message types
const (
	TypeText  = "text"
	TypeImage = "image"
	TypePDF   = "pdf"
	TypeFile  = "file"
)

// Chat represents the chats table. One conversation container per
// patient/doctor pair, identified by a derived chat key.
type Chat struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID        uuid.UUID `gorm:"type:uuid;index"`
	DoctorID      uuid.UUID `gorm:"type:uuid;index"`
	ChatKey       string    `gorm:"uniqueIndex"`
	IsActive      bool
	LastMessageID uuid.NullUUID `gorm:"type:uuid"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeriveChatKey builds the canonical chat key from the two participant ids.
// The stored key must always equal this derivation; a mismatch is a
// data-integrity defect repaired offline, never at request time.
func DeriveChatKey(userID, doctorID uuid.UUID) string {
	return fmt.Sprintf("%s-%s", userID, doctorID)
}

// KeyMatches reports whether the stored chat key equals its derivation.
func (c *Chat) KeyMatches() bool {
	return c.ChatKey == DeriveChatKey(c.UserID, c.DoctorID)
}

// ChatDate represents the chat_dates table: one bucket per chat per
// calendar day, created lazily on the first message of that day.
type ChatDate struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChatID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_chat_date"`
	Date      time.Time `gorm:"uniqueIndex:idx_chat_date"`
	CreatedAt time.Time
}

// ChatMessage represents the chat_messages table.
type ChatMessage struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChatID     uuid.UUID `gorm:"type:uuid;index"`
	ChatDateID uuid.UUID `gorm:"type:uuid;index"`
	Sender     string
	Content    string
	Type       string
	ReplyToID  uuid.NullUUID `gorm:"type:uuid"`
	IsRead     bool
	SentAt     time.Time
}

// ReplySummary is the embedded shape of a referenced message carried in
// the new_message broadcast payload.
type ReplySummary struct {
	ID      uuid.UUID `json:"id"`
	Content string    `json:"content"`
	Sender  string    `json:"sender"`
	Type    string    `json:"type"`
}

// ChatUnread represents the chat_unreads table. Two independent rows per
// chat: one keyed by chat+doctor for the doctor side, one keyed by
// chat+user for the user side. Count never goes negative and resets only
// through an explicit mark-as-read.
type ChatUnread struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey"`
	ChatID    uuid.UUID     `gorm:"type:uuid;uniqueIndex:idx_unread_doctor;uniqueIndex:idx_unread_user"`
	DoctorID  uuid.NullUUID `gorm:"type:uuid;uniqueIndex:idx_unread_doctor"`
	UserID    uuid.NullUUID `gorm:"type:uuid;uniqueIndex:idx_unread_user"`
	Count     int
	UpdatedAt time.Time
}

// Midnight truncates t to the start of its calendar day in UTC, the key
// space for ChatDate buckets.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (Chat) TableName() string {
	return "chats"
}

func (ChatDate) TableName() string {
	return "chat_dates"
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

func (ChatUnread) TableName() string {
	return "chat_unreads"
}
