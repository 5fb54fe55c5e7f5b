package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PushToken represents the push_tokens table. One active delivery token
// per user and device; the dispatcher only reads active rows.
type PushToken struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;index"`
	Platform   string
	Token      string
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt sql.NullTime
}

func (PushToken) TableName() string {
	return "push_tokens"
}
