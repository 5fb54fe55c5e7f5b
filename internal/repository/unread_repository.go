package repository

import (
	"context"
	"time"

	"telecare-chat/internal/domain/chat"
	telecare_errors "telecare-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresUnreadRepository struct {
	db *gorm.DB
}

func NewUnreadRepository(db *gorm.DB) UnreadRepository {
	return &PostgresUnreadRepository{db: db}
}

// Increment is a single upsert statement so that concurrent sends never skip
// or double-count: the row is created with count 1 or bumped by exactly one,
// and the resulting count comes back from the same statement.
const incrementDoctorSQL = `
INSERT INTO chat_unreads (id, chat_id, doctor_id, count, updated_at)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT (chat_id, doctor_id)
DO UPDATE SET count = chat_unreads.count + 1, updated_at = EXCLUDED.updated_at
RETURNING count`

const incrementUserSQL = `
INSERT INTO chat_unreads (id, chat_id, user_id, count, updated_at)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT (chat_id, user_id)
DO UPDATE SET count = chat_unreads.count + 1, updated_at = EXCLUDED.updated_at
RETURNING count`

func (r *PostgresUnreadRepository) IncrementDoctor(ctx context.Context, chatID, doctorID uuid.UUID) (int, error) {
	var count int
	err := r.db.WithContext(ctx).
		Raw(incrementDoctorSQL, uuid.New(), chatID, doctorID, time.Now()).
		Scan(&count).Error
	return count, err
}

func (r *PostgresUnreadRepository) IncrementUser(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.WithContext(ctx).
		Raw(incrementUserSQL, uuid.New(), chatID, userID, time.Now()).
		Scan(&count).Error
	return count, err
}

func (r *PostgresUnreadRepository) ResetRole(ctx context.Context, chatID uuid.UUID, role string) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&chat.ChatUnread{}).
		Where("chat_id = ?", chatID)

	switch role {
	case chat.SenderDoctor:
		q = q.Where("doctor_id IS NOT NULL")
	case chat.SenderUser:
		q = q.Where("user_id IS NOT NULL")
	default:
		return 0, telecare_errors.ErrInvalidArgument
	}

	res := q.Updates(map[string]interface{}{
		"count":      0,
		"updated_at": time.Now(),
	})
	return res.RowsAffected, res.Error
}
