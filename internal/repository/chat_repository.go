package repository

import (
	"context"
	"errors"
	"time"

	"telecare-chat/internal/domain/chat"
	telecare_errors "telecare-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &PostgresChatRepository{db: db}
}

func (r *PostgresChatRepository) GetByID(ctx context.Context, id uuid.UUID) (chat.Chat, error) {
	var c chat.Chat
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Chat{}, telecare_errors.ErrNotFound
		}
		return chat.Chat{}, err
	}
	return c, nil
}

// GetOrCreateDate resolves the bucket for the given day, creating it on the
// first message of that day. The (chat_id, date) unique index makes the
// create race-safe: the loser of a concurrent insert re-reads the winner's row.
func (r *PostgresChatRepository) GetOrCreateDate(ctx context.Context, chatID uuid.UUID, day time.Time) (chat.ChatDate, error) {
	day = chat.Midnight(day)

	var d chat.ChatDate
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND date = ?", chatID, day).
		First(&d).Error
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.ChatDate{}, err
	}

	d = chat.ChatDate{
		ID:        uuid.New(),
		ChatID:    chatID,
		Date:      day,
		CreatedAt: time.Now(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&d)
	if res.Error != nil {
		return chat.ChatDate{}, res.Error
	}
	if res.RowsAffected == 0 {
		err = r.db.WithContext(ctx).
			Where("chat_id = ? AND date = ?", chatID, day).
			First(&d).Error
		if err != nil {
			return chat.ChatDate{}, err
		}
	}
	return d, nil
}

func (r *PostgresChatRepository) CreateMessage(ctx context.Context, m *chat.ChatMessage) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return telecare_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresChatRepository) GetMessageByID(ctx context.Context, id uuid.UUID) (chat.ChatMessage, error) {
	var m chat.ChatMessage
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.ChatMessage{}, telecare_errors.ErrNotFound
		}
		return chat.ChatMessage{}, err
	}
	return m, nil
}

func (r *PostgresChatRepository) SetLastMessage(ctx context.Context, chatID, messageID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&chat.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"updated_at":      at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return telecare_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresChatRepository) ListChats(ctx context.Context, offset, limit int) ([]chat.Chat, error) {
	var chats []chat.Chat
	err := r.db.WithContext(ctx).
		Order("created_at").
		Offset(offset).
		Limit(limit).
		Find(&chats).Error
	return chats, err
}

func (r *PostgresChatRepository) UpdateChatKey(ctx context.Context, id uuid.UUID, key string) error {
	res := r.db.WithContext(ctx).
		Model(&chat.Chat{}).
		Where("id = ?", id).
		Update("chat_key", key)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return telecare_errors.ErrNotFound
	}
	return nil
}
