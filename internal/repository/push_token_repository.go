package repository

import (
	"context"
	"errors"

	"telecare-chat/internal/domain/user"
	telecare_errors "telecare-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresPushTokenRepository struct {
	db *gorm.DB
}

func NewPushTokenRepository(db *gorm.DB) PushTokenRepository {
	return &PostgresPushTokenRepository{db: db}
}

func (r *PostgresPushTokenRepository) ActiveToken(ctx context.Context, userID uuid.UUID) (string, error) {
	var t user.PushToken
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", telecare_errors.ErrNotFound
		}
		return "", err
	}
	return t.Token, nil
}
