package service

import (
	"context"

	"telecare-chat/internal/cache"
	"telecare-chat/internal/repository"

	"github.com/google/uuid"
)

// DoctorResolver answers "which doctor is assigned to this chat" through the
// availability cache, falling back to the persistence gateway on a miss and
// writing the result back.
type DoctorResolver struct {
	cache *cache.AvailabilityCache
	chats repository.ChatRepository
}

func NewDoctorResolver(c *cache.AvailabilityCache, chats repository.ChatRepository) *DoctorResolver {
	return &DoctorResolver{cache: c, chats: chats}
}

func (r *DoctorResolver) Resolve(ctx context.Context, chatID uuid.UUID) (uuid.UUID, error) {
	if doctorID, ok := r.cache.Get(chatID); ok {
		return doctorID, nil
	}
	c, err := r.chats.GetByID(ctx, chatID)
	if err != nil {
		return uuid.Nil, err
	}
	r.cache.Set(chatID, c.DoctorID)
	return c.DoctorID, nil
}
