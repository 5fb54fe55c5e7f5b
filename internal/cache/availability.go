package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	doctorID  uuid.UUID
	expiresAt time.Time
}

// AvailabilityCache is a process-local, time-bounded map from chat id to the
// assigned doctor id. It is advisory only: a miss falls through to the
// persistence gateway, never to "doctor unknown". Entries are scoped to this
// process; no cross-process coherence is needed given the short TTL.
type AvailabilityCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]entry

	ttl   time.Duration
	sweep time.Duration
	now   func() time.Time
}

func NewAvailabilityCache(ttl, sweep time.Duration) *AvailabilityCache {
	return &AvailabilityCache{
		entries: make(map[uuid.UUID]entry),
		ttl:     ttl,
		sweep:   sweep,
		now:     time.Now,
	}
}

// Get returns the cached doctor id if present and unexpired.
func (c *AvailabilityCache) Get(chatID uuid.UUID) (uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[chatID]
	if !ok || c.now().After(e.expiresAt) {
		return uuid.Nil, false
	}
	return e.doctorID, true
}

// Set records a successful chat-to-doctor resolution.
func (c *AvailabilityCache) Set(chatID, doctorID uuid.UUID) {
	c.mu.Lock()
	c.entries[chatID] = entry{
		doctorID:  doctorID,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Len returns the number of entries, expired or not.
func (c *AvailabilityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Start runs the background eviction sweep until the context is cancelled.
func (c *AvailabilityCache) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.evictExpired()
			}
		}
	}()
}

// evictExpired removes only entries whose expiry has passed. Live entries
// are never evicted early.
func (c *AvailabilityCache) evictExpired() {
	now := c.now()
	c.mu.Lock()
	for chatID, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, chatID)
		}
	}
	c.mu.Unlock()
}
