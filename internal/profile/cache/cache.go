// Package cache is a read-through Redis cache of resolved profiles. A nil
// *Cache is valid and disables caching, so wiring stays unconditional.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"agrimitra/internal/profile"
)

const keyPrefix = "profile:"

// Cache fronts the profile store. Entries are purged on sign-out and on any
// profile mutation so readers never see a stale row after an explicit change.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New constructs a profile cache. Returns nil when client is nil.
func New(client redis.Cmdable, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached profile and whether it was present. Errors are
// treated as misses: the store remains the source of truth.
func (c *Cache) Get(ctx context.Context, id uuid.UUID) (*profile.Profile, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, keyPrefix+id.String()).Bytes()
	if err != nil {
		return nil, false
	}
	var p profile.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	return &p, true
}

// Set stores a resolved profile.
func (c *Cache) Set(ctx context.Context, p *profile.Profile) {
	if c == nil || p == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, keyPrefix+p.ID.String(), raw, c.ttl).Err()
}

// Purge drops the cached profile for one identity.
func (c *Cache) Purge(ctx context.Context, id uuid.UUID) {
	if c == nil {
		return
	}
	_ = c.client.Del(ctx, keyPrefix+id.String()).Err()
}
