package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ViewCache is a generic JSON-backed Redis cache for read model projections.
// Bind it to a specific view type T; pass a ttl of 0 for keys that should not expire.
type ViewCache[T any] struct {
	client *goredis.Client
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

// NewViewCache creates a ViewCache whose keys all start with prefix.
func NewViewCache[T any](client *goredis.Client, logger *zap.Logger, prefix string, ttl time.Duration) *ViewCache[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewCache[T]{client: client, logger: logger, prefix: prefix, ttl: ttl}
}

// Key returns the full Redis key for id.
func (c *ViewCache[T]) Key(id string) string {
	return c.prefix + id
}

// Get retrieves and unmarshals a value from Redis.
// Returns (nil, false) on any miss or deserialisation error.
func (c *ViewCache[T]) Get(ctx context.Context, id string) (*T, bool) {
	data, err := c.client.Get(ctx, c.Key(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("view cache decode error", zap.String("key", c.Key(id)), zap.Error(err))
		return nil, false
	}
	return &v, true
}

// Set stores value under id. A failed cache write is logged, never returned.
func (c *ViewCache[T]) Set(ctx context.Context, id string, value *T) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("view cache marshal error", zap.String("key", c.Key(id)), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.Key(id), data, c.ttl).Err(); err != nil {
		c.logger.Warn("view cache write error", zap.String("key", c.Key(id)), zap.Error(err))
	}
}

// Delete removes the given ids in one round trip.
func (c *ViewCache[T]) Delete(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.Key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("view cache delete error", zap.Strings("keys", keys), zap.Error(err))
	}
}
