package codes

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "rollcall:code:"

// Cache keeps a best-effort code -> student mapping in Redis so kiosk
// check-ins skip the DB on the hot path. All operations degrade to a miss
// when Redis is unavailable.
type Cache struct {
	client *redis.Client
}

// NewCache wraps a redis client; nil is allowed and disables caching.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached student id for a code value.
func (c *Cache) Get(ctx context.Context, code string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, cacheKeyPrefix+code).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set caches a code with a TTL capped to the code's own lifetime.
func (c *Cache) Set(ctx context.Context, code, studentID string, ttl time.Duration) {
	if c == nil || c.client == nil || ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+code, studentID, ttl).Err(); err != nil {
		log.Printf("code cache set failed: %v", err)
	}
}

// Del drops a rotated or revoked code from the cache.
func (c *Cache) Del(ctx context.Context, code string) {
	if c == nil || c.client == nil || code == "" {
		return
	}
	if err := c.client.Del(ctx, cacheKeyPrefix+code).Err(); err != nil {
		log.Printf("code cache del failed: %v", err)
	}
}
