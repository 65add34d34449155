package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces dedup keys in a shared Redis.
const DefaultRedisPrefix = "livecore:notified:"

// RedisDedup claims keys with SET NX PX so concurrent hosts agree on which
// one delivers a notification.
type RedisDedup struct {
	client *redis.Client
	prefix string
}

// NewRedisDedup creates a Redis-backed store. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisDedup(client *redis.Client, prefix string) *RedisDedup {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisDedup{client: client, prefix: prefix}
}

func (r *RedisDedup) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim dedup key %s: %w", key, err)
	}
	return ok, nil
}
