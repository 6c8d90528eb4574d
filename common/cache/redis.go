package cache

import (
	"context"
	"fmt"
	"time"

	rediscommon "github.com/lyzr/datavault/common/redis"
)

// RedisCache stores entries in Redis so sessions survive restarts and are
// shared between vault instances.
type RedisCache struct {
	client *rediscommon.Client
	prefix string
}

// NewRedisCache creates a Redis-backed cache. Every key is stored under prefix.
func NewRedisCache(client *rediscommon.Client, prefix string) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisCache) key(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

// Get retrieves a value from Redis
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.client.Lookup(ctx, c.key(key))
	if err != nil || !found {
		return nil, false, err
	}
	return []byte(val), true, nil
}

// Set stores a value with TTL
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.SetWithExpiry(ctx, c.key(key), string(value), ttl)
}

// Take retrieves and removes a value atomically (GETDEL)
func (c *RedisCache) Take(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.client.GetDel(ctx, c.key(key))
	if err != nil || !found {
		return nil, false, err
	}
	return []byte(val), true, nil
}

// Delete removes a value
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Delete(ctx, c.key(key))
}

// Close is a no-op; the Redis connection is owned by the container
func (c *RedisCache) Close() error {
	return nil
}
