package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cachePrefix = "luma:cache:"

// RedisCache implements Cache on Redis. All failures degrade to misses so
// an unavailable cache changes latency, never correctness.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCache creates a Redis-backed result cache.
func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, cachePrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Debug("cache get failed", zap.Error(err))
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, cachePrefix+key, value, ttl).Err(); err != nil {
		c.logger.Debug("cache set failed", zap.Error(err))
	}
}

// InvalidateAll drops every cached result via a SCAN walk over the cache
// key prefix.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, cachePrefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 500 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// NoopCache is used when Redis is not configured.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, key string) ([]byte, bool)                  { return nil, false }
func (NoopCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {}
func (NoopCache) InvalidateAll(ctx context.Context) error                             { return nil }
