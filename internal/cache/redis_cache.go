package cache

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisOpTimeout = 500 * time.Millisecond

type redisCache[V any] struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedisCache stores JSON-encoded values under prefix with native TTL.
// Redis errors degrade to misses.
func NewRedisCache[V any](client *redis.Client, prefix string, log *zap.Logger) Cache[string, V] {
	if log == nil {
		log = zap.NewNop()
	}
	return &redisCache[V]{client: client, prefix: prefix, log: log}
}

func (c *redisCache[V]) Get(key string) (V, bool) {
	var value V
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("cache get failed", zap.String("prefix", c.prefix), zap.Error(err))
		}
		return value, false
	}
	if err := sonic.Unmarshal(raw, &value); err != nil {
		c.log.Warn("cache decode failed", zap.String("prefix", c.prefix), zap.Error(err))
		return value, false
	}
	return value, true
}

func (c *redisCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := sonic.Marshal(value)
	if err != nil {
		c.log.Warn("cache encode failed", zap.String("prefix", c.prefix), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := c.client.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
		c.log.Debug("cache set failed", zap.String("prefix", c.prefix), zap.Error(err))
	}
}

func (c *redisCache[V]) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.log.Debug("cache delete failed", zap.String("prefix", c.prefix), zap.Error(err))
	}
}

func (c *redisCache[V]) key(key string) string {
	return c.prefix + ":" + key
}
