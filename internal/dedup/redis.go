package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache shared across processes through Redis.
//
// Each admitted key is written with SET NX and a PX equal to the cooldown, so
// the key's presence is exactly the "inside the cooldown" condition. Redis
// expires keys itself; Sweep does nothing.
type RedisCache struct {
	client   redis.UniversalClient
	prefix   string
	cooldown time.Duration
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client redis.UniversalClient, prefix string, cooldown time.Duration) *RedisCache {
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	return &RedisCache{client: client, prefix: prefix, cooldown: cooldown}
}

// NewRedisCacheFromURL parses url, pings the server, and returns a cache.
func NewRedisCacheFromURL(ctx context.Context, url, prefix string, cooldown time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewRedisCache(client, prefix, cooldown), nil
}

// CheckAndMark implements Cache.
func (c *RedisCache) CheckAndMark(ctx context.Context, key string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+key, time.Now().UnixMilli(), c.cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}

// Sweep implements Cache.
func (c *RedisCache) Sweep(context.Context, time.Duration) (int, error) {
	return 0, nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
