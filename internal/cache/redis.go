package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend stores entries in Redis. Pattern deletion uses SCAN+DEL in
// batches so a broad invalidation never blocks the server the way KEYS
// would.
type redisBackend struct {
	client *redis.Client
}

// NewRedisClient connects to Redis and verifies the connection. The
// per-call timeouts cap how long a cache operation can stall a decision.
// The client is shared with other Redis consumers (the auth rate limiter).
func NewRedisClient(ctx context.Context, url string, opTimeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis URL: %w", err)
	}
	opts.DialTimeout = opTimeout
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return client, nil
}

// NewRedisBackend wraps an established client as a cache backend.
func NewRedisBackend(client *redis.Client) Backend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return raw, true, nil
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *redisBackend) Delete(ctx context.Context, keys ...string) (int, error) {
	n, err := b.client.Del(ctx, keys...).Result()
	return int(n), err
}

func (b *redisBackend) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var deleted int
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := b.client.Del(ctx, keys...).Result()
			deleted += int(n)
			if err != nil {
				return deleted, err
			}
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (b *redisBackend) Close() error {
	return b.client.Close()
}
