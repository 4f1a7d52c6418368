package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "zklogin:jwk:"

// RedisCache shares resolved keys between service instances. Entries expire
// server-side after the TTL; the resolver still checks FetchedAt.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache wraps a redis client
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(provider, keyID string) string {
	return redisKeyPrefix + provider + ":" + keyID
}

func (c *RedisCache) Get(ctx context.Context, provider, keyID string) (*ResolvedKey, bool, error) {
	b, err := c.client.Get(ctx, redisKey(provider, keyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var k ResolvedKey
	if err := json.Unmarshal(b, &k); err != nil {
		return nil, false, fmt.Errorf("decode cached key: %w", err)
	}
	return &k, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key *ResolvedKey) error {
	b, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("encode key: %w", err)
	}
	if err := c.client.Set(ctx, redisKey(key.Provider, key.KeyID), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, provider, keyID string) error {
	if err := c.client.Del(ctx, redisKey(provider, keyID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks connectivity, used by the health endpoint
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
