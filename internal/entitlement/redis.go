package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// redisCacheStore is a CacheStore on a shared Redis, so that all gate
// instances agree on a device's cached entitlement.
type redisCacheStore struct {
	client    goredis.Cmdable
	keyPrefix string
}

// NewRedisCacheStore creates a Redis-backed CacheStore. Keys are
// prefix+deviceID holding "1" or "0" with the entry TTL.
func NewRedisCacheStore(client goredis.Cmdable, keyPrefix string) CacheStore {
	if keyPrefix == "" {
		keyPrefix = "tidegate:premium:"
	}
	return &redisCacheStore{client: client, keyPrefix: keyPrefix}
}

func (r *redisCacheStore) Get(ctx context.Context, deviceID string) (bool, bool, error) {
	val, err := r.client.Get(ctx, r.keyPrefix+deviceID).Result()
	if errors.Is(err, goredis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("entitlement/redis: get: %w", err)
	}
	return val == "1", true, nil
}

func (r *redisCacheStore) Set(ctx context.Context, deviceID string, value bool, ttl time.Duration) error {
	val := "0"
	if value {
		val = "1"
	}
	if err := r.client.Set(ctx, r.keyPrefix+deviceID, val, ttl).Err(); err != nil {
		return fmt.Errorf("entitlement/redis: set: %w", err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (r *redisCacheStore) Close() error {
	return nil
}
