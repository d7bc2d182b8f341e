package ledger

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tidegate/internal/clock"
)

// RedisLedger is a Redis-backed Ledger for multi-instance deployments. The
// membership check, capacity check, insert and expiry setup run in a single
// Lua script, so admission is atomic across instances.
type RedisLedger struct {
	client    goredis.Cmdable
	ts        clock.TimeSource
	keyPrefix string
}

// RedisOption configures RedisLedger.
type RedisOption func(*RedisLedger)

// WithKeyPrefix sets the Redis key prefix (default "tidegate:cities:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLedger) { l.keyPrefix = prefix }
}

// WithTimeSource overrides the time source used for daily-window math.
func WithTimeSource(ts clock.TimeSource) RedisOption {
	return func(l *RedisLedger) { l.ts = ts }
}

// NewRedisLedger creates a Redis-backed ledger. The client must be a
// connected *goredis.Client or *goredis.ClusterClient.
func NewRedisLedger(client goredis.Cmdable, opts ...RedisOption) *RedisLedger {
	l := &RedisLedger{
		client:    client,
		ts:        clock.System,
		keyPrefix: "tidegate:cities:",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// admitScript performs the admission decision atomically.
// KEYS[1] = city set key
// ARGV[1] = normalized city
// ARGV[2] = capacity
// ARGV[3] = end-of-day TTL in seconds (used when the set is new or has no expiry)
//
// Returns {status, cardinality, ttl} where status is:
//
//	2 = admitted, city inserted
//	1 = admitted, city already present
//	0 = denied, set full
var admitScript = goredis.NewScript(`
local key = KEYS[1]
local city = ARGV[1]
local capacity = tonumber(ARGV[2])
local day_ttl = tonumber(ARGV[3])

if redis.call("SISMEMBER", key, city) == 1 then
    return {1, redis.call("SCARD", key), redis.call("TTL", key)}
end

local count = redis.call("SCARD", key)
if count >= capacity then
    return {0, count, redis.call("TTL", key)}
end

redis.call("SADD", key, city)
if count == 0 or redis.call("TTL", key) == -1 then
    redis.call("EXPIRE", key, day_ttl)
end
return {2, count + 1, redis.call("TTL", key)}
`)

// TryAdmit implements Ledger.
func (l *RedisLedger) TryAdmit(ctx context.Context, entityKey, city string, capacity int) (Admission, error) {
	key := l.keyPrefix + entityKey
	dayTTL := clock.SecondsUntilEndOfDay(l.ts.Now())

	raw, err := admitScript.Run(ctx, l.client, []string{key}, city, capacity, dayTTL).Result()
	if err != nil {
		return Admission{}, fmt.Errorf("ledger/redis: admit: %w", err)
	}

	status, count, ttl, err := parseAdmitReply(raw)
	if err != nil {
		return Admission{}, err
	}
	if ttl < 1 {
		// TTL of -1/-2 means the key vanished or never got an expiry; fall
		// back to the end-of-day window we just computed.
		ttl = dayTTL
	}

	// The member list is telemetry only, so reading it outside the script is
	// acceptable.
	cities, err := l.client.SMembers(ctx, key).Result()
	if err != nil {
		return Admission{}, fmt.Errorf("ledger/redis: members: %w", err)
	}

	return Admission{
		Admitted:     status != 0,
		Cities:       cities,
		Remaining:    remaining(capacity, count),
		ResetSeconds: ttl,
	}, nil
}

// parseAdmitReply validates the {status, cardinality, ttl} triple returned
// by the admit script. Replies with the wrong shape or non-integer elements
// are reported as errors rather than trusted.
func parseAdmitReply(raw interface{}) (status int64, count, ttl int, err error) {
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return 0, 0, 0, fmt.Errorf("ledger/redis: unexpected admit result: %v", raw)
	}
	status, okStatus := vals[0].(int64)
	count64, okCount := vals[1].(int64)
	ttl64, okTTL := vals[2].(int64)
	if !okStatus || !okCount || !okTTL {
		return 0, 0, 0, fmt.Errorf("ledger/redis: unexpected admit result: %v", raw)
	}
	return status, int(count64), int(ttl64), nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (l *RedisLedger) Close() error {
	return nil
}

// NewRedisClient builds a go-redis client from connection settings.
func NewRedisClient(addr, password string, db, poolSize int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
}

// Ping verifies the Redis backend is reachable.
func Ping(ctx context.Context, client goredis.Cmdable, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Ping(ctx).Err()
}
