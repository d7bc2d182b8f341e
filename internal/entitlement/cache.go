package entitlement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tidegate/internal/clock"
)

// CacheStore holds cached entitlement booleans with per-entry expiry.
type CacheStore interface {
	// Get returns the cached value and whether a fresh entry exists.
	Get(ctx context.Context, deviceID string) (value, ok bool, err error)
	// Set stores the value with the given TTL.
	Set(ctx context.Context, deviceID string, value bool, ttl time.Duration) error
	// Close releases backend resources.
	Close() error
}

// Cache is a read-through entitlement cache. Successful verifications are
// cached for the configured TTL; verifier failures are reported as "not
// entitled" without touching the cache, so the next call retries the
// verifier.
type Cache struct {
	store    CacheStore
	verifier Verifier
	ttl      time.Duration
	logger   *slog.Logger
}

// NewCache wraps verifier with the given cache store and TTL.
func NewCache(store CacheStore, verifier Verifier, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{store: store, verifier: verifier, ttl: ttl, logger: logger}
}

// IsEntitled reports whether the device holds the premium entitlement. With
// forceRefresh the cached value is bypassed but the fresh result is still
// written back with the full TTL.
func (c *Cache) IsEntitled(ctx context.Context, deviceID string, forceRefresh bool) bool {
	if !forceRefresh {
		value, ok, err := c.store.Get(ctx, deviceID)
		if err != nil {
			c.logger.Warn("entitlement cache read failed", "device_id", deviceID, "error", err)
		} else if ok {
			return value
		}
	}

	entitled, err := c.verifier.Verify(ctx, deviceID)
	if err != nil {
		c.logger.Warn("entitlement verification failed",
			"device_id", deviceID,
			"force_refresh", forceRefresh,
			"error", err)
		return false
	}

	if err := c.store.Set(ctx, deviceID, entitled, c.ttl); err != nil {
		c.logger.Warn("entitlement cache write failed", "device_id", deviceID, "error", err)
	}
	return entitled
}

// Close releases the underlying cache store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// memoryCacheStore is a mutex-guarded in-process CacheStore.
type memoryCacheStore struct {
	ts clock.TimeSource

	mu      sync.Mutex
	entries map[string]memoryCacheEntry
}

type memoryCacheEntry struct {
	value     bool
	expiresAt time.Time
}

// NewMemoryCacheStore creates an in-process CacheStore. Expired entries are
// dropped lazily on read; the entitlement keyspace is small enough (one
// entry per active device) that no background eviction is needed.
func NewMemoryCacheStore(ts clock.TimeSource) CacheStore {
	return &memoryCacheStore{
		ts:      ts,
		entries: make(map[string]memoryCacheEntry),
	}
}

func (m *memoryCacheStore) Get(_ context.Context, deviceID string) (bool, bool, error) {
	now := m.ts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[deviceID]
	if !ok {
		return false, false, nil
	}
	if !now.Before(e.expiresAt) {
		delete(m.entries, deviceID)
		return false, false, nil
	}
	return e.value, true, nil
}

func (m *memoryCacheStore) Set(_ context.Context, deviceID string, value bool, ttl time.Duration) error {
	now := m.ts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[deviceID] = memoryCacheEntry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

func (m *memoryCacheStore) Close() error {
	return nil
}
