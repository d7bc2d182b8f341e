package entitlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidegate/internal/clock"
)

// stubVerifier returns scripted results and counts calls.
type stubVerifier struct {
	calls    int
	entitled bool
	err      error
}

func (s *stubVerifier) Verify(_ context.Context, _ string) (bool, error) {
	s.calls++
	return s.entitled, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, v Verifier) (*Cache, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	c := NewCache(NewMemoryCacheStore(fake), v, time.Hour, discardLogger())
	t.Cleanup(func() { _ = c.Close() })
	return c, fake
}

func TestCacheHitSkipsVerifier(t *testing.T) {
	v := &stubVerifier{entitled: true}
	c, _ := newTestCache(t, v)
	ctx := context.Background()

	assert.True(t, c.IsEntitled(ctx, "device-a", false))
	require.Equal(t, 1, v.calls)

	// Fresh entry: no second verifier call.
	assert.True(t, c.IsEntitled(ctx, "device-a", false))
	assert.Equal(t, 1, v.calls)
}

func TestCacheExpiryTriggersReverify(t *testing.T) {
	v := &stubVerifier{entitled: true}
	c, fake := newTestCache(t, v)
	ctx := context.Background()

	assert.True(t, c.IsEntitled(ctx, "device-a", false))

	fake.Advance(time.Hour + time.Second)
	assert.True(t, c.IsEntitled(ctx, "device-a", false))
	assert.Equal(t, 2, v.calls)
}

func TestCacheNegativeResultIsCached(t *testing.T) {
	v := &stubVerifier{entitled: false}
	c, _ := newTestCache(t, v)
	ctx := context.Background()

	assert.False(t, c.IsEntitled(ctx, "device-a", false))
	assert.False(t, c.IsEntitled(ctx, "device-a", false))
	// A verified "not entitled" is a success and is cached like any other.
	assert.Equal(t, 1, v.calls)
}

func TestCacheForceRefreshBypassesReadButRepopulates(t *testing.T) {
	v := &stubVerifier{entitled: false}
	c, _ := newTestCache(t, v)
	ctx := context.Background()

	assert.False(t, c.IsEntitled(ctx, "device-a", false))
	require.Equal(t, 1, v.calls)

	// The user subscribes; a forced refresh sees it immediately.
	v.entitled = true
	assert.True(t, c.IsEntitled(ctx, "device-a", true))
	require.Equal(t, 2, v.calls)

	// And the refreshed value stuck in the cache.
	assert.True(t, c.IsEntitled(ctx, "device-a", false))
	assert.Equal(t, 2, v.calls)
}

func TestCacheVerifierFailureNotCached(t *testing.T) {
	v := &stubVerifier{err: errors.New("upstream timeout")}
	c, _ := newTestCache(t, v)
	ctx := context.Background()

	assert.False(t, c.IsEntitled(ctx, "device-a", false))
	require.Equal(t, 1, v.calls)

	// An immediate retry hits the verifier again instead of a poisoned
	// cache entry.
	v.err = nil
	v.entitled = true
	assert.True(t, c.IsEntitled(ctx, "device-a", false))
	assert.Equal(t, 2, v.calls)
}

func TestMemoryCacheStoreIsolation(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	store := NewMemoryCacheStore(fake)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "device-a", true, time.Hour))

	_, ok, err := store.Get(ctx, "device-b")
	require.NoError(t, err)
	assert.False(t, ok)

	val, ok, err := store.Get(ctx, "device-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, val)
}
