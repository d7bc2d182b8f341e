package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterAllowsWithinBurst(t *testing.T) {
	m := NewMemoryLimiter(60, 3, time.Minute)
	t.Cleanup(m.Close)

	for i := 0; i < 3; i++ {
		allowed, info := m.Allow("device:abc")
		assert.True(t, allowed, "request %d within burst should pass", i)
		assert.Equal(t, 60, info.Limit)
	}

	allowed, info := m.Allow("device:abc")
	assert.False(t, allowed)
	assert.Greater(t, info.RetryAfter, time.Duration(0))
}

func TestMemoryLimiterIsolatesKeys(t *testing.T) {
	m := NewMemoryLimiter(60, 1, time.Minute)
	t.Cleanup(m.Close)

	allowed, _ := m.Allow("device:a")
	require.True(t, allowed)

	allowed, _ = m.Allow("device:a")
	require.False(t, allowed)

	allowed, _ = m.Allow("device:b")
	assert.True(t, allowed, "a different key has its own bucket")
}

func TestMemoryLimiterEvictsStale(t *testing.T) {
	m := NewMemoryLimiter(60, 1, 10*time.Millisecond)
	t.Cleanup(m.Close)

	m.Allow("device:a")

	m.mu.Lock()
	m.buckets["device:a"].lastSeen = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	m.evictStale()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.buckets)
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(60, 1, time.Minute)
	m.Close()
	m.Close()
}
