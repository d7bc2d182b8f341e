package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"tidegate/internal/clock"
)

// entry holds one identity's consulted-city set and its daily expiry.
type entry struct {
	cities    map[string]struct{}
	expiresAt time.Time
}

// MemoryLedger is an in-memory Ledger for single-node deployments and tests.
// Each entity key owns a city set that lazily resets once its end-of-day
// expiry passes. A background goroutine evicts expired entries so that
// identities seen once do not accumulate forever.
type MemoryLedger struct {
	ts              clock.TimeSource
	cleanupInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	done    chan struct{}
	closed  bool
}

// NewMemoryLedger creates a memory ledger using the given time source. It
// starts a background goroutine for eviction.
func NewMemoryLedger(ts clock.TimeSource, cleanupInterval time.Duration) *MemoryLedger {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	m := &MemoryLedger{
		ts:              ts,
		cleanupInterval: cleanupInterval,
		entries:         make(map[string]*entry),
		done:            make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// TryAdmit implements Ledger. The whole decision runs under one mutex, so the
// size check and insert are atomic per process.
func (m *MemoryLedger) TryAdmit(_ context.Context, entityKey, city string, capacity int) (Admission, error) {
	now := m.ts.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entityKey]
	if !ok || !now.Before(e.expiresAt) {
		e = &entry{
			cities:    make(map[string]struct{}),
			expiresAt: now.Add(time.Duration(clock.SecondsUntilEndOfDay(now)) * time.Second),
		}
		m.entries[entityKey] = e
	}

	_, seen := e.cities[city]
	admitted := seen
	if !seen && len(e.cities) < capacity {
		e.cities[city] = struct{}{}
		admitted = true
	}

	return Admission{
		Admitted:     admitted,
		Cities:       sortedCities(e.cities),
		Remaining:    remaining(capacity, len(e.cities)),
		ResetSeconds: resetSeconds(now, e.expiresAt),
	}, nil
}

// Close stops the background eviction goroutine.
func (m *MemoryLedger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MemoryLedger) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryLedger) evictExpired() {
	now := m.ts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}

func sortedCities(set map[string]struct{}) []string {
	cities := make([]string, 0, len(set))
	for c := range set {
		cities = append(cities, c)
	}
	sort.Strings(cities)
	return cities
}

func remaining(capacity, used int) int {
	r := capacity - used
	if r < 0 {
		return 0
	}
	return r
}

func resetSeconds(now, expiresAt time.Time) int {
	secs := int(expiresAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
