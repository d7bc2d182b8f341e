package bonus

import (
	"context"
	"sync"
	"time"

	"tidegate/internal/clock"
	"tidegate/internal/models"
)

// MemoryStore is an in-memory Store for single-node deployments and tests.
// All lifecycle transitions run under one mutex, so check-and-set races
// cannot occur within a process.
type MemoryStore struct {
	ts       clock.TimeSource
	cooldown time.Duration
	tokenTTL time.Duration

	mu         sync.Mutex
	tokens     map[string]*models.BonusToken
	lastIssued map[string]time.Time
}

// NewMemoryStore creates a memory store with the given cooldown and token
// lifetime.
func NewMemoryStore(ts clock.TimeSource, cooldown, tokenTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		ts:         ts,
		cooldown:   cooldown,
		tokenTTL:   tokenTTL,
		tokens:     make(map[string]*models.BonusToken),
		lastIssued: make(map[string]time.Time),
	}
}

// Issue implements Store.
func (s *MemoryStore) Issue(_ context.Context, deviceID, originIP string) (*models.BonusToken, error) {
	now := s.ts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastIssued[deviceID]; ok && now.Sub(last) < s.cooldown {
		return nil, ErrCooldownActive
	}

	token := models.NewBonusToken(deviceID, originIP, now, s.tokenTTL)
	s.tokens[token.Token] = token
	s.lastIssued[deviceID] = now

	copied := *token
	return &copied, nil
}

// CooldownRemaining implements Store.
func (s *MemoryStore) CooldownRemaining(_ context.Context, deviceID string) (int, error) {
	now := s.ts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastIssued[deviceID]
	if !ok {
		return 0, nil
	}
	return minutesUntil(now, last.Add(s.cooldown)), nil
}

// Claim implements Store.
func (s *MemoryStore) Claim(_ context.Context, token, deviceID string) error {
	now := s.ts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok || t.OwnerDevice != deviceID {
		return ErrNotFound
	}
	if t.Expired(now) {
		return ErrExpired
	}
	if t.State() != models.TokenStateIssued {
		return ErrAlreadyClaimed
	}
	t.ClaimedAt = &now
	return nil
}

// TryConsume implements Store.
func (s *MemoryStore) TryConsume(_ context.Context, token, deviceID string) (bool, error) {
	now := s.ts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok || t.OwnerDevice != deviceID {
		return false, nil
	}
	if !t.Consumable(now) {
		return false, nil
	}
	t.ConsumedAt = &now
	return true, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// minutesUntil reports the whole minutes from now until t, rounded up so a
// caller waiting that many minutes is guaranteed to be past t. Returns zero
// when t has already passed.
func minutesUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	mins := int(d / time.Minute)
	if d%time.Minute != 0 {
		mins++
	}
	return mins
}
