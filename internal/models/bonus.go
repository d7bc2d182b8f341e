// Package models - Bonus token domain model.
// A bonus token is a single-use, time-boxed credential that lets one city
// lookup bypass the daily quota after an ad view. Its lifecycle is an
// append-only state machine: issued, then claimed, then consumed. Timestamps
// are never unset once written.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenState is the explicit lifecycle state of a bonus token.
type TokenState string

const (
	TokenStateIssued   TokenState = "issued"
	TokenStateClaimed  TokenState = "claimed"
	TokenStateConsumed TokenState = "consumed"
)

// BonusToken tracks issuance, claim and consumption of a single-use quota
// bypass credential for one device.
type BonusToken struct {
	Token       string     `json:"token"`
	OwnerDevice string     `json:"owner_device"`
	OriginIP    string     `json:"origin_ip"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

// NewBonusToken creates a freshly issued token for a device with a random
// value and the given TTL.
func NewBonusToken(deviceID, ip string, now time.Time, ttl time.Duration) *BonusToken {
	return &BonusToken{
		Token:       uuid.New().String(),
		OwnerDevice: deviceID,
		OriginIP:    ip,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
}

// State reports the token's position in the issued → claimed → consumed
// progression.
func (t *BonusToken) State() TokenState {
	switch {
	case t.ConsumedAt != nil:
		return TokenStateConsumed
	case t.ClaimedAt != nil:
		return TokenStateClaimed
	default:
		return TokenStateIssued
	}
}

// Expired reports whether the token's validity window has passed at now.
// A token expires at ExpiresAt inclusive.
func (t *BonusToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Claimable reports whether a claim transition is allowed at now.
func (t *BonusToken) Claimable(now time.Time) bool {
	return t.State() == TokenStateIssued && !t.Expired(now)
}

// Consumable reports whether a consume transition is allowed at now. Only a
// claimed, unexpired, not-yet-consumed token qualifies.
func (t *BonusToken) Consumable(now time.Time) bool {
	return t.State() == TokenStateClaimed && !t.Expired(now)
}
