// Package bonus implements the single-use bonus token store. A device earns
// one token per cooldown window; the token must be claimed within its TTL and
// can then be consumed exactly once to bypass the daily city quota.
package bonus

import (
	"context"

	"tidegate/internal/models"
)

// Store defines the interface for bonus token persistence and lifecycle
// transitions. It can be implemented by different backends such as an
// in-memory map, SQLite, or PostgreSQL.
type Store interface {
	// Issue creates a fresh token for the device. It fails with
	// ErrCooldownActive if a token was already issued for the device within
	// the trailing cooldown window.
	Issue(ctx context.Context, deviceID, originIP string) (*models.BonusToken, error)

	// CooldownRemaining reports how many whole minutes remain until the
	// device may issue again, rounded up toward the next available minute.
	// Zero means issuance is allowed now.
	CooldownRemaining(ctx context.Context, deviceID string) (int, error)

	// Claim marks the token as claimed. The token is located by exact
	// (token, device) match; a token owned by another device is reported as
	// ErrNotFound rather than as an authorization failure. Fails with
	// ErrExpired past the token's validity window and ErrAlreadyClaimed on a
	// repeat claim.
	Claim(ctx context.Context, token, deviceID string) error

	// TryConsume atomically consumes a claimed, unexpired, not-yet-consumed
	// token owned by the device. It returns true exactly once per token; any
	// other case returns false without mutation or error, so callers can
	// invoke it speculatively on every gated request.
	TryConsume(ctx context.Context, token, deviceID string) (bool, error)

	// Close closes the store and cleans up resources.
	Close() error
}
