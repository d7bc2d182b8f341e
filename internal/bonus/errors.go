package bonus

import "errors"

// Policy errors surfaced by the token lifecycle. Handlers map these onto
// machine-readable reason codes.
var (
	// ErrCooldownActive is returned when a device asks for a new token
	// inside the issuance cooldown window.
	ErrCooldownActive = errors.New("bonus issuance cooldown active")

	// ErrNotFound is returned when no token matches the (token, device)
	// pair, including tokens owned by a different device.
	ErrNotFound = errors.New("bonus token not found")

	// ErrExpired is returned when the token's validity window has passed.
	ErrExpired = errors.New("bonus token expired")

	// ErrAlreadyClaimed is returned on a repeat claim of the same token.
	ErrAlreadyClaimed = errors.New("bonus token already claimed")
)
