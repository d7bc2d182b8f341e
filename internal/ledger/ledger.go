// Package ledger tracks the set of distinct cities each identity has looked
// up today. Entries expire at local midnight; admission is capped by the
// identity's entitlement tier at insertion time. Implementations must make
// the membership-check-and-insert step atomic per entity key so that two
// concurrent requests cannot both slip past a capacity check.
package ledger

import "context"

// Admission is the outcome of a TryAdmit call, including the telemetry the
// HTTP layer surfaces in rate-limit headers.
type Admission struct {
	Admitted bool
	// Cities is the identity's consulted-city set after the call.
	Cities []string
	// Remaining is how many new cities the identity may still add today.
	Remaining int
	// ResetSeconds is the time until the daily window resets, always >= 1.
	ResetSeconds int
}

// Ledger is the daily distinct-city quota store. Implementations must be safe
// for concurrent use.
type Ledger interface {
	// TryAdmit decides whether the identity may look up city given the
	// capacity for its tier. A city already in the set is always admitted
	// without mutation; a new city is inserted only while the set is below
	// capacity. Backend failures are returned as errors and callers are
	// expected to fail closed.
	TryAdmit(ctx context.Context, entityKey, city string, capacity int) (Admission, error)

	// Close releases backend resources and stops background goroutines.
	Close() error
}
