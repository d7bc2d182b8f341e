// Package clock provides a small time abstraction so that quota windows,
// token expiry, and cache freshness can be tested against a controlled clock.
package clock

import (
	"sync"
	"time"
)

// System is the default TimeSource backed by the wall clock.
var System TimeSource = systemTimeSource{}

// TimeSource supplies the current time. Production code uses System; tests
// substitute a Fake to drive time-dependent behavior deterministically.
type TimeSource interface {
	Now() time.Time
}

type systemTimeSource struct{}

func (systemTimeSource) Now() time.Time {
	return time.Now()
}

// SecondsUntilEndOfDay returns the number of whole seconds from t until the
// next local midnight in t's location. The result is never less than one, so
// it is always usable as an expiry or Retry-After value.
func SecondsUntilEndOfDay(t time.Time) int {
	midnight := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
	secs := int(midnight.Sub(t).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Fake is a TimeSource whose reported time is set explicitly. For tests only.
type Fake struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFake creates a Fake reporting the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the currently configured time.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.now
}

// Set replaces the reported time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Advance moves the reported time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
