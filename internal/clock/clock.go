// Package clock provides the time source used to separate executed history
// from planned movements.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current instant. Replay, restriction matching and the
// planned-movement sweep depend on it instead of calling time.Now directly.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now in UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a settable clock for tests and what-if tooling.
type Fake struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFake returns a Fake clock frozen at now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now.UTC()}
}

// Now returns the frozen instant.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Normalize converts t to the form stored in the ledger: UTC, whole seconds.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
