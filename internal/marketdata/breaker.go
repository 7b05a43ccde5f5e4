package marketdata

import (
	"sync"
	"time"
)

// BreakerState represents one venue's circuit state in the fallback chain
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // venue in normal rotation
	StateOpen     BreakerState = "open"      // venue skipped until the window elapses
	StateHalfOpen BreakerState = "half_open" // one trial request allowed
)

// venueBreaker tracks a per-venue backoff window. A plan/rate-limit response
// opens the breaker for a fixed duration; after that a single trial request
// is let through, and its outcome decides between closing and reopening.
type venueBreaker struct {
	mu       sync.Mutex
	state    BreakerState
	openedAt time.Time
	window   time.Duration
	trips    int
	now      func() time.Time
}

func newVenueBreaker(window time.Duration) *venueBreaker {
	return &venueBreaker{state: StateClosed, window: window, now: time.Now}
}

// Allow reports whether a request may be sent to the venue right now.
// Moving from open to half-open consumes the single trial slot.
func (b *venueBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return false // trial already in flight
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.window {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes the breaker after a successful request
func (b *venueBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
}

// RecordLimit opens (or reopens) the breaker for the full window
func (b *venueBreaker) RecordLimit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateOpen
	b.openedAt = b.now()
	b.trips++
}

// RecordFailure returns a half-open breaker to open; other failures leave
// the state alone (transient errors are handled by the retry path, not the
// breaker).
func (b *venueBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current state for diagnostics
func (b *venueBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.window {
		return StateHalfOpen
	}
	return b.state
}

// Trips returns how many times the breaker has opened
func (b *venueBreaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}
