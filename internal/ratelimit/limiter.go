// Package ratelimit bounds outbound requests per venue using a sliding
// 1-second window.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	// DefaultMaxPerSecond is the per-venue request budget when none is configured
	DefaultMaxPerSecond = 6
	minPerSecond        = 1
	maxPerSecond        = 20
)

// Limiter grants at most maxPerSecond acquisitions per rolling one-second
// window. Blocked callers are granted strictly in arrival order.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	grants  []time.Time // ascending grant timestamps inside the window
	waiters *list.List  // of chan struct{}
	timer   *time.Timer
	now     func() time.Time
}

// NewLimiter creates a limiter. maxPerSec is clamped to [1, 20]; zero or
// negative selects the default of 6.
func NewLimiter(maxPerSec int) *Limiter {
	if maxPerSec <= 0 {
		maxPerSec = DefaultMaxPerSecond
	}
	if maxPerSec < minPerSecond {
		maxPerSec = minPerSecond
	}
	if maxPerSec > maxPerSecond {
		maxPerSec = maxPerSecond
	}
	return &Limiter{
		max:     maxPerSec,
		window:  time.Second,
		waiters: list.New(),
		now:     time.Now,
	}
}

// Acquire blocks until a slot is free inside the rolling window, then
// records the grant. Returns ctx.Err() if the context finishes first.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.pruneLocked()
	if l.waiters.Len() == 0 && len(l.grants) < l.max {
		l.grants = append(l.grants, l.now())
		l.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	el := l.waiters.PushBack(ready)
	l.scheduleLocked()
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// Granted while cancelling; the recorded grant is simply consumed.
			l.mu.Unlock()
			return ctx.Err()
		default:
		}
		l.waiters.Remove(el)
		l.mu.Unlock()
		return ctx.Err()
	}
}

// TryAcquire records a grant if a slot is free right now, without blocking
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	if l.waiters.Len() > 0 || len(l.grants) >= l.max {
		return false
	}
	l.grants = append(l.grants, l.now())
	return true
}

// InFlight returns the number of grants still inside the window and the
// number of queued waiters.
func (l *Limiter) InFlight() (grants, waiting int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	return len(l.grants), l.waiters.Len()
}

// Max returns the configured per-second budget
func (l *Limiter) Max() int {
	return l.max
}

func (l *Limiter) pruneLocked() {
	cutoff := l.now().Add(-l.window)
	i := 0
	for i < len(l.grants) && !l.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}

// scheduleLocked arms the wake-up timer for the queued waiters
func (l *Limiter) scheduleLocked() {
	if l.timer != nil {
		return
	}
	var delay time.Duration
	if len(l.grants) >= l.max {
		oldestRelevant := l.grants[len(l.grants)-l.max]
		delay = oldestRelevant.Add(l.window).Sub(l.now())
		if delay < 0 {
			delay = 0
		}
	}
	l.timer = time.AfterFunc(delay, l.wake)
}

func (l *Limiter) wake() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.timer = nil
	l.pruneLocked()
	for l.waiters.Len() > 0 && len(l.grants) < l.max {
		el := l.waiters.Front()
		l.waiters.Remove(el)
		l.grants = append(l.grants, l.now())
		close(el.Value.(chan struct{}))
	}
	if l.waiters.Len() > 0 {
		l.scheduleLocked()
	}
}
