package autopilot

import (
	"sync"
	"time"
)

// AcquireOutcome tells a trigger what happened to its request
type AcquireOutcome int

const (
	// AcquireStarted means the caller owns the lock and must run the cycle
	AcquireStarted AcquireOutcome = iota
	// AcquireQueued means the config was stored in the supersede slot
	AcquireQueued
	// AcquireReclaimed means a stale lock was taken over; the caller owns
	// the lock and must run the cycle
	AcquireReclaimed
)

// cycleLock is the per-key state machine: IDLE -> RUNNING -> IDLE, with a
// single queued slot that later triggers overwrite (supersede, not append).
// The generation counter fences out releases from reclaimed-over holders.
type cycleLock struct {
	running    bool
	generation uint64
	startedAt  time.Time
	queued     *RunConfig
}

// lockRegistry owns all cycle locks. All transitions happen under one mutex;
// cycle bodies run outside it.
type lockRegistry struct {
	locks      map[string]*cycleLock
	staleAfter time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

func newLockRegistry(staleAfter time.Duration) *lockRegistry {
	return &lockRegistry{
		locks:      make(map[string]*cycleLock),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// TryAcquire attempts to start a cycle for key. While a live cycle holds the
// lock the config lands in the queued slot, replacing whatever was there.
// A lock held past staleAfter is treated as abandoned and taken over. The
// returned generation must be passed back to Release.
func (r *lockRegistry) TryAcquire(key string, cfg RunConfig) (AcquireOutcome, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[key]
	if !ok {
		l = &cycleLock{}
		r.locks[key] = l
	}

	if !l.running {
		l.running = true
		l.generation++
		l.startedAt = r.now()
		l.queued = nil
		return AcquireStarted, l.generation
	}

	if r.now().Sub(l.startedAt) > r.staleAfter {
		// The previous holder is presumed hung; bumping the generation
		// turns its eventual Release into a no-op
		l.generation++
		l.startedAt = r.now()
		l.queued = nil
		return AcquireReclaimed, l.generation
	}

	l.queued = &cfg
	return AcquireQueued, 0
}

// Release ends the caller's cycle. If a config was queued meanwhile the lock
// stays held and the config is returned for immediate execution under the
// new generation; otherwise the lock returns to idle. Releases carrying a
// stale generation are ignored.
func (r *lockRegistry) Release(key string, generation uint64) (*RunConfig, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[key]
	if !ok || !l.running || l.generation != generation {
		return nil, 0
	}
	if l.queued != nil {
		next := l.queued
		l.queued = nil
		l.generation++
		l.startedAt = r.now()
		return next, l.generation
	}
	l.running = false
	return nil, 0
}

// Held reports whether key currently has a running cycle
func (r *lockRegistry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	return ok && l.running
}

// States returns a snapshot of every lock for diagnostics
func (r *lockRegistry) States() map[string]map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]map[string]interface{}, len(r.locks))
	for key, l := range r.locks {
		state := "IDLE"
		if l.running {
			state = "RUNNING"
		}
		out[key] = map[string]interface{}{
			"state":      state,
			"started_at": l.startedAt,
			"queued":     l.queued != nil,
		}
	}
	return out
}
