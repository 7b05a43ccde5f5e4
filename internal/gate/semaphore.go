// Package gate bounds the number of simultaneously in-flight analysis tasks.
package gate

import (
	"container/list"
	"context"
	"sync"
)

// Semaphore is a counting semaphore with strict FIFO fairness among waiters.
// Callers blocked in Acquire are granted slots in arrival order.
type Semaphore struct {
	mu      sync.Mutex
	max     int
	active  int
	waiters *list.List // of chan struct{}
}

// NewSemaphore creates a semaphore permitting max concurrent holders.
// max < 1 is treated as 1.
func NewSemaphore(max int) *Semaphore {
	if max < 1 {
		max = 1
	}
	return &Semaphore{max: max, waiters: list.New()}
}

// Acquire blocks until a slot is free or ctx is done. A nil error means the
// caller holds a slot and must call Release exactly once.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.active < s.max && s.waiters.Len() == 0 {
		s.active++
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	el := s.waiters.PushBack(ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ready:
			// Slot was granted concurrently with cancellation; give it back.
			s.mu.Unlock()
			s.Release()
			return ctx.Err()
		default:
		}
		s.waiters.Remove(el)
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Release frees a slot and wakes the longest-waiting caller, if any
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el := s.waiters.Front(); el != nil {
		s.waiters.Remove(el)
		close(el.Value.(chan struct{}))
		return // slot handed over directly, active count unchanged
	}
	if s.active > 0 {
		s.active--
	}
}

// Run executes fn while holding a slot. The slot is released on normal
// return, on error, and on panic.
func (s *Semaphore) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn(ctx)
}

// Active returns the number of currently held slots
func (s *Semaphore) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Waiting returns the number of queued callers
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}
