package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSemaphorePeakConcurrency(t *testing.T) {
	s := NewSemaphore(2)

	var (
		current int32
		peak    int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer s.Release()

			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&current, -1)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got != 2 {
		t.Fatalf("peak concurrency = %d, want 2", got)
	}
	if s.Active() != 0 {
		t.Fatalf("active after drain = %d", s.Active())
	}
}

func TestSemaphoreRunReleasesOnError(t *testing.T) {
	s := NewSemaphore(1)

	wantErr := errors.New("task failed")
	if err := s.Run(context.Background(), func(ctx context.Context) error {
		return wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	if s.Active() != 0 {
		t.Fatalf("slot leaked after error, active = %d", s.Active())
	}
}

func TestSemaphoreRunReleasesOnPanic(t *testing.T) {
	s := NewSemaphore(1)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = s.Run(context.Background(), func(ctx context.Context) error {
			panic("boom")
		})
	}()

	if s.Active() != 0 {
		t.Fatalf("slot leaked after panic, active = %d", s.Active())
	}
}

func TestSemaphoreAcquireHonorsContext(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	s.Release()
	if s.Active() != 0 {
		t.Fatalf("active = %d after release", s.Active())
	}
}

func TestSemaphoreFIFOOrder(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			s.Release()
		}(i)
		time.Sleep(20 * time.Millisecond) // establish arrival order
	}

	s.Release()
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("wake order = %v, want FIFO", order)
		}
	}
}
