package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestExpiringTTL(t *testing.T) {
	base := time.Now()
	now := base
	c := NewExpiring[string](100*time.Millisecond, 0)
	c.SetClock(func() time.Time { return now })

	c.Set("k", "v")

	now = base.Add(50 * time.Millisecond)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected hit at t0+50ms, got ok=%v v=%q", ok, v)
	}

	now = base.Add(101 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss at t0+101ms")
	}
	if c.Size() != 0 {
		t.Fatalf("expired entry not evicted lazily, size=%d", c.Size())
	}
}

func TestExpiringMaxEntriesEvictsOldest(t *testing.T) {
	const max = 5
	c := NewExpiring[int](time.Minute, max)

	for i := 0; i <= max; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
	}

	if c.Size() != max {
		t.Fatalf("size = %d, want %d", c.Size(), max)
	}
	if _, ok := c.Get("key-0"); ok {
		t.Fatal("first-inserted key should have been evicted")
	}
	if v, ok := c.Get("key-1"); !ok || v != 1 {
		t.Fatalf("key-1 should survive, got ok=%v v=%d", ok, v)
	}
}

func TestExpiringSetRefreshesInsertionOrder(t *testing.T) {
	c := NewExpiring[int](time.Minute, 2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 3) // moves a to the back of the eviction order
	c.Set("c", 4) // evicts b, the oldest insertion

	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 3 {
		t.Fatalf("a = %d ok=%v, want 3", v, ok)
	}
}

func TestExpiringDeleteAndClear(t *testing.T) {
	c := NewExpiring[int](time.Minute, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("a should be gone after Delete")
	}

	c.Clear()
	if c.Size() != 0 {
		t.Fatalf("size after Clear = %d", c.Size())
	}
}
