package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newClockedCache(maxSize int, ttl time.Duration) (*TTLCache[string, int64], *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTLCache[string, int64](maxSize, ttl)
	c.now = clock.Now
	return c, clock
}

func TestTTLCacheSetGetDelete(t *testing.T) {
	c, _ := newClockedCache(2, time.Minute)
	c.Set("acc-1", 700_000)

	value, ok := c.Get("acc-1")
	if !ok || value != 700_000 {
		t.Fatalf("expected 700000, got %d ok=%v", value, ok)
	}

	c.Delete("acc-1")
	if _, ok := c.Get("acc-1"); ok {
		t.Fatalf("expected deleted entry to miss")
	}
}

func TestTTLCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newClockedCache(2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected 'b' to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected recently used 'a' to remain")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

func TestTTLCacheExpires(t *testing.T) {
	c, clock := newClockedCache(2, 300*time.Second)
	c.Set("a", 1)

	clock.now = clock.now.Add(299 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected entry before ttl")
	}

	clock.now = clock.now.Add(time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire at ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be removed on access")
	}
}

func TestTTLCacheModifyKeepsWindow(t *testing.T) {
	c, clock := newClockedCache(4, time.Minute)

	count, ok := c.Modify("k", func(current int64, exists bool) int64 {
		if exists {
			t.Fatalf("first modify should see a missing entry")
		}
		return current + 1
	})
	if !ok || count != 1 {
		t.Fatalf("unexpected first modify: %d %v", count, ok)
	}

	clock.now = clock.now.Add(50 * time.Second)
	count, _ = c.Modify("k", func(current int64, _ bool) int64 { return current + 1 })
	if count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}

	// Modify 는 만료 시각을 연장하지 않는다.
	clock.now = clock.now.Add(10 * time.Second)
	count, _ = c.Modify("k", func(current int64, _ bool) int64 { return current + 1 })
	if count != 1 {
		t.Fatalf("expected counter reset after window, got %d", count)
	}

	if _, ok := c.Modify("k", nil); ok {
		t.Fatalf("nil modifier should be rejected")
	}
}
