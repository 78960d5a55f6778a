package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(rate float64, burst int) (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)}
	return newMemoryLimiter(rate, burst, clock.Now), clock
}

func TestMemoryLimiterAllowUnderBurst(t *testing.T) {
	m, _ := newTestLimiter(10, 5)
	ctx := context.Background()
	for i := range 5 {
		ok, err := m.Allow(ctx, "robot:a")
		if err != nil {
			t.Fatalf("Allow returned error on call %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("expected call %d within burst to be allowed", i)
		}
	}
	if ok, _ := m.Allow(ctx, "robot:a"); ok {
		t.Fatal("expected call after burst to be denied")
	}
}

func TestMemoryLimiterRefill(t *testing.T) {
	m, clock := newTestLimiter(2, 1) // one token every 500ms
	ctx := context.Background()

	if ok, _ := m.Allow(ctx, "k"); !ok {
		t.Fatal("first call should be allowed")
	}
	if ok, _ := m.Allow(ctx, "k"); ok {
		t.Fatal("second call should be denied")
	}
	clock.Advance(250 * time.Millisecond)
	if ok, _ := m.Allow(ctx, "k"); ok {
		t.Fatal("half a token is not enough")
	}
	clock.Advance(250 * time.Millisecond)
	if ok, _ := m.Allow(ctx, "k"); !ok {
		t.Fatal("expected refill after 500ms")
	}
}

func TestMemoryLimiterTokensCapAtBurst(t *testing.T) {
	m, clock := newTestLimiter(1000, 3)
	ctx := context.Background()
	_, _ = m.Allow(ctx, "k")

	clock.Advance(time.Hour)
	for i := range 3 {
		if ok, _ := m.Allow(ctx, "k"); !ok {
			t.Fatalf("expected call %d after idle to be allowed", i)
		}
	}
	if ok, _ := m.Allow(ctx, "k"); ok {
		t.Fatal("expected denial once burst is spent, even after long idle")
	}
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m, _ := newTestLimiter(0, 1)
	ctx := context.Background()
	if ok, _ := m.Allow(ctx, "a"); !ok {
		t.Fatal("first call for a should succeed")
	}
	if ok, _ := m.Allow(ctx, "a"); ok {
		t.Fatal("second call for a should be denied")
	}
	if ok, _ := m.Allow(ctx, "b"); !ok {
		t.Fatal("b should be unaffected by a")
	}
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m, _ := newTestLimiter(0, 50)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				ok, err := m.Allow(ctx, "shared")
				if err != nil {
					t.Errorf("Allow error: %v", err)
					return
				}
				if ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Fatalf("expected exactly 50 allowed calls with a frozen clock, got %d", allowed)
	}
}

func TestMemoryLimiterEvict(t *testing.T) {
	m, clock := newTestLimiter(10, 5)
	ctx := context.Background()
	_, _ = m.Allow(ctx, "stale")
	clock.Advance(15 * time.Minute)
	_, _ = m.Allow(ctx, "recent")

	m.evict()

	m.mu.Lock()
	_, staleKept := m.buckets["stale"]
	_, recentKept := m.buckets["recent"]
	m.mu.Unlock()
	if staleKept {
		t.Fatal("expected stale bucket to be evicted")
	}
	if !recentKept {
		t.Fatal("expected recent bucket to survive eviction")
	}
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	if err := m.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}
