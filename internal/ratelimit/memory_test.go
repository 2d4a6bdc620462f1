package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeNow is a manually advanced clock.
type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...MemoryOption) (*MemoryStore, *fakeNow) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clk := &fakeNow{t: time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)}
	all := append([]MemoryOption{WithClock(clk.Now), WithTTL(time.Hour)}, opts...)
	return NewMemoryStore(ctx, all...), clk
}

var authPolicy = DefaultPolicies()[PolicyAuth]

func allow(t *testing.T, s *MemoryStore, key string, p Policy) Decision {
	t.Helper()
	d, err := s.Allow(context.Background(), key, p)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	return d
}

func TestMemoryStore_SixthAuthAttemptDenied(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 1; i <= 5; i++ {
		if !allow(t, s, "auth:10.0.0.1", authPolicy).Allowed {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}
	d := allow(t, s, "auth:10.0.0.1", authPolicy)
	if d.Allowed {
		t.Fatal("6th attempt should be denied")
	}
	if d.RetryAfter != 15*time.Minute {
		t.Fatalf("RetryAfter = %s, want 15m", d.RetryAfter)
	}
}

func TestMemoryStore_KeysIsolated(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < 5; i++ {
		allow(t, s, "auth:10.0.0.1", authPolicy)
	}
	if allow(t, s, "auth:10.0.0.1", authPolicy).Allowed {
		t.Fatal("ip1 should be exhausted")
	}
	if !allow(t, s, "auth:10.0.0.2", authPolicy).Allowed {
		t.Fatal("ip2 has its own window")
	}
	if !allow(t, s, "api:10.0.0.1", DefaultPolicies()[PolicyAPI]).Allowed {
		t.Fatal("api policy has its own window")
	}
}

func TestMemoryStore_CapHoldsForWholeWindow(t *testing.T) {
	s, clk := newTestStore(t)
	allowed := 0
	// one request a minute across the 15 minute auth window
	for i := 0; i < 15; i++ {
		if allow(t, s, "auth:10.0.0.1", authPolicy).Allowed {
			allowed++
		}
		clk.Advance(time.Minute)
	}
	if allowed != authPolicy.Max {
		t.Fatalf("allowed %d requests in one window, want %d", allowed, authPolicy.Max)
	}
	// the window opened 15 minutes ago and has now closed
	if !allow(t, s, "auth:10.0.0.1", authPolicy).Allowed {
		t.Fatal("new window should allow again")
	}
}

func TestMemoryStore_RetryAfterIsTimeLeftInWindow(t *testing.T) {
	s, clk := newTestStore(t)
	p := Policy{Name: "trading", Window: time.Minute, Max: 2}
	allow(t, s, "k", p)
	clk.Advance(20 * time.Second)
	allow(t, s, "k", p)
	clk.Advance(10 * time.Second)

	d := allow(t, s, "k", p)
	if d.Allowed {
		t.Fatal("third request in the window should be denied")
	}
	if d.RetryAfter != 30*time.Second {
		t.Fatalf("RetryAfter = %s, want 30s", d.RetryAfter)
	}

	clk.Advance(30 * time.Second)
	if !allow(t, s, "k", p).Allowed {
		t.Fatal("request at the window boundary should open a new window")
	}
}

func TestMemoryStore_OnFirstDeniedOncePerVisitor(t *testing.T) {
	var calls atomic.Int32
	s, clk := newTestStore(t, WithOnFirstDenied(func(string) { calls.Add(1) }))
	p := Policy{Name: "x", Window: time.Minute, Max: 1}

	for i := 0; i < 5; i++ {
		allow(t, s, "k", p)
	}
	if calls.Load() != 1 {
		t.Fatalf("OnFirstDenied called %d times", calls.Load())
	}

	// evicted and re-created: logs again
	clk.Advance(2 * time.Hour)
	s.evict(clk.Now())
	allow(t, s, "k", p)
	allow(t, s, "k", p)
	if calls.Load() != 2 {
		t.Fatalf("after eviction OnFirstDenied called %d times", calls.Load())
	}
}

func TestMemoryStore_EvictsIdleOnly(t *testing.T) {
	s, clk := newTestStore(t)
	p := Policy{Name: "x", Window: time.Minute, Max: 10}
	allow(t, s, "idle", p)
	clk.Advance(50 * time.Minute)
	allow(t, s, "active", p)
	clk.Advance(20 * time.Minute)
	s.evict(clk.Now())

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if _, ok := s.visitors["active"]; !ok {
		t.Fatal("active visitor evicted")
	}
}

func TestMemoryStore_Capacity(t *testing.T) {
	var fired atomic.Int32
	s, clk := newTestStore(t, WithMaxVisitors(2), WithOnCapacity(func(int) { fired.Add(1) }))
	p := Policy{Name: "x", Window: time.Minute, Max: 10}

	allow(t, s, "a", p)
	allow(t, s, "b", p)
	if allow(t, s, "c", p).Allowed {
		t.Fatal("new key at capacity should be denied")
	}
	allow(t, s, "d", p)
	if fired.Load() != 1 {
		t.Fatalf("OnCapacity fired %d times, want once per saturation", fired.Load())
	}
	if !allow(t, s, "a", p).Allowed {
		t.Fatal("existing key still served at capacity")
	}

	clk.Advance(2 * time.Hour)
	s.evict(clk.Now())
	if !allow(t, s, "c", p).Allowed {
		t.Fatal("space freed by eviction")
	}
	allow(t, s, "e", p)
	allow(t, s, "f", p)
	if fired.Load() != 2 {
		t.Fatalf("OnCapacity should re-arm after eviction, fired %d", fired.Load())
	}
}

func TestMemoryStore_ConcurrentAllow(t *testing.T) {
	s, _ := newTestStore(t)
	p := Policy{Name: "x", Window: time.Hour, Max: 50}
	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := s.Allow(context.Background(), "shared", p)
			if d.Allowed {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 50 {
		t.Fatalf("allowed %d concurrent requests, want exactly 50", ok.Load())
	}
}

func TestMemoryStore_CleanupStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore(ctx, WithTTL(10*time.Millisecond))
	_, _ = s.Allow(ctx, "k", Policy{Name: "x", Window: time.Second, Max: 1})
	cancel()
	// no assertion beyond not hanging or racing; -race covers the goroutine
	time.Sleep(20 * time.Millisecond)
}
