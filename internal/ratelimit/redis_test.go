package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:"), mr
}

func TestRedisStore_FixedWindow(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	p := DefaultPolicies()[PolicyAuth]

	for i := 1; i <= 5; i++ {
		d, err := s.Allow(ctx, "auth:10.0.0.1", p)
		if err != nil || !d.Allowed {
			t.Fatalf("attempt %d: %+v %v", i, d, err)
		}
	}
	d, err := s.Allow(ctx, "auth:10.0.0.1", p)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("6th attempt should be denied")
	}
	if d.RetryAfter != 15*time.Minute {
		t.Fatalf("RetryAfter = %s, want 15m", d.RetryAfter)
	}

	mr.FastForward(10 * time.Minute)
	d, _ = s.Allow(ctx, "auth:10.0.0.1", p)
	if d.Allowed || d.RetryAfter != 5*time.Minute {
		t.Fatalf("mid-window decision = %+v", d)
	}

	mr.FastForward(5*time.Minute + time.Second)
	d, _ = s.Allow(ctx, "auth:10.0.0.1", p)
	if !d.Allowed {
		t.Fatal("new window should allow")
	}
}

func TestRedisStore_KeysPrefixedAndIsolated(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	p := Policy{Name: "x", Window: time.Minute, Max: 1}
	_, _ = s.Allow(ctx, "x:a", p)
	d, _ := s.Allow(ctx, "x:b", p)
	if !d.Allowed {
		t.Fatal("separate key should be allowed")
	}
	if !mr.Exists("test:x:a") {
		t.Fatal("expected prefixed key")
	}
}

func TestRedisStore_ErrorWhenDown(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()
	if _, err := s.Allow(context.Background(), "k", Policy{Name: "x", Window: time.Minute, Max: 1}); err == nil {
		t.Fatal("expected error with redis down")
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("Ping should fail with redis down")
	}
}

func TestRedisStore_WithLimiterMiddleware(t *testing.T) {
	s, _ := newTestRedisStore(t)
	l := newTestLimiter(t, WithStore(s), WithPolicies(map[string]Policy{
		"tiny": {Name: "tiny", Window: 2 * time.Second, Max: 1, Message: "slow"},
	}))
	h := l.Middleware("tiny")(okHandler)
	makeRequestWithIP(h, "10.0.0.1")
	rec := makeRequestWithIP(h, "10.0.0.1")
	if rec.Code != 429 || rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("status=%d retry=%q", rec.Code, rec.Header().Get("Retry-After"))
	}
}
