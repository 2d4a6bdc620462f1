package ratelimit

import (
	"context"
	"sync"
	"time"
)

// visitor is one key's current window and last activity.
type visitor struct {
	start    time.Time
	count    int
	lastSeen time.Time
	// logged is set on the first denial and resets when the entry is evicted
	logged bool
}

// MemoryStore counts requests per key in fixed windows: the first request
// opens a window of policy.Window and at most policy.Max requests are allowed
// until it closes. Not shared between processes.
type MemoryStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	// ttl is how long an idle key stays before cleanup evicts it. It should
	// be at least the longest policy window, by then its window has closed.
	ttl         time.Duration
	maxVisitors int
	saturated   bool
	now         func() time.Time

	// OnFirstDenied is called once per visitor lifetime, used for logging.
	OnFirstDenied func(key string)
	// OnCapacity is called once each time the visitor map fills up.
	OnCapacity func(size int)
}

type MemoryOption func(*MemoryStore)

// WithTTL controls how long an idle key stays in the map.
func WithTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = d }
}

// WithMaxVisitors caps tracked keys. At capacity, requests from new keys are
// denied until cleanup frees space. 0 means unlimited.
func WithMaxVisitors(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxVisitors = n }
}

func WithOnFirstDenied(fn func(key string)) MemoryOption {
	return func(s *MemoryStore) { s.OnFirstDenied = fn }
}

func WithOnCapacity(fn func(size int)) MemoryOption {
	return func(s *MemoryStore) { s.OnCapacity = fn }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore starts the cleanup goroutine, which exits when ctx is done.
func NewMemoryStore(ctx context.Context, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		visitors: make(map[string]*visitor),
		ttl:      15 * time.Minute,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	go s.cleanup(ctx)
	return s
}

func (s *MemoryStore) Allow(_ context.Context, key string, p Policy) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	v, ok := s.visitors[key]
	if !ok {
		if s.maxVisitors > 0 && len(s.visitors) >= s.maxVisitors {
			fire := !s.saturated
			s.saturated = true
			size := len(s.visitors)
			s.mu.Unlock()
			if fire && s.OnCapacity != nil {
				s.OnCapacity(size)
			}
			return Decision{Allowed: false, RetryAfter: p.Window}, nil
		}
		v = &visitor{start: now}
		s.visitors[key] = v
	}
	v.lastSeen = now
	if !now.Before(v.start.Add(p.Window)) {
		v.start = now
		v.count = 0
	}
	v.count++
	allowed := v.count <= p.Max
	if !allowed {
		// hold the count at the ceiling so a flood cannot overflow it
		v.count = p.Max + 1
	}
	retry := v.start.Add(p.Window).Sub(now)
	first := !allowed && !v.logged
	if first {
		v.logged = true
	}
	// hooks run without the lock held
	s.mu.Unlock()

	if allowed {
		return Decision{Allowed: true}, nil
	}
	if first && s.OnFirstDenied != nil {
		s.OnFirstDenied(key)
	}
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// Len reports the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// cleanup runs every ttl/2 so entries outlive their ttl by at most half.
func (s *MemoryStore) cleanup(ctx context.Context) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evict(s.now())
		}
	}
}

func (s *MemoryStore) evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.ttl {
			delete(s.visitors, k)
		}
	}
	if s.maxVisitors == 0 || len(s.visitors) < s.maxVisitors {
		s.saturated = false
	}
}
