package fetch

import (
	"sync"
	"time"
)

const DefaultCacheDuration = 5 * time.Minute

type cacheEntry struct {
	value any
	at    time.Time
}

// Cache holds fetched payloads by key. An entry whose age has reached the
// cache duration is stale: reads treat it as absent and evict it.
type Cache struct {
	mu       sync.Mutex
	duration time.Duration
	clock    Clock
	entries  map[string]cacheEntry
}

// NewCache returns an empty cache. A non-positive duration uses
// DefaultCacheDuration and a nil clock uses SystemClock.
func NewCache(duration time.Duration, clock Clock) *Cache {
	if duration <= 0 {
		duration = DefaultCacheDuration
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Cache{
		duration: duration,
		clock:    clock,
		entries:  make(map[string]cacheEntry),
	}
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.stale(e, c.clock.Now()) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, v any) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: v, at: c.clock.Now()}
	c.mu.Unlock()
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Len counts fresh entries, evicting stale ones on the way.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for k, e := range c.entries {
		if c.stale(e, now) {
			delete(c.entries, k)
		}
	}
	return len(c.entries)
}

func (c *Cache) stale(e cacheEntry, now time.Time) bool {
	return now.Sub(e.at) >= c.duration
}
