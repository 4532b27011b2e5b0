package utils

import (
	"sync"
	"time"
)

// ValueCache is a simple in-memory TTL cache for the last posted value of a tag.
// It is thread-safe and designed for small hot-path usage (post-on-change dedup).
type ValueCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]entry
}

type entry struct {
	v  string
	at time.Time
}

// NewValueCache creates a new cache with the given TTL. If ttl <= 0, it defaults to 1h.
func NewValueCache(ttl time.Duration) *ValueCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ValueCache{ttl: ttl, now: time.Now, data: make(map[string]entry, 1024)}
}

func (c *ValueCache) get(key string) (string, bool) {
	e, ok := c.data[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.at) > c.ttl {
		delete(c.data, key)
		return "", false
	}
	return e.v, true
}

// SetValue stores the value with the current timestamp.
func (c *ValueCache) SetValue(key string, v string) {
	c.mu.Lock()
	c.data[key] = entry{v: v, at: c.now()}
	c.mu.Unlock()
}

// Changed reports whether v differs from the cached value for key, or the
// cached value expired. It does not store v; call SetValue once v is posted.
func (c *ValueCache) Changed(key string, v string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.get(key)
	return !ok || old != v
}
