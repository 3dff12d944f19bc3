// Package dedup provides an in-memory TTL keyed set used to remember which
// reminders have already been dispatched.
//
// Entries expire lazily: a lookup past an entry's TTL treats it as absent and
// deletes it in the same critical section. Sweep purges every expired entry
// and is run periodically by the scheduler to bound memory.
//
// The cache is best-effort. It lives for the process lifetime only, so a
// restart forgets every marker.
package dedup

import (
	"sync"
	"time"
)

type entry struct {
	insertedAt time.Time
	ttl        time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.insertedAt.Add(e.ttl))
}

// Cache is a concurrency-safe set of string keys with per-entry expiry.
// The zero value is not usable; construct with New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Has reports whether key holds a non-expired entry. An expired entry is
// deleted as a side effect.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key, c.now())
}

// Add inserts or refreshes key with the given ttl.
func (c *Cache) Add(key string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{insertedAt: c.now(), ttl: ttl}
}

// CheckAndAdd inserts key if no live entry exists and reports whether it did.
// A false return means the key was already present; the existing entry and
// its expiry are left untouched.
func (c *Cache) CheckAndAdd(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.liveLocked(key, now) {
		return false
	}
	c.entries[key] = entry{insertedAt: now, ttl: ttl}
	return true
}

// Remove deletes key if present.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep deletes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired entries that
// have not been swept or looked up yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry. Called at shutdown.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// liveLocked must be called with c.mu held.
func (c *Cache) liveLocked(key string, now time.Time) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.expired(now) {
		delete(c.entries, key)
		return false
	}
	return true
}
