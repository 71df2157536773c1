// Package cache provides a small in-memory TTL cache for query
// responses. Statistics and recommendation evaluations walk the full
// stored history; dashboards poll them every few seconds. Caching the
// responses and invalidating on writes keeps the hot path off SQLite.
package cache

import (
	"sync"
	"time"
)

// Stats reports cache effectiveness.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// Cache is a TTL key-value cache. All operations are safe for
// concurrent use.
type Cache interface {
	// Get retrieves a cached value; found is false after expiry.
	Get(key string) (value interface{}, found bool)

	// Set stores a value. A zero ttl never expires.
	Set(key string, value interface{}, ttl time.Duration)

	// Delete removes one key.
	Delete(key string)

	// Clear removes every entry; used when a write invalidates all
	// derived aggregates.
	Clear()

	// Stats returns hit/miss counts and the live entry count.
	Stats() Stats

	// Close stops the background cleanup.
	Close()
}

type entry struct {
	value     interface{}
	expiresAt time.Time // zero means never
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	hits    uint64
	misses  uint64

	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// New creates an in-memory cache that sweeps expired entries on the
// given interval. Intervals below one second fall back to one minute.
func New(cleanupInterval time.Duration) Cache {
	if cleanupInterval < time.Second {
		cleanupInterval = time.Minute
	}
	c := &memoryCache{
		entries:       make(map[string]entry),
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCh:        make(chan struct{}),
	}
	go c.cleanup()
	return c
}

func (c *memoryCache) Get(key string) (interface{}, bool) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && (e.expiresAt.IsZero() || now.Before(e.expiresAt)) {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return e.value, true
	}

	c.mu.Lock()
	c.misses++
	if ok {
		// Re-check before deleting: a concurrent Set may have replaced
		// the expired entry with a fresh one.
		if cur, still := c.entries[key]; still && !cur.expiresAt.IsZero() && now.After(cur.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	return nil, false
}

func (c *memoryCache) Set(key string, value interface{}, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

func (c *memoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Entries: len(c.entries),
	}
}

func (c *memoryCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.cleanupTicker.Stop()
	})
}

// cleanup sweeps expired entries so idle keys do not pin memory.
func (c *memoryCache) cleanup() {
	for {
		select {
		case <-c.cleanupTicker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}
