// Package cache remembers recently seen keys for a limited time. The
// server uses it to drop redelivered webhook events.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultTTL is how long a key is remembered by default.
const DefaultTTL = 10 * time.Minute

// Cache is a TTL set of keys.
type Cache struct {
	store *gocache.Cache
	ttl   time.Duration
}

// New creates a cache remembering keys for ttl. cleanupInterval is how often
// expired keys are removed from memory.
func New(ttl, cleanupInterval time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store: gocache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

// MarkSeen records key and reports whether it was new. Concurrent callers
// marking the same key see exactly one true.
func (c *Cache) MarkSeen(key string) bool {
	return c.store.Add(key, time.Now(), gocache.DefaultExpiration) == nil
}

// SeenAt returns when key was first marked.
func (c *Cache) SeenAt(key string) (time.Time, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Forget removes key so a later delivery is processed again.
func (c *Cache) Forget(key string) {
	c.store.Delete(key)
}

// Clear removes all keys.
func (c *Cache) Clear() {
	c.store.Flush()
}

// ItemCount returns the number of remembered keys.
func (c *Cache) ItemCount() int {
	return c.store.ItemCount()
}

// TTL returns how long keys are remembered.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}
