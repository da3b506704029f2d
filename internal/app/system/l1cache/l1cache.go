// Package l1cache is a small in-process cache keyed by string, backed by
// ristretto.
package l1cache

import (
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache holds values of type V with a fixed TTL per entry.
// Every entry costs 1, so maxItems bounds the entry count.
type Cache[V any] struct {
	c   *ristretto.Cache[string, V]
	ttl time.Duration
}

// New creates a cache holding at most maxItems entries that expire after ttl.
// A ttl of zero keeps entries until they are evicted or cleared.
func New[V any](maxItems int64, ttl time.Duration) (*Cache[V], error) {
	if maxItems <= 0 {
		return nil, errors.New("l1cache: maxItems must be positive")
	}
	if ttl < 0 {
		return nil, errors.New("l1cache: ttl must not be negative")
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters:        maxItems * 10, // ~10x expected items
		MaxCost:            maxItems,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{c: c, ttl: ttl}, nil
}

// Get returns the value stored under key.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.c.Get(key)
}

// Set stores v under key. The write is visible to Get once Set returns.
// Ristretto may refuse an admission under contention; a refused entry is
// simply a later miss.
func (c *Cache[V]) Set(key string, v V) {
	if c.c.SetWithTTL(key, v, 1, c.ttl) {
		c.c.Wait()
	}
}

// Clear removes key.
func (c *Cache[V]) Clear(key string) {
	c.c.Del(key)
}

// Close stops the cache's background goroutines.
func (c *Cache[V]) Close() {
	c.c.Close()
}
