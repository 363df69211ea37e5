// Package cache provides the in-process TTL cache and the shared redis client.
package cache

import (
	"sync"
	"time"

	"github.com/smallbiznis/gatekeeper/internal/clock"
)

// Cache is a concurrent key/value store with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache expires entries lazily: a stale entry is dropped when it is read.
// Keys are independent; Delete on one key never blocks readers of another.
type TTLCache[K comparable, V any] struct {
	entries sync.Map
	clock   clock.Clock
}

func NewTTLCache[K comparable, V any]() *TTLCache[K, V] {
	return NewTTLCacheWithClock[K, V](clock.New())
}

func NewTTLCacheWithClock[K comparable, V any](c clock.Clock) *TTLCache[K, V] {
	if c == nil {
		c = clock.New()
	}
	return &TTLCache[K, V]{clock: c}
}

func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	var zero V
	raw, ok := c.entries.Load(key)
	if !ok {
		return zero, false
	}
	e := raw.(*entry[V])
	if !c.clock.Now().Before(e.expiresAt) {
		// Only drop the entry we observed; a concurrent Set may have replaced it.
		c.entries.CompareAndDelete(key, e)
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		c.entries.Delete(key)
		return
	}
	c.entries.Store(key, &entry[V]{value: value, expiresAt: c.clock.Now().Add(ttl)})
}

func (c *TTLCache[K, V]) Delete(key K) {
	c.entries.Delete(key)
}

// Len counts live and not yet evicted entries.
func (c *TTLCache[K, V]) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
