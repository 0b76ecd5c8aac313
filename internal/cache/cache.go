// Package cache holds lowering results keyed by descriptor content so a
// batch with repeated operations lowers each distinct one once.
package cache

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// Cache is a concurrency-safe key/value store.
type Cache[K comparable, V any] interface {
	// Get retrieves a value from the cache.
	Get(key K) (V, bool)
	// Put stores a value in the cache.
	Put(key K, v V)
	// Size returns the number of items in the cache.
	Size() int
}

// MapCache is a simple in-memory implementation of Cache.
type MapCache[K comparable, V any] struct {
	data map[K]V
	mu   sync.RWMutex

	hits, misses uint64
	flight       singleflight.Group
}

func NewMapCache[K comparable, V any]() *MapCache[K, V] {
	return &MapCache[K, V]{
		data: make(map[K]V),
	}
}

func (c *MapCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

func (c *MapCache[K, V]) Put(key K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = v
}

// GetOrCompute returns the cached value for key, or stores and returns
// the result of fn. Concurrent callers with the same key share one call
// of fn; errors are not cached.
func (c *MapCache[K, V]) GetOrCompute(key K, fn func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	var computed bool
	res, err, _ := c.flight.Do(fmt.Sprint(key), func() (any, error) {
		c.mu.RLock()
		v, ok := c.data[key]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return v, err
		}
		computed = true
		c.Put(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), !computed, nil
}

func (c *MapCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Stats returns the hit and miss counts.
func (c *MapCache[K, V]) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Key hashes descriptor bytes into a cache key.
func Key(b []byte) uint64 {
	return xxhash.Sum64(b)
}
