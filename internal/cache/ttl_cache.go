package cache

import (
	"time"

	"github.com/ammario/tlru"
)

const defaultCapacity = 10000

// entry wraps values so deletes can be recorded as tombstones.
type entry[V any] struct {
	value   V
	deleted bool
}

type ttlCache[K comparable, V any] struct {
	lru *tlru.Cache[K, entry[V]]
}

// NewTTLCache returns an in-process LRU bounded to capacity entries.
func NewTTLCache[K comparable, V any](capacity int) Cache[K, V] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &ttlCache[K, V]{
		lru: tlru.New[K](tlru.ConstantCost[entry[V]], capacity),
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	var zero V
	e, _, ok := c.lru.Get(key)
	if !ok || e.deleted {
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.lru.Set(key, entry[V]{value: value}, ttl)
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.lru.Set(key, entry[V]{deleted: true}, time.Millisecond)
}
