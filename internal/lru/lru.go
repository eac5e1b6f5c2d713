// Package lru implements a fixed-capacity, replace-on-duplicate-key cache that
// evicts the least-recently-used entry on overflow.
//
// A Cache is not safe for concurrent use. Callers hold it behind a lock (see
// package dirty).
package lru

import (
	"container/list"
	"errors"
	"iter"
)

// ErrZeroCapacity is returned when a cache is created or resized with
// capacity 0.
var ErrZeroCapacity = errors.New("lru: capacity must be at least 1")

// Entry is a key/value pair held by the cache.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Cache is an LRU store. The list front is the least recently used entry,
// the back the most recently used one.
type Cache[K comparable, V any] struct {
	capacity int
	order    *list.List
	items    map[K]*list.Element
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, ErrZeroCapacity
	}
	return &Cache[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
	}, nil
}

// Put inserts or replaces the value for key and marks key as most recently
// used. When a new key overflows the cache, the least recently used entry is
// evicted and returned with ok set.
func (c *Cache[K, V]) Put(key K, value V) (evicted Entry[K, V], ok bool) {
	if el, found := c.items[key]; found {
		el.Value.(*Entry[K, V]).Value = value
		c.order.MoveToBack(el)
		return evicted, false
	}
	if c.order.Len() >= c.capacity {
		evicted, ok = c.removeOldest()
	}
	c.items[key] = c.order.PushBack(&Entry[K, V]{Key: key, Value: value})
	return evicted, ok
}

// Peek returns the value for key without touching its recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	if el, ok := c.items[key]; ok {
		return el.Value.(*Entry[K, V]).Value, true
	}
	var zero V
	return zero, false
}

// Contains reports whether key is present.
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Remove deletes key and returns its value. ok is false if key was absent.
func (c *Cache[K, V]) Remove(key K) (value V, ok bool) {
	el, found := c.items[key]
	if !found {
		return value, false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return el.Value.(*Entry[K, V]).Value, true
}

// Resize changes the capacity. Shrinking evicts least recently used entries
// until the new bound holds and returns them, oldest first. Capacity 0 is
// rejected and leaves the cache untouched.
func (c *Cache[K, V]) Resize(capacity int) ([]Entry[K, V], error) {
	if capacity <= 0 {
		return nil, ErrZeroCapacity
	}
	c.capacity = capacity
	var evicted []Entry[K, V]
	for c.order.Len() > capacity {
		e, _ := c.removeOldest()
		evicted = append(evicted, e)
	}
	return evicted, nil
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int { return c.order.Len() }

// Cap returns the capacity.
func (c *Cache[K, V]) Cap() int { return c.capacity }

// All yields entries from least to most recently used. Mutating the cache
// while ranging over it is not supported.
func (c *Cache[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for el := c.order.Front(); el != nil; el = el.Next() {
			e := el.Value.(*Entry[K, V])
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

// Backward yields entries from most to least recently used.
func (c *Cache[K, V]) Backward() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for el := c.order.Back(); el != nil; el = el.Prev() {
			e := el.Value.(*Entry[K, V])
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

// Keys returns the keys from least to most recently used.
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, c.order.Len())
	for k := range c.All() {
		keys = append(keys, k)
	}
	return keys
}

func (c *Cache[K, V]) removeOldest() (Entry[K, V], bool) {
	el := c.order.Front()
	if el == nil {
		return Entry[K, V]{}, false
	}
	c.order.Remove(el)
	e := el.Value.(*Entry[K, V])
	delete(c.items, e.Key)
	return *e, true
}
