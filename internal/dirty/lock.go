// Package dirty provides a reader/writer lock that remembers whether a write
// happened since the last consuming read.
//
// Every write acquisition marks the value dirty, even if the writer changes
// nothing. Only a consuming read clears the flag, and it does so while still
// holding the read lock, so a write can never slip between the capture and the
// clear. The price is an occasional redundant re-render.
package dirty

import (
	"sync"
	"sync/atomic"
)

// Lock guards a value of type T.
type Lock[T any] struct {
	mu    sync.RWMutex
	dirty atomic.Bool
	value T
}

// New wraps v. A new lock starts dirty so the first render always happens.
func New[T any](v T) *Lock[T] {
	l := &Lock[T]{value: v}
	l.dirty.Store(true)
	return l
}

// IsDirty reports whether a write happened since the last consuming read.
func (l *Lock[T]) IsDirty() bool { return l.dirty.Load() }

// MarkDirty forces the next consuming read to observe dirty=true.
func (l *Lock[T]) MarkDirty() { l.dirty.Store(true) }

// Read runs fn under the read lock. The dirty flag is left alone.
func (l *Lock[T]) Read(fn func(v *T)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn(&l.value)
}

// Consume runs fn under the read lock and clears the dirty flag. It reports
// whether the value was dirty before the call.
func (l *Lock[T]) Consume(fn func(v *T)) (wasDirty bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	// Swap before fn: a MarkDirty racing with fn stays visible afterwards.
	wasDirty = l.dirty.Swap(false)
	fn(&l.value)
	return wasDirty
}

// ConsumeIfDirty is like Consume but only runs fn when the value is dirty.
func (l *Lock[T]) ConsumeIfDirty(fn func(v *T)) bool {
	if !l.dirty.Load() {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.dirty.Swap(false) {
		return false
	}
	fn(&l.value)
	return true
}

// Write runs fn under the write lock and marks the value dirty.
func (l *Lock[T]) Write(fn func(v *T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirty.Store(true)
	fn(&l.value)
}

// TryWrite is like Write but gives up instead of blocking. It reports
// whether fn ran.
func (l *Lock[T]) TryWrite(fn func(v *T)) bool {
	if !l.mu.TryLock() {
		return false
	}
	defer l.mu.Unlock()
	l.dirty.Store(true)
	fn(&l.value)
	return true
}
