// Package keylock serializes work per key with a reference-counted mutex map.
package keylock

import (
	"context"
	"sync"
)

// lockEntry holds a one-slot semaphore and the reference count.
type lockEntry struct {
	mu   chan struct{}
	refs int
}

// Map hands out one lock per key and forgets keys nobody holds or waits on.
type Map struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// New creates an empty lock map.
func New() *Map {
	return &Map{locks: make(map[string]*lockEntry)}
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller must call release(key) once done with the entry.
func (m *Map) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{mu: make(chan struct{}, 1)}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Map) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// WithLock runs fn while holding the lock for key.
// Waiting for the lock is abandoned when ctx is done.
func (m *Map) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := m.acquire(key)
	defer m.release(key)

	select {
	case entry.mu <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-entry.mu }()

	return fn(ctx)
}

// Len reports how many keys currently have holders or waiters.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
