package lending

import (
	"context"
	"sync"
)

// KeyedMutex provides mutual exclusion scoped to an arbitrary uint64 key.
// Operations on the same key serialize; operations on different keys do
// not block each other. Acquisition honors context cancellation so a
// caller that gives up while waiting leaves no state behind. Entries are
// reference counted and removed from the map once the last waiter is
// gone, so the map does not grow with the number of keys ever seen.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[uint64]*keyLock
}

type keyLock struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[uint64]*keyLock)}
}

// Lock acquires the mutex for key, blocking until it is free or ctx is
// done. On cancellation the waiter is unregistered and ctx.Err() is
// returned; the lock is not held.
func (m *KeyedMutex) Lock(ctx context.Context, key uint64) error {
	m.mu.Lock()
	l := m.locks[key]
	if l == nil {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.unref(key)
		return ctx.Err()
	}
}

// Unlock releases the mutex for key. It must only be called by the
// goroutine that holds the lock.
func (m *KeyedMutex) Unlock(key uint64) {
	m.mu.Lock()
	l := m.locks[key]
	m.mu.Unlock()
	if l == nil {
		panic("lending: unlock of unheld key")
	}
	<-l.ch
	m.unref(key)
}

func (m *KeyedMutex) unref(key uint64) {
	m.mu.Lock()
	if l := m.locks[key]; l != nil {
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
	}
	m.mu.Unlock()
}
