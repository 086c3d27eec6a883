package jobs

import (
	"context"
	"sync"
)

// keyMutex serializes work per key. Waiters block with a context so a
// canceled job stops queueing, and entries are dropped as soon as no
// holder or waiter references them.
type keyMutex struct {
	mu    sync.Mutex
	locks map[Key]*keyLock
}

type keyLock struct {
	ch   chan struct{} // capacity 1; full means held
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[Key]*keyLock)}
}

// Lock acquires the key, blocking until it is free or ctx ends.
func (m *keyMutex) Lock(ctx context.Context, key Key) error {
	l := m.retain(key)
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.release(key)
		return ctx.Err()
	}
}

// TryLock acquires the key only if it is free.
func (m *keyMutex) TryLock(key Key) bool {
	l := m.retain(key)
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		m.release(key)
		return false
	}
}

// Unlock releases a held key.
func (m *keyMutex) Unlock(key Key) {
	m.mu.Lock()
	l := m.locks[key]
	m.mu.Unlock()
	if l == nil {
		panic("jobs: unlock of unheld key " + key.String())
	}
	<-l.ch
	m.release(key)
}

// retain returns the lock for key, creating it if needed, and counts
// the caller as a reference until release.
func (m *keyMutex) retain(key Key) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.locks[key]
	if l == nil {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	return l
}

func (m *keyMutex) release(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.locks[key]
	if l == nil {
		return
	}
	l.refs--
	if l.refs <= 0 {
		delete(m.locks, key)
	}
}

// held reports how many keys currently have a holder or waiters.
func (m *keyMutex) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
