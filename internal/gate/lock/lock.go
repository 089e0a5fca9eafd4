// Package lock provides per-key mutual exclusion for the access-event
// recorder. Keys are identity ids.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrContended is returned when the key stays held past the wait budget.
var ErrContended = errors.New("lock: key held by another holder")

// Locker acquires an exclusive hold on key. The returned release func must be
// called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// dropped when no holder or waiter remains.
type KeyedMutex struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex returns a KeyedMutex whose Acquire gives up after wait.
// A wait <= 0 means Acquire waits until ctx is done.
func NewKeyedMutex(wait time.Duration) *KeyedMutex {
	return &KeyedMutex{
		wait:  wait,
		locks: make(map[string]*keyedEntry),
	}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	var timeout <-chan time.Time
	if m.wait > 0 {
		t := time.NewTimer(m.wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case e.sem <- struct{}{}:
	case <-timeout:
		m.unref(key, e)
		return nil, ErrContended
	case <-ctx.Done():
		m.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.unref(key, e)
		})
	}, nil
}

func (m *KeyedMutex) unref(key string, e *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (m *KeyedMutex) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
