// Package guard provides the coordination primitives the assigner relies on
// to keep interleaved operations consistent: a keyed FIFO mutex, a sequential
// operation queue, a request deduplicator, and an optimistic version tracker.
//
// Guards only add timing coordination. Business errors raised inside a
// guarded operation reach the original caller unchanged.
package guard

import (
	"context"
	"sync"
)

// KeyedMutex provides mutual exclusion per key with strict FIFO fairness
// among waiters. Acquire and release are not exposed; WithLock is the only
// entry point, so an unheld release cannot be expressed.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockState
}

type lockState struct {
	held    bool
	waiters []chan struct{}
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*lockState)}
}

// WithLock runs fn while holding the lock for key. The lock is released even
// if fn panics or returns an error; fn's error is returned unchanged.
// Waiting is abandoned when ctx is cancelled before the lock is granted.
func (m *KeyedMutex) WithLock(ctx context.Context, key string, fn func() error) error {
	if err := m.acquire(ctx, key); err != nil {
		return err
	}
	defer m.release(key)
	return fn()
}

func (m *KeyedMutex) acquire(ctx context.Context, key string) error {
	m.mu.Lock()
	st, ok := m.locks[key]
	if !ok {
		st = &lockState{}
		m.locks[key] = st
	}
	if !st.held {
		st.held = true
		m.mu.Unlock()
		return nil
	}

	// Join the back of the waiter queue. The releaser closes our channel
	// when it is our turn, handing the lock over without a held=false gap.
	ch := make(chan struct{})
	st.waiters = append(st.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, w := range st.waiters {
			if w == ch {
				st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
				m.mu.Unlock()
				return ctx.Err()
			}
		}
		// Not in the queue anymore: the lock was handed to us in the same
		// instant we were cancelled. Pass it on so the queue keeps moving.
		m.mu.Unlock()
		m.release(key)
		return ctx.Err()
	}
}

func (m *KeyedMutex) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.locks[key]
	if !ok {
		return
	}
	if len(st.waiters) > 0 {
		next := st.waiters[0]
		st.waiters = st.waiters[1:]
		close(next) // lock stays held, ownership moves to the next waiter
		return
	}
	delete(m.locks, key)
}
