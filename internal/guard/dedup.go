package guard

import (
	"context"
	"sync"
)

// Deduplicator collapses concurrent calls that share a key into a single
// execution. All callers receive the one result. The key is forgotten once
// the call settles, so later calls execute fresh.
type Deduplicator[V any] struct {
	mu       sync.Mutex
	inflight map[string]*inflightCall[V]
}

type inflightCall[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// NewDeduplicator creates an empty Deduplicator.
func NewDeduplicator[V any]() *Deduplicator[V] {
	return &Deduplicator[V]{inflight: make(map[string]*inflightCall[V])}
}

// Do executes fn for key, unless a call for the same key is already in
// flight, in which case it waits for and shares that call's result.
//
// A caller whose ctx is cancelled stops waiting and gets ctx.Err(), but the
// underlying operation runs to completion for the remaining callers.
func (d *Deduplicator[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, error) {
	d.mu.Lock()
	if c, ok := d.inflight[key]; ok {
		d.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	c := &inflightCall[V]{done: make(chan struct{})}
	d.inflight[key] = c
	d.mu.Unlock()

	c.val, c.err = fn(ctx)

	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
	close(c.done)

	return c.val, c.err
}

// InFlight reports how many keys currently have an executing call.
func (d *Deduplicator[V]) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
