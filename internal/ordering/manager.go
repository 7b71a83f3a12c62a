// Package ordering reorders out-of-order realtime events per channel.
// Events buffer until the coordinator's tick flushes them, and are delivered
// to the handler in timestamp order exactly once per event ID, regardless of
// how often the at-least-once source re-submits them.
package ordering

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lawrns/camp-sub015/internal/domain"
)

// Handler receives events in timestamp order. A handler error keeps the
// event buffered for the next flush; it is never swallowed.
type Handler func(ctx context.Context, ev domain.Event) error

// Manager buffers events per channel. Channels are independent: there is no
// cross-channel ordering guarantee.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*channelBuffer

	maxAge       time.Duration // events older than this are evicted on ingest
	maxBuffer    int           // per-channel buffer cap, oldest evicted first
	holdback     time.Duration // how long events wait for stragglers
	deliveredCap int           // per-channel delivered-ID memory
}

type channelBuffer struct {
	buffered     []domain.Event // kept sorted by timestamp
	delivered    map[string]struct{}
	deliveredLog []string // FIFO eviction order for the delivered set
}

// Option configures a Manager.
type Option func(*Manager)

func WithMaxAge(d time.Duration) Option    { return func(m *Manager) { m.maxAge = d } }
func WithMaxBuffer(n int) Option           { return func(m *Manager) { m.maxBuffer = n } }
func WithHoldback(d time.Duration) Option  { return func(m *Manager) { m.holdback = d } }
func WithDeliveredCap(n int) Option        { return func(m *Manager) { m.deliveredCap = n } }

// NewManager constructs a Manager. Defaults: 5m max age, 500-event buffer,
// 2s holdback, 10000 remembered delivered IDs per channel.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		channels:     make(map[string]*channelBuffer),
		maxAge:       5 * time.Minute,
		maxBuffer:    500,
		holdback:     2 * time.Second,
		deliveredCap: 10000,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProcessEvent buffers ev on its channel. Already-delivered IDs are dropped
// immediately. now is the ingest clock used for age eviction.
func (m *Manager) ProcessEvent(now time.Time, ev domain.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cb := m.channel(ev.Channel)
	if _, done := cb.delivered[ev.ID]; done {
		return nil
	}
	for _, b := range cb.buffered {
		if b.ID == ev.ID {
			return nil // already buffered
		}
	}
	if m.maxAge > 0 && now.Sub(ev.Timestamp) > m.maxAge {
		return nil // too stale to be worth delivering
	}

	idx := sort.Search(len(cb.buffered), func(i int) bool {
		return cb.buffered[i].Timestamp.After(ev.Timestamp)
	})
	cb.buffered = append(cb.buffered, domain.Event{})
	copy(cb.buffered[idx+1:], cb.buffered[idx:])
	cb.buffered[idx] = ev

	// Size cap: oldest first.
	if over := len(cb.buffered) - m.maxBuffer; over > 0 {
		cb.buffered = append([]domain.Event(nil), cb.buffered[over:]...)
	}
	return nil
}

// FlushDue delivers, in timestamp order, every buffered event that has aged
// past the holdback window on the given channel. Delivery stops at the first
// handler error; the failing event and everything after it stay buffered.
func (m *Manager) FlushDue(ctx context.Context, now time.Time, channel string, h Handler) error {
	return m.flush(ctx, channel, h, func(ev domain.Event) bool {
		return now.Sub(ev.Timestamp) >= m.holdback
	})
}

// Flush delivers every buffered event on the channel regardless of holdback.
func (m *Manager) Flush(ctx context.Context, channel string, h Handler) error {
	return m.flush(ctx, channel, h, func(domain.Event) bool { return true })
}

func (m *Manager) flush(ctx context.Context, channel string, h Handler, due func(domain.Event) bool) error {
	for {
		m.mu.Lock()
		cb := m.channel(channel)
		if len(cb.buffered) == 0 || !due(cb.buffered[0]) {
			m.mu.Unlock()
			return nil
		}
		ev := cb.buffered[0]
		m.mu.Unlock()

		// The handler runs outside the lock; ingest continues concurrently.
		if err := h(ctx, ev); err != nil {
			return err
		}

		m.mu.Lock()
		cb.removeBuffered(ev.ID)
		cb.markDelivered(ev.ID, m.deliveredCap)
		m.mu.Unlock()
	}
}

// Buffered reports how many events wait on the channel.
func (m *Manager) Buffered(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channel(channel).buffered)
}

func (m *Manager) channel(name string) *channelBuffer {
	cb, ok := m.channels[name]
	if !ok {
		cb = &channelBuffer{delivered: make(map[string]struct{})}
		m.channels[name] = cb
	}
	return cb
}

// removeBuffered drops the event with the given ID wherever it sits. A
// concurrent ingest can re-sort the buffer while the event is mid-delivery,
// so the in-flight event is not necessarily still at the head.
func (cb *channelBuffer) removeBuffered(id string) {
	for i := range cb.buffered {
		if cb.buffered[i].ID == id {
			cb.buffered = append(cb.buffered[:i], cb.buffered[i+1:]...)
			return
		}
	}
}

func (cb *channelBuffer) markDelivered(id string, limit int) {
	if _, ok := cb.delivered[id]; ok {
		return
	}
	cb.delivered[id] = struct{}{}
	cb.deliveredLog = append(cb.deliveredLog, id)
	for len(cb.deliveredLog) > limit {
		old := cb.deliveredLog[0]
		cb.deliveredLog = cb.deliveredLog[1:]
		delete(cb.delivered, old)
	}
}
