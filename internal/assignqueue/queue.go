// Package assignqueue holds the in-memory working set of conversations
// awaiting assignment. The durable feed is Kafka; this queue is the
// assigner's in-flight view, ordered by priority then arrival.
package assignqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/lawrns/camp-sub015/internal/domain"
)

// Stats is a read-only projection of queue counts for dashboards and the
// Prometheus gauges. Never mutated externally.
type Stats struct {
	Pending      int `json:"pending"`
	Failed       int `json:"failed"`
	HighPriority int `json:"high_priority"`
}

type entry struct {
	item       domain.WorkItem
	seq        uint64 // arrival order within a priority band
	checkedOut bool   // dequeued, awaiting a commit/failure report
}

// Queue is the pending-work collection. All methods are safe for concurrent
// use. The queue owns each item until it reaches a terminal state; expiry is
// swept cooperatively by the coordinator, never by an internal timer.
type Queue struct {
	mu          sync.Mutex
	entries     map[string]*entry
	pending     pendingHeap
	seq         uint64
	maxAttempts int
}

// New creates a Queue. maxAttempts bounds failed assignment tries per item
// before it transitions to failed.
func New(maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{
		entries:     make(map[string]*entry),
		maxAttempts: maxAttempts,
	}
}

// Enqueue inserts a pending work item. Inserting an ID that already exists
// is a no-op returning false (idempotent insert).
func (q *Queue) Enqueue(item domain.WorkItem) (bool, error) {
	if err := item.Validate(); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[item.ID]; exists {
		return false, nil
	}

	item.Status = domain.WorkItemPending
	q.seq++
	e := &entry{item: item, seq: q.seq}
	q.entries[item.ID] = e
	heap.Push(&q.pending, e)
	return true, nil
}

// DequeueNext returns the highest-priority, oldest-arrival pending item and
// checks it out. The item stays pending until the caller reports the result
// via MarkAssigned or ReportFailure. Returns false when nothing is pending.
func (q *Queue) DequeueNext() (domain.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.pending.Len() > 0 {
		e := heap.Pop(&q.pending).(*entry)
		// Lazy deletion: swept or finalized entries linger in the heap.
		if e.item.Status != domain.WorkItemPending || e.checkedOut {
			continue
		}
		e.checkedOut = true
		return e.item, true
	}
	return domain.WorkItem{}, false
}

// MarkAssigned finalizes an item after a committed assignment. Ownership of
// the conversation moves to the Assignment record; the queue's state is
// terminal.
func (q *Queue) MarkAssigned(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return &domain.WorkItemNotFoundError{WorkItemID: id}
	}
	if e.item.Status.IsTerminal() {
		return &domain.AlreadyAssignedError{WorkItemID: id, Status: e.item.Status}
	}
	e.item.Status = domain.WorkItemAssigned
	e.item.UpdatedAt = time.Now().UTC()
	e.checkedOut = false
	return nil
}

// ReportFailure records a failed assignment try. The item re-enters the
// pending order unless it has exhausted its attempts, in which case it
// transitions to failed. Returns the item's resulting status.
func (q *Queue) ReportFailure(id string) (domain.WorkItemStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return "", &domain.WorkItemNotFoundError{WorkItemID: id}
	}
	if e.item.Status.IsTerminal() {
		return e.item.Status, nil
	}

	e.item.Attempts++
	e.item.UpdatedAt = time.Now().UTC()
	e.checkedOut = false

	if e.item.Attempts >= q.maxAttempts {
		e.item.Status = domain.WorkItemFailed
		return domain.WorkItemFailed, nil
	}

	// Back into the pending order, keeping the original arrival seq so the
	// retry does not jump ahead of older same-priority items.
	heap.Push(&q.pending, e)
	return domain.WorkItemPending, nil
}

// MarkExpired transitions the item to expired, including an item currently
// checked out whose deadline passed before commit. Terminal items are left
// alone and reported as-is.
func (q *Queue) MarkExpired(id string) (domain.WorkItemStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return "", &domain.WorkItemNotFoundError{WorkItemID: id}
	}
	if e.item.Status.IsTerminal() {
		return e.item.Status, nil
	}
	e.item.Status = domain.WorkItemExpired
	e.item.UpdatedAt = time.Now().UTC()
	e.checkedOut = false
	return domain.WorkItemExpired, nil
}

// Requeue returns a checked-out item to the pending order without counting
// an attempt. Used when the try was aborted for infrastructure reasons
// (rate limit, directory outage) rather than an assignment failure.
func (q *Queue) Requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return &domain.WorkItemNotFoundError{WorkItemID: id}
	}
	if e.item.Status != domain.WorkItemPending || !e.checkedOut {
		return nil
	}
	e.checkedOut = false
	heap.Push(&q.pending, e)
	return nil
}

// SweepExpired transitions every pending item whose deadline has passed to
// expired and returns them. Checked-out items are skipped: an in-flight
// commit finishes on its own terms (expiry is cooperative, not preemptive).
func (q *Queue) SweepExpired(now time.Time) []domain.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []domain.WorkItem
	for _, e := range q.entries {
		if e.item.Status != domain.WorkItemPending || e.checkedOut {
			continue
		}
		if e.item.ExpiredBy(now) {
			e.item.Status = domain.WorkItemExpired
			e.item.UpdatedAt = now
			expired = append(expired, e.item)
		}
	}
	return expired
}

// Get returns a copy of the item with the given ID.
func (q *Queue) Get(id string) (domain.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return domain.WorkItem{}, false
	}
	return e.item, true
}

// Remove drops a conversation from the queue's memory, e.g. once it closes.
// A pending item is removed too — a closed conversation must never be
// assigned. An in-flight commit for the removed item may still finish; the
// commit path tolerates the entry being gone.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return false
	}
	e.checkedOut = true // the heap's copy is skipped on dequeue
	delete(q.entries, id)
	return true
}

// Stats returns the count snapshot.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, e := range q.entries {
		switch e.item.Status {
		case domain.WorkItemPending:
			s.Pending++
			if e.item.Priority >= domain.PriorityHigh {
				s.HighPriority++
			}
		case domain.WorkItemFailed:
			s.Failed++
		}
	}
	return s
}

// pendingHeap orders entries by priority (descending) then arrival seq
// (ascending), giving stable FIFO within each priority band.
type pendingHeap []*entry

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
