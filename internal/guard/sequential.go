package guard

import (
	"context"
	"log/slog"
	"sync"
)

// SequentialQueue serializes asynchronous operations: each submitted
// operation runs to completion (success or failure) before the next starts.
// Failures are logged and never halt the queue.
type SequentialQueue struct {
	mu     sync.Mutex
	tail   chan struct{} // closed when the most recently submitted op settles
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewSequentialQueue creates a queue that logs operation failures to logger.
func NewSequentialQueue(logger *slog.Logger) *SequentialQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &SequentialQueue{logger: logger}
}

// Submit schedules op to run after every previously submitted operation has
// settled. It returns immediately; op runs on its own goroutine. The name is
// only used for failure logging.
func (q *SequentialQueue) Submit(ctx context.Context, name string, op func(context.Context) error) {
	q.mu.Lock()
	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		if err := op(ctx); err != nil {
			q.logger.Error("sequential operation failed",
				slog.String("op", name),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every submitted operation has settled.
func (q *SequentialQueue) Wait() { q.wg.Wait() }
