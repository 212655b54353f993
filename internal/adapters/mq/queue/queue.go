// Package queue is the outbound channel for assignment confirmations.
//
// Enqueue never blocks: a confirmation that does not fit is dropped and the
// caller is told so. The local assignment it acknowledges is kept either way.
package queue

import (
	"context"
	"sync"

	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1024
)

// Confirmation is the payload flowing through the queue.
type Confirmation = model.Confirmation

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a confirmation. It returns ErrFull or ErrClosed when the
	// confirmation was not accepted.
	Enqueue(ctx context.Context, c Confirmation) error

	// Dequeue returns a channel that receives confirmations as they become
	// available. The channel is closed when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Confirmation

	// Len returns the current number of queued confirmations.
	Len(ctx context.Context) int

	// Close stops accepting confirmations.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan Confirmation
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan Confirmation, q.capacity)

	metrics.UpdateConfirmQueueCapacity(q.capacity)
	metrics.UpdateConfirmQueueSize(0)
	return q
}

// Enqueue adds a confirmation to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, c Confirmation) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return err
	}

	select {
	case q.items <- c:
		metrics.UpdateConfirmQueueSize(len(q.items))
		return nil
	default:
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue returns a channel that will receive confirmations as they become
// available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Confirmation {
	out := make(chan Confirmation)
	go func() {
		defer close(out)
		for c := range q.items {
			select {
			case out <- c:
				metrics.UpdateConfirmQueueSize(len(q.items))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued confirmations.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.items)
	metrics.UpdateConfirmQueueSize(size)
	return size
}

// Close stops accepting confirmations. Already queued ones are still
// delivered to Dequeue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
