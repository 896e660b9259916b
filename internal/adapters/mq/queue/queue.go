// Package queue buffers outgoing notification envelopes between the request
// path and the dispatch worker. Enqueue never blocks; a full or closed queue
// drops the envelope.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/metrics"
)

const defaultCapacity = 1024

// Envelope is the payload flowing through the queue.
type Envelope = model.Envelope

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds env, reporting false when it was dropped.
	Enqueue(ctx context.Context, env Envelope) bool

	// Dequeue returns a channel of queued envelopes. It is closed once the
	// queue is closed and drained, or when ctx ends.
	Dequeue(ctx context.Context) <-chan Envelope

	// Len returns the number of queued envelopes.
	Len() int

	// Close stops accepting envelopes.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue on a buffered channel.
type InMemoryQueue struct {
	items    chan Envelope
	capacity int
	dropped  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan Envelope, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

// Enqueue adds env without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, env Envelope) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop("closed")
		return false
	}
	if ctx.Err() != nil {
		q.drop("context_cancelled")
		return false
	}

	select {
	case q.items <- env:
		metrics.RecordQueueEnqueue()
		q.observe()
		return true
	default:
		q.drop("queue_full")
		return false
	}
}

func (q *InMemoryQueue) drop(reason string) {
	q.dropped.Add(1)
	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent("queue", reason)
}

func (q *InMemoryQueue) observe() {
	size := len(q.items)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// Dequeue forwards queued envelopes until the queue is drained after Close,
// or ctx ends.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Envelope {
	out := make(chan Envelope)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-q.items:
				if !ok {
					return
				}
				select {
				case out <- env:
					metrics.RecordQueueDequeue()
					q.observe()
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of queued envelopes.
func (q *InMemoryQueue) Len() int {
	return len(q.items)
}

// Dropped returns how many envelopes were refused.
func (q *InMemoryQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Capacity returns the queue bound.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close stops accepting envelopes. Already queued envelopes can still be
// dequeued. Closing twice is a no-op.
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

func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
