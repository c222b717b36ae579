// Package queue buffers accepted events between the ingestion edges and the
// dispatcher that applies them to the occupancy view.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/dwell/internal/domain/model"
	"github.com/okian/dwell/pkg/metrics"
)

const (
	defaultQueueCapacity = 10000
	defaultBufferSize    = 10000
)

// Message is one unit of work: an event plus the offsets to correct it with.
// A message created by Barrier carries no event and only marks a position in
// the stream.
type Message struct {
	Event    model.Event
	Offsets  model.Offsets
	Received time.Time

	barrier chan struct{}
}

// Barrier returns a marker message and a channel closed once the consumer
// releases it.
func Barrier() (Message, <-chan struct{}) {
	ch := make(chan struct{})
	return Message{barrier: ch, Received: time.Now()}, ch
}

// IsBarrier reports whether m was created by Barrier.
func (m Message) IsBarrier() bool { return m.barrier != nil }

// Release signals that every message enqueued before m has been consumed.
// It must be called exactly once per barrier.
func (m Message) Release() {
	if m.barrier != nil {
		close(m.barrier)
	}
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a message; it returns false if the queue is full or closed.
	Enqueue(ctx context.Context, m Message) bool

	// Dequeue returns a channel that receives messages in enqueue order and is
	// closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Message

	// Flush blocks until every message enqueued before the call has been
	// consumed and released, or ctx is done.
	Flush(ctx context.Context) error

	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	messages   chan Message
	capacity   int
	bufferSize int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.bufferSize < q.capacity {
		q.bufferSize = q.capacity
	}
	q.messages = make(chan Message, q.bufferSize)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue adds a message to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, m Message) bool { //nolint:gocritic // hugeParam: Message is passed by value through the channel
	start := time.Now()
	defer func() {
		metrics.RecordQueueProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.reject("closed")
		return false
	}
	if len(q.messages) >= q.capacity {
		q.reject("capacity_exceeded")
		return false
	}
	if m.Received.IsZero() {
		m.Received = time.Now()
	}

	select {
	case q.messages <- m:
		metrics.RecordQueueEnqueue()
		q.observe()
		return true
	case <-ctx.Done():
		q.reject("context_cancelled")
		return false
	default:
		q.reject("queue_full")
		return false
	}
}

func (q *InMemoryQueue) reject(reason string) {
	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent("queue", reason)
}

func (q *InMemoryQueue) observe() {
	size := len(q.messages)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// Flush enqueues a barrier, waiting for buffer space if needed, and returns
// once the consumer has released it.
func (q *InMemoryQueue) Flush(ctx context.Context) error {
	m, released := Barrier()

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrClosed
	}
	select {
	case q.messages <- m:
		q.mu.RUnlock()
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns a channel that receives messages as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for m := range q.messages {
			select {
			case out <- m:
				metrics.RecordQueueDequeue()
				q.observe()
			case <-ctx.Done():
				m.Release()
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued messages.
func (q *InMemoryQueue) Len(_ context.Context) int {
	q.observe()
	return len(q.messages)
}

// Close stops accepting messages; already queued messages stay readable.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.messages)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
