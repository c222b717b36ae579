// Package worker drains the event queue into the occupancy view.
//
// A single dispatcher goroutine applies messages strictly in enqueue order;
// window markers and samples depend on arrival order, so the stream is never
// fanned out to parallel workers.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/dwell/internal/adapters/mq/queue"
	"github.com/okian/dwell/internal/domain/model"
	"github.com/okian/dwell/internal/domain/occupancy"
	"github.com/okian/dwell/pkg/logger"
	"github.com/okian/dwell/pkg/metrics"
)

// Ingester applies one event to the window.
type Ingester interface {
	Ingest(ctx context.Context, ev model.Event, offsets model.Offsets) occupancy.Outcome
}

// Queue defines how the dispatcher receives messages.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Message
}

// Worker consumes the queue until it is closed or stopped.
type Worker interface {
	// Run blocks until the queue is drained and closed, ctx is canceled, or
	// Shutdown gives up waiting.
	Run(ctx context.Context)

	// Shutdown waits for Run to return. Close the queue first so Run can
	// drain what is left.
	Shutdown(ctx context.Context) error
}

// Dispatcher is the single-goroutine Worker implementation.
type Dispatcher struct {
	queue    Queue
	ingester Ingester
	name     string

	processed atomic.Int64
	last      atomic.Int64 // unix nanos of the last applied event

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewDispatcher creates a dispatcher reading from q and applying to ing.
func NewDispatcher(q Queue, ing Ingester, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    q,
		ingester: ing,
		name:     "dispatcher",
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Get().Named(d.name)
	}
	return d
}

// Run starts the dispatch loop.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	messages := d.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case m, ok := <-messages:
			if !ok {
				return
			}
			d.dispatch(ctx, m)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, m queue.Message) { //nolint:gocritic // hugeParam: Message is received by value from the channel
	if m.IsBarrier() {
		m.Release()
		return
	}

	start := time.Now()
	outcome := d.ingester.Ingest(ctx, m.Event, m.Offsets)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	if !m.Received.IsZero() {
		metrics.RecordQueueProcessingLatency(float64(time.Since(m.Received).Milliseconds()))
	}

	d.processed.Add(1)
	d.last.Store(time.Now().UnixNano())

	if outcome == occupancy.OutcomeDropped {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("dispatcher", "dropped_event")
	}
	d.logger.Debug(ctx, "event applied",
		logger.String("id", m.Event.ID),
		logger.String("name", m.Event.Name),
		logger.String("outcome", outcome.String()),
	)
}

// Shutdown waits for the loop to finish, forcing it to stop once ctx expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.stopOnce.Do(func() { close(d.stop) })
		d.logger.Warn(ctx, "shutdown timed out", logger.Int64("processed", d.processed.Load()))
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Processed returns the number of events applied so far.
func (d *Dispatcher) Processed() int64 {
	return d.processed.Load()
}

// LastApplied returns when the most recent event was applied, or the zero time.
func (d *Dispatcher) LastApplied() time.Time {
	n := d.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
