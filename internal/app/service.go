// Package service wires the occupancy view behind the queue, dispatcher and
// deduper, and implements the dependencies required by the HTTP API and the
// Kafka source.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/dwell/internal/adapters/mq/queue"
	"github.com/okian/dwell/internal/adapters/mq/worker"
	"github.com/okian/dwell/internal/domain/dedupe"
	"github.com/okian/dwell/internal/domain/model"
	"github.com/okian/dwell/internal/domain/occupancy"
	"github.com/okian/dwell/pkg/logger"
	"github.com/okian/dwell/pkg/metrics"
)

const (
	defaultQueueSize      = 10000
	defaultDedupeSize     = 50000
	dispatcherStopTimeout = 10 * time.Second
	defaultTargetState    = "engaged"
)

// Service owns the single occupancy view of the process.
type Service struct {
	mu sync.RWMutex

	view       *occupancy.View
	deduper    dedupe.Deduper
	eventQueue *eventqueue.InMemoryQueue
	dispatcher *worker.Dispatcher
	cancel     context.CancelFunc

	queueSize     int
	dedupeSize    int
	stateKey      string
	offsets       model.Offsets
	defaultStates []string

	started   bool
	startedAt time.Time

	logger logger.Logger
}

// New constructs a Service. The view exists immediately; events are accepted
// once Start has been called.
func New(opts ...Option) *Service {
	s := &Service{
		queueSize:     defaultQueueSize,
		dedupeSize:    defaultDedupeSize,
		stateKey:      model.DefaultStateKey,
		offsets:       model.Offsets{},
		defaultStates: []string{defaultTargetState},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.view = occupancy.NewView(
		occupancy.WithLogger(s.logger.Named("view")),
		occupancy.WithStateKey(s.stateKey),
	)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	return s
}

// Start creates the queue and runs the dispatcher. The dispatcher outlives
// ctx cancellation so Stop can drain it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting occupancy service...")

	s.eventQueue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
		eventqueue.WithBufferSize(s.queueSize),
	)
	s.dispatcher = worker.NewDispatcher(s.eventQueue, s.view,
		worker.WithLogger(s.logger.Named("dispatcher")),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go s.dispatcher.Run(runCtx)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "occupancy service started",
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("stateKey", s.stateKey),
		logger.Strings("defaultStates", s.defaultStates),
		logger.Any("offsets", s.offsets),
	)
	return nil
}

// Stop closes the queue, lets the dispatcher drain it and shuts down.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping occupancy service...")

	_ = s.eventQueue.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, dispatcherStopTimeout)
	defer cancel()
	if err := s.dispatcher.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "dispatcher did not drain", logger.Error(err))
	}
	s.cancel()

	s.started = false
	s.logger.Info(ctx, "occupancy service stopped",
		logger.Int64("processed", s.dispatcher.Processed()),
	)
}

// Enqueue accepts an envelope for asynchronous application to the view.
// Envelopes without an ID get a generated one; redeliveries of a known ID are
// acknowledged as duplicates and not applied again.
func (s *Service) Enqueue(ctx context.Context, env model.Envelope) (model.Receipt, error) {
	const op = "service.enqueue"

	if err := env.Validate(); err != nil {
		return model.Receipt{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidEvent, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.Receipt{}, fmt.Errorf("%s: %w", op, ErrNotStarted)
	}

	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	metrics.RecordEventReceived(env.Kind().String())

	if s.deduper.SeenAndRecord(ctx, env.ID) {
		metrics.RecordEventDuplicate()
		s.logger.Debug(ctx, "duplicate event detected, skipping",
			logger.String("id", env.ID),
			logger.String("name", env.Name),
		)
		return model.Receipt{ID: env.ID, Duplicate: true}, nil
	}

	msg := eventqueue.Message{
		Event:   env.Event,
		Offsets: s.offsets.Merge(env.TimestampOffsets),
	}
	if !s.eventQueue.Enqueue(ctx, msg) {
		s.deduper.Unrecord(ctx, env.ID)
		return model.Receipt{}, fmt.Errorf("%s: %w", op, ErrQueueFull)
	}
	return model.Receipt{ID: env.ID}, nil
}

// Ingest enqueues env and waits until it has been applied.
func (s *Service) Ingest(ctx context.Context, env model.Envelope) (model.Receipt, error) {
	receipt, err := s.Enqueue(ctx, env)
	if err != nil {
		return receipt, err
	}
	if err := s.sync(ctx); err != nil {
		return receipt, err
	}
	return receipt, nil
}

// sync waits until every event accepted so far has been applied.
func (s *Service) sync(ctx context.Context) error {
	s.mu.RLock()
	q, started := s.eventQueue, s.started
	s.mu.RUnlock()

	if !started {
		return nil
	}
	if err := q.Flush(ctx); err != nil {
		if errors.Is(err, eventqueue.ErrClosed) {
			return nil
		}
		return fmt.Errorf("service.sync: %w", err)
	}
	return nil
}

// Evaluate answers an occupancy query after applying every previously
// accepted event. A nil states slice selects the configured default states;
// an empty non-nil slice is an empty query.
func (s *Service) Evaluate(ctx context.Context, states []string) (occupancy.Result, error) {
	if err := s.sync(ctx); err != nil {
		return occupancy.Result{}, err
	}
	if states == nil {
		states = s.defaultStates
	}
	return s.view.Evaluate(ctx, states), nil
}

// Occupancy returns only the ratio of Evaluate.
func (s *Service) Occupancy(ctx context.Context, states []string) (float64, error) {
	res, err := s.Evaluate(ctx, states)
	if err != nil {
		return 0, err
	}
	return res.Ratio, nil
}

// Window returns a snapshot of the current window.
func (s *Service) Window(ctx context.Context) (occupancy.Snapshot, error) {
	if err := s.sync(ctx); err != nil {
		return occupancy.Snapshot{}, err
	}
	return s.view.Snapshot(), nil
}

// DefaultStates returns the states queried when none are given.
func (s *Service) DefaultStates() []string {
	return append([]string(nil), s.defaultStates...)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	snap := s.view.Snapshot()
	stats := map[string]interface{}{
		"started":       s.started,
		"queueSize":     s.queueSize,
		"dedupeSize":    s.dedupeSize,
		"dedupeEntries": s.deduper.Size(),
		"window":        snap.Condition.String(),
		"windowSamples": len(snap.Samples),
		"defaultStates": s.defaultStates,
	}

	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["processed"] = s.dispatcher.Processed()
		stats["uptimeSeconds"] = time.Since(s.startedAt).Seconds()
		if last := s.dispatcher.LastApplied(); !last.IsZero() {
			stats["lastAppliedAt"] = last.UTC().Format(time.RFC3339Nano)
		}
		metrics.UpdateQueueSize(queueLen)
	}
	return stats
}
