package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/dwell/internal/adapters/mq/queue"
	worker "github.com/okian/dwell/internal/adapters/mq/worker"
	model "github.com/okian/dwell/internal/domain/model"
	"github.com/okian/dwell/internal/domain/occupancy"
	logging "github.com/okian/dwell/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// recordingIngester remembers the order events were applied in.
type recordingIngester struct {
	mu      sync.Mutex
	names   []string
	offsets []model.Offsets
	outcome occupancy.Outcome
	delay   time.Duration
}

func (r *recordingIngester) Ingest(_ context.Context, ev model.Event, offsets model.Offsets) occupancy.Outcome {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, ev.ID)
	r.offsets = append(r.offsets, offsets)
	return r.outcome
}

func (r *recordingIngester) applied() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func msg(id string) queue.Message {
	return queue.Message{
		Event:   model.Event{ID: id, Name: "AttentionUserActionUpdated"},
		Offsets: model.Offsets{"AttentionUserActionUpdated": 0.1},
	}
}

func TestDispatcher(t *testing.T) {
	convey.Convey("Given a dispatcher on an in-memory queue", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		ing := &recordingIngester{outcome: occupancy.OutcomeSample}
		d := worker.NewDispatcher(q, ing, worker.WithName("test-dispatcher"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go d.Run(ctx)

		convey.Convey("When events are enqueued", func() {
			ids := []string{"e1", "e2", "e3", "e4", "e5"}
			for _, id := range ids {
				convey.So(q.Enqueue(ctx, msg(id)), convey.ShouldBeTrue)
			}
			flushCtx, flushCancel := context.WithTimeout(ctx, time.Second)
			defer flushCancel()
			convey.So(q.Flush(flushCtx), convey.ShouldBeNil)

			convey.Convey("Then they should be applied in enqueue order with their offsets", func() {
				convey.So(ing.applied(), convey.ShouldResemble, ids)
				convey.So(ing.offsets[0].For("AttentionUserActionUpdated"), convey.ShouldEqual, 100*time.Millisecond)
				convey.So(d.Processed(), convey.ShouldEqual, 5)
				convey.So(d.LastApplied().IsZero(), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the queue is closed", func() {
			q.Enqueue(ctx, msg("last"))
			convey.So(q.Close(), convey.ShouldBeNil)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			err := d.Shutdown(shutdownCtx)

			convey.Convey("Then the dispatcher should drain and stop", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ing.applied(), convey.ShouldResemble, []string{"last"})
			})
		})
	})

	convey.Convey("Given a dispatcher whose queue never closes", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		ing := &recordingIngester{outcome: occupancy.OutcomeDropped}
		d := worker.NewDispatcher(q, ing, worker.WithLogger(logging.Nop()))

		go d.Run(context.Background())
		q.Enqueue(context.Background(), msg("dropped"))

		convey.Convey("When shutdown times out", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			err := d.Shutdown(ctx)

			convey.Convey("Then it should report the timeout and force the loop to exit", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(d.Shutdown(context.Background()), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a canceled context", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		d := worker.NewDispatcher(q, &recordingIngester{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		convey.Convey("Then Run should return promptly", func() {
			done := make(chan struct{})
			go func() {
				d.Run(ctx)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("dispatcher did not stop on canceled context")
			}
		})
	})
}
