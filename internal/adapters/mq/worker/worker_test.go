package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/tabulator/internal/adapters/mq/queue"
	"github.com/okian/tabulator/internal/adapters/mq/worker"
	"github.com/okian/tabulator/internal/domain/model"
)

type recordingHandler struct {
	mu   sync.Mutex
	ids  []string
	fail map[string]bool
}

func (h *recordingHandler) Deliver(_ context.Context, env model.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, env.ID)
	if h.fail[env.ID] {
		return errors.New("remote unavailable")
	}
	return nil
}

func (h *recordingHandler) delivered() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ids...)
}

func env(id string) model.Envelope {
	return model.Envelope{ID: id, Event: model.EventBandChange, Data: []byte(`{"band_id":0,"band":null}`)}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over a real queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		h := &recordingHandler{fail: map[string]bool{"bad": true}}
		w := worker.NewInMemoryWorker(q, h, worker.WithName("test"))
		go w.Run(ctx)

		convey.Convey("It delivers envelopes in order", func() {
			q.Enqueue(ctx, env("one"))
			q.Enqueue(ctx, env("two"))
			convey.So(waitFor(func() bool { return len(h.delivered()) == 2 }), convey.ShouldBeTrue)
			convey.So(h.delivered(), convey.ShouldResemble, []string{"one", "two"})
		})

		convey.Convey("A failed delivery is counted and the loop continues", func() {
			q.Enqueue(ctx, env("bad"))
			q.Enqueue(ctx, env("good"))
			convey.So(waitFor(func() bool { return w.Processed() == 2 }), convey.ShouldBeTrue)
			convey.So(w.Failed(), convey.ShouldEqual, 1)
		})

		convey.Convey("Shutdown stops the loop", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
		})

		convey.Convey("Closing the queue ends the loop after draining", func() {
			q.Enqueue(ctx, env("last"))
			convey.So(q.Close(), convey.ShouldBeNil)
			select {
			case <-w.Done():
			case <-time.After(2 * time.Second):
				convey.So("worker still running", convey.ShouldBeEmpty)
			}
			convey.So(h.delivered(), convey.ShouldResemble, []string{"last"})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of three workers", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(128))
		h := &recordingHandler{}
		p := worker.NewPool(3, q, h)
		convey.So(p.Size(), convey.ShouldEqual, 3)
		p.Start(ctx)

		for i := 0; i < 100; i++ {
			convey.So(q.Enqueue(ctx, env("e")), convey.ShouldBeTrue)
		}

		convey.Convey("Shutdown drains everything queued", func() {
			convey.So(p.Shutdown(context.Background()), convey.ShouldBeNil)
			processed, failed := p.Stats()
			convey.So(processed, convey.ShouldEqual, 100)
			convey.So(failed, convey.ShouldEqual, 0)
			convey.So(h.delivered(), convey.ShouldHaveLength, 100)
		})
	})

	convey.Convey("Given a pool that was never started", t, func() {
		p := worker.NewPool(2, queue.NewInMemoryQueue(), &recordingHandler{})

		convey.Convey("Shutdown returns at once", func() {
			start := time.Now()
			convey.So(p.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(time.Since(start), convey.ShouldBeLessThan, time.Second)
		})
	})

	convey.Convey("Given a worker stuck in a delivery", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		release := make(chan struct{})
		defer close(release)
		busy := make(chan struct{}, 1)
		q := queue.NewInMemoryQueue(queue.WithCapacity(4))
		p := worker.NewPool(1, q, worker.HandlerFunc(func(context.Context, model.Envelope) error {
			busy <- struct{}{}
			<-release
			return nil
		}))
		p.Start(ctx)
		convey.So(q.Enqueue(ctx, env("slow")), convey.ShouldBeTrue)
		<-busy

		convey.Convey("Shutdown reports the missed deadline", func() {
			sctx, scancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer scancel()
			err := p.Shutdown(sctx)
			convey.So(errors.Is(err, worker.ErrDrainTimeout), convey.ShouldBeTrue)
			convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
		})
	})

	convey.Convey("A non-positive size yields one worker", t, func() {
		p := worker.NewPool(0, queue.NewInMemoryQueue(), worker.HandlerFunc(func(context.Context, model.Envelope) error { return nil }))
		convey.So(p.Size(), convey.ShouldEqual, 1)
	})
}
