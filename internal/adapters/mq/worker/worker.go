// Package worker drains the notification queue and hands each envelope to a
// delivery handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

const poolShutdownTimeout = 10 * time.Second

// Queue defines how workers receive envelopes.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Envelope
}

// Handler delivers one envelope.
type Handler interface {
	Deliver(ctx context.Context, env model.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env model.Envelope) error

func (f HandlerFunc) Deliver(ctx context.Context, env model.Envelope) error { return f(ctx, env) }

// Worker processes envelopes until stopped.
type Worker interface {
	// Run starts the loop until ctx is canceled, the queue drains after
	// close, or Shutdown is called.
	Run(ctx context.Context)

	// Shutdown stops the loop and waits for it to exit.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue   Queue
	handler Handler
	name    string
	logger  logger.Logger

	processed atomic.Int64
	failed    atomic.Int64

	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}
}

// NewInMemoryWorker creates a worker reading from queue.
func NewInMemoryWorker(queue Queue, handler Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		handler:  handler,
		name:     "dispatch",
		logger:   logger.Named("worker"),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run delivers envelopes one at a time. Delivery errors are logged and counted;
// the envelope is not retried.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	in := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			w.deliver(ctx, env)
		}
	}
}

func (w *InMemoryWorker) deliver(ctx context.Context, env model.Envelope) {
	start := time.Now()
	err := w.handler.Deliver(ctx, env)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	w.processed.Add(1)
	if err != nil {
		w.failed.Add(1)
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "delivery")
		w.logger.Warn(ctx, "delivery failed",
			logger.String("event", string(env.Event)),
			logger.String("id", env.ID),
			logger.Error(err))
	}
}

// Shutdown signals the loop and waits until it exits or ctx ends.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("worker %s shutdown: %w", w.name, ctx.Err())
	}
}

// Done is closed once Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// Processed returns the number of envelopes handled, failed ones included.
func (w *InMemoryWorker) Processed() int64 { return w.processed.Load() }

// Failed returns the number of envelopes whose delivery failed.
func (w *InMemoryWorker) Failed() int64 { return w.failed.Load() }

// Pool runs several workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
	started atomic.Bool
}

// NewPool creates size workers sharing queue and handler. size below one
// means one worker.
func NewPool(size int, queue Queue, handler Handler, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, size),
		queue:   queue,
		logger:  logger.Named("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{WithName("dispatch-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(queue, handler, wopts...)
	}
	return p
}

// Start launches every worker. Later calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerActiveCount(len(p.workers))
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Stats returns processed and failed totals across workers.
func (p *Pool) Stats() (processed, failed int64) {
	for _, w := range p.workers {
		processed += w.Processed()
		failed += w.Failed()
	}
	return processed, failed
}

// Shutdown closes the queue when it supports it, lets workers drain, then
// stops them. It returns ErrDrainTimeout when a worker is still busy after
// the deadline. A pool that was never started has nothing to wait for.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "close queue", logger.Error(err))
		}
	}
	if !p.started.Load() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var errs []error
	for i, w := range p.workers {
		select {
		case <-w.done:
			continue
		case <-ctx.Done():
		}
		// Stop the loop; the in-flight delivery finishes on its own.
		w.stopOnce.Do(func() { close(w.shutdown) })
		select {
		case <-w.done:
		default:
			p.logger.Warn(ctx, "worker did not drain in time", logger.Int("worker", i))
			errs = append(errs, fmt.Errorf("%w: worker %s: %w", ErrDrainTimeout, w.name, ctx.Err()))
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return errors.Join(errs...)
}
