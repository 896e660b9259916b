package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/tabulator/internal/adapters/mq/queue"
	"github.com/okian/tabulator/internal/adapters/mq/worker"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

const (
	defaultTimeout   = time.Second
	defaultQueueSize = 1024
)

// HTTP forwards events to a remote fan-out process. Notify only enqueues;
// a dispatch worker posts each envelope once and drops it on failure.
type HTTP struct {
	url       string
	client    *http.Client
	timeout   time.Duration
	queueSize int
	queue     *queue.InMemoryQueue
	pool      *worker.Pool
	logger    logger.Logger
}

// NewHTTP returns a notifier posting to url. Call Start before use.
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	n := &HTTP{
		url:       url,
		client:    &http.Client{},
		timeout:   defaultTimeout,
		queueSize: defaultQueueSize,
		logger:    logger.Named("notify"),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.queue = queue.NewInMemoryQueue(queue.WithCapacity(n.queueSize))
	n.pool = worker.NewPool(1, n.queue, n, worker.WithLogger(n.logger))
	return n
}

// Start launches the dispatch worker.
func (n *HTTP) Start(ctx context.Context) {
	n.pool.Start(ctx)
	n.logger.Info(ctx, "remote notifier started", logger.String("url", n.url))
}

// Shutdown stops accepting events and waits for queued ones to be posted.
func (n *HTTP) Shutdown(ctx context.Context) error {
	return n.pool.Shutdown(ctx)
}

// Notify enqueues ev with a fresh envelope id.
func (n *HTTP) Notify(ctx context.Context, ev model.Event) {
	env, err := model.NewEnvelope(ev)
	if err != nil {
		metrics.RecordNotifyDelivery("encode_failed")
		n.logger.Error(ctx, "encode event", logger.Error(err))
		return
	}
	if !n.queue.Enqueue(ctx, env) {
		metrics.RecordNotifyDelivery("dropped")
		n.logger.Warn(ctx, "notify queue full, event dropped", logger.String("event", string(env.Event)))
	}
}

// Pending returns the number of queued envelopes.
func (n *HTTP) Pending() int { return n.queue.Len() }

// Deliver posts one envelope. It implements worker.Handler.
func (n *HTTP) Deliver(ctx context.Context, env model.Envelope) error {
	const op = "notify.Deliver"
	start := time.Now()
	defer func() {
		metrics.RecordNotifyLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.RecordNotifyDelivery("failed")
		return fmt.Errorf("%s: %w: %w", op, ErrDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		metrics.RecordNotifyDelivery("rejected")
		return fmt.Errorf("%s: %w: status %d", op, ErrDelivery, resp.StatusCode)
	}
	metrics.RecordNotifyDelivery("delivered")
	return nil
}
