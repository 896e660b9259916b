package repository

import (
	"time"

	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

type options struct {
	logger logger.Logger
	now    func() time.Time
}

func defaultOptions() options {
	return options{
		logger: logger.Named("store"),
		now:    time.Now,
	}
}

// Option applies a configuration option to a Store.
type Option func(*options)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the clock used for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// observe records the latency of one store operation.
func observe(op string) func() {
	start := time.Now()
	return func() {
		metrics.RecordStoreQueryLatency(op, float64(time.Since(start).Microseconds())/1000)
	}
}
