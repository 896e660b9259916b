package fanout

import "github.com/okian/tabulator/pkg/logger"

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-client outbox size.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}
