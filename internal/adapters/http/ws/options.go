package ws

import (
	"time"

	"github.com/okian/tabulator/pkg/logger"
)

// Option configures a Handler.
type Option func(*Handler)

// WithHandshakeTimeout bounds the wait for the register message.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.handshakeTimeout = d
		}
	}
}

// WithWriteTimeout bounds one websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithOriginPatterns allows cross-origin browsers matching the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}
