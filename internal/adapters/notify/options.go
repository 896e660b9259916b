package notify

import (
	"net/http"
	"time"

	"github.com/okian/tabulator/pkg/logger"
)

// HTTPOption configures an HTTP notifier.
type HTTPOption func(*HTTP)

// WithTimeout bounds one POST.
func WithTimeout(d time.Duration) HTTPOption {
	return func(n *HTTP) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithQueueSize bounds the number of undelivered events.
func WithQueueSize(size int) HTTPOption {
	return func(n *HTTP) {
		if size > 0 {
			n.queueSize = size
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(n *HTTP) {
		if c != nil {
			n.client = c
		}
	}
}

// WithLogger sets the notifier logger.
func WithLogger(l logger.Logger) HTTPOption {
	return func(n *HTTP) {
		if l != nil {
			n.logger = l
		}
	}
}
