package client

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
)

// Option configures a Client.
type Option func(*Client)

// WithPollInterval overrides the role default polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithHandshakeTimeout bounds the dial and register round trip.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithPingInterval sets how often the socket is pinged. A missed pong is
// treated as a lost connection.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithReconnectDelay sets a constant delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnect = backoff.NewConstantBackOff(d)
		}
	}
}

// WithReconnectBackOff sets the reconnect schedule. backoff.Stop ends Run.
func WithReconnectBackOff(b backoff.BackOff) Option {
	return func(c *Client) {
		if b != nil {
			c.reconnect = b
		}
	}
}

// WithHTTPClient replaces the snapshot HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// OnEvent registers a callback for every pushed envelope.
func OnEvent(fn func(model.Envelope)) Option {
	return func(c *Client) { c.onEvent = fn }
}

// OnChange registers a callback for snapshots that differ from the last one.
func OnChange(fn func(json.RawMessage)) Option {
	return func(c *Client) { c.onChange = fn }
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
