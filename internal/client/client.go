// Package client is a resilient subscriber for judges and admins. It holds a
// websocket to the fan-out hub and falls back to polling the snapshot
// endpoints while the socket is down.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
)

// Defaults for the fallback loops.
const (
	DefaultJudgePollInterval = 10 * time.Second
	DefaultAdminPollInterval = 5 * time.Second
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultPingInterval      = 20 * time.Second
)

// Snapshot paths on the API.
const (
	judgeSnapshotPath = "/api/judge/active-band"
	adminSnapshotPath = "/api/admin/pending-judges"
)

// Config identifies the subscriber and where to reach the services.
type Config struct {
	// APIURL is the base URL of the API, e.g. http://localhost:8080.
	APIURL string
	// WSURL is the full websocket URL of the hub, e.g. ws://localhost:8081/ws.
	WSURL  string
	Role   model.Role
	UserID int64
}

// Client subscribes to live events. Run drives a single loop, so there is
// never more than one pending reconnect; the polling loop is guarded so at
// most one runs at a time.
type Client struct {
	cfg              Config
	http             *http.Client
	pollInterval     time.Duration
	handshakeTimeout time.Duration
	pingInterval     time.Duration
	reconnect        backoff.BackOff
	onEvent          func(model.Envelope)
	onChange         func(json.RawMessage)
	logger           logger.Logger

	mu        sync.Mutex
	last      []byte
	polling   bool
	stopPoll  context.CancelFunc
	connected bool
	stats     Stats
}

// Stats counts lifecycle transitions.
type Stats struct {
	Connects       int
	Disconnects    int
	PollLoops      int
	Polls          int
	Changes        int
	EventsReceived int
}

// New validates cfg and returns a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("client.New: %w: %q", ErrInvalidRole, cfg.Role)
	}
	if cfg.APIURL == "" || cfg.WSURL == "" {
		return nil, fmt.Errorf("client.New: %w", ErrMissingURL)
	}
	c := &Client{
		cfg:              cfg,
		http:             &http.Client{Timeout: 5 * time.Second},
		pollInterval:     DefaultAdminPollInterval,
		handshakeTimeout: DefaultHandshakeTimeout,
		pingInterval:     DefaultPingInterval,
		reconnect:        backoff.NewConstantBackOff(DefaultReconnectDelay),
		logger:           logger.Named("client"),
	}
	if cfg.Role == model.RoleJudge {
		c.pollInterval = DefaultJudgePollInterval
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run connects, reconnects after losses and polls while disconnected, until
// ctx ends. Polling covers every moment without a registered socket,
// including the dial and register round trip.
func (c *Client) Run(ctx context.Context) error {
	defer c.stopPolling()
	for {
		c.startPolling(ctx)
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug(ctx, "connection lost", logger.Error(err))

		delay := c.reconnect.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("client.Run: %w: %w", ErrGaveUp, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session dials, registers and reads until the connection fails or stops
// answering pings.
func (c *Client) session(ctx context.Context) error {
	conn, err := c.handshake(ctx)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	c.setConnected(true)
	defer c.setConnected(false)
	c.stopPolling()
	c.reconnect.Reset()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	dead := make(chan error, 1)
	go c.heartbeat(sctx, cancel, conn, dead)

	// Catch up on anything missed while disconnected.
	c.refresh(sctx)

	for {
		_, data, err := conn.Read(sctx)
		if err != nil {
			select {
			case perr := <-dead:
				return perr
			default:
				return err
			}
		}
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.mu.Lock()
		c.stats.EventsReceived++
		c.mu.Unlock()
		if c.onEvent != nil {
			c.onEvent(env)
		}
		switch env.Event {
		case model.EventBandChange, model.EventAdminUpdate, model.EventScoresSubmitted:
			c.refresh(ctx)
		}
	}
}

// handshake dials and registers within the handshake timeout.
func (c *Client) handshake(ctx context.Context) (*websocket.Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(hctx, c.cfg.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	reg, err := json.Marshal(map[string]any{"action": "register", "role": c.cfg.Role, "userId": c.cfg.UserID})
	if err != nil {
		conn.CloseNow()
		return nil, err
	}
	if err := conn.Write(hctx, websocket.MessageText, reg); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("register: %w", err)
	}
	_, data, err := conn.Read(hctx)
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("register: %w", err)
	}
	var reply struct {
		Event model.EventName `json:"event"`
	}
	if err := json.Unmarshal(data, &reply); err != nil || reply.Event != model.EventRegistered {
		conn.CloseNow()
		return nil, fmt.Errorf("register: %w", ErrUnexpectedReply)
	}
	return conn, nil
}

// heartbeat pings the hub every ping interval. A pong that does not arrive
// within the next interval ends the session through cancel.
func (c *Client) heartbeat(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, dead chan<- error) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pctx, pcancel := context.WithTimeout(ctx, c.pingInterval)
		err := conn.Ping(pctx)
		pcancel()
		if err != nil {
			if ctx.Err() == nil {
				dead <- fmt.Errorf("%w: %w", ErrPingTimeout, err)
				cancel()
			}
			return
		}
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
	if v {
		c.stats.Connects++
	} else {
		c.stats.Disconnects++
	}
}

// startPolling launches the fallback loop unless one is already running.
func (c *Client) startPolling(ctx context.Context) {
	c.mu.Lock()
	if c.polling {
		c.mu.Unlock()
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	c.polling = true
	c.stopPoll = cancel
	c.stats.PollLoops++
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pctx.Done():
				return
			case <-ticker.C:
				c.refresh(pctx)
			}
		}
	}()
}

func (c *Client) stopPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.polling {
		return
	}
	c.stopPoll()
	c.polling = false
	c.stopPoll = nil
}

// Refresh fetches the snapshot and reports it when it differs from the last
// one seen.
func (c *Client) Refresh(ctx context.Context) error {
	raw, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.stats.Polls++
	changed := !bytes.Equal(raw, c.last)
	if changed {
		c.last = raw
		c.stats.Changes++
	}
	c.mu.Unlock()

	if changed && c.onChange != nil {
		c.onChange(json.RawMessage(raw))
	}
	return nil
}

func (c *Client) refresh(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.logger.Debug(ctx, "snapshot refresh failed", logger.Error(err))
	}
}

func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	u, err := url.Parse(c.cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("client.fetch: %w", err)
	}
	if c.cfg.Role == model.RoleJudge {
		u = u.JoinPath(judgeSnapshotPath)
		q := u.Query()
		q.Set("judge_id", strconv.FormatInt(c.cfg.UserID, 10))
		u.RawQuery = q.Encode()
	} else {
		u = u.JoinPath(adminSnapshotPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("client.fetch: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client.fetch: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client.fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client.fetch: %w: status %d", ErrSnapshot, resp.StatusCode)
	}
	return bytes.TrimSpace(body), nil
}

// Connected reports whether the websocket is registered.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Polling reports whether the fallback loop runs.
func (c *Client) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polling
}

// Stats returns a copy of the counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Last returns the last snapshot seen, or nil.
func (c *Client) Last() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	return append(json.RawMessage(nil), c.last...)
}
