// Package fanout keeps the registry of connected clients and pushes events
// to them by role without ever blocking the publisher.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

const defaultBufferSize = 32

// Client is one registered connection. The transport drains Outbox until
// Done is closed.
type Client struct {
	ID     uuid.UUID
	Role   model.Role
	UserID int64

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Outbox yields encoded messages for this client.
func (c *Client) Outbox() <-chan []byte { return c.send }

// Done is closed when the client is unregistered, dropped or the hub closes.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// offer queues msg without blocking. The outbox channel is never closed, so a
// send racing with stop is safe.
func (c *Client) offer(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Hub is the client registry.
type Hub struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]*Client
	closed     bool
	bufferSize int
	started    time.Time
	logger     logger.Logger
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[uuid.UUID]*Client),
		bufferSize: defaultBufferSize,
		started:    time.Now(),
		logger:     logger.Named("hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a client with a fresh id.
func (h *Hub) Register(role model.Role, userID int64) (*Client, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("fanout.Register: %w: %q", ErrInvalidRole, role)
	}
	c := &Client{
		ID:     uuid.New(),
		Role:   role,
		UserID: userID,
		send:   make(chan []byte, h.bufferSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.updateGauges()
	h.logger.Debug(context.Background(), "client registered",
		logger.String("id", c.ID.String()),
		logger.String("role", string(role)),
		logger.Int64("user_id", userID))
	return c, nil
}

// Unregister removes the client. Unknown ids are ignored.
func (h *Hub) Unregister(id uuid.UUID) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	c.stop()
	h.updateGauges()
}

// Broadcast offers payload to every client with role, or to everyone when
// role is empty. Clients whose outbox is full are dropped. It returns the
// number of clients that accepted the message.
func (h *Hub) Broadcast(role model.Role, payload []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if role == "" || c.Role == role {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.offer(payload) {
			delivered++
			continue
		}
		select {
		case <-c.done:
			continue
		default:
		}
		metrics.RecordDroppedClient("outbox_full")
		h.logger.Warn(context.Background(), "dropping slow client",
			logger.String("id", c.ID.String()),
			logger.String("role", string(c.Role)))
		h.Unregister(c.ID)
	}
	return delivered
}

// Publish routes ev to its audiences.
func (h *Hub) Publish(ctx context.Context, ev model.Event) error {
	for _, d := range Route(ev) {
		env, err := model.Encode(d.Event)
		if err != nil {
			return fmt.Errorf("fanout.Publish: %w", err)
		}
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("fanout.Publish: %w", err)
		}
		n := h.Broadcast(d.Role, payload)
		metrics.RecordBroadcast(string(d.Event.Name()))
		h.logger.Debug(ctx, "broadcast",
			logger.String("event", string(d.Event.Name())),
			logger.String("role", string(d.Role)),
			logger.Int("clients", n))
	}
	return nil
}

// Notify publishes ev and logs failures. It satisfies the notifier contract
// of callers that must not see errors.
func (h *Hub) Notify(ctx context.Context, ev model.Event) {
	if err := h.Publish(ctx, ev); err != nil {
		h.logger.Error(ctx, "publish", logger.Error(err))
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CountByRole returns the number of registered clients with role.
func (h *Hub) CountByRole(role model.Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.Role == role {
			n++
		}
	}
	return n
}

// Uptime returns the time since the hub was created.
func (h *Hub) Uptime() time.Duration {
	return time.Since(h.started)
}

// Close stops every client and refuses new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[uuid.UUID]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
	h.updateGauges()
}

func (h *Hub) updateGauges() {
	metrics.UpdateConnectedClients(string(model.RoleJudge), h.CountByRole(model.RoleJudge))
	metrics.UpdateConnectedClients(string(model.RoleAdmin), h.CountByRole(model.RoleAdmin))
}
