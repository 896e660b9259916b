// Package ws serves the websocket endpoint of the fan-out hub.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/fanout"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// Client actions.
const (
	ActionRegister = "register"
	ActionPing     = "ping"
)

// Message is what clients send.
type Message struct {
	Action string     `json:"action"`
	Role   model.Role `json:"role,omitempty"`
	UserID UserID     `json:"userId,omitempty"`
}

// Reply is a server message that is not a hub event.
type Reply struct {
	Event model.EventName `json:"event"`
	Role  model.Role      `json:"role,omitempty"`
}

// UserID accepts a JSON number, a numeric string or null.
type UserID int64

func (u *UserID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*u = UserID(n)
	return nil
}

// Handler upgrades requests and bridges them to the hub.
type Handler struct {
	hub              *fanout.Hub
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	originPatterns   []string
	logger           logger.Logger
}

// NewHandler creates a websocket handler for hub.
func NewHandler(hub *fanout.Hub, opts ...Option) *Handler {
	h := &Handler{
		hub:              hub,
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     3 * time.Second,
		logger:           logger.Named("ws"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The connection outlives the server timeouts; writes are bounded per message.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Debug(r.Context(), "accept failed", logger.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	reg, err := h.handshake(ctx, conn)
	if err != nil {
		metrics.RecordErrorByComponent("ws", "handshake")
		h.logger.Debug(ctx, "handshake rejected", logger.Error(err))
		_ = conn.Close(websocket.StatusPolicyViolation, "register with role judge or admin first")
		return
	}

	client, err := h.hub.Register(reg.Role, int64(reg.UserID))
	if err != nil {
		_ = conn.Close(websocket.StatusTryAgainLater, "hub closed")
		return
	}
	defer h.hub.Unregister(client.ID)

	if err := h.writeJSON(ctx, conn, Reply{Event: model.EventRegistered, Role: reg.Role}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.writeLoop(ctx, cancel, conn, client)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					h.logger.Debug(ctx, "read ended", logger.Error(err))
				}
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Action == ActionPing {
			if err := h.writeJSON(ctx, conn, Reply{Event: model.EventPong}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handshake(ctx context.Context, conn *websocket.Conn) (Message, error) {
	ctx, cancel := context.WithTimeout(ctx, h.handshakeTimeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	if msg.Action != ActionRegister {
		return Message{}, errors.New("first message must register")
	}
	if !msg.Role.Valid() {
		return Message{}, fanout.ErrInvalidRole
	}
	return msg, nil
}

// writeLoop drains the client outbox. A dropped client or a failed write
// closes the connection.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *fanout.Client) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			_ = conn.Close(websocket.StatusTryAgainLater, "dropped")
			return
		case msg := <-client.Outbox():
			wctx, wcancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			wcancel()
			if err != nil {
				metrics.RecordDroppedClient("write_failed")
				h.logger.Debug(ctx, "write failed", logger.String("id", client.ID.String()), logger.Error(err))
				return
			}
		}
	}
}

func (h *Handler) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}
