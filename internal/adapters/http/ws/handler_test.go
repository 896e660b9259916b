package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/tabulator/internal/adapters/http/ws"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/fanout"
)

func newServer(t *testing.T, opts ...ws.Option) (*fanout.Hub, string) {
	t.Helper()
	hub := fanout.NewHub(fanout.WithBufferSize(4))
	srv := httptest.NewServer(ws.NewHandler(hub, opts...))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
}

func receive(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func register(t *testing.T, url string, role model.Role, userID any) *websocket.Conn {
	t.Helper()
	conn := dial(t, url)
	send(t, conn, map[string]any{"action": "register", "role": role, "userId": userID})
	reply := receive(t, conn)
	require.Equal(t, "registered", reply["event"])
	require.Equal(t, string(role), reply["role"])
	return conn
}

func waitCount(t *testing.T, hub *fanout.Hub, role model.Role, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.CountByRole(role) == n }, 2*time.Second, 5*time.Millisecond)
}

func TestRegisterAndReceive(t *testing.T) {
	hub, url := newServer(t)
	judge := register(t, url, model.RoleJudge, 3)
	admin := register(t, url, model.RoleAdmin, "1")
	waitCount(t, hub, model.RoleJudge, 1)
	waitCount(t, hub, model.RoleAdmin, 1)

	band := model.Band{ID: 5, Name: "Five", RoundName: "Round 1"}
	require.NoError(t, hub.Publish(context.Background(), model.BandChanged{BandID: 5, Band: &band}))

	msg := receive(t, judge)
	assert.Equal(t, "band_change", msg["event"])
	data := msg["data"].(map[string]any)
	assert.EqualValues(t, 5, data["band_id"])

	msg = receive(t, admin)
	assert.Equal(t, "admin_update", msg["event"])
	assert.Equal(t, "band_change", msg["data"].(map[string]any)["type"])
}

func TestPing(t *testing.T) {
	_, url := newServer(t)
	conn := register(t, url, model.RoleAdmin, nil)
	send(t, conn, map[string]string{"action": "ping"})
	assert.Equal(t, "pong", receive(t, conn)["event"])
}

func TestBadRoleIsRejected(t *testing.T) {
	hub, url := newServer(t)
	conn := dial(t, url)
	send(t, conn, map[string]any{"action": "register", "role": "spectator"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.Zero(t, hub.Count())
}

func TestHandshakeTimeout(t *testing.T) {
	_, url := newServer(t, ws.WithHandshakeTimeout(50*time.Millisecond))
	conn := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, url := newServer(t)
	conn := register(t, url, model.RoleJudge, 2)
	waitCount(t, hub, model.RoleJudge, 1)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	waitCount(t, hub, model.RoleJudge, 0)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub, url := newServer(t)
	conn := register(t, url, model.RoleJudge, 2)
	waitCount(t, hub, model.RoleJudge, 1)

	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusTryAgainLater, websocket.CloseStatus(err))
}

func TestUserIDForms(t *testing.T) {
	var m ws.Message
	require.NoError(t, json.Unmarshal([]byte(`{"action":"register","role":"judge","userId":"12"}`), &m))
	assert.EqualValues(t, 12, m.UserID)
	require.NoError(t, json.Unmarshal([]byte(`{"action":"register","role":"judge","userId":null}`), &m))
	assert.EqualValues(t, 0, m.UserID)
	assert.Error(t, json.Unmarshal([]byte(`{"userId":"abc"}`), &m))
}
