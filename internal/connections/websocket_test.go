package connections

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockinterview/interviewd/internal/protocol"
)

func TestServeOverGorilla(t *testing.T) {
	m := newTestManager(testConfig())
	m.SetHandler(HandlerFunc(func(ctx context.Context, conn *Connection, msg protocol.Inbound) {
		if msg.Kind() == protocol.TypePing {
			_ = m.Send(conn.ID, protocol.Pong(conn.SessionID()))
		}
	}))

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn, err := m.Register(ws, r.RemoteAddr)
		if err != nil {
			_ = ws.Close()
			return
		}
		_ = m.Bind(conn.ID, "S1")
		_ = m.Open(conn.ID)
		m.Serve(context.Background(), conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","session_id":"S1"}`)))
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "pong", env["type"])
	assert.Equal(t, "S1", env["session_id"])

	require.Eventually(t, func() bool { return m.Stats().Active == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	assert.Eventually(t, func() bool { return m.Stats().Active == 0 }, 3*time.Second, 10*time.Millisecond)
}
