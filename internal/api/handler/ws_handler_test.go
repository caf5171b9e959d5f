package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlplatform/backend/internal/fanout"
)

type wsMessage struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func dialWS(t *testing.T, env *testEnv, ownerID string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(env.engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	header := http.Header{}
	if ownerID != "" {
		header.Set("X-Owner-ID", ownerID)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wsMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestWS_ConnectionEstablished(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "alice")

	msg := readWS(t, conn)
	assert.Equal(t, fanout.TypeConnectionEstablished, msg.Type)
	assert.Contains(t, msg.Message, "alice")
}

func TestWS_PingPong(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "alice")
	readWS(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	msg := readWS(t, conn)
	assert.Equal(t, fanout.TypePong, msg.Type)
	assert.Equal(t, "connection alive", msg.Message)
}

func TestWS_UnknownMessageType(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "alice")
	readWS(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))

	msg := readWS(t, conn)
	assert.Equal(t, fanout.TypeError, msg.Type)
	assert.Contains(t, msg.Message, "subscribe")
}

func TestWS_InvalidJSONKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "alice")
	readWS(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))

	msg := readWS(t, conn)
	assert.Equal(t, fanout.TypeError, msg.Type)
	assert.Equal(t, "Invalid JSON", msg.Message)

	// The connection survives the protocol error.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, fanout.TypePong, readWS(t, conn).Type)
}

func TestWS_ReceivesOwnEventsOnly(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "alice")
	readWS(t, conn)

	// Wait for the subscription to be live before publishing.
	require.Eventually(t, func() bool {
		return env.hub.ListenerCount("alice") == 1
	}, time.Second, 10*time.Millisecond)

	env.hub.Publish(fanout.ProgressEvent("bob", "job-bob", 50))
	env.hub.Publish(fanout.ProgressEvent("alice", "job-alice", 25))

	msg := readWS(t, conn)
	assert.Equal(t, fanout.TypeJobUpdate, msg.Type)
	assert.Equal(t, "job-alice", msg.Data["job_id"])
	assert.Equal(t, float64(25), msg.Data["progress"])
}

func TestWS_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
