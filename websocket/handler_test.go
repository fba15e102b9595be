package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aminedk/ws-chat-server/bus"
	"github.com/aminedk/ws-chat-server/session"
)

type testEnv struct {
	manager *Manager
	store   session.Store
	srv     *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithStore(t, session.NewMemoryStore())
}

func newTestEnvWithStore(t *testing.T, store session.Store) *testEnv {
	t.Helper()

	cfg := testConfig()
	b := bus.NewMemoryBus()
	manager := NewManager(store, b, cfg)
	handler := NewHandler(manager, &cfg.WebSocket)

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		b.Close()
	})

	return &testEnv{manager: manager, store: store, srv: srv}
}

func (e *testEnv) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()

	url := strings.Replace(e.srv.URL, "http", "ws", 1)
	if sessionID != "" {
		url += "?session_uuid=" + sessionID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func sendMessage(t *testing.T, conn *websocket.Conn, text string) map[string]interface{} {
	t.Helper()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": text}))
	return readJSON(t, conn)
}

func waitForRegistrySize(t *testing.T, m *Manager, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return m.Registry().Size() == want
	}, 2*time.Second, 10*time.Millisecond, "registry never reached size %d", want)
}

func TestHandler_MessageCounting(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "")

	waitForRegistrySize(t, env.manager, 1)

	for i := 1; i <= 3; i++ {
		reply := sendMessage(t, conn, fmt.Sprintf("msg %d", i))
		assert.Equal(t, float64(i), reply["count"])
	}
}

func TestHandler_InvalidJSONDoesNotCount(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "")

	reply := sendMessage(t, conn, "a")
	assert.Equal(t, float64(1), reply["count"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	reply = readJSON(t, conn)
	assert.Equal(t, "Invalid JSON", reply["error"])

	// The malformed frame did not advance the counter.
	reply = sendMessage(t, conn, "b")
	assert.Equal(t, float64(2), reply["count"])
}

func TestHandler_DisconnectLeavesRegistry(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "")

	waitForRegistrySize(t, env.manager, 1)
	conn.Close()
	waitForRegistrySize(t, env.manager, 0)
}

func TestHandler_SessionRecovery(t *testing.T) {
	env := newTestEnv(t)
	const sessionID = "S1"

	conn := env.dial(t, sessionID)
	for i := 1; i <= 3; i++ {
		reply := sendMessage(t, conn, fmt.Sprintf("msg %d", i))
		assert.Equal(t, float64(i), reply["count"])
	}
	conn.Close()

	require.Eventually(t, func() bool {
		count, ok, err := env.store.Get(context.Background(), sessionID)
		return err == nil && ok && count == 3
	}, 2*time.Second, 10*time.Millisecond, "session record was not persisted")

	reconn := env.dial(t, sessionID)
	reply := sendMessage(t, reconn, "d")
	assert.Equal(t, float64(4), reply["count"], "recovered session resumes the counter")
}

func TestHandler_NoSessionRecordWithoutMessages(t *testing.T) {
	env := newTestEnv(t)
	const sessionID = "idle-session"

	conn := env.dial(t, sessionID)
	waitForRegistrySize(t, env.manager, 1)
	conn.Close()
	waitForRegistrySize(t, env.manager, 0)

	_, ok, err := env.store.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.False(t, ok, "no record may exist for a connection that sent nothing")
}

func TestHandler_GoodbyeOnClientClose(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "")

	sendMessage(t, conn, "a")
	sendMessage(t, conn, "b")

	require.NoError(t, conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	))

	reply := readJSON(t, conn)
	assert.Equal(t, true, reply["bye"])
	assert.Equal(t, float64(2), reply["total"])
}

func TestHandler_HeartbeatReachesClient(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "")

	waitForRegistrySize(t, env.manager, 1)

	// Publish through the same path the scheduler uses rather than waiting
	// out the interval.
	env.manager.heartbeat.publish()

	reply := readJSON(t, conn)
	ts, ok := reply["ts"].(string)
	require.True(t, ok, "expected a heartbeat frame, got %v", reply)
	_, err := time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestHandler_ShutdownClosesAllWithGoodbye(t *testing.T) {
	env := newTestEnv(t)

	const numConns = 5
	conns := make([]*websocket.Conn, numConns)
	for i := range conns {
		conns[i] = env.dial(t, "")
		for j := 0; j <= i; j++ {
			sendMessage(t, conns[i], "hello")
		}
	}
	waitForRegistrySize(t, env.manager, numConns)

	done := make(chan struct{})
	go func() {
		env.manager.Shutdown(context.Background())
		close(done)
	}()

	for i, conn := range conns {
		reply := readJSON(t, conn)
		assert.Equal(t, true, reply["bye"], "connection %d should receive a goodbye", i)
		assert.Equal(t, float64(i+1), reply["total"], "goodbye carries the running total")

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		closeErr, ok := err.(*websocket.CloseError)
		require.True(t, ok, "expected a close frame, got %v", err)
		assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	assert.Equal(t, 0, env.manager.Registry().Size())
}

// gatedStore stalls Get until released, holding a connection setup open in
// the window between the admission check and registration.
type gatedStore struct {
	session.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) Get(ctx context.Context, sessionID string) (int64, bool, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.Get(ctx, sessionID)
}

func TestHandler_ConnectInFlightDuringShutdownIsRefused(t *testing.T) {
	store := &gatedStore{
		Store:   session.NewMemoryStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	env := newTestEnvWithStore(t, store)

	// The session lookup stalls mid-setup: the connection has passed the
	// admission check but is not yet registered.
	conn := env.dial(t, "stale-session")
	<-store.entered

	env.manager.Shutdown(context.Background())
	close(store.release)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)

	assert.Equal(t, 0, env.manager.Registry().Size(), "a refused connection must never be registered")
	assert.False(t, env.manager.Heartbeat().Running(), "a refused connection must not restart the heartbeat")
}

func TestHandler_RejectsConnectionsDuringShutdown(t *testing.T) {
	env := newTestEnv(t)
	env.manager.Shutdown(context.Background())

	conn := env.dial(t, "")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)

	assert.Equal(t, 0, env.manager.Registry().Size(), "rejected connections are never registered")
}
