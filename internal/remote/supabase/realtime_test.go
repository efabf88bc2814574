package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type phxFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// newSocketServer returns a client whose realtime socket lands on a local
// server; every accepted connection is handed to the test.
func newSocketServer(t *testing.T) (*Client, <-chan *websocket.Conn) {
	conns := make(chan *websocket.Conn, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" || r.URL.Query().Get("apikey") != "anon" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	c := New(Config{URL: srv.URL, AnonKey: "anon"})
	c.heartbeat = time.Hour
	t.Cleanup(func() { _ = c.Close() })
	return c, conns
}

func accept(t *testing.T, conns <-chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("realtime client never connected")
		return nil
	}
}

// readEvent skips frames until one carries event
func readEvent(t *testing.T, conn *websocket.Conn, event string) phxFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f phxFrame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", event)
		if f.Event == event {
			return f
		}
	}
}

func noop(remote.ChangeEvent) {}

func TestRealtimeJoinCarriesFilter(t *testing.T) {
	c, conns := newSocketServer(t)

	_, err := c.Subscribe(context.Background(), "device", &remote.Filter{Column: "user_id", Op: remote.OpEq, Value: int64(7)}, noop)
	require.NoError(t, err)

	join := readEvent(t, accept(t, conns), "phx_join")

	assert.True(t, strings.HasPrefix(join.Topic, "realtime:device-"), join.Topic)
	var payload struct {
		Config struct {
			Changes []map[string]string `json:"postgres_changes"`
		} `json:"config"`
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(join.Payload, &payload))
	assert.Equal(t, "anon", payload.AccessToken)
	assert.Equal(t, []map[string]string{
		{"event": "*", "schema": "public", "table": "device", "filter": "user_id=eq.7"},
	}, payload.Config.Changes)
}

func TestRealtimeRejectsNonEqFilters(t *testing.T) {
	c, _ := newSocketServer(t)

	_, err := c.Subscribe(context.Background(), "device", &remote.Filter{Column: "battery", Op: remote.OpGt, Value: 5}, noop)

	assert.Error(t, err)
}

func TestRealtimeDeliversChanges(t *testing.T) {
	c, conns := newSocketServer(t)
	events := make(chan remote.ChangeEvent, 1)

	_, err := c.Subscribe(context.Background(), "measurement_data", nil, func(ev remote.ChangeEvent) { events <- ev })
	require.NoError(t, err)
	conn := accept(t, conns)
	join := readEvent(t, conn, "phx_join")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"topic": join.Topic,
		"event": "postgres_changes",
		"payload": map[string]interface{}{
			"data": map[string]interface{}{
				"type":             "INSERT",
				"record":           map[string]interface{}{"device_id": "AA:BB", "measurement_temperature": 21.5},
				"commit_timestamp": "2024-01-02T03:04:05Z",
			},
		},
	}))

	select {
	case ev := <-events:
		assert.Equal(t, remote.ChangeInsert, ev.Type)
		assert.Equal(t, "measurement_data", ev.Table)
		assert.JSONEq(t, `{"device_id":"AA:BB","measurement_temperature":21.5}`, string(ev.Record))
		assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ev.At.UTC())
	case <-time.After(2 * time.Second):
		t.Fatal("change never reached the handler")
	}
}

func TestRealtimeUnsubscribeLeavesAndClosesIdleSocket(t *testing.T) {
	c, conns := newSocketServer(t)
	ctx := context.Background()

	devices, err := c.Subscribe(ctx, "device", nil, noop)
	require.NoError(t, err)
	readings, err := c.Subscribe(ctx, "measurement_data", nil, noop)
	require.NoError(t, err)

	conn := accept(t, conns)
	topics := map[string]bool{}
	topics[readEvent(t, conn, "phx_join").Topic] = true
	topics[readEvent(t, conn, "phx_join").Topic] = true

	devices.Unsubscribe()
	leave := readEvent(t, conn, "phx_leave")
	assert.True(t, topics[leave.Topic])
	assert.True(t, strings.HasPrefix(leave.Topic, "realtime:device-"), leave.Topic)

	readings.Unsubscribe()

	// With no channel left the client hangs up instead of idling
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var readErr error
	for readErr == nil {
		_, _, readErr = conn.ReadMessage()
	}
	var netErr net.Error
	assert.False(t, errors.As(readErr, &netErr) && netErr.Timeout(), "socket should be closed, got %v", readErr)

	c.mu.RLock()
	assert.Nil(t, c.rt)
	c.mu.RUnlock()

	// A later subscription opens a fresh socket
	_, err = c.Subscribe(ctx, "device", nil, noop)
	require.NoError(t, err)
	readEvent(t, accept(t, conns), "phx_join")
}

func TestRealtimeSendsHeartbeats(t *testing.T) {
	c, conns := newSocketServer(t)
	c.heartbeat = 20 * time.Millisecond

	_, err := c.Subscribe(context.Background(), "device", nil, noop)
	require.NoError(t, err)

	beat := readEvent(t, accept(t, conns), "heartbeat")

	assert.Equal(t, "phoenix", beat.Topic)
	assert.NotEmpty(t, beat.Ref)
}

func TestRealtimeRejoinsAfterReconnect(t *testing.T) {
	c, conns := newSocketServer(t)

	_, err := c.Subscribe(context.Background(), "device", &remote.Filter{Column: "user_id", Op: remote.OpEq, Value: int64(7)}, noop)
	require.NoError(t, err)
	first := accept(t, conns)
	join := readEvent(t, first, "phx_join")

	// Drop the socket from the server side
	first.Close()

	rejoin := readEvent(t, accept(t, conns), "phx_join")
	assert.Equal(t, join.Topic, rejoin.Topic)
	assert.JSONEq(t, string(join.Payload), string(rejoin.Payload))
}

func TestRealtimeTokenChangeReachesChannels(t *testing.T) {
	c, conns := newSocketServer(t)

	_, err := c.Subscribe(context.Background(), "device", nil, noop)
	require.NoError(t, err)
	conn := accept(t, conns)
	join := readEvent(t, conn, "phx_join")

	c.setSession(&remote.Session{AccessToken: "fresh"}, remote.EventTokenRefreshed)

	update := readEvent(t, conn, "access_token")
	assert.Equal(t, join.Topic, update.Topic)
	assert.JSONEq(t, `{"access_token":"fresh"}`, string(update.Payload))
}
