package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCatchup implements CatchupQuerier for tests.
type mockCatchup struct {
	events []CatchupEvent
	err    error
}

func (m *mockCatchup) GetCatchupEvents(_ context.Context, _ string, sinceID int64, limit int) ([]CatchupEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []CatchupEvent{}
	for _, ev := range m.events {
		if ev.ID > sinceID {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func setupHub(t *testing.T, catchup CatchupQuerier) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(catchup, 5*time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		hub.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)
	return hub, server
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func waitForSubscribers(t *testing.T, hub *Hub, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hub.subscriberCount(channel) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("channel %s never reached %d subscribers", channel, want)
}

func TestHubConnectionEstablished(t *testing.T) {
	_, server := setupHub(t, &mockCatchup{})
	conn := dialWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestHubSubscribeAndBroadcast(t *testing.T) {
	hub, server := setupHub(t, &mockCatchup{})

	conn1 := dialWS(t, server)
	conn2 := dialWS(t, server)
	readJSON(t, conn1)
	readJSON(t, conn2)

	channel := ExecutionChannel("exec-1")
	send(t, conn1, ClientMessage{Action: "subscribe", Channel: channel})
	send(t, conn2, ClientMessage{Action: "subscribe", Channel: channel})
	assert.Equal(t, "subscription.confirmed", readJSON(t, conn1)["type"])
	assert.Equal(t, "subscription.confirmed", readJSON(t, conn2)["type"])
	waitForSubscribers(t, hub, channel, 2)

	hub.Broadcast(channel, []byte(`{"type":"execution.status","status":"running"}`))

	msg1 := readJSON(t, conn1)
	msg2 := readJSON(t, conn2)
	assert.Equal(t, "execution.status", msg1["type"])
	assert.Equal(t, "execution.status", msg2["type"])
}

func TestHubBroadcastOnlyToSubscribers(t *testing.T) {
	hub, server := setupHub(t, &mockCatchup{})

	subscribed := dialWS(t, server)
	other := dialWS(t, server)
	readJSON(t, subscribed)
	readJSON(t, other)

	send(t, subscribed, ClientMessage{Action: "subscribe", Channel: ExecutionChannel("exec-a")})
	readJSON(t, subscribed)
	send(t, other, ClientMessage{Action: "subscribe", Channel: ExecutionChannel("exec-b")})
	readJSON(t, other)
	waitForSubscribers(t, hub, ExecutionChannel("exec-a"), 1)
	waitForSubscribers(t, hub, ExecutionChannel("exec-b"), 1)

	hub.Broadcast(ExecutionChannel("exec-a"), []byte(`{"type":"step.status"}`))

	msg := readJSON(t, subscribed)
	assert.Equal(t, "step.status", msg["type"])

	// The other client should only ever see its own channel; send it a
	// second message and verify that is the next thing it reads.
	hub.Broadcast(ExecutionChannel("exec-b"), []byte(`{"type":"output.chunk"}`))
	msg = readJSON(t, other)
	assert.Equal(t, "output.chunk", msg["type"])
}

func TestHubCatchupReplay(t *testing.T) {
	catchup := &mockCatchup{events: []CatchupEvent{
		{ID: 1, Payload: map[string]any{"type": "execution.status", "status": "pending"}},
		{ID: 2, Payload: map[string]any{"type": "execution.status", "status": "running"}},
	}}
	_, server := setupHub(t, catchup)

	conn := dialWS(t, server)
	readJSON(t, conn)

	send(t, conn, ClientMessage{Action: "subscribe", Channel: ExecutionChannel("exec-1")})
	readJSON(t, conn) // confirmation

	// Subscribing replays the backlog with db_event_id injected.
	first := readJSON(t, conn)
	assert.Equal(t, "pending", first["status"])
	assert.Equal(t, float64(1), first["db_event_id"])

	second := readJSON(t, conn)
	assert.Equal(t, "running", second["status"])
	assert.Equal(t, float64(2), second["db_event_id"])
}

func TestHubCatchupSince(t *testing.T) {
	catchup := &mockCatchup{events: []CatchupEvent{
		{ID: 1, Payload: map[string]any{"type": "execution.status", "status": "pending"}},
		{ID: 2, Payload: map[string]any{"type": "execution.status", "status": "running"}},
		{ID: 3, Payload: map[string]any{"type": "execution.status", "status": "completed"}},
	}}
	_, server := setupHub(t, catchup)

	conn := dialWS(t, server)
	readJSON(t, conn)

	send(t, conn, ClientMessage{Action: "subscribe", Channel: ExecutionChannel("exec-1")})
	readJSON(t, conn)
	readJSON(t, conn)
	readJSON(t, conn)
	readJSON(t, conn) // drain confirmation + full replay

	since := int64(2)
	send(t, conn, ClientMessage{Action: "catchup", Channel: ExecutionChannel("exec-1"), LastEventID: &since})
	msg := readJSON(t, conn)
	assert.Equal(t, "completed", msg["status"])
	assert.Equal(t, float64(3), msg["db_event_id"])
}

func TestHubPing(t *testing.T) {
	_, server := setupHub(t, &mockCatchup{})
	conn := dialWS(t, server)
	readJSON(t, conn)

	send(t, conn, ClientMessage{Action: "ping"})
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestHubSubscribeRequiresChannel(t *testing.T) {
	_, server := setupHub(t, &mockCatchup{})
	conn := dialWS(t, server)
	readJSON(t, conn)

	send(t, conn, ClientMessage{Action: "subscribe"})
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub, server := setupHub(t, &mockCatchup{})
	conn := dialWS(t, server)
	readJSON(t, conn)

	channel := ExecutionChannel("exec-1")
	send(t, conn, ClientMessage{Action: "subscribe", Channel: channel})
	readJSON(t, conn)
	waitForSubscribers(t, hub, channel, 1)

	send(t, conn, ClientMessage{Action: "unsubscribe", Channel: channel})
	waitForSubscribers(t, hub, channel, 0)

	// Nothing is delivered after unsubscribe; a ping answers next.
	hub.Broadcast(channel, []byte(`{"type":"execution.status"}`))
	send(t, conn, ClientMessage{Action: "ping"})
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestHubDisconnectCleansUp(t *testing.T) {
	hub, server := setupHub(t, &mockCatchup{})
	conn := dialWS(t, server)
	readJSON(t, conn)

	channel := ExecutionChannel("exec-1")
	send(t, conn, ClientMessage{Action: "subscribe", Channel: channel})
	readJSON(t, conn)
	waitForSubscribers(t, hub, channel, 1)
	assert.Equal(t, 1, hub.ActiveConnections())

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && hub.ActiveConnections() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, hub.ActiveConnections())
	assert.Equal(t, 0, hub.subscriberCount(channel))
}
