package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

// WSEvent is one message received over the WebSocket, kept both raw and
// parsed for assertions.
type WSEvent struct {
	Type   string
	Parsed map[string]any
	Raw    json.RawMessage
}

// WSClient connects to the events endpoint and collects everything the
// server pushes, so tests can assert on ordering and payloads after the
// fact.
type WSClient struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	events []WSEvent
}

// WSConnect dials the app's WebSocket endpoint and starts the collector.
func WSConnect(t *testing.T, wsURL string) *WSClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err, "WebSocket dial")

	c := &WSClient{conn: conn, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	go c.readLoop()
	t.Cleanup(c.Close)
	return c
}

// Subscribe joins a channel and waits for the server's confirmation.
func (c *WSClient) Subscribe(t *testing.T, channel string) {
	t.Helper()
	data, err := json.Marshal(map[string]string{"action": "subscribe", "channel": channel})
	require.NoError(t, err)
	require.NoError(t, c.conn.Write(c.ctx, websocket.MessageText, data))

	_, err = c.WaitForEvent(func(e WSEvent) bool {
		return e.Type == "subscription.confirmed" && e.Parsed["channel"] == channel
	}, 5*time.Second)
	require.NoError(t, err, "subscription to %s never confirmed", channel)
}

// WaitForEvent blocks until a collected event matches the predicate.
func (c *WSClient) WaitForEvent(predicate func(WSEvent) bool, timeout time.Duration) (*WSEvent, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event (collected %d)", len(c.Events()))
		case <-tick.C:
			c.mu.Lock()
			for i := range c.events {
				if predicate(c.events[i]) {
					evt := c.events[i]
					c.mu.Unlock()
					return &evt, nil
				}
			}
			c.mu.Unlock()
		}
	}
}

// Events returns a snapshot of everything received so far.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WSEvent, len(c.events))
	copy(out, c.events)
	return out
}

// Close tears down the connection and waits for the reader to exit. Safe
// to call more than once.
func (c *WSClient) Close() {
	c.cancel()
	_ = c.conn.CloseNow()
	<-c.done
}

func (c *WSClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			continue
		}
		evt := WSEvent{Parsed: parsed, Raw: data}
		if typ, ok := parsed["type"].(string); ok {
			evt.Type = typ
		}
		c.mu.Lock()
		c.events = append(c.events, evt)
		c.mu.Unlock()
	}
}
