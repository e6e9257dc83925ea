package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit caps events replayed per catchup request. Clients that
// missed more get a catchup.overflow and should reload over REST.
const catchupLimit = 200

// listenTimeout bounds the synchronous LISTEN issued on the first
// subscription to a channel.
const listenTimeout = 10 * time.Second

// CatchupQuerier replays persisted events for reconnecting clients.
// Implemented by the event service over the events table.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error)
}

// CatchupEvent is one replayed event.
type CatchupEvent struct {
	ID      int64
	Payload map[string]any
}

// Hub tracks this pod's WebSocket connections and their channel
// subscriptions, and fans broadcasts out to them. One Hub per pod.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool // channel -> connection ids

	catchup CatchupQuerier

	listenerMu sync.RWMutex
	listener   *Listener

	writeTimeout time.Duration
}

// connection is one WebSocket client. subscriptions is only touched by
// the goroutine running HandleConnection for this client.
type connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewHub creates a Hub.
func NewHub(catchup CatchupQuerier, writeTimeout time.Duration) *Hub {
	return &Hub{
		connections:  make(map[string]*connection),
		channels:     make(map[string]map[string]bool),
		catchup:      catchup,
		writeTimeout: writeTimeout,
	}
}

// SetListener wires the NOTIFY listener once both sides exist.
func (h *Hub) SetListener(l *Listener) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listener = l
}

// HandleConnection owns one WebSocket connection from upgrade to close.
// Blocks until the client disconnects.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:            uuid.NewString(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", c.id, "error", err)
			continue
		}
		h.handleClientMessage(ctx, c, &msg)
	}
}

// Broadcast fans one raw payload out to every local subscriber of the
// channel. Connection pointers are snapshotted before sending so a slow
// client cannot stall register/unregister.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.channelMu.RLock()
	ids := make([]string, 0, len(h.channels[channel]))
	for id := range h.channels[channel] {
		ids = append(ids, id)
	}
	h.channelMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	h.mu.RLock()
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to send to WebSocket client", "connection_id", c.id, "error", err)
		}
	}
}

// ActiveConnections returns the number of open WebSocket connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// subscriberCount is used by tests to poll instead of sleeping.
func (h *Hub) subscriberCount(channel string) int {
	h.channelMu.RLock()
	defer h.channelMu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) handleClientMessage(ctx context.Context, c *connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			h.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		if err := h.subscribe(c, msg.Channel); err != nil {
			h.sendJSON(c, map[string]string{
				"type":    "subscription.error",
				"channel": msg.Channel,
				"message": "failed to subscribe to channel",
			})
			return
		}
		h.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})
		// Replay everything already on the channel; live delivery is
		// active at this point, so nothing can fall in between.
		h.replay(ctx, c, msg.Channel, 0)

	case "unsubscribe":
		if msg.Channel == "" {
			h.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		h.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.Channel == "" {
			h.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for catchup"})
			return
		}
		if msg.LastEventID != nil {
			h.replay(ctx, c, msg.Channel, *msg.LastEventID)
		}

	case "ping":
		h.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe issues LISTEN synchronously before the connection becomes
// visible to Broadcast, so a confirmed subscription is always backed by an
// active LISTEN.
func (h *Hub) subscribe(c *connection, channel string) error {
	h.channelMu.RLock()
	_, active := h.channels[channel]
	h.channelMu.RUnlock()

	if !active {
		h.listenerMu.RLock()
		l := h.listener
		h.listenerMu.RUnlock()
		if l != nil {
			listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
			defer cancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
				return fmt.Errorf("LISTEN on channel %s: %w", channel, err)
			}
		}
	}

	h.channelMu.Lock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[string]bool)
	}
	h.channels[channel][c.id] = true
	h.channelMu.Unlock()

	c.subscriptions[channel] = true
	return nil
}

// unsubscribe removes the connection from the channel; the last local
// subscriber triggers UNLISTEN. The goroutine re-checks membership before
// issuing it so a rapid unsubscribe/resubscribe cycle keeps the LISTEN.
func (h *Hub) unsubscribe(c *connection, channel string) {
	h.channelMu.Lock()
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.channels, channel)
			h.listenerMu.RLock()
			l := h.listener
			h.listenerMu.RUnlock()
			if l != nil {
				go func() {
					h.channelMu.RLock()
					_, resubscribed := h.channels[channel]
					h.channelMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), channel); err != nil {
						slog.Error("Failed to UNLISTEN channel", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	h.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// replay sends persisted events newer than sinceID to one client,
// injecting db_event_id so the client can track its position.
func (h *Hub) replay(ctx context.Context, c *connection, channel string, sinceID int64) {
	if h.catchup == nil {
		return
	}
	rows, err := h.catchup.GetCatchupEvents(ctx, channel, sinceID, catchupLimit+1)
	if err != nil {
		slog.Error("Catchup query failed", "channel", channel, "error", err)
		return
	}
	overflow := len(rows) > catchupLimit
	if overflow {
		rows = rows[:catchupLimit]
	}

	for _, row := range rows {
		row.Payload["db_event_id"] = row.ID
		payload, err := json.Marshal(row.Payload)
		if err != nil {
			continue
		}
		if err := h.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to send catchup event", "connection_id", c.id, "error", err)
			return
		}
	}

	if overflow {
		h.sendJSON(c, map[string]any{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.id] = c
}

func (h *Hub) unregister(c *connection) {
	for ch := range c.subscriptions {
		h.unsubscribe(c, ch)
	}
	h.mu.Lock()
	delete(h.connections, c.id)
	h.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.id, "error", err)
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.id, "error", err)
	}
}

func (h *Hub) sendRaw(c *connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
