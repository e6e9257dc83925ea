package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// listenCmd is a LISTEN/UNLISTEN statement routed through the receive
// loop, which is the only goroutine allowed to touch the pgx connection.
// Running them anywhere else races WaitForNotification ("conn busy").
type listenCmd struct {
	sql    string
	result chan error
}

// Listener holds the dedicated LISTEN connection and dispatches incoming
// notifications to the hub. One Listener runs per pod.
type Listener struct {
	connString string
	hub        *Hub

	connMu sync.Mutex
	conn   *pgx.Conn

	chMu     sync.RWMutex
	channels map[string]bool

	cmdCh   chan listenCmd
	running atomic.Bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewListener creates a Listener that forwards notifications to the hub.
func NewListener(connString string, hub *Hub) *Listener {
	return &Listener{
		connString: connString,
		hub:        hub,
		channels:   make(map[string]bool),
		cmdCh:      make(chan listenCmd, 16),
	}
}

// Start opens the dedicated connection and begins the receive loop.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("Event listener started")
	return nil
}

// Subscribe issues LISTEN for a channel. Idempotent per channel.
func (l *Listener) Subscribe(ctx context.Context, channel string) error {
	l.chMu.RLock()
	already := l.channels[channel]
	l.chMu.RUnlock()
	if already {
		return nil
	}
	if !l.running.Load() {
		return fmt.Errorf("LISTEN connection not established")
	}

	if err := l.roundTrip(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("LISTEN %s failed: %w", channel, err)
	}
	l.chMu.Lock()
	l.channels[channel] = true
	l.chMu.Unlock()
	slog.Debug("Subscribed to NOTIFY channel", "channel", channel)
	return nil
}

// Unsubscribe issues UNLISTEN for a channel.
func (l *Listener) Unsubscribe(ctx context.Context, channel string) error {
	l.chMu.RLock()
	listening := l.channels[channel]
	l.chMu.RUnlock()
	if !listening || !l.running.Load() {
		return nil
	}

	if err := l.roundTrip(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("UNLISTEN %s failed: %w", channel, err)
	}
	l.chMu.Lock()
	delete(l.channels, channel)
	l.chMu.Unlock()
	return nil
}

// roundTrip hands a statement to the receive loop and waits for the
// outcome.
func (l *Listener) roundTrip(ctx context.Context, sql string) error {
	cmd := listenCmd{sql: sql, result: make(chan error, 1)}
	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receiveLoop waits for notifications with a short timeout so pending
// LISTEN/UNLISTEN commands interleave with delivery.
func (l *Listener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.drainCommands(ctx)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue // poll timeout, go service commands
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.hub.Broadcast(notification.Channel, []byte(notification.Payload))
	}
}

func (l *Listener) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-l.cmdCh:
			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()
			if conn == nil {
				cmd.result <- fmt.Errorf("LISTEN connection not established")
				continue
			}
			_, err := conn.Exec(ctx, cmd.sql)
			cmd.result <- err
		default:
			return
		}
	}
}

// reconnect re-establishes the connection with backoff and re-issues
// LISTEN for every subscribed channel.
func (l *Listener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		l.conn = conn

		l.chMu.RLock()
		for ch := range l.channels {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				slog.Error("Re-LISTEN failed", "channel", ch, "error", err)
			}
		}
		l.chMu.RUnlock()

		slog.Info("Event listener reconnected")
		return
	}
}

// Stop shuts the receive loop down, then closes the connection. Ordering
// matters: closing the connection while WaitForNotification runs races.
func (l *Listener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
