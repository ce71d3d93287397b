// Package clearnode provides the websocket client adapter for a ClearNode:
// a reconnecting transport, a request/response correlator, and the Client
// that joins them behind outbound.ClearNodeClient.
package clearnode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tollgate-labs/tollgate/internal/port/outbound"
)

const (
	// DefaultMaxReconnectAttempts bounds automatic reconnects after an abnormal close.
	DefaultMaxReconnectAttempts = 3

	// DefaultReconnectDelay is multiplied by the attempt number.
	DefaultReconnectDelay = 2 * time.Second

	// DefaultHandshakeTimeout bounds the websocket opening handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	writeTimeout      = 10 * time.Second
	maxFrameSize      = 1 << 20 // 1MB
	manualCloseReason = "Manual disconnect"
)

// transport owns the single websocket to the node and reconnects it after
// abnormal closure. Frames and lifecycle events are handed to the callbacks,
// which run on transport goroutines and must not call close.
type transport struct {
	url         string
	dialer      *websocket.Dialer
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	onFrame     func([]byte)
	onEvent     func(outbound.ConnectionEvent, error)

	mu          sync.Mutex
	conn        *websocket.Conn
	attempts    int
	manual      bool
	cancelRetry context.CancelFunc
	wg          sync.WaitGroup

	writeMu sync.Mutex
}

func (t *transport) connect(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.manual = false
	t.attempts = 0
	t.stopRetryLocked()
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect %s: %w", t.url, err)
	}

	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	t.adoptLocked(conn)
	t.mu.Unlock()

	t.logger.Info("connected to clearnode", "url", t.url)
	t.onEvent(outbound.EventConnected, nil)
	return nil
}

func (t *transport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	conn.SetReadLimit(maxFrameSize)
	return conn, nil
}

// adoptLocked installs conn as the live socket and starts its reader.
// Caller holds t.mu.
func (t *transport) adoptLocked(conn *websocket.Conn) {
	t.conn = conn
	t.wg.Add(1)
	go t.readLoop(conn)
}

func (t *transport) readLoop(conn *websocket.Conn) {
	defer t.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleClose(conn, err)
			return
		}
		t.onFrame(data)
	}
}

// handleClose runs when the reader of conn fails. A manual close detaches
// the socket first, so a stale conn is ignored here.
func (t *transport) handleClose(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.mu.Unlock()
	_ = conn.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.logger.Info("clearnode closed the connection normally")
		t.onEvent(outbound.EventClosed, nil)
		return
	}

	t.logger.Warn("clearnode connection lost", "error", err)
	t.onEvent(outbound.EventLost, fmt.Errorf("%w: %v", outbound.ErrConnectionLost, err))
	t.scheduleReconnect()
}

// scheduleReconnect arms the next attempt with a delay of attempt x baseDelay,
// or reports exhaustion once maxAttempts have failed.
func (t *transport) scheduleReconnect() {
	t.mu.Lock()
	if t.manual {
		t.mu.Unlock()
		return
	}
	if t.attempts >= t.maxAttempts {
		attempts := t.attempts
		t.mu.Unlock()
		t.logger.Error("reconnect attempts exhausted", "attempts", attempts)
		t.onEvent(outbound.EventExhausted, outbound.ErrReconnectExhausted)
		return
	}

	t.attempts++
	attempt := t.attempts
	delay := time.Duration(attempt) * t.baseDelay
	retryCtx, cancel := context.WithCancel(context.Background())
	t.cancelRetry = cancel
	t.wg.Add(1)
	t.mu.Unlock()

	t.logger.Info("scheduling reconnect", "attempt", attempt, "max", t.maxAttempts, "delay", delay)

	go func() {
		defer t.wg.Done()
		defer cancel()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-retryCtx.Done():
			return
		}

		conn, err := t.dial(retryCtx)
		if err != nil {
			if retryCtx.Err() != nil {
				return
			}
			t.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			t.scheduleReconnect()
			return
		}

		t.mu.Lock()
		if t.manual || retryCtx.Err() != nil || t.conn != nil {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.cancelRetry = nil
		t.attempts = 0
		t.adoptLocked(conn)
		t.mu.Unlock()

		t.logger.Info("reconnected to clearnode", "attempt", attempt)
		t.onEvent(outbound.EventReconnected, nil)
	}()
}

// stopRetryLocked cancels a pending reconnect. Caller holds t.mu.
func (t *transport) stopRetryLocked() {
	if t.cancelRetry != nil {
		t.cancelRetry()
		t.cancelRetry = nil
	}
}

func (t *transport) send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return outbound.ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", outbound.ErrConnectionLost, err)
	}
	return nil
}

func (t *transport) isConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// close performs a manual close with the normal closure code, cancels any
// pending reconnect, and waits for transport goroutines to exit.
func (t *transport) close() error {
	t.mu.Lock()
	t.manual = true
	t.attempts = 0
	t.stopRetryLocked()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	var err error
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, manualCloseReason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = conn.Close()
	}

	t.wg.Wait()

	if conn != nil {
		t.logger.Info("disconnected from clearnode")
		t.onEvent(outbound.EventClosed, nil)
	}
	return err
}
