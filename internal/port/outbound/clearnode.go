// Package outbound defines the outbound port interfaces for reaching a
// ClearNode and the user's wallet.
package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

var (
	// ErrNotConnected is returned when a send is attempted without an open
	// connection. Requests are never queued.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionLost resolves pending requests when the connection drops.
	ErrConnectionLost = errors.New("connection lost")

	// ErrRequestTimeout resolves a pending request after its deadline.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrTooManyPending is returned when the pending request table is full.
	ErrTooManyPending = errors.New("too many pending requests")

	// ErrReconnectExhausted is reported when every reconnect attempt failed.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ConnectionEvent is a transport lifecycle notification.
type ConnectionEvent int

const (
	// EventConnected fires after an explicit Connect succeeds.
	EventConnected ConnectionEvent = iota
	// EventLost fires on abnormal closure, before reconnecting.
	EventLost
	// EventReconnected fires when an automatic reconnect succeeds.
	EventReconnected
	// EventExhausted fires when the reconnect bound is reached.
	EventExhausted
	// EventClosed fires on manual or normal closure.
	EventClosed
)

// String returns the event name.
func (e ConnectionEvent) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventLost:
		return "lost"
	case EventReconnected:
		return "reconnected"
	case EventExhausted:
		return "exhausted"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Signer signs the JSON encoding of a req array.
type Signer interface {
	Sign(payload []byte) (string, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(payload []byte) (string, error)

// Sign calls f(payload).
func (f SignerFunc) Sign(payload []byte) (string, error) {
	return f(payload)
}

// Call describes one correlated request.
type Call struct {
	Method rpc.Method
	Params any
	// Signer produces the single entry of sig. Nil sends an empty sig array.
	Signer Signer
	// Timeout bounds the wait for the correlated response.
	Timeout time.Duration
}

// ClearNodeClient is the outbound port for the ClearNode RPC connection.
type ClearNodeClient interface {
	// Connect opens the connection. It returns once the socket is ready.
	Connect(ctx context.Context) error

	// Close performs a manual close. It never triggers a reconnect and
	// resolves every pending request with ErrNotConnected.
	Close() error

	// IsConnected reports whether a socket is open.
	IsConnected() bool

	// Call sends a request and waits for its correlated response, a
	// timeout, or the connection being cleared, whichever comes first.
	Call(ctx context.Context, call Call) (rpc.Inbound, error)

	// SetToken sets the bearer token attached to every request. Empty clears it.
	SetToken(token string)

	// Subscribe registers an observer for an unsolicited push method.
	Subscribe(method rpc.Method, fn func(rpc.Inbound))

	// OnConnectionEvent registers an observer for transport lifecycle events.
	OnConnectionEvent(fn func(ev ConnectionEvent, err error))
}
