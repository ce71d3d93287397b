package clearnode

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tollgate-labs/tollgate/internal/port/outbound"
	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

// DefaultCallTimeout applies when a Call sets no Timeout.
const DefaultCallTimeout = 10 * time.Second

// Call outcome labels reported to a CallObserver.
const (
	StatusOK       = "ok"
	StatusRejected = "rejected"
	StatusTimeout  = "timeout"
	StatusError    = "error"
)

// CallObserver is notified once per completed Call.
type CallObserver func(method rpc.Method, status string, elapsed time.Duration)

// Client is a ClearNode websocket client.
// It implements the outbound.ClearNodeClient interface.
type Client struct {
	transport *transport
	corr      *correlator
	logger    *slog.Logger
	now       func() time.Time

	callTimeout time.Duration
	observeCall CallObserver

	tokenMu sync.RWMutex
	token   string

	evMu     sync.RWMutex
	onEvents []func(outbound.ConnectionEvent, error)
}

var _ outbound.ClearNodeClient = (*Client)(nil)

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithMaxReconnectAttempts sets how many reconnects follow an abnormal close.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.transport.maxAttempts = n
		}
	}
}

// WithReconnectDelay sets the base reconnect delay. Attempt n waits n x d.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.transport.baseDelay = d
		}
	}
}

// WithHandshakeTimeout bounds the websocket opening handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.transport.dialer.HandshakeTimeout = d
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.transport.dialer = d
		}
	}
}

// WithMaxPending bounds the pending request table.
func WithMaxPending(n int) Option {
	return func(c *Client) {
		c.corr = newCorrelator(n)
	}
}

// WithCallTimeout sets the timeout used when a Call sets none.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithCallObserver registers a per-call observer, typically metrics.
func WithCallObserver(fn CallObserver) Option {
	return func(c *Client) {
		c.observeCall = fn
	}
}

// WithClock overrides the request timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a client for the node at url. Nothing is dialed until Connect.
func NewClient(url string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		corr:        newCorrelator(DefaultMaxPending),
		logger:      logger,
		now:         time.Now,
		callTimeout: DefaultCallTimeout,
	}
	c.transport = &transport{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
			TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
		},
		logger:      logger,
		maxAttempts: DefaultMaxReconnectAttempts,
		baseDelay:   DefaultReconnectDelay,
		onFrame:     c.handleFrame,
		onEvent:     c.handleEvent,
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the websocket. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.connect(ctx)
}

// Close performs a manual close. Observers must not call it synchronously.
func (c *Client) Close() error {
	return c.transport.close()
}

// IsConnected reports whether the socket is open.
func (c *Client) IsConnected() bool {
	return c.transport.isConnected()
}

// SetToken sets the bearer token attached to outgoing requests.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

func (c *Client) currentToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// Subscribe registers fn for pushes of method.
func (c *Client) Subscribe(method rpc.Method, fn func(rpc.Inbound)) {
	c.corr.subscribe(method, fn)
}

// OnConnectionEvent registers fn for transport lifecycle events.
func (c *Client) OnConnectionEvent(fn func(outbound.ConnectionEvent, error)) {
	c.evMu.Lock()
	c.onEvents = append(c.onEvents, fn)
	c.evMu.Unlock()
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	return c.corr.inFlight()
}

// Call sends one request and waits for its response. An error frame from
// the node is returned as a *rpc.ServerError alongside the decoded message.
func (c *Client) Call(ctx context.Context, call outbound.Call) (rpc.Inbound, error) {
	start := time.Now()
	in, err := c.call(ctx, call)
	if c.observeCall != nil {
		c.observeCall(call.Method, callStatus(err), time.Since(start))
	}
	return in, err
}

func (c *Client) call(ctx context.Context, call outbound.Call) (rpc.Inbound, error) {
	if !c.transport.isConnected() {
		return rpc.Inbound{}, outbound.ErrNotConnected
	}

	id := c.corr.next()
	req := rpc.Request{
		ID:        id,
		Method:    call.Method,
		Params:    call.Params,
		Timestamp: c.now().UnixMilli(),
	}
	env := rpc.Envelope{Req: req, Token: c.currentToken()}

	if call.Signer != nil {
		payload, err := json.Marshal(req)
		if err != nil {
			return rpc.Inbound{}, fmt.Errorf("encode %s for signing: %w", call.Method, err)
		}
		sig, err := call.Signer.Sign(payload)
		if err != nil {
			return rpc.Inbound{}, fmt.Errorf("sign %s: %w", call.Method, err)
		}
		env.Sig = []string{sig}
	}

	data, err := rpc.EncodeEnvelope(env)
	if err != nil {
		return rpc.Inbound{}, fmt.Errorf("encode %s: %w", call.Method, err)
	}

	p, err := c.corr.register(id, call.Method)
	if err != nil {
		return rpc.Inbound{}, err
	}
	if err := c.transport.send(data); err != nil {
		c.corr.take(id)
		return rpc.Inbound{}, err
	}
	c.logger.Debug("request sent", "id", id, "method", call.Method)

	timeout := call.Timeout
	if timeout <= 0 {
		timeout = c.callTimeout
	}
	return c.corr.wait(ctx, id, p, timeout)
}

func (c *Client) handleFrame(data []byte) {
	in, err := rpc.DecodeInbound(data)
	if err != nil {
		// A bad payload for a pending id fails that request now rather
		// than leaving it to time out.
		if in.ID != 0 && !in.Method.IsPush() && c.corr.resolve(in.ID, result{msg: in, err: err}) {
			c.logger.Warn("rejected response", "id", in.ID, "method", in.Method, "error", err)
			return
		}
		c.logger.Warn("dropping inbound frame", "error", err)
		return
	}

	if !c.corr.dispatch(in) {
		c.logger.Debug("unmatched inbound message", "message", in.String())
	}
}

func (c *Client) handleEvent(ev outbound.ConnectionEvent, err error) {
	switch ev {
	case outbound.EventLost:
		if n := c.corr.failAll(err); n > 0 {
			c.logger.Warn("failed pending requests", "count", n, "reason", ev)
		}
	case outbound.EventClosed, outbound.EventExhausted:
		c.corr.failAll(outbound.ErrNotConnected)
	}

	c.evMu.RLock()
	fns := c.onEvents
	c.evMu.RUnlock()
	for _, fn := range fns {
		fn(ev, err)
	}
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, rpc.ErrServerRejected):
		return StatusRejected
	case errors.Is(err, outbound.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusError
	}
}
