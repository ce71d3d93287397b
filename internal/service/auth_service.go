// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tollgate-labs/tollgate/internal/domain/signing"
	"github.com/tollgate-labs/tollgate/internal/port/outbound"
	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

// AuthState is the state of the authentication state machine.
type AuthState int

const (
	StateDisconnected AuthState = iota
	StateConnecting
	StateAwaitingChallenge
	StateAwaitingVerify
	StateAuthenticated
	StateError
)

// String returns the state name.
func (s AuthState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateAwaitingVerify:
		return "awaiting_verify"
	case StateAuthenticated:
		return "authenticated"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// inFlight reports whether an attempt is between start and a terminal outcome.
func (s AuthState) inFlight() bool {
	return s == StateConnecting || s == StateAwaitingChallenge || s == StateAwaitingVerify
}

// ResumePolicy decides what happens to a bearer token after an automatic reconnect.
type ResumePolicy string

const (
	// ResumeRevalidate sends auth_verify with the JWT and falls back to a
	// full handshake if the node rejects it.
	ResumeRevalidate ResumePolicy = "revalidate"
	// ResumeOptimistic keeps using the token without asking the node.
	ResumeOptimistic ResumePolicy = "optimistic"
	// ResumeReauth always runs a full handshake with a fresh session key.
	ResumeReauth ResumePolicy = "reauth"
)

// ParseResumePolicy parses a configured policy. Empty means ResumeRevalidate.
func ParseResumePolicy(s string) (ResumePolicy, error) {
	switch p := ResumePolicy(s); p {
	case "":
		return ResumeRevalidate, nil
	case ResumeRevalidate, ResumeOptimistic, ResumeReauth:
		return p, nil
	default:
		return "", fmt.Errorf("unknown resume policy %q", s)
	}
}

// AuthConfig configures the AuthService.
type AuthConfig struct {
	// Application is sent in auth_request and is the EIP-712 domain name.
	Application string
	Scope       string
	// Expiry is added to the current time to form expires_at.
	Expiry     time.Duration
	Allowances []rpc.Allowance
	// Timeout bounds a whole handshake. Default: 60s.
	Timeout time.Duration
	// QueryTimeout bounds the JWT revalidation call. Default: 10s.
	QueryTimeout time.Duration
	Resume       ResumePolicy
	Now          func() time.Time
}

func (c *AuthConfig) setDefaults() {
	if c.Application == "" {
		c.Application = "clearnode"
	}
	if c.Scope == "" {
		c.Scope = "console"
	}
	if c.Expiry <= 0 {
		c.Expiry = 24 * time.Hour
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.Resume == "" {
		c.Resume = ResumeRevalidate
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// AuthService runs the challenge/response handshake with the node and owns
// the resulting auth context: wallet, session key, and bearer token.
// Only one attempt is live at a time; starting another tears down the first.
type AuthService struct {
	client   outbound.ClearNodeClient
	cfg      AuthConfig
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer

	mu            sync.Mutex
	state         AuthState
	gen           uint64
	cancelAttempt context.CancelFunc
	wallet        outbound.WalletSigner
	account       string
	sessionKey    *signing.SessionKey
	token         string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAuthService creates an AuthService and subscribes it to the client's
// connection events.
func NewAuthService(client outbound.ClearNodeClient, cfg AuthConfig, logger *slog.Logger, opts ...ServiceOption) *AuthService {
	cfg.setDefaults()
	o := applyOptions(opts)

	ctx, cancel := context.WithCancel(context.Background())
	a := &AuthService{
		client:   client,
		cfg:      cfg,
		logger:   logger.With("component", "auth"),
		recorder: o.recorder,
		tracer:   o.tracer,
		ctx:      ctx,
		cancel:   cancel,
	}
	client.OnConnectionEvent(a.handleConnectionEvent)
	return a
}

// State returns the current state.
func (a *AuthService) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// IsAuthenticated reports whether a bearer token is held.
func (a *AuthService) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateAuthenticated && a.token != ""
}

// Account returns the checksummed wallet address of the auth context.
func (a *AuthService) Account() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.account
}

// SessionKey returns the session key of the auth context, or nil.
func (a *AuthService) SessionKey() *signing.SessionKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionKey
}

// Token returns the bearer token, or "".
func (a *AuthService) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// Authenticate connects if needed and runs auth_request, wallet signature,
// and auth_verify. It fails with ErrAuthTimeout after the configured timeout,
// leaving the state Disconnected.
func (a *AuthService) Authenticate(ctx context.Context, wallet outbound.WalletSigner) (err error) {
	ctx, span := a.tracer.Start(ctx, "auth.Authenticate")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	address, err := signing.NormalizeAddress(wallet.Address())
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("wallet", address))

	a.mu.Lock()
	teardown := a.state.inFlight()
	if a.cancelAttempt != nil {
		a.cancelAttempt()
	}
	a.mu.Unlock()
	if teardown {
		a.logger.Warn("tearing down previous authentication attempt")
		_ = a.client.Close()
	}

	gen, attemptCtx, cancel := a.beginAttempt(ctx)
	defer cancel()

	err = a.handshake(attemptCtx, gen, wallet, address)
	if err == nil {
		return nil
	}

	timedOut := ctx.Err() == nil &&
		(errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, outbound.ErrRequestTimeout))
	if timedOut {
		err = fmt.Errorf("%w after %s: %v", ErrAuthTimeout, a.cfg.Timeout, err)
	}
	if !a.fail(gen, timedOut) {
		return fmt.Errorf("%w: %v", ErrAuthSuperseded, err)
	}
	a.logger.Error("authentication failed", "wallet", address, "error", err)
	return err
}

func (a *AuthService) beginAttempt(ctx context.Context) (uint64, context.Context, context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.gen++
	attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	a.cancelAttempt = cancel
	a.clearLocked()
	return a.gen, attemptCtx, cancel
}

func (a *AuthService) handshake(ctx context.Context, gen uint64, wallet outbound.WalletSigner, address string) error {
	if !a.client.IsConnected() {
		if !a.transition(gen, StateConnecting, nil) {
			return ErrAuthSuperseded
		}
		if err := a.client.Connect(ctx); err != nil {
			return err
		}
	}

	key, err := signing.NewSessionKey()
	if err != nil {
		return err
	}
	allowances := make([]rpc.Allowance, len(a.cfg.Allowances))
	copy(allowances, a.cfg.Allowances)
	expiresAt := uint64(a.cfg.Now().Add(a.cfg.Expiry).Unix())

	ok := a.transition(gen, StateAwaitingChallenge, func() {
		a.wallet = wallet
		a.account = address
		a.sessionKey = key
	})
	if !ok {
		return ErrAuthSuperseded
	}

	in, err := a.client.Call(ctx, outbound.Call{
		Method: rpc.MethodAuthRequest,
		Params: rpc.AuthRequestParams{
			Address:     address,
			SessionKey:  key.Address(),
			Application: a.cfg.Application,
			Allowances:  allowances,
			ExpiresAt:   expiresAt,
			Scope:       a.cfg.Scope,
		},
		Timeout: a.cfg.Timeout,
	})
	if err != nil {
		return serverRejection(err)
	}
	if in.Challenge == nil {
		return fmt.Errorf("%w: expected %s, got %s", ErrAuthServerRejected, rpc.MethodAuthChallenge, in.Method)
	}

	sig, err := wallet.SignPolicy(ctx, signing.Policy{
		Application: a.cfg.Application,
		Challenge:   in.Challenge.ChallengeMessage,
		Scope:       a.cfg.Scope,
		Wallet:      address,
		SessionKey:  key.Address(),
		ExpiresAt:   expiresAt,
		Allowances:  allowances,
	})
	if err != nil {
		return err
	}

	if !a.transition(gen, StateAwaitingVerify, nil) {
		return ErrAuthSuperseded
	}
	in, err = a.client.Call(ctx, outbound.Call{
		Method:  rpc.MethodAuthVerify,
		Params:  rpc.AuthVerifyParams{Challenge: in.Challenge.ChallengeMessage},
		Signer:  outbound.SignerFunc(func([]byte) (string, error) { return sig, nil }),
		Timeout: a.cfg.Timeout,
	})
	if err != nil {
		return serverRejection(err)
	}
	if in.Verify == nil || !in.Verify.Success || in.Verify.JWTToken == "" {
		return fmt.Errorf("%w: verification unsuccessful", ErrAuthServerRejected)
	}

	token := in.Verify.JWTToken
	ok = a.transition(gen, StateAuthenticated, func() {
		a.token = token
		a.cancelAttempt = nil
		a.client.SetToken(token)
	})
	if !ok {
		return ErrAuthSuperseded
	}
	a.logger.Info("authenticated", "wallet", address, "session_key", key.Address())
	return nil
}

// transition moves to next and runs apply under the lock, but only while
// gen is still the live attempt.
func (a *AuthService) transition(gen uint64, next AuthState, apply func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.gen {
		return false
	}
	if apply != nil {
		apply()
	}
	if a.state != next {
		a.logger.Debug("auth state", "from", a.state, "to", next)
		a.state = next
	}
	return true
}

// fail clears the auth context of attempt gen. A timeout returns to
// Disconnected; anything else lands in Error.
func (a *AuthService) fail(gen uint64, timedOut bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.gen {
		return false
	}
	a.clearLocked()
	a.cancelAttempt = nil
	if !timedOut {
		a.state = StateError
	}
	return true
}

// clearLocked drops the auth context. Caller holds a.mu.
func (a *AuthService) clearLocked() {
	a.wallet = nil
	a.account = ""
	a.sessionKey = nil
	a.token = ""
	a.state = StateDisconnected
	a.client.SetToken("")
}

// Disconnect cancels any attempt, clears the auth context, and closes the
// connection without reconnecting.
func (a *AuthService) Disconnect() error {
	a.mu.Lock()
	a.gen++
	if a.cancelAttempt != nil {
		a.cancelAttempt()
		a.cancelAttempt = nil
	}
	a.clearLocked()
	a.mu.Unlock()

	return a.client.Close()
}

// Close stops background resume work. It does not close the client.
func (a *AuthService) Close() {
	a.cancel()
	a.wg.Wait()
}

func (a *AuthService) handleConnectionEvent(ev outbound.ConnectionEvent, err error) {
	switch ev {
	case outbound.EventLost:
		a.logger.Warn("connection lost, keeping auth context for reconnect", "error", err)
		a.recorder.Reconnect(OutcomeLost)
	case outbound.EventReconnected:
		a.recorder.Reconnect(OutcomeReconnected)
		a.resume()
	case outbound.EventExhausted:
		a.recorder.Reconnect(OutcomeExhausted)
		a.reset("reconnect attempts exhausted")
	case outbound.EventClosed:
		a.reset("connection closed")
	}
}

// reset clears an established auth context after the connection is gone
// for good. In-flight attempts fail on their own calls.
func (a *AuthService) reset(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.inFlight() {
		return
	}
	if a.token != "" {
		a.logger.Warn("clearing authentication", "reason", reason)
	}
	a.clearLocked()
}

// resume applies the resume policy after an automatic reconnect.
func (a *AuthService) resume() {
	a.mu.Lock()
	gen, token, wallet := a.gen, a.token, a.wallet
	authed := a.state == StateAuthenticated
	a.mu.Unlock()

	if !authed || token == "" || wallet == nil {
		return
	}
	if a.cfg.Resume == ResumeOptimistic {
		a.logger.Info("resuming with existing token")
		a.recorder.Reconnect(OutcomeResumed)
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		if a.cfg.Resume == ResumeRevalidate {
			err := a.revalidate(gen, token)
			if err == nil {
				a.logger.Info("token revalidated after reconnect")
				a.recorder.Reconnect(OutcomeResumed)
				return
			}
			if errors.Is(err, ErrAuthSuperseded) || a.ctx.Err() != nil {
				return
			}
			a.logger.Warn("token revalidation failed, re-authenticating", "error", err)
		}

		if err := a.Authenticate(a.ctx, wallet); err != nil {
			a.logger.Error("re-authentication after reconnect failed", "error", err)
			return
		}
		a.recorder.Reconnect(OutcomeReauthed)
	}()
}

func (a *AuthService) revalidate(gen uint64, token string) error {
	in, err := a.client.Call(a.ctx, outbound.Call{
		Method:  rpc.MethodAuthVerify,
		Params:  rpc.AuthVerifyParams{JWT: token},
		Timeout: a.cfg.QueryTimeout,
	})
	if err != nil {
		return serverRejection(err)
	}
	if in.Verify == nil || !in.Verify.Success {
		return fmt.Errorf("%w: token not accepted", ErrAuthServerRejected)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen || a.state != StateAuthenticated {
		return ErrAuthSuperseded
	}
	if jwt := in.Verify.JWTToken; jwt != "" && jwt != a.token {
		a.token = jwt
		a.client.SetToken(jwt)
	}
	return nil
}

func serverRejection(err error) error {
	if errors.Is(err, rpc.ErrServerRejected) {
		return fmt.Errorf("%w: %w", ErrAuthServerRejected, err)
	}
	return err
}
