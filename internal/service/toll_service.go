package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tollgate-labs/tollgate/internal/domain/session"
	"github.com/tollgate-labs/tollgate/internal/domain/signing"
	"github.com/tollgate-labs/tollgate/internal/domain/toll"
	"github.com/tollgate-labs/tollgate/internal/port/outbound"
	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

// Defaults for TollConfig.
const (
	DefaultAsset           = "ytest.usd"
	DefaultTollAuthority   = "0x948426aa46593681b609b896d6246eBA1C7e932D"
	DefaultQueryTimeout    = 10 * time.Second
	DefaultTransferTimeout = 30 * time.Second
	DefaultOpenSessionWait = 10 * time.Second
	DefaultOpenSessionPoll = 100 * time.Millisecond
	DefaultSettleDelay     = 100 * time.Millisecond
)

// TollConfig configures the TollService.
type TollConfig struct {
	// Asset is the settlement asset symbol.
	Asset string
	// Authority receives payments whose request names no destination.
	Authority       string
	QueryTimeout    time.Duration
	TransferTimeout time.Duration
	// OpenSessionWait bounds how long OpenSession waits for authentication.
	OpenSessionWait time.Duration
	OpenSessionPoll time.Duration
	// SettleDelay is the pause between teardown and reconnect in ConnectWithNewWallet.
	SettleDelay time.Duration
	// Dedupe rejects a second payment for the same toll within one session.
	Dedupe bool
	Now    func() time.Time
}

func (c *TollConfig) setDefaults() {
	if c.Asset == "" {
		c.Asset = DefaultAsset
	}
	if c.Authority == "" {
		c.Authority = DefaultTollAuthority
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.TransferTimeout <= 0 {
		c.TransferTimeout = DefaultTransferTimeout
	}
	if c.OpenSessionWait <= 0 {
		c.OpenSessionWait = DefaultOpenSessionWait
	}
	if c.OpenSessionPoll <= 0 {
		c.OpenSessionPoll = DefaultOpenSessionPoll
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// PayTollRequest describes one checkpoint charge. Fee is in display units.
type PayTollRequest struct {
	TollID   string
	TollName string
	Fee      decimal.Decimal
	Location toll.Location
	RoadID   string
	// Authority overrides the configured destination address.
	Authority string
}

// PayTollResult is the outcome of PayToll. Success is true only when the
// node confirmed the transfer and the session was charged.
type PayTollResult struct {
	Success         bool              `json:"success"`
	TransactionID   string            `json:"transaction_id,omitempty"`
	NewBalance      decimal.Decimal   `json:"new_balance"`
	NewBalanceUnits int64             `json:"new_balance_units"`
	Timestamp       time.Time         `json:"timestamp"`
	Transaction     *toll.Transaction `json:"transaction,omitempty"`
	Session         *session.Session  `json:"session,omitempty"`
	Err             error             `json:"-"`
}

// CloseSessionResult is the outcome of CloseSession.
type CloseSessionResult struct {
	Success           bool             `json:"success"`
	FinalBalance      decimal.Decimal  `json:"final_balance"`
	FinalBalanceUnits int64            `json:"final_balance_units"`
	TxHash            string           `json:"tx_hash,omitempty"`
	Session           *session.Session `json:"session,omitempty"`
	Err               error            `json:"-"`
}

// TollService is the client facade: it owns the session ledger and runs
// every toll payment against the node. Payments, session opens and closes
// are serialized.
type TollService struct {
	client    outbound.ClearNodeClient
	auth      *AuthService
	ledger    *session.Ledger
	snapshots session.SessionStore
	history   toll.HistoryStore
	cfg       TollConfig
	logger    *slog.Logger
	recorder  Recorder
	tracer    trace.Tracer
	stats     *StatsService

	payMu sync.Mutex
	paid  map[string]string
}

// NewTollService creates the facade and subscribes push logging.
func NewTollService(
	client outbound.ClearNodeClient,
	auth *AuthService,
	ledger *session.Ledger,
	snapshots session.SessionStore,
	history toll.HistoryStore,
	cfg TollConfig,
	logger *slog.Logger,
	opts ...ServiceOption,
) *TollService {
	cfg.setDefaults()
	o := applyOptions(opts)

	s := &TollService{
		client:    client,
		auth:      auth,
		ledger:    ledger,
		snapshots: snapshots,
		history:   history,
		cfg:       cfg,
		logger:    logger.With("component", "toll"),
		recorder:  o.recorder,
		tracer:    o.tracer,
		stats:     o.stats,
		paid:      make(map[string]string),
	}

	client.Subscribe(rpc.MethodBalanceUpdate, func(in rpc.Inbound) {
		if in.BalanceUpdate == nil {
			return
		}
		for _, b := range in.BalanceUpdate.BalanceUpdates {
			s.logger.Info("balance update", "asset", b.Asset, "amount", b.Amount)
		}
	})
	client.Subscribe(rpc.MethodTransferNotification, func(in rpc.Inbound) {
		if in.TransferNotice == nil {
			return
		}
		s.logger.Info("transfer notification", "transactions", len(in.TransferNotice.Transactions))
	})
	client.OnConnectionEvent(func(ev outbound.ConnectionEvent, _ error) {
		switch ev {
		case outbound.EventReconnected:
			s.stats.RecordReconnect()
		case outbound.EventExhausted:
			s.failSession("reconnect attempts exhausted")
		}
	})
	return s
}

// failSession moves the live session to the error state. It runs on the
// transport's event path and must not take payMu.
func (s *TollService) failSession(reason string) {
	failed := s.ledger.Fail()
	if failed == nil {
		return
	}
	if err := s.snapshots.Update(context.Background(), failed); err != nil {
		s.logger.Warn("failed to update session snapshot", "session_id", failed.ID, "error", err)
	}
	s.logger.Error("session failed", "session_id", failed.ID, "reason", reason,
		"balance", failed.Balance(s.ledger.Decimals()))
}

// Connect opens the node connection.
func (s *TollService) Connect(ctx context.Context) error {
	return s.client.Connect(ctx)
}

// Authenticate runs the wallet handshake.
func (s *TollService) Authenticate(ctx context.Context, wallet outbound.WalletSigner) error {
	return s.auth.Authenticate(ctx, wallet)
}

// IsConnected reports whether the node connection is open.
func (s *TollService) IsConnected() bool {
	return s.client.IsConnected()
}

// IsAuthenticated reports whether a bearer token is held.
func (s *TollService) IsAuthenticated() bool {
	return s.auth.IsAuthenticated()
}

// CurrentSession returns a copy of the live session, or nil.
func (s *TollService) CurrentSession() *session.Session {
	return s.ledger.Current()
}

// Decimals returns the settlement asset precision.
func (s *TollService) Decimals() int32 {
	return s.ledger.Decimals()
}

// Stats returns a snapshot of the payment counters.
func (s *TollService) Stats() Stats {
	return s.stats.GetStats()
}

// OpenSession waits for authentication, then opens a session whose balance
// is the node's ledger balance of the settlement asset, or deposit when the
// ledger reports none.
func (s *TollService) OpenSession(ctx context.Context, user string, deposit decimal.Decimal) (_ *session.Session, err error) {
	ctx, span := s.tracer.Start(ctx, "toll.OpenSession")
	defer func() { endSpan(span, err) }()

	depositUnits, err := session.ToUnits(deposit, s.ledger.Decimals())
	if err != nil {
		return nil, err
	}
	if err := s.waitForAuth(ctx); err != nil {
		return nil, err
	}
	if user == "" {
		user = s.auth.Account()
	}
	if user, err = signing.NormalizeAddress(user); err != nil {
		return nil, err
	}

	balance := depositUnits
	units, found, err := s.ledgerBalance(ctx, "")
	switch {
	case err != nil:
		s.logger.Warn("ledger balance query failed, using requested deposit", "error", err)
	case found:
		balance = units
	}

	s.payMu.Lock()
	defer s.payMu.Unlock()

	sess, err := s.ledger.Open(user, balance)
	if err != nil {
		return nil, err
	}
	clear(s.paid)
	span.SetAttributes(attribute.String("session_id", sess.ID), attribute.Int64("balance_units", balance))

	if err := s.snapshots.Create(ctx, sess); err != nil {
		s.logger.Warn("failed to store session snapshot", "session_id", sess.ID, "error", err)
	}
	s.recorder.SessionBalance(sess.CurrentBalance)
	s.logger.Info("session opened",
		"session_id", sess.ID,
		"user", user,
		"balance", sess.Balance(s.ledger.Decimals()),
		"from_ledger", found,
	)
	return sess, nil
}

// waitForAuth polls until authenticated or the wait bound passes.
func (s *TollService) waitForAuth(ctx context.Context) error {
	if s.auth.IsAuthenticated() {
		return nil
	}

	deadline := time.NewTimer(s.cfg.OpenSessionWait)
	defer deadline.Stop()
	poll := time.NewTicker(s.cfg.OpenSessionPoll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if s.auth.IsAuthenticated() {
				return nil
			}
			return fmt.Errorf("%w: not authenticated after %s", ErrAuthTimeout, s.cfg.OpenSessionWait)
		case <-poll.C:
			if s.auth.IsAuthenticated() {
				return nil
			}
		}
	}
}

// PayToll charges one checkpoint. The session is mutated only after the
// node confirms the transfer; every failure leaves it untouched.
func (s *TollService) PayToll(ctx context.Context, req PayTollRequest) PayTollResult {
	ctx, span := s.tracer.Start(ctx, "toll.PayToll", trace.WithAttributes(
		attribute.String("toll_id", req.TollID),
		attribute.String("fee", req.Fee.String()),
	))

	s.payMu.Lock()
	res := s.payToll(ctx, req)
	s.payMu.Unlock()

	status := tollStatus(res.Err)
	s.recorder.TollPaid(status)
	s.stats.RecordToll(status)
	endSpan(span, res.Err)

	logger := loggerFromContext(ctx, s.logger)
	if res.Err != nil {
		logger.Warn("toll payment failed", "toll_id", req.TollID, "status", status, "error", res.Err)
		return res
	}
	s.stats.RecordRoad(req.RoadID)
	s.recorder.SessionBalance(res.NewBalanceUnits)
	logger.Info("toll paid",
		"toll_id", req.TollID,
		"name", req.TollName,
		"fee", req.Fee,
		"transaction_id", res.TransactionID,
		"balance", res.NewBalance,
	)
	return res
}

// payToll runs the payment with s.payMu held.
func (s *TollService) payToll(ctx context.Context, req PayTollRequest) PayTollResult {
	decimals := s.ledger.Decimals()
	now := s.cfg.Now().UTC()
	res := PayTollResult{Timestamp: now}

	current := s.ledger.Current()
	if !current.IsActive() {
		res.Err = session.ErrNoActiveSession
		return res
	}
	res.NewBalanceUnits = current.CurrentBalance
	res.NewBalance = current.Balance(decimals)

	feeUnits, err := session.ToUnits(req.Fee, decimals)
	if err != nil {
		res.Err = err
		return res
	}
	sess, err := s.ledger.CheckFunds(feeUnits)
	if err != nil {
		res.Err = err
		return res
	}
	if !s.auth.IsAuthenticated() {
		res.Err = ErrNotAuthenticated
		return res
	}
	if s.cfg.Dedupe {
		if txID, ok := s.paid[dedupeKey(sess.ID, req.TollID)]; ok {
			res.TransactionID = txID
			res.Err = fmt.Errorf("%w: %s", ErrDuplicateToll, req.TollID)
			return res
		}
	}

	authority := req.Authority
	if authority == "" {
		authority = s.cfg.Authority
	}
	destination, err := signing.NormalizeAddress(authority)
	if err != nil {
		res.Err = err
		return res
	}

	res.TransactionID = fmt.Sprintf("tx_%d_%s", now.UnixMilli(), req.TollID)

	// Once the transfer is on the wire only TransferTimeout or a lost
	// connection ends the wait; a late confirmation still charges the session.
	ctx = context.WithoutCancel(ctx)

	if err := s.transfer(ctx, destination, feeUnits); err != nil {
		res.Err = err
		return res
	}

	charged, err := s.ledger.ApplyToll(sess.ID, feeUnits)
	if err != nil {
		// The node moved the funds but the session changed underneath.
		s.logger.Error("transfer confirmed but session not charged",
			"session_id", sess.ID, "transaction_id", res.TransactionID, "error", err)
		res.Err = err
		return res
	}

	tx := toll.Transaction{
		ID:        res.TransactionID,
		SessionID: charged.ID,
		TollID:    req.TollID,
		Name:      req.TollName,
		Fee:       session.FromUnits(feeUnits, decimals),
		Timestamp: now,
		Location:  req.Location,
		RoadID:    req.RoadID,
		Settled:   true,
	}
	if err := s.history.Append(ctx, tx); err != nil {
		s.logger.Warn("failed to record transaction", "transaction_id", tx.ID, "error", err)
	}
	if err := s.snapshots.Update(ctx, charged); err != nil {
		s.logger.Warn("failed to update session snapshot", "session_id", charged.ID, "error", err)
	}
	if s.cfg.Dedupe {
		s.paid[dedupeKey(charged.ID, req.TollID)] = tx.ID
	}

	res.Success = true
	res.NewBalanceUnits = charged.CurrentBalance
	res.NewBalance = charged.Balance(decimals)
	res.Transaction = &tx
	res.Session = charged
	return res
}

// transfer sends the signed transfer and waits for confirmation.
func (s *TollService) transfer(ctx context.Context, destination string, units int64) error {
	in, err := s.client.Call(ctx, outbound.Call{
		Method: rpc.MethodTransfer,
		Params: rpc.TransferParams{
			Destination: destination,
			Allocations: []rpc.TransferAllocation{
				{Asset: s.cfg.Asset, Amount: decimal.NewFromInt(units)},
			},
		},
		Signer:  s.auth.SessionKey(),
		Timeout: s.cfg.TransferTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if in.Transfer == nil {
		return fmt.Errorf("%w: unexpected %s response", ErrTransferFailed, in.Method)
	}
	return nil
}

// CloseSession marks the session closed and reports the final balance,
// re-read from the node when authenticated. It moves no funds.
func (s *TollService) CloseSession(ctx context.Context) (res CloseSessionResult) {
	ctx, span := s.tracer.Start(ctx, "toll.CloseSession")
	defer func() { endSpan(span, res.Err) }()

	s.payMu.Lock()
	defer s.payMu.Unlock()

	current := s.ledger.Current()
	if !current.IsActive() {
		res.Err = session.ErrNoActiveSession
		return res
	}

	final := current.CurrentBalance
	if s.auth.IsAuthenticated() {
		units, found, err := s.ledgerBalance(ctx, "")
		switch {
		case err != nil:
			s.logger.Warn("could not verify final balance", "error", err)
		case found:
			final = units
		}
	}

	closed, err := s.ledger.Close()
	if err != nil {
		res.Err = err
		return res
	}
	if err := s.snapshots.Update(ctx, closed); err != nil {
		s.logger.Warn("failed to update session snapshot", "session_id", closed.ID, "error", err)
	}
	clear(s.paid)

	s.recorder.SessionBalance(final)
	loggerFromContext(ctx, s.logger).Info("session closed",
		"session_id", closed.ID,
		"tolls_paid", closed.TollsPaid,
		"final_balance", session.FromUnits(final, s.ledger.Decimals()),
	)

	res.Success = true
	res.FinalBalanceUnits = final
	res.FinalBalance = session.FromUnits(final, s.ledger.Decimals())
	res.Session = closed
	return res
}

// History returns up to limit transactions of the current session, newest first.
func (s *TollService) History(ctx context.Context, limit int) ([]toll.Transaction, error) {
	current := s.ledger.Current()
	if current == nil {
		return nil, session.ErrNoActiveSession
	}
	return s.history.Recent(ctx, current.ID, limit)
}

// GetBalanceForAddress queries the node for an account's balances.
func (s *TollService) GetBalanceForAddress(ctx context.Context, address string) (rpc.LedgerBalances, error) {
	account, err := signing.NormalizeAddress(address)
	if err != nil {
		return rpc.LedgerBalances{}, err
	}
	if !s.client.IsConnected() {
		return rpc.LedgerBalances{}, outbound.ErrNotConnected
	}
	if !s.auth.IsAuthenticated() {
		return rpc.LedgerBalances{}, ErrNotAuthenticated
	}
	return s.ledgerBalances(ctx, account)
}

// OnBalanceUpdate registers fn for "bu" pushes.
func (s *TollService) OnBalanceUpdate(fn func(rpc.BalanceUpdate)) {
	s.client.Subscribe(rpc.MethodBalanceUpdate, func(in rpc.Inbound) {
		if in.BalanceUpdate != nil {
			fn(*in.BalanceUpdate)
		}
	})
}

// OnTransfer registers fn for "tr" pushes.
func (s *TollService) OnTransfer(fn func(rpc.TransferNotification)) {
	s.client.Subscribe(rpc.MethodTransferNotification, func(in rpc.Inbound) {
		if in.TransferNotice != nil {
			fn(*in.TransferNotice)
		}
	})
}

// DisconnectAndClearSession drops the auth context, closes the connection
// without reconnecting and clears the session. Closing first fails any
// in-flight transfer at once, so payMu is free by the time the ledger is
// cleared.
func (s *TollService) DisconnectAndClearSession() error {
	err := s.auth.Disconnect()

	s.payMu.Lock()
	s.ledger.Clear()
	clear(s.paid)
	s.payMu.Unlock()

	s.recorder.SessionBalance(0)
	s.logger.Info("disconnected and cleared session")
	return err
}

// ConnectWithNewWallet tears everything down, waits briefly, then connects
// and authenticates with wallet.
func (s *TollService) ConnectWithNewWallet(ctx context.Context, wallet outbound.WalletSigner) error {
	if err := s.DisconnectAndClearSession(); err != nil {
		s.logger.Debug("close before wallet switch", "error", err)
	}

	if s.cfg.SettleDelay > 0 {
		t := time.NewTimer(s.cfg.SettleDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Authenticate(ctx, wallet)
}

// Close stops background auth work.
func (s *TollService) Close() {
	s.auth.Close()
}

// ledgerBalance returns the settlement asset balance in smallest units.
func (s *TollService) ledgerBalance(ctx context.Context, account string) (int64, bool, error) {
	balances, err := s.ledgerBalances(ctx, account)
	if err != nil {
		return 0, false, err
	}
	b, ok := balances.Find(s.cfg.Asset)
	if !ok {
		return 0, false, nil
	}
	if b.Amount.IsNegative() || !b.Amount.IsInteger() || !b.Amount.BigInt().IsInt64() {
		return 0, false, fmt.Errorf("%w: ledger balance %s", session.ErrInvalidAmount, b.Amount)
	}
	return b.Amount.IntPart(), true, nil
}

func (s *TollService) ledgerBalances(ctx context.Context, account string) (rpc.LedgerBalances, error) {
	in, err := s.client.Call(ctx, outbound.Call{
		Method:  rpc.MethodGetLedgerBalances,
		Params:  rpc.LedgerBalancesParams{AccountID: account},
		Timeout: s.cfg.QueryTimeout,
	})
	if err != nil {
		return rpc.LedgerBalances{}, err
	}
	if in.Balances == nil {
		return rpc.LedgerBalances{}, fmt.Errorf("unexpected %s response to %s", in.Method, rpc.MethodGetLedgerBalances)
	}
	return *in.Balances, nil
}

func dedupeKey(sessionID, tollID string) string {
	return sessionID + "/" + tollID
}

func tollStatus(err error) string {
	switch {
	case err == nil:
		return TollStatusPaid
	case errors.Is(err, ErrDuplicateToll):
		return TollStatusDuplicate
	case errors.Is(err, session.ErrInsufficientBalance):
		return TollStatusInsufficient
	case errors.Is(err, rpc.ErrServerRejected):
		return TollStatusRejected
	default:
		return TollStatusFailed
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
