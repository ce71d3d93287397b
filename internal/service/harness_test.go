package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/clearnode"
	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/clearnode/clearnodetest"
	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/memory"
	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/wallet"
	"github.com/tollgate-labs/tollgate/internal/domain/session"
)

const (
	testWalletKey     = "0000000000000000000000000000000000000000000000000000000000000001"
	testWalletAddress = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
	testAsset         = "ytest.usd"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// fakeRecorder captures Recorder calls.
type fakeRecorder struct {
	mu         sync.Mutex
	reconnects map[string]int
	tolls      map[string]int
	balance    int64
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{reconnects: make(map[string]int), tolls: make(map[string]int)}
}

func (r *fakeRecorder) Reconnect(outcome string) {
	r.mu.Lock()
	r.reconnects[outcome]++
	r.mu.Unlock()
}

func (r *fakeRecorder) TollPaid(status string) {
	r.mu.Lock()
	r.tolls[status]++
	r.mu.Unlock()
}

func (r *fakeRecorder) SessionBalance(units int64) {
	r.mu.Lock()
	r.balance = units
	r.mu.Unlock()
}

func (r *fakeRecorder) reconnectCount(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnects[outcome]
}

func (r *fakeRecorder) tollCount(status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tolls[status]
}

func (r *fakeRecorder) lastBalance() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance
}

type harnessConfig struct {
	auth       AuthConfig
	toll       TollConfig
	clientOpts []clearnode.Option
}

// harness wires a TollService to a fake node over a real websocket.
type harness struct {
	srv       *clearnodetest.Server
	node      *clearnodetest.Ledger
	client    *clearnode.Client
	auth      *AuthService
	svc       *TollService
	wallet    *wallet.KeySigner
	recorder  *fakeRecorder
	snapshots *memory.SnapshotStore
	history   *memory.MemoryHistoryStore
}

func newHarness(t *testing.T, units int64, opts ...func(*harnessConfig)) *harness {
	t.Helper()

	cfg := harnessConfig{
		auth: AuthConfig{Timeout: 5 * time.Second},
		toll: TollConfig{
			OpenSessionWait: time.Second,
			OpenSessionPoll: 5 * time.Millisecond,
			SettleDelay:     time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	w, err := wallet.NewKeySignerFromHex(testWalletKey)
	if err != nil {
		t.Fatalf("NewKeySignerFromHex() error: %v", err)
	}

	srv := clearnodetest.NewServer()
	node := clearnodetest.NewLedger(srv, testAsset, units)
	clientOpts := append([]clearnode.Option{clearnode.WithReconnectDelay(10 * time.Millisecond)}, cfg.clientOpts...)
	client := clearnode.NewClient(srv.URL, testLogger(), clientOpts...)

	rec := newFakeRecorder()
	stats := NewStatsService()
	auth := NewAuthService(client, cfg.auth, testLogger(), WithRecorder(rec), WithStats(stats))
	snapshots := memory.NewSnapshotStore(testLogger())
	history := memory.NewHistoryStore()
	svc := NewTollService(client, auth, session.NewLedger(session.Config{}), snapshots, history,
		cfg.toll, testLogger(), WithRecorder(rec), WithStats(stats))

	return &harness{
		srv:       srv,
		node:      node,
		client:    client,
		auth:      auth,
		svc:       svc,
		wallet:    w,
		recorder:  rec,
		snapshots: snapshots,
		history:   history,
	}
}

func (h *harness) close() {
	h.svc.Close()
	_ = h.client.Close()
	h.srv.Close()
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	if err := h.svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := h.svc.Authenticate(context.Background(), h.wallet); err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
}

func (h *harness) open(t *testing.T, deposit string) *session.Session {
	t.Helper()
	h.login(t)
	sess, err := h.svc.OpenSession(context.Background(), testWalletAddress, decimal.RequireFromString(deposit))
	if err != nil {
		t.Fatalf("OpenSession() error: %v", err)
	}
	return sess
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
