package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	tghttp "github.com/tollgate-labs/tollgate/internal/adapter/inbound/http"
	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/clearnode"
	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/memory"
	redisstore "github.com/tollgate-labs/tollgate/internal/adapter/outbound/redis"
	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/sqlite"
	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/state"
	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/wallet"
	"github.com/tollgate-labs/tollgate/internal/config"
	"github.com/tollgate-labs/tollgate/internal/domain/session"
	"github.com/tollgate-labs/tollgate/internal/domain/toll"
	"github.com/tollgate-labs/tollgate/internal/service"
	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

// stack is the wired client: node connection, services and stores.
type stack struct {
	cfg      *config.TollgateConfig
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *tghttp.Metrics
	client   *clearnode.Client
	auth     *service.AuthService
	tolls    *service.TollService
	stats    *service.StatsService
	catalog  *toll.Catalog
	wallet   *wallet.KeySigner
	deposit  decimal.Decimal

	limiter *memory.MemoryRateLimiter

	// memSessions is set when snapshots live in memory; the health check reports its size.
	memSessions *memory.SnapshotStore

	closers []func() error
}

// buildStack wires every component from cfg. Nothing talks to the node yet.
func buildStack(ctx context.Context, cfg *config.TollgateConfig, logger *slog.Logger) (_ *stack, err error) {
	s := &stack{
		cfg:      cfg,
		logger:   logger,
		registry: tghttp.NewRegistry(),
		stats:    service.NewStatsService(),
	}
	defer func() {
		if err != nil {
			s.closeStores()
		}
	}()

	s.metrics = tghttp.NewMetrics(s.registry)

	s.limiter = memory.NewRateLimiter(logger)
	s.limiter.StartCleanup(ctx)
	s.closers = append(s.closers, func() error {
		s.limiter.Stop()
		return nil
	})

	if s.deposit, err = parseAmount("toll.default_deposit", cfg.Toll.DefaultDeposit); err != nil {
		return nil, err
	}
	gas, err := parseAmount("toll.gas_saved_per_toll", cfg.Toll.GasSavedPerToll)
	if err != nil {
		return nil, err
	}

	if s.wallet, err = wallet.NewKeySignerFromHex(cfg.Wallet.PrivateKey); err != nil {
		return nil, err
	}

	if s.catalog, err = loadCatalog(cfg.Toll.RoutesFile); err != nil {
		return nil, err
	}

	snapshots, err := s.openSessionStore(ctx)
	if err != nil {
		return nil, err
	}
	history, err := s.openHistoryStore(ctx)
	if err != nil {
		return nil, err
	}

	s.client = clearnode.NewClient(cfg.ClearNode.URL, logger,
		clearnode.WithMaxReconnectAttempts(cfg.Reconnect.MaxAttempts),
		clearnode.WithReconnectDelay(config.ParseDuration(cfg.Reconnect.BaseDelay, 2*time.Second)),
		clearnode.WithHandshakeTimeout(config.ParseDuration(cfg.ClearNode.HandshakeTimeout, 10*time.Second)),
		clearnode.WithCallTimeout(config.ParseDuration(cfg.Timeouts.Query, service.DefaultQueryTimeout)),
		clearnode.WithCallObserver(s.metrics.ObserveCall),
	)
	tghttp.RegisterPending(s.registry, s.client.Pending)

	resume, err := service.ParseResumePolicy(cfg.Reconnect.Resume)
	if err != nil {
		return nil, err
	}
	opts := []service.ServiceOption{
		service.WithRecorder(s.metrics),
		service.WithStats(s.stats),
	}

	s.auth = service.NewAuthService(s.client, service.AuthConfig{
		Application:  cfg.ClearNode.Application,
		Scope:        cfg.ClearNode.Scope,
		Expiry:       config.ParseDuration(cfg.ClearNode.AuthExpiry, 24*time.Hour),
		Allowances:   allowances(cfg.ClearNode),
		Timeout:      config.ParseDuration(cfg.Timeouts.Auth, 60*time.Second),
		QueryTimeout: config.ParseDuration(cfg.Timeouts.Query, service.DefaultQueryTimeout),
		Resume:       resume,
	}, logger, opts...)

	ledger := session.NewLedger(session.Config{
		Decimals:        cfg.ClearNode.AssetDecimals,
		GasSavedPerToll: gas,
	})

	s.tolls = service.NewTollService(s.client, s.auth, ledger, snapshots, history, service.TollConfig{
		Asset:           cfg.ClearNode.Asset,
		Authority:       cfg.Toll.Authority,
		QueryTimeout:    config.ParseDuration(cfg.Timeouts.Query, service.DefaultQueryTimeout),
		TransferTimeout: config.ParseDuration(cfg.Timeouts.Transfer, service.DefaultTransferTimeout),
		OpenSessionWait: config.ParseDuration(cfg.Timeouts.OpenSessionWait, service.DefaultOpenSessionWait),
		OpenSessionPoll: config.ParseDuration(cfg.Timeouts.OpenSessionPoll, service.DefaultOpenSessionPoll),
		Dedupe:          cfg.Toll.Dedupe,
	}, logger, opts...)

	logger.Debug("stack built",
		"node", cfg.ClearNode.URL,
		"chain_id", cfg.ClearNode.ChainID,
		"asset", cfg.ClearNode.Asset,
		"session_store", cfg.Store.Session,
		"history_store", cfg.Store.History,
		"routes", len(s.catalog.Routes()),
	)
	return s, nil
}

func (s *stack) openSessionStore(ctx context.Context) (session.SessionStore, error) {
	switch s.cfg.Store.Session {
	case "redis":
		store, err := redisstore.NewSessionStore(ctx,
			s.cfg.Store.RedisAddr, s.cfg.Store.RedisPassword, s.cfg.Store.RedisDB,
			redisstore.WithTTL(config.ParseDuration(s.cfg.Store.RedisTTL, redisstore.DefaultTTL)),
		)
		if err != nil {
			return nil, fmt.Errorf("open redis session store: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		s.logger.Info("session snapshots in redis", "addr", s.cfg.Store.RedisAddr)
		return store, nil
	case "file":
		store := state.NewFileStateStore(s.cfg.Store.StatePath, s.logger)
		if n, err := store.Prune(ctx); err != nil {
			return nil, fmt.Errorf("open state file: %w", err)
		} else if n > 0 {
			s.logger.Info("pruned expired session snapshots", "count", n)
		}
		s.logger.Info("session snapshots in file", "path", store.Path())
		return store, nil
	default:
		store := memory.NewSnapshotStore(s.logger)
		store.StartSweep(ctx)
		s.closers = append(s.closers, func() error {
			store.Stop()
			return nil
		})
		s.memSessions = store
		return store, nil
	}
}

func (s *stack) openHistoryStore(ctx context.Context) (toll.HistoryStore, error) {
	switch s.cfg.Store.History {
	case "sqlite":
		store, err := sqlite.OpenHistoryStore(ctx, s.cfg.Store.SQLitePath, s.cfg.Store.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("open sqlite history: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		s.logger.Info("toll history in sqlite", "path", s.cfg.Store.SQLitePath)
		return store, nil
	default:
		return memory.NewHistoryStore(s.cfg.Store.HistoryLimit), nil
	}
}

// connect opens the node connection, authenticates the wallet and opens a
// session funded with the configured deposit.
func (s *stack) connect(ctx context.Context) (*session.Session, error) {
	if err := s.tolls.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.cfg.ClearNode.URL, err)
	}
	if err := s.tolls.Authenticate(ctx, s.wallet); err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", s.wallet.Address(), err)
	}
	sess, err := s.tolls.OpenSession(ctx, s.wallet.Address(), s.deposit)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	s.logger.Debug("client ready", "account", s.wallet.Address(), "session_id", sess.ID)
	return sess, nil
}

// shutdown closes the live session, then releases the connection and stores.
func (s *stack) shutdown(ctx context.Context) {
	if sess := s.tolls.CurrentSession(); sess != nil && sess.IsActive() {
		res := s.tolls.CloseSession(ctx)
		if res.Err != nil {
			s.logger.Warn("close session on shutdown", "error", res.Err)
		} else {
			s.logger.Info("session closed on shutdown", "final_balance", res.FinalBalance)
		}
	}
	s.tolls.Close()
	if err := s.client.Close(); err != nil {
		s.logger.Debug("close node connection", "error", err)
	}
	s.closeStores()
}

func (s *stack) closeStores() {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("close stores", "error", err)
	}
}

// allowances builds the auth_request spending limits. An empty allowance
// requests none.
func allowances(c config.ClearNodeConfig) []rpc.Allowance {
	if strings.TrimSpace(c.Allowance) == "" {
		return nil
	}
	return []rpc.Allowance{{Asset: c.Asset, Amount: c.Allowance}}
}

func loadCatalog(path string) (*toll.Catalog, error) {
	if path == "" {
		return toll.DefaultCatalog(), nil
	}
	c, err := toll.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("load routes file: %w", err)
	}
	return c, nil
}

func parseAmount(field, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
