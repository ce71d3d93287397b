package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	tghttp "github.com/tollgate-labs/tollgate/internal/adapter/inbound/http"
	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/clearnode"
	"github.com/tollgate-labs/tollgate/internal/config"
	"github.com/tollgate-labs/tollgate/internal/domain/ratelimit"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Connect, open a session and serve the HTTP API",
	Long: `Start the tollgate client.

The client connects to the configured ClearNode, authenticates the wallet
from TOLLGATE_WALLET_PRIVATE_KEY, opens a session funded with
toll.default_deposit and serves the toll API on server.http_addr.

On SIGINT or SIGTERM the session is closed and its final balance logged.

Examples:
  # Start with config file settings
  tollgate start

  # Start with verbose logging
  tollgate start --dev

  # Start with a specific config file
  tollgate --config /path/to/tollgate.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireWallet(); err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if cfg.Telemetry.Tracing {
		shutdownTracing, err := setupTracing(os.Stderr)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(flushCtx)
		}()
	}

	// Write PID file so "tollgate stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("tollgate stopped")
	return nil
}

// run wires the stack, opens the session and serves until ctx is done.
func run(ctx context.Context, cfg *config.TollgateConfig, logger *slog.Logger) error {
	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		st.shutdown(closeCtx)
	}()

	if _, err := st.connect(ctx); err != nil {
		return err
	}

	server := newServer(cfg, st, logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// newServer builds the HTTP surface over a wired stack.
func newServer(cfg *config.TollgateConfig, st *stack, logger *slog.Logger) *tghttp.Server {
	threshold, err := decimal.NewFromString(cfg.Toll.LowBalanceThreshold)
	if err != nil {
		threshold = decimal.NewFromInt(10)
	}
	gas, err := decimal.NewFromString(cfg.Toll.GasSavedPerToll)
	if err != nil {
		gas = decimal.Zero
	}

	api := tghttp.NewAPI(st.tolls,
		tghttp.WithCatalog(st.catalog),
		tghttp.WithGasPerToll(gas),
		tghttp.WithLowBalanceThreshold(threshold),
	)
	health := tghttp.NewHealthChecker(st.tolls, st.memSessions, &tghttp.PendingGauge{
		Depth:    st.client.Pending,
		Capacity: clearnode.DefaultMaxPending,
	}, Version)

	opts := []tghttp.Option{
		tghttp.WithAddr(cfg.Server.HTTPAddr),
		tghttp.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		tghttp.WithBearerToken(cfg.Server.APIToken),
		tghttp.WithBearerTokenHash(cfg.Server.APITokenHash),
		tghttp.WithLogger(logger),
		tghttp.WithHealthChecker(health),
		tghttp.WithGatherer(st.registry),
	}
	if cfg.Server.PayRateLimit > 0 {
		opts = append(opts, tghttp.WithPayRateLimit(st.limiter, ratelimit.Config{
			Rate:   cfg.Server.PayRateLimit,
			Burst:  cfg.Server.PayBurst,
			Period: time.Minute,
		}))
	}
	if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
		opts = append(opts, tghttp.WithTLS(cfg.Server.TLSCert, cfg.Server.TLSKey))
	}
	return tghttp.NewServer(api, st.metrics, opts...)
}

// loadConfig loads configuration, applies the --dev flag and validates.
func loadConfig() (*config.TollgateConfig, error) {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger logs to stderr; stdout is kept for command output.
func newLogger(cfg *config.TollgateConfig) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", level.String())
	return logger
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pidFilePath returns the path of the running server's PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".tollgate", "server.pid")
	}
	return filepath.Join(os.TempDir(), "tollgate-server.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
