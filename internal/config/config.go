// Package config provides configuration types for tollgate.
//
// Configuration comes from a YAML file, TOLLGATE_* environment variables
// and a .env file, in increasing order of precedence for the environment.
// The wallet private key is expected from the environment
// (TOLLGATE_WALLET_PRIVATE_KEY) rather than the file.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// TollgateConfig is the top-level configuration.
type TollgateConfig struct {
	// ClearNode configures the node connection and the auth request.
	ClearNode ClearNodeConfig `yaml:"clearnode" mapstructure:"clearnode"`

	// Reconnect configures recovery after an abnormal close.
	Reconnect ReconnectConfig `yaml:"reconnect" mapstructure:"reconnect"`

	Timeouts TimeoutsConfig `yaml:"timeouts" mapstructure:"timeouts"`

	// Wallet holds the signing key of the paying account.
	Wallet WalletConfig `yaml:"wallet" mapstructure:"wallet"`

	// Toll configures payments and the route catalog.
	Toll TollConfig `yaml:"toll" mapstructure:"toll"`

	// Store selects the snapshot and history backends.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ClearNodeConfig configures the node endpoint and authentication request.
type ClearNodeConfig struct {
	// URL is the websocket endpoint (ws:// or wss://).
	// Defaults to the sandbox node.
	URL string `yaml:"url" mapstructure:"url" validate:"required,ws_url"`

	// ChainID is the EIP-712 domain chain id.
	ChainID int64 `yaml:"chain_id" mapstructure:"chain_id" validate:"min=1"`

	// Application is the application tag sent in auth_request.
	Application string `yaml:"application" mapstructure:"application" validate:"required"`

	Scope string `yaml:"scope" mapstructure:"scope" validate:"required"`

	// Asset is the settlement asset symbol.
	Asset string `yaml:"asset" mapstructure:"asset" validate:"required"`

	// AssetDecimals is the fixed number of decimals of Asset.
	AssetDecimals int32 `yaml:"asset_decimals" mapstructure:"asset_decimals" validate:"min=0,max=18"`

	// AuthExpiry is how long the requested session key stays valid (e.g., "24h").
	AuthExpiry string `yaml:"auth_expiry" mapstructure:"auth_expiry" validate:"required,duration"`

	HandshakeTimeout string `yaml:"handshake_timeout" mapstructure:"handshake_timeout" validate:"required,duration"`

	// Allowance is an optional spending limit in display units requested
	// for Asset. Empty requests no allowances.
	Allowance string `yaml:"allowance" mapstructure:"allowance" validate:"omitempty,decimal"`
}

// ReconnectConfig configures recovery after an abnormal close.
type ReconnectConfig struct {
	// MaxAttempts is the number of reconnects before giving up.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=0"`

	// BaseDelay is multiplied by the attempt number (e.g., "2s").
	BaseDelay string `yaml:"base_delay" mapstructure:"base_delay" validate:"required,duration"`

	// Resume selects how authentication is restored after a reconnect.
	// Valid values: "revalidate", "optimistic", "reauth".
	Resume string `yaml:"resume" mapstructure:"resume" validate:"omitempty,oneof=revalidate optimistic reauth"`
}

// TimeoutsConfig bounds the node round trips.
type TimeoutsConfig struct {
	Auth            string `yaml:"auth" mapstructure:"auth" validate:"required,duration"`
	Query           string `yaml:"query" mapstructure:"query" validate:"required,duration"`
	Transfer        string `yaml:"transfer" mapstructure:"transfer" validate:"required,duration"`
	OpenSessionWait string `yaml:"open_session_wait" mapstructure:"open_session_wait" validate:"required,duration"`
	OpenSessionPoll string `yaml:"open_session_poll" mapstructure:"open_session_poll" validate:"required,duration"`
}

// WalletConfig holds the paying account key.
type WalletConfig struct {
	// PrivateKey is the hex secp256k1 key, with or without 0x.
	// Optional for commands that do not talk to the node.
	PrivateKey string `yaml:"private_key" mapstructure:"private_key" validate:"omitempty,private_key"`
}

// TollConfig configures payments and the route catalog.
type TollConfig struct {
	// Authority receives toll payments.
	Authority string `yaml:"authority" mapstructure:"authority" validate:"required,eth_addr"`

	// DefaultDeposit is the session deposit in display units.
	DefaultDeposit string `yaml:"default_deposit" mapstructure:"default_deposit" validate:"required,decimal"`

	// LowBalanceThreshold flags sessions below this display balance.
	LowBalanceThreshold string `yaml:"low_balance_threshold" mapstructure:"low_balance_threshold" validate:"required,decimal"`

	GasSavedPerToll string `yaml:"gas_saved_per_toll" mapstructure:"gas_saved_per_toll" validate:"required,decimal"`

	// Dedupe rejects a second payment of the same toll within a session.
	Dedupe bool `yaml:"dedupe" mapstructure:"dedupe"`

	// RoutesFile is an optional YAML route catalog replacing the built-in routes.
	RoutesFile string `yaml:"routes_file" mapstructure:"routes_file" validate:"omitempty,file"`

	SimulationInterval string `yaml:"simulation_interval" mapstructure:"simulation_interval" validate:"required,duration"`
}

// StoreConfig selects the snapshot and history backends.
type StoreConfig struct {
	// Session is the snapshot backend: "memory", "redis" or "file".
	Session string `yaml:"session" mapstructure:"session" validate:"required,oneof=memory redis file"`

	// StatePath is the snapshot file used when Session is "file".
	StatePath string `yaml:"state_path" mapstructure:"state_path"`

	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db" validate:"min=0"`
	RedisTTL      string `yaml:"redis_ttl" mapstructure:"redis_ttl" validate:"required,duration"`

	// History is the transaction history backend: "memory" or "sqlite".
	History string `yaml:"history" mapstructure:"history" validate:"required,oneof=memory sqlite"`

	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`

	// HistoryLimit is how many transactions are kept per session.
	HistoryLimit int `yaml:"history_limit" mapstructure:"history_limit" validate:"min=1"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8090", "0.0.0.0:8090").
	// Defaults to "127.0.0.1:8090" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AllowedOrigins lists browser origins allowed to call the API.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,url"`

	// APIToken, when set, is required as a bearer token on /v1 routes.
	APIToken string `yaml:"api_token" mapstructure:"api_token"`

	// APITokenHash is an argon2id hash of the bearer token, as printed by
	// "tollgate hash-token". Use it instead of APIToken to keep the token
	// itself out of the config file.
	APITokenHash string `yaml:"api_token_hash" mapstructure:"api_token_hash" validate:"omitempty,argon2id_hash"`

	// PayRateLimit is the number of toll payments one client IP may make
	// per minute. 0 disables the limit.
	PayRateLimit int `yaml:"pay_rate_limit" mapstructure:"pay_rate_limit" validate:"min=0"`
	PayBurst     int `yaml:"pay_burst" mapstructure:"pay_burst" validate:"min=0"`

	TLSCert string `yaml:"tls_cert" mapstructure:"tls_cert" validate:"omitempty,file"`
	TLSKey  string `yaml:"tls_key" mapstructure:"tls_key" validate:"omitempty,file"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Tracing exports spans to stdout.
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *TollgateConfig) SetDefaults() {
	if c.ClearNode.URL == "" {
		c.ClearNode.URL = "wss://clearnet-sandbox.yellow.com/ws"
	}
	if c.ClearNode.ChainID == 0 {
		c.ClearNode.ChainID = 11155111
	}
	if c.ClearNode.Application == "" {
		c.ClearNode.Application = "clearnode"
	}
	if c.ClearNode.Scope == "" {
		c.ClearNode.Scope = "console"
	}
	if c.ClearNode.Asset == "" {
		c.ClearNode.Asset = "ytest.usd"
	}
	// 0 decimals is a legal asset, so only default when the key is absent.
	if !viper.IsSet("clearnode.asset_decimals") && c.ClearNode.AssetDecimals == 0 {
		c.ClearNode.AssetDecimals = 6
	}
	if c.ClearNode.AuthExpiry == "" {
		c.ClearNode.AuthExpiry = "24h"
	}
	if c.ClearNode.HandshakeTimeout == "" {
		c.ClearNode.HandshakeTimeout = "10s"
	}

	if !viper.IsSet("reconnect.max_attempts") && c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = 3
	}
	if c.Reconnect.BaseDelay == "" {
		c.Reconnect.BaseDelay = "2s"
	}
	if c.Reconnect.Resume == "" {
		c.Reconnect.Resume = "revalidate"
	}

	if c.Timeouts.Auth == "" {
		c.Timeouts.Auth = "60s"
	}
	if c.Timeouts.Query == "" {
		c.Timeouts.Query = "10s"
	}
	if c.Timeouts.Transfer == "" {
		c.Timeouts.Transfer = "30s"
	}
	if c.Timeouts.OpenSessionWait == "" {
		c.Timeouts.OpenSessionWait = "10s"
	}
	if c.Timeouts.OpenSessionPoll == "" {
		c.Timeouts.OpenSessionPoll = "100ms"
	}

	if c.Toll.Authority == "" {
		c.Toll.Authority = "0x948426aa46593681b609b896d6246eBA1C7e932D"
	}
	if c.Toll.DefaultDeposit == "" {
		c.Toll.DefaultDeposit = "100"
	}
	if c.Toll.LowBalanceThreshold == "" {
		c.Toll.LowBalanceThreshold = "10"
	}
	if c.Toll.GasSavedPerToll == "" {
		c.Toll.GasSavedPerToll = "2.50"
	}
	if c.Toll.SimulationInterval == "" {
		c.Toll.SimulationInterval = "2s"
	}

	if c.Store.Session == "" {
		c.Store.Session = "memory"
	}
	if c.Store.StatePath == "" {
		c.Store.StatePath = "tollgate-state.json"
	}
	if c.Store.RedisTTL == "" {
		c.Store.RedisTTL = "720h"
	}
	if c.Store.History == "" {
		c.Store.History = "memory"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "tollgate-history.db"
	}
	if c.Store.HistoryLimit == 0 {
		c.Store.HistoryLimit = 100
	}

	// Bind to localhost only.
	// Users who need network access must explicitly set http_addr: "0.0.0.0:8090".
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8090"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
}

// SetDevDefaults applies development overrides. Call after flags are applied.
func (c *TollgateConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
}

// ParseDuration parses a validated duration field, returning def for an
// empty or malformed value.
func ParseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
