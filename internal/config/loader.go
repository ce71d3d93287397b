package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// configName is the base name searched for in the standard locations.
const configName = "tollgate"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for tollgate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	// Environment variable support: TOLLGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("TOLLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// LoadDotEnv loads KEY=value pairs from path (".env" when empty) into the
// process environment without overriding variables already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".tollgate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "tollgate"))
		}
	} else {
		paths = append(paths, "/etc/tollgate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for tollgate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys lists every scalar key that may be overridden from the environment.
// Example: TOLLGATE_CLEARNODE_URL overrides clearnode.url
var envKeys = []string{
	"clearnode.url",
	"clearnode.chain_id",
	"clearnode.application",
	"clearnode.scope",
	"clearnode.asset",
	"clearnode.asset_decimals",
	"clearnode.auth_expiry",
	"clearnode.handshake_timeout",
	"clearnode.allowance",

	"reconnect.max_attempts",
	"reconnect.base_delay",
	"reconnect.resume",

	"timeouts.auth",
	"timeouts.query",
	"timeouts.transfer",
	"timeouts.open_session_wait",
	"timeouts.open_session_poll",

	"wallet.private_key",

	"toll.authority",
	"toll.default_deposit",
	"toll.low_balance_threshold",
	"toll.gas_saved_per_toll",
	"toll.dedupe",
	"toll.routes_file",
	"toll.simulation_interval",

	"store.session",
	"store.state_path",
	"store.redis_addr",
	"store.redis_password",
	"store.redis_db",
	"store.redis_ttl",
	"store.history",
	"store.sqlite_path",
	"store.history_limit",

	"server.http_addr",
	"server.log_level",
	"server.api_token",
	"server.api_token_hash",
	"server.pay_rate_limit",
	"server.pay_burst",
	"server.tls_cert",
	"server.tls_key",
	// Note: server.allowed_origins is an array, use the config file

	"telemetry.tracing",
	"dev_mode",
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Unmarshal only sees env values for keys viper already knows about.
func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns a validated TollgateConfig.
func LoadConfig() (*TollgateConfig, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*TollgateConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
	}

	var cfg TollgateConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
