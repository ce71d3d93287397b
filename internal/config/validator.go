package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrNoWallet is returned by RequireWallet when no private key is configured.
var ErrNoWallet = errors.New("wallet.private_key is required (set TOLLGATE_WALLET_PRIVATE_KEY)")

// RegisterCustomValidators registers tollgate-specific validation rules.
// Must be called before validating TollgateConfig.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"ws_url":      validateWSURL,
		"duration":    validateDuration,
		"decimal":     validateDecimal,
		"private_key": validatePrivateKey,

		"argon2id_hash": validateArgon2idHash,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateWSURL accepts ws:// and wss:// URLs with a host.
func validateWSURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return (u.Scheme == "ws" || u.Scheme == "wss") && u.Host != ""
}

// validateDuration accepts positive Go durations ("2s", "100ms", "24h").
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// validateDecimal accepts non-negative decimal strings ("100", "2.50").
func validateDecimal(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	return err == nil && !d.IsNegative()
}

// validatePrivateKey accepts a 32-byte hex secp256k1 key, with or without 0x.
func validatePrivateKey(fl validator.FieldLevel) bool {
	_, err := crypto.HexToECDSA(strings.TrimPrefix(fl.Field().String(), "0x"))
	return err == nil
}

// validateArgon2idHash accepts an encoded "$argon2id$v=19$m=...,t=...,p=...$salt$key" hash.
func validateArgon2idHash(fl validator.FieldLevel) bool {
	_, _, _, err := argon2id.DecodeHash(fl.Field().String())
	return err == nil
}

// Validate validates the TollgateConfig using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *TollgateConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStores(); err != nil {
		return err
	}

	if err := c.validateTLS(); err != nil {
		return err
	}

	if c.Server.APIToken != "" && c.Server.APITokenHash != "" {
		return errors.New("server: set api_token or api_token_hash, not both")
	}

	return nil
}

// RequireWallet reports whether commands that talk to the node can run.
func (c *TollgateConfig) RequireWallet() error {
	if c.Wallet.PrivateKey == "" {
		return ErrNoWallet
	}
	return nil
}

// validateStores ensures the selected backends have their connection settings.
func (c *TollgateConfig) validateStores() error {
	if c.Store.Session == "redis" && c.Store.RedisAddr == "" {
		return errors.New("store.redis_addr is required when store.session is redis")
	}
	if c.Store.Session == "file" && c.Store.StatePath == "" {
		return errors.New("store.state_path is required when store.session is file")
	}
	if c.Store.History == "sqlite" && c.Store.SQLitePath == "" {
		return errors.New("store.sqlite_path is required when store.history is sqlite")
	}
	return nil
}

// validateTLS ensures cert and key are configured together.
func (c *TollgateConfig) validateTLS() error {
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server: specify both tls_cert and tls_key, or neither")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "file":
		return fmt.Sprintf("%s must be an existing file", field)
	case "eth_addr":
		return fmt.Sprintf("%s must be a 0x-prefixed 20-byte address", field)
	case "ws_url":
		return fmt.Sprintf("%s must be a ws:// or wss:// URL", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like \"2s\" or \"100ms\"", field)
	case "decimal":
		return fmt.Sprintf("%s must be a non-negative decimal like \"2.50\"", field)
	case "argon2id_hash":
		return fmt.Sprintf("%s must be an argon2id hash from \"tollgate hash-token\"", field)
	case "private_key":
		// Never echo the value.
		return fmt.Sprintf("%s must be a 32-byte hex key", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
