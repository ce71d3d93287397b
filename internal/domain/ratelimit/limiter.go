// Package ratelimit defines the payment rate limit port.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Config bounds how often one key may act.
type Config struct {
	// Rate is the number of allowed events per Period.
	Rate int

	// Burst is how many events may arrive back to back. Defaults to Rate.
	Burst int

	Period time.Duration
}

// Enabled reports whether the config limits anything.
func (c Config) Enabled() bool {
	return c.Rate > 0 && c.Period > 0
}

// Result is the outcome of one check.
type Result struct {
	Allowed bool

	// Remaining is how many more events fit in the current burst.
	Remaining int

	// RetryAfter is how long to wait before the next event is allowed.
	// Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter decides whether the event identified by key may proceed.
// Implementations spread events evenly (GCRA) rather than resetting
// fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, cfg Config) (Result, error)
}

// KeyType identifies what a limit key is scoped to.
type KeyType string

const (
	// KeyTypeIP scopes a limit to a client address.
	KeyTypeIP KeyType = "ip"

	// KeyTypeToken scopes a limit to an API bearer token.
	KeyTypeToken KeyType = "token"
)

// FormatKey returns "ratelimit:{type}:{value}".
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("ratelimit:%s:%s", keyType, value)
}
