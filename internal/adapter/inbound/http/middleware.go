package http

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"

	"github.com/tollgate-labs/tollgate/internal/ctxkey"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

type realIPContextKey struct{}

// RealIPKey is the context key for the client IP.
var RealIPKey = realIPContextKey{}

// LoggerKey is the context key for the enriched logger.
// The key type lives in ctxkey so the service layer can read it.
var LoggerKey = ctxkey.LoggerKey{}

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using RequestIDKey.
// An enriched logger with request_id field is stored using LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)
			if ip, ok := r.Context().Value(RealIPKey).(string); ok {
				enrichedLogger = enrichedLogger.With("remote_ip", ip)
			}

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			// Set response header for correlation
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// DNSRebindingProtection validates Origin header against an allowlist.
// If allowedOrigins is empty, all requests with an Origin header are blocked (local-only mode).
// Requests without an Origin header are allowed (same-origin or non-browser).
func DNSRebindingProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := allowed[origin]; !ok {
				http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BearerTokenMiddleware rejects requests whose Authorization header does not
// carry "Bearer <token>". An empty token disables the check.
func BearerTokenMiddleware(token string) func(http.Handler) http.Handler {
	if token == "" {
		return passthrough
	}
	want := []byte(token)
	return bearerAuth(func(got string) bool {
		return subtle.ConstantTimeCompare([]byte(got), want) == 1
	})
}

// BearerTokenHashMiddleware is BearerTokenMiddleware for an argon2id hash of
// the token. The digest of the last accepted token is kept so repeat requests
// skip the argon2id work. An empty hash disables the check.
func BearerTokenHashMiddleware(hash string, logger *slog.Logger) func(http.Handler) http.Handler {
	if hash == "" {
		return passthrough
	}
	v := &hashedToken{hash: hash, logger: logger}
	return bearerAuth(v.verify)
}

type hashedToken struct {
	hash   string
	logger *slog.Logger

	mu       sync.Mutex
	accepted [sha256.Size]byte
	ok       bool
}

func (h *hashedToken) verify(got string) bool {
	digest := sha256.Sum256([]byte(got))

	h.mu.Lock()
	cached := h.ok && subtle.ConstantTimeCompare(digest[:], h.accepted[:]) == 1
	h.mu.Unlock()
	if cached {
		return true
	}

	match, err := argon2id.ComparePasswordAndHash(got, h.hash)
	if err != nil {
		h.logger.Warn("failed to compare api token hash", "error", err)
		return false
	}
	if match {
		h.mu.Lock()
		h.accepted, h.ok = digest, true
		h.mu.Unlock()
	}
	return match
}

func bearerAuth(verify func(token string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got == "" || !verify(got) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tollgate"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// RealIPMiddleware extracts the client's real IP address.
// It checks X-Forwarded-For and X-Real-IP headers (for reverse proxy support),
// falling back to r.RemoteAddr if no proxy headers are present.
// Only the first IP in X-Forwarded-For is trusted to avoid spoofing.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), RealIPKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractRealIP(r *http.Request) string {
	// Format: X-Forwarded-For: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
