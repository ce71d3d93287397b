package http

import (
	"math"
	"net/http"
	"strconv"

	"github.com/tollgate-labs/tollgate/internal/domain/ratelimit"
)

// PayRateLimitMiddleware limits POST /v1/tolls per client IP. Other routes
// pass through. A limiter error fails open and is logged.
func PayRateLimitMiddleware(limiter ratelimit.Limiter, cfg ratelimit.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || !cfg.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/v1/tolls" {
				next.ServeHTTP(w, r)
				return
			}

			ip, ok := r.Context().Value(RealIPKey).(string)
			if !ok || ip == "" {
				ip = extractRealIP(r)
			}
			res, err := limiter.Allow(r.Context(), ratelimit.FormatKey(ratelimit.KeyTypeIP, ip), cfg)
			if err != nil {
				LoggerFromContext(r.Context()).Warn("rate limiter failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				secs := int(math.Ceil(res.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many toll payments, retry later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
