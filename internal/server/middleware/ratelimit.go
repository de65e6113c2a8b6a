package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/data2rest/data2rest/internal/ratelimit"
)

// LoginRateLimit returns a per-IP guard for the admin login route, capping
// attempts per minute with httprate's sliding window.
func LoginRateLimit(attemptsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(attemptsPerMinute, time.Minute)
}

// Quota returns a middleware that enforces the persisted per-key rate
// limit for data-API requests. The endpoint is counted per database so a
// busy table cannot starve a key's access to other databases. Admin
// sessions are not quota-limited. Limiter store failures admit the request;
// callers see the failure only in the log.
func Quota(limiter *ratelimit.Limiter, defaultLimit int, defaultWindow time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil || p.Type != "api_key" {
				next.ServeHTTP(w, r)
				return
			}

			limit := defaultLimit
			window := defaultWindow
			if p.RateLimit > 0 {
				limit = p.RateLimit
			}
			if p.RateWindow > 0 {
				window = time.Duration(p.RateWindow) * time.Second
			}

			res, err := limiter.Check(r.Context(), p.KeyID, endpointOf(r), limit, window)
			if err != nil {
				// Fail open: quota bookkeeping must not take the API down.
				logger.Warn("quota check failed, admitting request",
					"key_id", p.KeyID, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			ratelimit.SetHeaders(w, res)
			if !res.Allowed {
				writeAuthError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// endpointOf reduces the request path to its database scope, e.g.
// "/api/v2/db/3/users/7" counts as "/api/db/3".
func endpointOf(r *http.Request) string {
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for i, s := range segments {
		if s == "db" && i+1 < len(segments) {
			return "/api/db/" + segments[i+1]
		}
	}
	return r.URL.Path
}
