package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/data2rest/data2rest/internal/model"
	"github.com/data2rest/data2rest/internal/service"
)

// PrincipalKey is the context key under which the authenticated principal
// is stored.
const PrincipalKey contextKey = "principal"

// Principal represents an authenticated caller. Data-API consumers carry
// their API key id and quota overrides; admin sessions carry the merged
// permission set decoded from the JWT.
type Principal struct {
	Type       string // "api_key" or "admin"
	KeyID      int64
	RateLimit  int
	RateWindow int
	Session    *service.SessionPrincipal
}

// IsAdmin reports whether the principal is an admin session with the
// super-admin bypass.
func (p *Principal) IsAdmin() bool {
	return p.Type == "admin" && p.Session != nil && p.Session.Permissions.IsAdmin()
}

// Authenticate returns a middleware that validates the caller's credentials.
// It tries the X-API-Key header first, then the api_key query parameter,
// then a Bearer JWT. Unauthenticated requests are rejected with 401.
func Authenticate(auth *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")
			if rawKey == "" {
				rawKey = r.URL.Query().Get("api_key")
			}
			if rawKey != "" {
				kp, err := auth.ValidateAPIKey(r.Context(), rawKey)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				p := &Principal{
					Type:       "api_key",
					KeyID:      kp.KeyID,
					RateLimit:  kp.RateLimit,
					RateWindow: kp.RateWindow,
				}
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
				sp, err := auth.ValidateJWT(r.Context(), token)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "Invalid or expired token")
					return
				}
				p := &Principal{Type: "admin", Session: sp}
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
				return
			}

			writeAuthError(w, http.StatusUnauthorized, "Authentication required")
		})
	}
}

// RequireAdmin rejects requests whose principal is not an admin session.
// It must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil || p.Type != "admin" {
			writeAuthError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil when the request was not authenticated.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(PrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// writeAuthError writes the standard error envelope without depending on
// the handler layer.
func writeAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: code, Message: message},
	})
}
