package middleware

import (
	"context"
	"net/http"

	"github.com/data2rest/data2rest/internal/version"
)

// VersionKey is the context key for the resolved API version.
const VersionKey contextKey = "api_version"

// APIVersion resolves the requested API version from the URL path or the
// Accept header, stores it in the request context, and stamps the version
// advisory headers on every response.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := version.Detect(r)
		version.SetHeaders(w, v)
		ctx := context.WithValue(r.Context(), VersionKey, v)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetVersion extracts the resolved API version from the context, falling
// back to the default version when the middleware did not run.
func GetVersion(ctx context.Context) string {
	if v, ok := ctx.Value(VersionKey).(string); ok {
		return v
	}
	return version.Default
}
