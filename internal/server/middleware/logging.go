package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// Logger emits one structured log line per request: method, path, status,
// bytes written, duration, request ID, and remote address. Server errors log
// at ERROR, client errors at WARN, everything else at INFO.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(ww, r)

			var level slog.Level
			switch {
			case ww.status >= 500:
				level = slog.LevelError
			case ww.status >= 400:
				level = slog.LevelWarn
			default:
				level = slog.LevelInfo
			}

			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"bytes", ww.written,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// statusWriter records the status code and body size as they pass through.
type statusWriter struct {
	http.ResponseWriter
	status      int
	written     int
	headerfired bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.headerfired {
		return
	}
	w.headerfired = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.headerfired {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += n
	return n, err
}

// Unwrap exposes the wrapped writer so http.Flusher and friends still work
// through the chain.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
