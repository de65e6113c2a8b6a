package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/data2rest/data2rest/internal/config"
	"github.com/data2rest/data2rest/internal/model"
	"github.com/data2rest/data2rest/internal/ratelimit"
	"github.com/data2rest/data2rest/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func okHandler(captured **Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = GetPrincipal(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateAPIKey(t *testing.T) {
	store := newTestStore(t)
	auth := service.NewAuthService(store, "secret")

	raw := "d2r_testkey"
	key := &model.APIKey{KeyHash: config.HashAPIKey(raw), KeyPrefix: raw[:8], IsActive: true, RateLimit: 5}
	if err := store.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	var got *Principal
	h := Authenticate(auth)(okHandler(&got))

	// Header credential.
	req := httptest.NewRequest("GET", "/api/v1/db/1/users", nil)
	req.Header.Set("X-API-Key", raw)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got == nil || got.Type != "api_key" || got.KeyID != key.ID || got.RateLimit != 5 {
		t.Errorf("principal = %+v", got)
	}

	// Query parameter credential.
	got = nil
	req = httptest.NewRequest("GET", "/api/v1/db/1/users?api_key="+raw, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || got == nil || got.KeyID != key.ID {
		t.Errorf("query param auth: status = %d, principal = %+v", rec.Code, got)
	}

	// Bad key.
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-API-Key", "nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad key status = %d", rec.Code)
	}

	// No credential at all.
	req = httptest.NewRequest("GET", "/", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing credential status = %d", rec.Code)
	}
}

func TestAuthenticateJWTAndRequireAdmin(t *testing.T) {
	store := newTestStore(t)
	auth := service.NewAuthService(store, "secret")

	sp := &service.SessionPrincipal{UserID: 1, Username: "root"}
	sp.Permissions.All = true
	token, err := auth.IssueJWT(context.Background(), sp, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	var got *Principal
	h := Authenticate(auth)(RequireAdmin(okHandler(&got)))

	req := httptest.NewRequest("GET", "/api/v1/system/databases", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got == nil || got.Type != "admin" || !got.IsAdmin() {
		t.Errorf("principal = %+v", got)
	}

	// An API key is not an admin session.
	raw := "d2r_notadmin"
	key := &model.APIKey{KeyHash: config.HashAPIKey(raw), KeyPrefix: raw[:8], IsActive: true}
	if err := store.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest("GET", "/api/v1/system/databases", nil)
	req.Header.Set("X-API-Key", raw)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("api key against admin route: status = %d", rec.Code)
	}
}

func TestAPIVersionMiddleware(t *testing.T) {
	var got string
	h := APIVersion(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetVersion(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/v2/db/1/users", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got != "v2" {
		t.Errorf("version = %q, want v2", got)
	}
	if rec.Header().Get("X-API-Version") != "v2" {
		t.Errorf("X-API-Version = %q", rec.Header().Get("X-API-Version"))
	}

	// Unsupported path token falls back to the default.
	req = httptest.NewRequest("GET", "/api/v99/db/1/users", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got != "v1" {
		t.Errorf("fallback version = %q, want v1", got)
	}
}

func TestQuotaDeniesOverLimit(t *testing.T) {
	store := newTestStore(t)
	limiter := ratelimit.New(store.DB())

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	quota := Quota(limiter, 2, time.Hour, discardLogger())(inner)

	p := &Principal{Type: "api_key", KeyID: 7}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/v1/db/1/users", nil)
		req = req.WithContext(withPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		quota.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "/api/v1/db/1/users", nil)
	req = req.WithContext(withPrincipal(req.Context(), p))
	rec := httptest.NewRecorder()
	quota.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("over-limit status = %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}

	// A different database counts separately.
	req = httptest.NewRequest("GET", "/api/v1/db/2/users", nil)
	req = req.WithContext(withPrincipal(req.Context(), p))
	rec = httptest.NewRecorder()
	quota.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other database status = %d", rec.Code)
	}
}

func TestQuotaSkipsAdminSessions(t *testing.T) {
	store := newTestStore(t)
	limiter := ratelimit.New(store.DB())
	quota := Quota(limiter, 1, time.Hour, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	p := &Principal{Type: "admin", Session: &service.SessionPrincipal{UserID: 1}}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/v1/db/1/users", nil)
		req = req.WithContext(withPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		quota.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("admin request %d: status = %d", i+1, rec.Code)
		}
	}
}

func TestQuotaFailsOpenOnLimiterError(t *testing.T) {
	store := newTestStore(t)
	limiter := ratelimit.New(store.DB())
	store.Close() // every limiter query now fails

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	quota := Quota(limiter, 2, time.Hour, logger)(okHandler(nil))

	req := httptest.NewRequest("GET", "/api/v1/db/1/users", nil)
	req = req.WithContext(withPrincipal(req.Context(), &Principal{Type: "api_key", KeyID: 9}))
	rec := httptest.NewRecorder()
	quota.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want the request admitted", rec.Code)
	}
	if !strings.Contains(buf.String(), "quota check failed") {
		t.Errorf("limiter failure not logged: %q", buf.String())
	}
}

func TestWriteAuthErrorEscapesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeAuthError(rec, http.StatusUnauthorized, `token "abc" rejected`)

	var body model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not valid JSON: %v\n%s", err, rec.Body.String())
	}
	if body.Error.Code != http.StatusUnauthorized {
		t.Errorf("code = %d", body.Error.Code)
	}
	if body.Error.Message != `token "abc" rejected` {
		t.Errorf("message = %q", body.Error.Message)
	}
}
