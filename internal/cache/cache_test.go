package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/data2rest/data2rest/internal/config"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	s, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s.DB())
}

func TestGenerateETagDeterministic(t *testing.T) {
	a := GenerateETag(map[string]interface{}{"name": "x", "count": 3})
	b := GenerateETag(map[string]interface{}{"count": 3, "name": "x"})
	if a != b {
		t.Errorf("identical content gave different tags: %q vs %q", a, b)
	}
	c := GenerateETag(map[string]interface{}{"count": 4, "name": "x"})
	if a == c {
		t.Error("different content gave the same tag")
	}
	if a[0] != '"' || a[len(a)-1] != '"' {
		t.Errorf("ETag %q should be quoted", a)
	}
}

func TestClientCacheValid(t *testing.T) {
	etag := GenerateETag("body")

	req := func(header string) *http.Request {
		r, _ := http.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("If-None-Match", header)
		}
		return r
	}

	if ClientCacheValid(req(""), etag) {
		t.Error("no header should not validate")
	}
	if !ClientCacheValid(req(etag), etag) {
		t.Error("matching header should validate")
	}
	if !ClientCacheValid(req(`"stale", `+etag), etag) {
		t.Error("match in a list should validate")
	}
	if !ClientCacheValid(req("W/"+etag), etag) {
		t.Error("weak form of the same tag should validate")
	}
	if !ClientCacheValid(req("*"), etag) {
		t.Error("wildcard should validate")
	}
	if ClientCacheValid(req(`"other"`), etag) {
		t.Error("different tag should not validate")
	}
}

func TestSetHeadersCachePolicy(t *testing.T) {
	etag := GenerateETag("body")

	rec := httptest.NewRecorder()
	SetHeaders(rec, etag, 5*time.Minute, true)
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=300" {
		t.Errorf("enabled Cache-Control = %q, want %q", got, "public, max-age=300")
	}
	if got := rec.Header().Get("ETag"); got != etag {
		t.Errorf("ETag = %q, want %q", got, etag)
	}
	if got := rec.Header().Get("Vary"); got != "Accept-Encoding, X-API-KEY" {
		t.Errorf("Vary = %q", got)
	}

	// Zero ttl falls back to the default lifetime.
	rec = httptest.NewRecorder()
	SetHeaders(rec, etag, 0, true)
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=300" {
		t.Errorf("zero-ttl Cache-Control = %q", got)
	}

	// Disabled caching advertises the full no-store triple but still
	// carries the ETag for conditional requests.
	rec = httptest.NewRecorder()
	SetHeaders(rec, etag, 5*time.Minute, false)
	if got := rec.Header().Get("Cache-Control"); got != "no-cache, no-store, must-revalidate" {
		t.Errorf("disabled Cache-Control = %q, want no-store triple", got)
	}
	if got := rec.Header().Get("ETag"); got != etag {
		t.Errorf("disabled ETag = %q, want %q", got, etag)
	}
}

func TestKeyNormalizesParamOrder(t *testing.T) {
	a, _ := url.ParseQuery("limit=10&status=active&sort=-name")
	b, _ := url.ParseQuery("sort=-name&limit=10&status=active")

	if Key("/api/v1/db/1/users", a) != Key("/api/v1/db/1/users", b) {
		t.Error("equivalent query strings should produce the same key")
	}
	if Key("/api/v1/db/1/users", a) == Key("/api/v1/db/2/users", a) {
		t.Error("different endpoints should produce different keys")
	}
	c, _ := url.ParseQuery("limit=25&status=active&sort=-name")
	if Key("/api/v1/db/1/users", a) == Key("/api/v1/db/1/users", c) {
		t.Error("different params should produce different keys")
	}
}

func TestStoreGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	key := Key("/api/v1/db/1/users", url.Values{"limit": {"10"}})

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get before store = (%v, %v), want miss", ok, err)
	}

	if err := c.Store(ctx, key, `{"resource":[]}`, time.Minute); err != nil {
		t.Fatalf("Store: %v", err)
	}
	payload, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || payload != `{"resource":[]}` {
		t.Errorf("Get = (%q, %v)", payload, ok)
	}

	// Replacing the entry keeps a single row.
	if err := c.Store(ctx, key, `{"resource":[1]}`, time.Minute); err != nil {
		t.Fatalf("Store replace: %v", err)
	}
	payload, ok, _ = c.Get(ctx, key)
	if !ok || payload != `{"resource":[1]}` {
		t.Errorf("Get after replace = (%q, %v)", payload, ok)
	}

	stats, err := c.ReadStats(ctx)
	if err != nil {
		t.Fatalf("ReadStats: %v", err)
	}
	if stats.Entries != 1 {
		t.Errorf("entries = %d, want 1", stats.Entries)
	}
}

func TestGetHonorsExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Store(ctx, "gone", "payload", time.Minute); err != nil {
		t.Fatal(err)
	}
	// Backdate the entry past its expiry.
	if _, err := c.db.ExecContext(ctx,
		"UPDATE api_cache SET expires_at = ?", time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := c.Get(ctx, "gone"); err != nil || ok {
		t.Errorf("expired entry should read as a miss, got (%v, %v)", ok, err)
	}

	n, err := c.ClearExpired(ctx)
	if err != nil {
		t.Fatalf("ClearExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared %d entries, want 1", n)
	}
}

func TestInvalidateSubstring(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	// Invalidation patterns are matched against the stored key text, so
	// keys used here carry a readable scope prefix.
	entries := map[string]string{
		"db1:users:abc":  "a",
		"db1:users:def":  "b",
		"db1:orders:ghi": "c",
		"db2:users:jkl":  "d",
	}
	for k, v := range entries {
		if err := c.Store(ctx, k, v, time.Minute); err != nil {
			t.Fatal(err)
		}
	}

	n, err := c.Invalidate(ctx, "db1:users")
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n != 2 {
		t.Errorf("invalidated %d entries, want 2", n)
	}

	if _, ok, _ := c.Get(ctx, "db1:orders:ghi"); !ok {
		t.Error("unrelated entry in same database should survive")
	}
	if _, ok, _ := c.Get(ctx, "db2:users:jkl"); !ok {
		t.Error("same table in another database should survive")
	}
}
