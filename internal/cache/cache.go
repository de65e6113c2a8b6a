// Package cache is the TTL response cache behind GET endpoints, backed by a
// key/value table in the control store. Entries are never mutated, only
// replaced or deleted; expiry is enforced lazily at read time.
//
// Every method returns its error instead of swallowing it. Callers treat
// cache failures as misses and continue, so a broken cache degrades to slow
// responses rather than failed ones.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// DefaultTTL applies when a store call passes a zero ttl.
const DefaultTTL = 5 * time.Minute

// Cache reads and writes serialized responses in the api_cache table.
type Cache struct {
	db *sqlx.DB
}

// New creates a Cache over the control store handle.
func New(db *sqlx.DB) *Cache {
	return &Cache{db: db}
}

// Stats summarizes the cache table for the admin surface.
type Stats struct {
	Entries int64 `json:"entries"`
	Expired int64 `json:"expired"`
}

// GenerateETag returns a strong ETag for a response body: the quoted hash of
// its canonical JSON serialization. Identical content always produces an
// identical tag, regardless of map ordering in the input.
func GenerateETag(content interface{}) string {
	canonical, err := json.Marshal(content)
	if err != nil {
		// Unserializable content still needs a tag; fall back to the
		// type-formatted value.
		canonical = []byte(fmt.Sprintf("%#v", content))
	}
	sum := sha256.Sum256(canonical)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// ClientCacheValid reports whether the client's If-None-Match header matches
// etag, meaning the caller should answer 304 with no body.
func ClientCacheValid(r *http.Request, etag string) bool {
	match := r.Header.Get("If-None-Match")
	if match == "" {
		return false
	}
	for _, candidate := range strings.Split(match, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag || candidate == "*" {
			return true
		}
	}
	return false
}

// Key derives the cache key for one endpoint and its query parameters.
// Parameters are sorted by name before hashing, so equivalent query strings
// in any order collide to the same key.
func Key(endpoint string, params url.Values) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(endpoint)
	for _, name := range names {
		values := append([]string(nil), params[name]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteByte('|')
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Store upserts a serialized payload under key with the given lifetime.
func (c *Cache) Store(ctx context.Context, key, payload string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	const q = `INSERT INTO api_cache (cache_key, payload, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`

	_, err := c.db.ExecContext(ctx, c.db.Rebind(q), key, payload, time.Now().UTC().Add(ttl))
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Get returns the payload for key if a live entry exists. The expiry filter
// runs at read time; expired rows are left for ClearExpired.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	var payload string
	err := c.db.GetContext(ctx, &payload, c.db.Rebind(
		`SELECT payload FROM api_cache WHERE cache_key = ? AND expires_at > ?`),
		key, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	return payload, true, nil
}

// Invalidate deletes every entry whose key contains pattern as a substring,
// used to bust all entries touching one database or table after a write.
func (c *Cache) Invalidate(ctx context.Context, pattern string) (int64, error) {
	res, err := c.db.ExecContext(ctx, c.db.Rebind(
		`DELETE FROM api_cache WHERE cache_key LIKE ?`),
		"%"+pattern+"%")
	if err != nil {
		return 0, fmt.Errorf("cache invalidate: %w", err)
	}
	return res.RowsAffected()
}

// ClearExpired deletes entries past their expiry and returns how many were
// removed.
func (c *Cache) ClearExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, c.db.Rebind(
		`DELETE FROM api_cache WHERE expires_at <= ?`),
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cache clear expired: %w", err)
	}
	return res.RowsAffected()
}

// ReadStats counts live and expired entries.
func (c *Cache) ReadStats(ctx context.Context) (Stats, error) {
	var s Stats
	now := time.Now().UTC()
	if err := c.db.GetContext(ctx, &s.Entries,
		"SELECT COUNT(*) FROM api_cache"); err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	if err := c.db.GetContext(ctx, &s.Expired, c.db.Rebind(
		"SELECT COUNT(*) FROM api_cache WHERE expires_at <= ?"), now); err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	return s, nil
}

// SetHeaders writes the caching headers for a response: its ETag, the
// cache-control policy, and the Vary keys that shape the stored
// representation. Enabled responses are publicly cacheable for ttl;
// disabled responses carry the full no-store triple so no intermediary
// holds them.
func SetHeaders(w http.ResponseWriter, etag string, ttl time.Duration, enabled bool) {
	h := w.Header()
	h.Set("ETag", etag)
	h.Set("Vary", "Accept-Encoding, X-API-KEY")
	if !enabled {
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	h.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(ttl.Seconds())))
}
