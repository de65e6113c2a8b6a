// Package ratelimit enforces per-key, per-endpoint fixed-window request
// quotas backed by the control store. Windows are durable rows, so limits
// survive restarts and are shared across replicas pointing at the same
// store.
package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// Default quota applied when a key carries no override.
const (
	DefaultLimit  = 1000
	DefaultWindow = time.Hour
)

// retention bounds storage growth: cleanup removes windows older than this
// regardless of their own duration.
const retention = 24 * time.Hour

// Result reports the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Usage is one live window row, as reported by usage queries.
type Usage struct {
	Endpoint     string    `db:"endpoint" json:"endpoint"`
	RequestCount int       `db:"request_count" json:"request_count"`
	WindowStart  time.Time `db:"window_start" json:"window_start"`
}

type windowRow struct {
	ID           int64     `db:"id"`
	RequestCount int       `db:"request_count"`
	WindowStart  time.Time `db:"window_start"`
}

// Limiter admits or denies requests against durable fixed windows.
type Limiter struct {
	db *sqlx.DB
}

// New creates a Limiter over the control store handle.
func New(db *sqlx.DB) *Limiter {
	return &Limiter{db: db}
}

// Check admits or denies one request for (apiKeyID, endpoint). Zero limit
// or window fall back to the defaults. The increment is a conditional
// UPDATE with the ceiling in its predicate, so two racing requests at the
// boundary cannot both slip under the limit.
func (l *Limiter) Check(ctx context.Context, apiKeyID int64, endpoint string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	now := time.Now().UTC()

	var row windowRow
	err := l.db.GetContext(ctx, &row, l.db.Rebind(
		`SELECT id, request_count, window_start FROM api_rate_limits
		 WHERE api_key_id = ? AND endpoint = ? AND window_start > ?
		 ORDER BY window_start DESC LIMIT 1`),
		apiKeyID, endpoint, now.Add(-window))

	if errors.Is(err, sql.ErrNoRows) {
		_, err = l.db.ExecContext(ctx, l.db.Rebind(
			`INSERT INTO api_rate_limits (api_key_id, endpoint, request_count, window_start)
			 VALUES (?, ?, 1, ?)`),
			apiKeyID, endpoint, now)
		if err != nil {
			return Result{}, fmt.Errorf("open rate window: %w", err)
		}
		return Result{Allowed: true, Limit: limit, Remaining: limit - 1, Reset: now.Add(window)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("read rate window: %w", err)
	}

	reset := row.WindowStart.Add(window)

	res, err := l.db.ExecContext(ctx, l.db.Rebind(
		`UPDATE api_rate_limits SET request_count = request_count + 1
		 WHERE id = ? AND request_count < ?`),
		row.ID, limit)
	if err != nil {
		return Result{}, fmt.Errorf("increment rate window: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("increment rate window: %w", err)
	}

	if affected == 0 {
		return Result{Allowed: false, Limit: limit, Remaining: 0, Reset: reset}, nil
	}

	remaining := limit - (row.RequestCount + 1)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining, Reset: reset}, nil
}

// Cleanup deletes windows older than the retention horizon and returns how
// many were removed.
func (l *Limiter) Cleanup(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, l.db.Rebind(
		`DELETE FROM api_rate_limits WHERE window_start < ?`),
		time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("rate limit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// UsageFor lists the live windows for one API key, newest first.
func (l *Limiter) UsageFor(ctx context.Context, apiKeyID int64) ([]Usage, error) {
	var usage []Usage
	err := l.db.SelectContext(ctx, &usage, l.db.Rebind(
		`SELECT endpoint, request_count, window_start FROM api_rate_limits
		 WHERE api_key_id = ? ORDER BY window_start DESC`),
		apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("rate limit usage: %w", err)
	}
	return usage, nil
}

// SetHeaders writes the standard X-RateLimit-* headers for a check result.
func SetHeaders(w http.ResponseWriter, r Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.Reset.Unix(), 10))
}
