package model

import "time"

// APIKey represents an API key used to authenticate external data requests.
// The raw key is never stored; only a SHA-256 hash and a short prefix for
// identification are persisted.
type APIKey struct {
	ID         int64      `json:"id" db:"id"`
	KeyHash    string     `json:"-" db:"key_hash"`            // SHA-256 hash, never expose
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"` // First 8 chars for identification
	Label      string     `json:"label" db:"label"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	RateLimit  int        `json:"rate_limit" db:"rate_limit"`   // requests per window, 0 = default
	RateWindow int        `json:"rate_window" db:"rate_window"` // window length in seconds, 0 = default
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsed   *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// APIKeyPermission is one access-control row for an API key. TableName nil
// is the wildcard: it answers for every table of the database that has no
// table-specific row. AllowedIPs, when set, is a CSV of exact IPs and CIDR
// ranges outside of which the key is rejected.
type APIKeyPermission struct {
	ID         int64   `json:"id" db:"id"`
	APIKeyID   int64   `json:"api_key_id" db:"api_key_id"`
	DatabaseID int64   `json:"database_id" db:"database_id"`
	TableName  *string `json:"table_name" db:"table_name"`
	CanRead    bool    `json:"can_read" db:"can_read"`
	CanCreate  bool    `json:"can_create" db:"can_create"`
	CanUpdate  bool    `json:"can_update" db:"can_update"`
	CanDelete  bool    `json:"can_delete" db:"can_delete"`
	AllowedIPs *string `json:"allowed_ips,omitempty" db:"allowed_ips"`
}
