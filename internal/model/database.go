package model

import "time"

// DatabaseRecord describes one exposed database: which backend engine hosts
// it and how to reach it. The DSN is backend-specific (a file path for
// SQLite, a driver DSN for client/server engines).
type DatabaseRecord struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Backend   string    `json:"backend" db:"backend"`
	DSN       string    `json:"-" db:"dsn"` // may embed credentials, never expose
	Project   string    `json:"project" db:"project"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
