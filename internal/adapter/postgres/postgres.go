// Package postgres implements adapter.Adapter for PostgreSQL servers using
// the pgx driver in database/sql compatibility mode.
package postgres

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/data2rest/data2rest/internal/adapter"
)

// PostgresAdapter implements adapter.Adapter for PostgreSQL databases.
type PostgresAdapter struct {
	db *sqlx.DB
}

// New creates a new unconnected PostgresAdapter.
func New() adapter.Adapter {
	return &PostgresAdapter{}
}

// Connect establishes a connection to the PostgreSQL server.
func (a *PostgresAdapter) Connect(cfg adapter.ConnectionConfig) error {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	a.db = db
	return nil
}

// Disconnect closes the connection pool.
func (a *PostgresAdapter) Disconnect() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (a *PostgresAdapter) DB() *sqlx.DB {
	return a.db
}

// GetTables lists base tables in the public schema.
func (a *PostgresAdapter) GetTables(ctx context.Context) ([]string, error) {
	const query = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	var names []string
	if err := a.db.SelectContext(ctx, &names, query); err != nil {
		return nil, fmt.Errorf("get tables: %w", err)
	}
	return names, nil
}

// GetColumns lists the column names of one table in declaration order.
func (a *PostgresAdapter) GetColumns(ctx context.Context, tableName string) ([]string, error) {
	const query = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`

	var names []string
	if err := a.db.SelectContext(ctx, &names, query, tableName); err != nil {
		return nil, fmt.Errorf("get columns for %q: %w", tableName, err)
	}
	return names, nil
}

// GetDatabaseSize reports the on-disk size of the connected database.
func (a *PostgresAdapter) GetDatabaseSize(ctx context.Context) (int64, error) {
	var size int64
	if err := a.db.GetContext(ctx, &size, "SELECT pg_database_size(current_database())"); err != nil {
		return 0, fmt.Errorf("get database size: %w", err)
	}
	return size, nil
}

// Optimize reclaims dead tuples and refreshes planner statistics.
func (a *PostgresAdapter) Optimize(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, "VACUUM ANALYZE"); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	return nil
}

// CreateTable creates the standard table skeleton.
func (a *PostgresAdapter) CreateTable(ctx context.Context, tableName string) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id SERIAL PRIMARY KEY,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`, a.QuoteName(tableName))

	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %q: %w", tableName, err)
	}
	return nil
}

// DropTable removes a table and all its data.
func (a *PostgresAdapter) DropTable(ctx context.Context, tableName string) error {
	query := "DROP TABLE IF EXISTS " + a.QuoteName(tableName)
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop table %q: %w", tableName, err)
	}
	return nil
}

// AddColumn adds a column of one of the supported abstract types.
func (a *PostgresAdapter) AddColumn(ctx context.Context, tableName, columnName, columnType string) error {
	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		a.QuoteName(tableName), a.QuoteName(columnName), columnSQLType(columnType))
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("add column %q.%q: %w", tableName, columnName, err)
	}
	return nil
}

// DropColumn removes a column.
func (a *PostgresAdapter) DropColumn(ctx context.Context, tableName, columnName string) error {
	query := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		a.QuoteName(tableName), a.QuoteName(columnName))
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop column %q.%q: %w", tableName, columnName, err)
	}
	return nil
}

// CreateDatabase creates a new database on the connected server. PostgreSQL
// has no CREATE DATABASE IF NOT EXISTS, so existence is checked first.
func (a *PostgresAdapter) CreateDatabase(ctx context.Context, name string) error {
	var exists bool
	err := a.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", name)
	if err != nil {
		return fmt.Errorf("create database %q: %w", name, err)
	}
	if exists {
		return nil
	}
	if _, err := a.db.ExecContext(ctx, "CREATE DATABASE "+a.QuoteName(name)); err != nil {
		return fmt.Errorf("create database %q: %w", name, err)
	}
	return nil
}

// BeginTx starts a transaction.
func (a *PostgresAdapter) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return a.db.BeginTxx(ctx, nil)
}

// BackendType returns the backend tag for PostgreSQL.
func (a *PostgresAdapter) BackendType() string { return "postgres" }

// QuoteName wraps an identifier in double quotes, escaping embedded quotes.
func (a *PostgresAdapter) QuoteName(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SupportsReturning indicates that PostgreSQL supports RETURNING clauses.
func (a *PostgresAdapter) SupportsReturning() bool { return true }

func columnSQLType(columnType string) string {
	switch strings.ToUpper(columnType) {
	case "INTEGER":
		return "INTEGER"
	case "REAL":
		return "DOUBLE PRECISION"
	case "BLOB":
		return "BYTEA"
	case "VARCHAR":
		return "VARCHAR(255)"
	default:
		return "TEXT"
	}
}
