// Package sqlite implements adapter.Adapter for embedded SQLite databases
// using the modernc.org/sqlite driver (pure Go, no cgo).
package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/data2rest/data2rest/internal/adapter"
)

// SQLiteAdapter implements adapter.Adapter for SQLite databases.
type SQLiteAdapter struct {
	db *sqlx.DB
}

// New creates a new unconnected SQLiteAdapter.
func New() adapter.Adapter {
	return &SQLiteAdapter{}
}

// Connect opens the SQLite database file at cfg.DSN. The file is created on
// first open if it does not exist. Foreign key enforcement is switched on for
// every connection in the pool.
func (a *SQLiteAdapter) Connect(cfg adapter.ConnectionConfig) error {
	dsn := cfg.DSN
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
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
func (a *SQLiteAdapter) Disconnect() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (a *SQLiteAdapter) DB() *sqlx.DB {
	return a.db
}

// GetTables lists user tables, excluding SQLite's internal bookkeeping
// tables.
func (a *SQLiteAdapter) GetTables(ctx context.Context) ([]string, error) {
	const query = `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	var names []string
	if err := a.db.SelectContext(ctx, &names, query); err != nil {
		return nil, fmt.Errorf("get tables: %w", err)
	}
	return names, nil
}

// GetColumns lists the column names of one table in declaration order.
func (a *SQLiteAdapter) GetColumns(ctx context.Context, tableName string) ([]string, error) {
	var names []string
	err := a.db.SelectContext(ctx, &names,
		"SELECT name FROM pragma_table_info(?) ORDER BY cid", tableName)
	if err != nil {
		return nil, fmt.Errorf("get columns for %q: %w", tableName, err)
	}
	return names, nil
}

// GetDatabaseSize reports the database file size in bytes via the page
// counters, which also works for in-memory databases.
func (a *SQLiteAdapter) GetDatabaseSize(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := a.db.GetContext(ctx, &pageCount, "PRAGMA page_count"); err != nil {
		return 0, fmt.Errorf("get database size: %w", err)
	}
	if err := a.db.GetContext(ctx, &pageSize, "PRAGMA page_size"); err != nil {
		return 0, fmt.Errorf("get database size: %w", err)
	}
	return pageCount * pageSize, nil
}

// Optimize reclaims free pages with VACUUM.
func (a *SQLiteAdapter) Optimize(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	return nil
}

// CreateTable creates the standard table skeleton.
func (a *SQLiteAdapter) CreateTable(ctx context.Context, tableName string) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`, a.QuoteName(tableName))

	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %q: %w", tableName, err)
	}
	return nil
}

// DropTable removes a table and all its data.
func (a *SQLiteAdapter) DropTable(ctx context.Context, tableName string) error {
	query := "DROP TABLE IF EXISTS " + a.QuoteName(tableName)
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop table %q: %w", tableName, err)
	}
	return nil
}

// AddColumn adds a column of one of the supported abstract types.
func (a *SQLiteAdapter) AddColumn(ctx context.Context, tableName, columnName, columnType string) error {
	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		a.QuoteName(tableName), a.QuoteName(columnName), columnSQLType(columnType))
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("add column %q.%q: %w", tableName, columnName, err)
	}
	return nil
}

// DropColumn removes a column. Requires SQLite 3.35 or later, which the
// bundled driver provides.
func (a *SQLiteAdapter) DropColumn(ctx context.Context, tableName, columnName string) error {
	query := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		a.QuoteName(tableName), a.QuoteName(columnName))
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop column %q.%q: %w", tableName, columnName, err)
	}
	return nil
}

// CreateDatabase is a no-op: the database file is created implicitly when
// the adapter first connects to its path.
func (a *SQLiteAdapter) CreateDatabase(_ context.Context, _ string) error {
	return nil
}

// BeginTx starts a transaction.
func (a *SQLiteAdapter) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return a.db.BeginTxx(ctx, nil)
}

// BackendType returns the backend tag for SQLite.
func (a *SQLiteAdapter) BackendType() string { return "sqlite" }

// QuoteName wraps an identifier in double quotes, escaping embedded quotes.
func (a *SQLiteAdapter) QuoteName(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SupportsReturning indicates that SQLite supports RETURNING clauses.
func (a *SQLiteAdapter) SupportsReturning() bool { return true }

// columnSQLType maps an abstract column type to SQLite storage classes.
// Unknown types fall back to TEXT.
func columnSQLType(columnType string) string {
	switch strings.ToUpper(columnType) {
	case "INTEGER":
		return "INTEGER"
	case "REAL":
		return "REAL"
	case "BLOB":
		return "BLOB"
	case "VARCHAR":
		return "TEXT"
	default:
		return "TEXT"
	}
}
