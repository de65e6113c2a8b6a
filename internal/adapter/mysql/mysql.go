// Package mysql implements adapter.Adapter for MySQL and MariaDB servers.
package mysql

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/data2rest/data2rest/internal/adapter"
)

// MySQLAdapter implements adapter.Adapter for MySQL databases.
type MySQLAdapter struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new unconnected MySQLAdapter.
func New() adapter.Adapter {
	return &MySQLAdapter{}
}

// Connect establishes a connection to the MySQL server and records the
// current schema name for introspection queries.
func (a *MySQLAdapter) Connect(cfg adapter.ConnectionConfig) error {
	db, err := sqlx.Connect("mysql", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
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

	var schema string
	if err := db.Get(&schema, "SELECT DATABASE()"); err == nil {
		a.schemaName = schema
	}

	a.db = db
	return nil
}

// Disconnect closes the connection pool.
func (a *MySQLAdapter) Disconnect() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (a *MySQLAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (a *MySQLAdapter) DB() *sqlx.DB {
	return a.db
}

// GetTables lists base tables in the connected schema.
func (a *MySQLAdapter) GetTables(ctx context.Context) ([]string, error) {
	const query = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`

	var names []string
	if err := a.db.SelectContext(ctx, &names, query, a.schemaName); err != nil {
		return nil, fmt.Errorf("get tables: %w", err)
	}
	return names, nil
}

// GetColumns lists the column names of one table in declaration order.
func (a *MySQLAdapter) GetColumns(ctx context.Context, tableName string) ([]string, error) {
	const query = `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	var names []string
	if err := a.db.SelectContext(ctx, &names, query, a.schemaName, tableName); err != nil {
		return nil, fmt.Errorf("get columns for %q: %w", tableName, err)
	}
	return names, nil
}

// GetDatabaseSize sums data and index length across all tables in the
// connected schema.
func (a *MySQLAdapter) GetDatabaseSize(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(SUM(DATA_LENGTH + INDEX_LENGTH), 0)
		FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = ?`

	var size int64
	if err := a.db.GetContext(ctx, &size, query, a.schemaName); err != nil {
		return 0, fmt.Errorf("get database size: %w", err)
	}
	return size, nil
}

// Optimize runs OPTIMIZE TABLE for every table in the schema.
func (a *MySQLAdapter) Optimize(ctx context.Context) error {
	tables, err := a.GetTables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if _, err := a.db.ExecContext(ctx, "OPTIMIZE TABLE "+a.QuoteName(t)); err != nil {
			return fmt.Errorf("optimize table %q: %w", t, err)
		}
	}
	return nil
}

// CreateTable creates the standard table skeleton.
func (a *MySQLAdapter) CreateTable(ctx context.Context, tableName string) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INT AUTO_INCREMENT PRIMARY KEY,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB`, a.QuoteName(tableName))

	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %q: %w", tableName, err)
	}
	return nil
}

// DropTable removes a table and all its data.
func (a *MySQLAdapter) DropTable(ctx context.Context, tableName string) error {
	query := "DROP TABLE IF EXISTS " + a.QuoteName(tableName)
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop table %q: %w", tableName, err)
	}
	return nil
}

// AddColumn adds a column of one of the supported abstract types.
func (a *MySQLAdapter) AddColumn(ctx context.Context, tableName, columnName, columnType string) error {
	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		a.QuoteName(tableName), a.QuoteName(columnName), columnSQLType(columnType))
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("add column %q.%q: %w", tableName, columnName, err)
	}
	return nil
}

// DropColumn removes a column.
func (a *MySQLAdapter) DropColumn(ctx context.Context, tableName, columnName string) error {
	query := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		a.QuoteName(tableName), a.QuoteName(columnName))
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop column %q.%q: %w", tableName, columnName, err)
	}
	return nil
}

// CreateDatabase creates a new schema on the connected server.
func (a *MySQLAdapter) CreateDatabase(ctx context.Context, name string) error {
	query := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci",
		a.QuoteName(name))
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create database %q: %w", name, err)
	}
	return nil
}

// BeginTx starts a transaction.
func (a *MySQLAdapter) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return a.db.BeginTxx(ctx, nil)
}

// BackendType returns the backend tag for MySQL.
func (a *MySQLAdapter) BackendType() string { return "mysql" }

// QuoteName wraps an identifier in backticks, escaping embedded backticks.
func (a *MySQLAdapter) QuoteName(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// SupportsReturning indicates that MySQL does NOT support RETURNING clauses.
func (a *MySQLAdapter) SupportsReturning() bool { return false }

func columnSQLType(columnType string) string {
	switch strings.ToUpper(columnType) {
	case "INTEGER":
		return "INT"
	case "REAL":
		return "DOUBLE"
	case "BLOB":
		return "BLOB"
	case "VARCHAR":
		return "VARCHAR(255)"
	default:
		return "TEXT"
	}
}
