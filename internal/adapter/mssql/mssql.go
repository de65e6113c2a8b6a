// Package mssql implements adapter.Adapter for Microsoft SQL Server.
package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/data2rest/data2rest/internal/adapter"
)

// MSSQLAdapter implements adapter.Adapter for SQL Server databases.
type MSSQLAdapter struct {
	db *sqlx.DB
}

// New creates a new unconnected MSSQLAdapter.
func New() adapter.Adapter {
	return &MSSQLAdapter{}
}

// Connect establishes a connection to the SQL Server instance.
func (a *MSSQLAdapter) Connect(cfg adapter.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlserver", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
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
func (a *MSSQLAdapter) Disconnect() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (a *MSSQLAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (a *MSSQLAdapter) DB() *sqlx.DB {
	return a.db
}

// GetTables lists base tables in the connected database.
func (a *MSSQLAdapter) GetTables(ctx context.Context) ([]string, error) {
	const query = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`

	var names []string
	if err := a.db.SelectContext(ctx, &names, query); err != nil {
		return nil, fmt.Errorf("get tables: %w", err)
	}
	return names, nil
}

// GetColumns lists the column names of one table in declaration order.
func (a *MSSQLAdapter) GetColumns(ctx context.Context, tableName string) ([]string, error) {
	const query = `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_NAME = @p1
		ORDER BY ORDINAL_POSITION`

	var names []string
	if err := a.db.SelectContext(ctx, &names, query, tableName); err != nil {
		return nil, fmt.Errorf("get columns for %q: %w", tableName, err)
	}
	return names, nil
}

// GetDatabaseSize sums the allocated size of the database files in bytes.
func (a *MSSQLAdapter) GetDatabaseSize(ctx context.Context) (int64, error) {
	const query = `SELECT CAST(SUM(size) AS BIGINT) * 8 * 1024
		FROM sys.master_files WHERE database_id = DB_ID()`

	var size int64
	if err := a.db.GetContext(ctx, &size, query); err != nil {
		return 0, fmt.Errorf("get database size: %w", err)
	}
	return size, nil
}

// Optimize refreshes statistics for all tables in the database.
func (a *MSSQLAdapter) Optimize(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, "EXEC sp_updatestats"); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	return nil
}

// CreateTable creates the standard table skeleton.
func (a *MSSQLAdapter) CreateTable(ctx context.Context, tableName string) error {
	query := fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
	CREATE TABLE %s (
		id INT IDENTITY(1,1) PRIMARY KEY,
		created_at DATETIME2 DEFAULT SYSUTCDATETIME(),
		updated_at DATETIME2 DEFAULT SYSUTCDATETIME()
	)`, strings.ReplaceAll(tableName, "'", "''"), a.QuoteName(tableName))

	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %q: %w", tableName, err)
	}
	return nil
}

// DropTable removes a table and all its data.
func (a *MSSQLAdapter) DropTable(ctx context.Context, tableName string) error {
	query := "DROP TABLE IF EXISTS " + a.QuoteName(tableName)
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop table %q: %w", tableName, err)
	}
	return nil
}

// AddColumn adds a column of one of the supported abstract types.
func (a *MSSQLAdapter) AddColumn(ctx context.Context, tableName, columnName, columnType string) error {
	query := fmt.Sprintf("ALTER TABLE %s ADD %s %s",
		a.QuoteName(tableName), a.QuoteName(columnName), columnSQLType(columnType))
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("add column %q.%q: %w", tableName, columnName, err)
	}
	return nil
}

// DropColumn removes a column.
func (a *MSSQLAdapter) DropColumn(ctx context.Context, tableName, columnName string) error {
	query := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		a.QuoteName(tableName), a.QuoteName(columnName))
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop column %q.%q: %w", tableName, columnName, err)
	}
	return nil
}

// CreateDatabase creates a new database on the connected instance.
func (a *MSSQLAdapter) CreateDatabase(ctx context.Context, name string) error {
	query := fmt.Sprintf("IF DB_ID(N'%s') IS NULL CREATE DATABASE %s",
		strings.ReplaceAll(name, "'", "''"), a.QuoteName(name))
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create database %q: %w", name, err)
	}
	return nil
}

// BeginTx starts a transaction.
func (a *MSSQLAdapter) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return a.db.BeginTxx(ctx, nil)
}

// BackendType returns the backend tag for SQL Server.
func (a *MSSQLAdapter) BackendType() string { return "mssql" }

// QuoteName wraps an identifier in brackets, escaping embedded closing
// brackets.
func (a *MSSQLAdapter) QuoteName(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// SupportsReturning indicates that SQL Server does NOT support RETURNING;
// it uses OUTPUT clauses, which the record layer does not generate.
func (a *MSSQLAdapter) SupportsReturning() bool { return false }

func columnSQLType(columnType string) string {
	switch strings.ToUpper(columnType) {
	case "INTEGER":
		return "INT"
	case "REAL":
		return "FLOAT"
	case "BLOB":
		return "VARBINARY(MAX)"
	case "VARCHAR":
		return "NVARCHAR(255)"
	default:
		return "NVARCHAR(MAX)"
	}
}
