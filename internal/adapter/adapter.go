// Package adapter defines the uniform operational contract over one physical
// relational backend, the factory registry that resolves backend-type tags
// to implementations, and the connection manager that caches one live
// adapter per exposed database.
//
// Identifiers (table and column names) enter SQL text only through
// QuoteName; values are always bound as parameters. Every engine that builds
// dynamic SQL on top of an adapter relies on that guarantee.
package adapter

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// ConnectionConfig holds the parameters needed to open a backend connection.
type ConnectionConfig struct {
	Backend         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Adapter is the interface every database backend must implement.
type Adapter interface {
	// Connection management
	Connect(cfg ConnectionConfig) error
	Disconnect() error
	Ping(ctx context.Context) error
	DB() *sqlx.DB

	// Introspection and maintenance
	GetTables(ctx context.Context) ([]string, error)
	GetColumns(ctx context.Context, tableName string) ([]string, error)
	GetDatabaseSize(ctx context.Context) (int64, error)
	Optimize(ctx context.Context) error

	// Schema modification. CreateTable creates the standard skeleton
	// (integer primary key plus created_at/updated_at); columns are added
	// individually afterwards.
	CreateTable(ctx context.Context, tableName string) error
	DropTable(ctx context.Context, tableName string) error
	AddColumn(ctx context.Context, tableName, columnName, columnType string) error
	DropColumn(ctx context.Context, tableName, columnName string) error

	// Provisioning. Creates a new physical database on the backend server.
	// File-based engines create their database implicitly on first open and
	// implement this as a no-op.
	CreateDatabase(ctx context.Context, name string) error

	// Transactions
	BeginTx(ctx context.Context) (*sqlx.Tx, error)

	// Metadata
	BackendType() string
	QuoteName(name string) string
	SupportsReturning() bool
}
