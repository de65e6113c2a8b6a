package cli

import (
	"os"

	"github.com/data2rest/data2rest/internal/adapter"
	"github.com/data2rest/data2rest/internal/adapter/mssql"
	"github.com/data2rest/data2rest/internal/adapter/mysql"
	"github.com/data2rest/data2rest/internal/adapter/postgres"
	"github.com/data2rest/data2rest/internal/adapter/sqlite"
	"github.com/data2rest/data2rest/internal/config"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// DATA2REST_DATA_DIR env var, or ~/.data2rest as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("DATA2REST_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.data2rest"
}

// openConfigStore opens the SQLite control store, defaulting to ~/.data2rest
// if no data dir was specified.
func openConfigStore() (*config.Store, error) {
	return config.NewStore(resolveDataDir())
}

// newRegistry creates an adapter registry with all supported backends registered.
func newRegistry() *adapter.Registry {
	registry := adapter.NewRegistry()
	registry.Register("sqlite", sqlite.New)
	registry.Register("postgres", postgres.New)
	registry.Register("mysql", mysql.New)
	registry.Register("mssql", mssql.New)
	return registry
}

// newManager creates an adapter manager backed by the control store.
func newManager(store *config.Store) *adapter.Manager {
	return adapter.NewManager(newRegistry(), store, resolveDataDir())
}
