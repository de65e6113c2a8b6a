package adapter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/data2rest/data2rest/internal/model"
)

// RecordSource is the slice of the control store the Manager needs to
// resolve database records and persist new ones.
type RecordSource interface {
	GetDatabase(ctx context.Context, id int64) (*model.DatabaseRecord, error)
	CreateDatabaseRecord(ctx context.Context, rec *model.DatabaseRecord) error
}

// Manager caches one connected Adapter per database-record id for the life
// of the process. Cache entries must be evicted explicitly after schema
// changes or credential rotation; there is no background revalidation.
type Manager struct {
	registry *Registry
	records  RecordSource
	storeDir string // directory for provisioned SQLite files

	mu       sync.Mutex
	adapters map[int64]Adapter
}

// NewManager creates a Manager resolving backends through registry and
// database records through records. storeDir is where new embedded database
// files are placed.
func NewManager(registry *Registry, records RecordSource, storeDir string) *Manager {
	return &Manager{
		registry: registry,
		records:  records,
		storeDir: storeDir,
		adapters: make(map[int64]Adapter),
	}
}

// Get returns the cached adapter for a database id, connecting one if
// needed.
func (m *Manager) Get(ctx context.Context, databaseID int64) (Adapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.adapters[databaseID]; ok {
		return a, nil
	}

	rec, err := m.records.GetDatabase(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("resolve database %d: %w", databaseID, err)
	}

	a, err := m.registry.Open(ConnectionConfig{Backend: rec.Backend, DSN: rec.DSN})
	if err != nil {
		return nil, err
	}

	m.adapters[databaseID] = a
	return a, nil
}

// ClearCache disconnects and evicts the cached adapter for one database.
func (m *Manager) ClearCache(databaseID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.adapters[databaseID]; ok {
		a.Disconnect()
		delete(m.adapters, databaseID)
	}
}

// ClearAllCaches disconnects and evicts every cached adapter.
func (m *Manager) ClearAllCaches() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range m.adapters {
		a.Disconnect()
		delete(m.adapters, id)
	}
}

// CreateDatabase provisions a new physical database and persists its record.
// For embedded backends an on-disk path is generated from the name; for
// client/server backends the provisioning call goes through the same
// factory before the record is written.
func (m *Manager) CreateDatabase(ctx context.Context, name, backend, dsn, project string) (*model.DatabaseRecord, error) {
	if backend == "sqlite" && dsn == "" {
		dsn = filepath.Join(m.storeDir, safeFileName(name)+".sqlite")
	}

	a, err := m.registry.Open(ConnectionConfig{Backend: backend, DSN: dsn})
	if err != nil {
		return nil, err
	}
	defer a.Disconnect()

	if err := a.CreateDatabase(ctx, name); err != nil {
		return nil, fmt.Errorf("provision database %q: %w", name, err)
	}

	rec := &model.DatabaseRecord{
		Name:    name,
		Backend: backend,
		DSN:     dsn,
		Project: project,
	}
	if err := m.records.CreateDatabaseRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist database record: %w", err)
	}
	return rec, nil
}

// TestConnection opens a throwaway connection for cfg and pings it.
func (m *Manager) TestConnection(ctx context.Context, cfg ConnectionConfig) error {
	a, err := m.registry.Open(cfg)
	if err != nil {
		return err
	}
	defer a.Disconnect()
	return a.Ping(ctx)
}

// safeFileName reduces a database name to a filesystem-safe token.
func safeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
