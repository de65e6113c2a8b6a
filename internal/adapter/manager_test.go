package adapter_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/data2rest/data2rest/internal/adapter"
	"github.com/data2rest/data2rest/internal/adapter/sqlite"
	"github.com/data2rest/data2rest/internal/config"
	"github.com/data2rest/data2rest/internal/model"
)

// fakeRecords is an in-memory RecordSource for manager tests.
type fakeRecords struct {
	records map[int64]*model.DatabaseRecord
	nextID  int64
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[int64]*model.DatabaseRecord), nextID: 1}
}

func (f *fakeRecords) GetDatabase(_ context.Context, id int64) (*model.DatabaseRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, config.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRecords) CreateDatabaseRecord(_ context.Context, rec *model.DatabaseRecord) error {
	rec.ID = f.nextID
	f.nextID++
	f.records[rec.ID] = rec
	return nil
}

func newTestManager(t *testing.T) (*adapter.Manager, *fakeRecords, string) {
	t.Helper()
	dir := t.TempDir()
	reg := adapter.NewRegistry()
	reg.Register("sqlite", sqlite.New)
	records := newFakeRecords()
	return adapter.NewManager(reg, records, dir), records, dir
}

func TestManagerGetCachesAdapter(t *testing.T) {
	mgr, records, dir := newTestManager(t)
	ctx := context.Background()

	records.records[7] = &model.DatabaseRecord{
		ID: 7, Name: "inventory", Backend: "sqlite",
		DSN: filepath.Join(dir, "inventory.sqlite"),
	}

	first, err := mgr.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := mgr.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get (cached): %v", err)
	}
	if first != second {
		t.Error("expected the same adapter instance from the cache")
	}
}

func TestManagerGetUnknownDatabase(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	if _, err := mgr.Get(context.Background(), 99); err == nil {
		t.Fatal("expected error for unknown database id")
	}
}

func TestManagerClearCacheReconnects(t *testing.T) {
	mgr, records, dir := newTestManager(t)
	ctx := context.Background()

	records.records[1] = &model.DatabaseRecord{
		ID: 1, Name: "crm", Backend: "sqlite",
		DSN: filepath.Join(dir, "crm.sqlite"),
	}

	first, err := mgr.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	mgr.ClearCache(1)

	second, err := mgr.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get after ClearCache: %v", err)
	}
	if first == second {
		t.Error("expected a fresh adapter after cache eviction")
	}
	if err := second.Ping(ctx); err != nil {
		t.Errorf("Ping on fresh adapter: %v", err)
	}
}

func TestManagerCreateDatabaseProvisionsSQLitePath(t *testing.T) {
	mgr, records, dir := newTestManager(t)
	ctx := context.Background()

	rec, err := mgr.CreateDatabase(ctx, "orders db", "sqlite", "", "shop")
	if err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}

	want := filepath.Join(dir, "orders_db.sqlite")
	if rec.DSN != want {
		t.Errorf("DSN = %q, want %q", rec.DSN, want)
	}
	if rec.ID == 0 {
		t.Error("expected a persisted record id")
	}
	if _, ok := records.records[rec.ID]; !ok {
		t.Error("record was not persisted")
	}

	// The provisioned file must be immediately connectable.
	a, err := mgr.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get provisioned database: %v", err)
	}
	if err := a.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestManagerTestConnection(t *testing.T) {
	mgr, _, dir := newTestManager(t)

	err := mgr.TestConnection(context.Background(), adapter.ConnectionConfig{
		Backend: "sqlite",
		DSN:     filepath.Join(dir, "probe.sqlite"),
	})
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}

	err = mgr.TestConnection(context.Background(), adapter.ConnectionConfig{
		Backend: "db2",
	})
	if err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}
