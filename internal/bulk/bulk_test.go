package bulk

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/data2rest/data2rest/internal/adapter"
	"github.com/data2rest/data2rest/internal/adapter/sqlite"
)

func newTestAdapter(t *testing.T) adapter.Adapter {
	t.Helper()
	a := sqlite.New()
	err := a.Connect(adapter.ConnectionConfig{
		Backend: "sqlite",
		DSN:     filepath.Join(t.TempDir(), "bulk.sqlite"),
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { a.Disconnect() })

	ctx := context.Background()
	if err := a.CreateTable(ctx, "items"); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := a.AddColumn(ctx, "items", "name", "TEXT"); err != nil {
		t.Fatalf("AddColumn name: %v", err)
	}
	if err := a.AddColumn(ctx, "items", "qty", "INTEGER"); err != nil {
		t.Fatalf("AddColumn qty: %v", err)
	}
	return a
}

func countRows(t *testing.T, a adapter.Adapter) int {
	t.Helper()
	var n int
	if err := a.DB().Get(&n, `SELECT COUNT(*) FROM "items"`); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestExecuteAllCreate(t *testing.T) {
	a := newTestAdapter(t)
	m := NewManager(10)

	res, err := m.Execute(context.Background(), a, "items", []Operation{
		{Method: "create", Data: map[string]interface{}{"name": "bolt", "qty": 10}},
		{Method: "post", Data: map[string]interface{}{"name": "nut", "qty": 20}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !res.Success {
		t.Error("batch with no failures should report success")
	}
	if res.Summary != (Summary{Total: 2, Success: 2, Failed: 0}) {
		t.Errorf("summary = %+v", res.Summary)
	}
	if res.Results[0].ID == nil {
		t.Error("create result should carry the inserted id")
	}
	if countRows(t, a) != 2 {
		t.Errorf("expected 2 rows, got %d", countRows(t, a))
	}
}

func TestExecutePartialFailureStillCommits(t *testing.T) {
	a := newTestAdapter(t)
	m := NewManager(10)
	ctx := context.Background()

	seed, err := m.Execute(ctx, a, "items", []Operation{
		{Method: "create", Data: map[string]interface{}{"name": "bolt", "qty": 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	seededID := seed.Results[0].ID

	res, err := m.Execute(ctx, a, "items", []Operation{
		{Method: "update", ID: seededID, Data: map[string]interface{}{"qty": 5}},
		{Method: "update", ID: 9999, Data: map[string]interface{}{"qty": 7}}, // missing record
		{Method: "create", Data: map[string]interface{}{}},                   // validation failure
		{Method: "delete"},                                                   // missing id
		{Method: "create", Data: map[string]interface{}{"name": "washer", "qty": 3}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if res.Success {
		t.Error("batch with failures must not report success")
	}
	if res.Summary != (Summary{Total: 5, Success: 2, Failed: 3}) {
		t.Errorf("summary = %+v", res.Summary)
	}

	// Items after a failed one still ran.
	if !res.Results[4].Success {
		t.Error("item after failures should still execute")
	}
	// And the successful items are durable despite the batch failing.
	if countRows(t, a) != 2 {
		t.Errorf("expected 2 rows after commit, got %d", countRows(t, a))
	}
	var qty int
	if err := a.DB().Get(&qty, `SELECT "qty" FROM "items" WHERE id = ?`, seededID); err != nil {
		t.Fatal(err)
	}
	if qty != 5 {
		t.Errorf("update should be committed, qty = %d", qty)
	}

	// Failed items carry structured errors.
	if res.Results[1].Error == "" || res.Results[2].Error == "" || res.Results[3].Error == "" {
		t.Errorf("failed items should carry error messages: %+v", res.Results)
	}
}

func TestExecuteDelete(t *testing.T) {
	a := newTestAdapter(t)
	m := NewManager(10)
	ctx := context.Background()

	seed, err := m.Execute(ctx, a, "items", []Operation{
		{Method: "create", Data: map[string]interface{}{"name": "bolt", "qty": 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := m.Execute(ctx, a, "items", []Operation{
		{Method: "delete", ID: seed.Results[0].ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Errorf("delete batch failed: %+v", res.Results)
	}
	if countRows(t, a) != 0 {
		t.Error("row should be gone")
	}
}

func TestExecuteRejectsBadBatches(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if _, err := NewManager(10).Execute(ctx, a, "items", nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("empty batch error = %v", err)
	}

	m := NewManager(2)
	ops := []Operation{
		{Method: "create", Data: map[string]interface{}{"name": "a"}},
		{Method: "create", Data: map[string]interface{}{"name": "b"}},
		{Method: "create", Data: map[string]interface{}{"name": "c"}},
	}
	if _, err := m.Execute(ctx, a, "items", ops); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("oversized batch error = %v", err)
	}
	// Rejected wholesale: nothing ran.
	if countRows(t, a) != 0 {
		t.Error("oversized batch must not execute any item")
	}
}

func TestExecuteUnsupportedMethod(t *testing.T) {
	a := newTestAdapter(t)
	res, err := NewManager(10).Execute(context.Background(), a, "items", []Operation{
		{Method: "merge", Data: map[string]interface{}{"name": "x"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Results[0].Error == "" {
		t.Errorf("unsupported method should fail the item: %+v", res.Results[0])
	}
}
