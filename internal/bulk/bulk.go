// Package bulk executes ordered batches of create/update/delete operations
// against one table inside a single transaction. Per-item failures are
// recorded and the loop continues; the transaction commits even when items
// failed, so the batch summary reflects durable partial success.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/data2rest/data2rest/internal/adapter"
)

// DefaultMaxBatchSize caps a batch when no configured value is given.
const DefaultMaxBatchSize = 100

// ErrEmptyBatch rejects a batch with no operations.
var ErrEmptyBatch = errors.New("no operations provided")

// ErrBatchTooLarge rejects an oversized batch wholesale, before any item
// runs.
var ErrBatchTooLarge = errors.New("batch size exceeds maximum")

// Operation is one descriptor in a batch.
type Operation struct {
	Method string                 `json:"method"`
	ID     interface{}            `json:"id,omitempty"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// ItemResult reports the outcome of one operation.
type ItemResult struct {
	Success bool                   `json:"success"`
	Index   int                    `json:"index"`
	Method  string                 `json:"method"`
	ID      interface{}            `json:"id,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Summary counts the batch outcome.
type Summary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Result is the batch-level response. Success is true only when no item
// failed; with partial failure the committed items stay committed and the
// per-item results say which ones.
type Result struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Summary Summary      `json:"summary"`
	Results []ItemResult `json:"results"`
}

// Manager dispatches batches with a configured size cap.
type Manager struct {
	maxBatchSize int
}

// NewManager creates a Manager. A non-positive cap falls back to the
// default.
func NewManager(maxBatchSize int) *Manager {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &Manager{maxBatchSize: maxBatchSize}
}

// Execute runs a batch against one table. The whole batch shares one
// transaction; item validation errors and not-found updates/deletes become
// per-item failures without stopping the loop. Only transaction plumbing
// failures (begin/commit) roll the batch back and surface as an error.
func (m *Manager) Execute(ctx context.Context, a adapter.Adapter, table string, ops []Operation) (*Result, error) {
	if len(ops) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(ops) > m.maxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(ops), m.maxBatchSize)
	}

	tx, err := a.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin bulk transaction: %w", err)
	}

	results := make([]ItemResult, 0, len(ops))
	var successCount, errorCount int

	for index, op := range ops {
		res := executeOperation(ctx, tx, a, table, index, op)
		results = append(results, res)
		if res.Success {
			successCount++
		} else {
			errorCount++
		}
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("commit bulk transaction: %w", err)
	}

	return &Result{
		Success: errorCount == 0,
		Message: fmt.Sprintf("Processed %d operations successfully, %d failed", successCount, errorCount),
		Summary: Summary{Total: len(ops), Success: successCount, Failed: errorCount},
		Results: results,
	}, nil
}

func executeOperation(ctx context.Context, tx *sqlx.Tx, a adapter.Adapter, table string, index int, op Operation) ItemResult {
	method := strings.ToLower(op.Method)
	if method == "" {
		method = "create"
	}

	switch method {
	case "create", "post":
		return bulkCreate(ctx, tx, a, table, index, op.Data)

	case "update", "put", "patch":
		if op.ID == nil {
			return failure(index, "update", "ID required for update operation")
		}
		return bulkUpdate(ctx, tx, a, table, index, op.ID, op.Data)

	case "delete":
		if op.ID == nil {
			return failure(index, "delete", "ID required for delete operation")
		}
		return bulkDelete(ctx, tx, a, table, index, op.ID)

	default:
		return failure(index, method, "Unsupported method: "+method)
	}
}

func bulkCreate(ctx context.Context, tx *sqlx.Tx, a adapter.Adapter, table string, index int, data map[string]interface{}) ItemResult {
	if len(data) == 0 {
		return failure(index, "create", "No data provided for create")
	}

	columns := sortedColumns(data)
	quoted := make([]string, len(columns))
	values := make([]interface{}, len(columns))
	for i, col := range columns {
		quoted[i] = a.QuoteName(col)
		values[i] = data[col]
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		a.QuoteName(table), strings.Join(quoted, ", "), placeholders)

	var insertedID int64
	if a.SupportsReturning() {
		row := tx.QueryRowContext(ctx, tx.Rebind(query+" RETURNING id"), values...)
		if err := row.Scan(&insertedID); err != nil {
			return failure(index, "create", err.Error())
		}
	} else {
		res, err := tx.ExecContext(ctx, tx.Rebind(query), values...)
		if err != nil {
			return failure(index, "create", err.Error())
		}
		insertedID, _ = res.LastInsertId()
	}

	created := make(map[string]interface{}, len(data)+1)
	created["id"] = insertedID
	for k, v := range data {
		created[k] = v
	}
	return ItemResult{Success: true, Index: index, Method: "create", ID: insertedID, Data: created}
}

func bulkUpdate(ctx context.Context, tx *sqlx.Tx, a adapter.Adapter, table string, index int, id interface{}, data map[string]interface{}) ItemResult {
	if len(data) == 0 {
		return failure(index, "update", "No data provided for update")
	}

	columns := sortedColumns(data)
	sets := make([]string, len(columns))
	values := make([]interface{}, 0, len(columns)+1)
	for i, col := range columns {
		sets[i] = a.QuoteName(col) + " = ?"
		values = append(values, data[col])
	}
	values = append(values, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
		a.QuoteName(table), strings.Join(sets, ", "))

	res, err := tx.ExecContext(ctx, tx.Rebind(query), values...)
	if err != nil {
		return failure(index, "update", err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return failure(index, "update", fmt.Sprintf("Record with ID %v not found", id))
	}
	return ItemResult{Success: true, Index: index, Method: "update", ID: id}
}

func bulkDelete(ctx context.Context, tx *sqlx.Tx, a adapter.Adapter, table string, index int, id interface{}) ItemResult {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", a.QuoteName(table))

	res, err := tx.ExecContext(ctx, tx.Rebind(query), id)
	if err != nil {
		return failure(index, "delete", err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return failure(index, "delete", fmt.Sprintf("Record with ID %v not found", id))
	}
	return ItemResult{Success: true, Index: index, Method: "delete", ID: id}
}

func failure(index int, method, msg string) ItemResult {
	return ItemResult{Success: false, Index: index, Method: method, Error: msg}
}

func sortedColumns(data map[string]interface{}) []string {
	columns := make([]string, 0, len(data))
	for col := range data {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}
