package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/data2rest/data2rest/internal/query"
	"github.com/data2rest/data2rest/internal/server/middleware"
)

// ListTables returns the names of all tables in the database.
// GET /api/{version}/db/{databaseID}/_tables
func (h *RecordHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	dbID, a, ok := h.targetDatabase(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, r, dbID, "", "get") {
		return
	}

	names, err := a.GetTables(r.Context())
	if err != nil {
		code, msg := classifyDBError(err, "Failed to list tables")
		writeError(w, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": stringsToResources("name", names),
	})
}

// CreateTable creates a new table with the standard skeleton columns.
// Schema changes are admin-only.
// POST /api/{version}/db/{databaseID}/_tables
func (h *RecordHandler) CreateTable(w http.ResponseWriter, r *http.Request) {
	dbID, a, ok := h.targetDatabase(w, r)
	if !ok {
		return
	}
	if !h.requireSchemaAccess(w, r, dbID) {
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := query.ValidateIdentifier(body.Name); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid table name: "+err.Error())
		return
	}

	if err := a.CreateTable(r.Context(), body.Name); err != nil {
		code, msg := classifyDBError(err, "Failed to create table")
		writeError(w, code, msg)
		return
	}

	h.invalidate(r, dbID, body.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "name": body.Name})
}

// DropTable removes a table and all its data.
// DELETE /api/{version}/db/{databaseID}/_tables/{table}
func (h *RecordHandler) DropTable(w http.ResponseWriter, r *http.Request) {
	dbID, a, ok := h.targetDatabase(w, r)
	if !ok {
		return
	}
	if !h.requireSchemaAccess(w, r, dbID) {
		return
	}

	table := chi.URLParam(r, "table")
	if err := query.ValidateIdentifier(table); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid table name: "+err.Error())
		return
	}

	if err := a.DropTable(r.Context(), table); err != nil {
		code, msg := classifyDBError(err, "Failed to drop table")
		writeError(w, code, msg)
		return
	}

	h.manager.ClearCache(dbID)
	h.invalidate(r, dbID, table)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// AddColumn adds a column to an existing table.
// POST /api/{version}/db/{databaseID}/_tables/{table}/_columns
func (h *RecordHandler) AddColumn(w http.ResponseWriter, r *http.Request) {
	dbID, a, ok := h.targetDatabase(w, r)
	if !ok {
		return
	}
	if !h.requireSchemaAccess(w, r, dbID) {
		return
	}

	table := chi.URLParam(r, "table")
	if err := query.ValidateIdentifier(table); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid table name: "+err.Error())
		return
	}

	var body struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := query.ValidateIdentifier(body.Name); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid column name: "+err.Error())
		return
	}

	if err := a.AddColumn(r.Context(), table, body.Name, body.Type); err != nil {
		code, msg := classifyDBError(err, "Failed to add column")
		writeError(w, code, msg)
		return
	}

	h.invalidate(r, dbID, table)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "name": body.Name})
}

// DropColumn removes a column from a table.
// DELETE /api/{version}/db/{databaseID}/_tables/{table}/_columns/{column}
func (h *RecordHandler) DropColumn(w http.ResponseWriter, r *http.Request) {
	dbID, a, ok := h.targetDatabase(w, r)
	if !ok {
		return
	}
	if !h.requireSchemaAccess(w, r, dbID) {
		return
	}

	table := chi.URLParam(r, "table")
	column := chi.URLParam(r, "column")
	if err := query.ValidateIdentifiers([]string{table, column}); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid identifier: "+err.Error())
		return
	}

	if err := a.DropColumn(r.Context(), table, column); err != nil {
		code, msg := classifyDBError(err, "Failed to drop column")
		writeError(w, code, msg)
		return
	}

	h.invalidate(r, dbID, table)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// requireSchemaAccess restricts DDL to admin sessions holding the manage
// action on the target database.
func (h *RecordHandler) requireSchemaAccess(w http.ResponseWriter, r *http.Request, dbID int64) bool {
	p := middleware.GetPrincipal(r.Context())
	if p == nil || p.Type != "admin" {
		writeError(w, http.StatusForbidden, "Schema changes require an admin session")
		return false
	}
	if !p.Session.Permissions.Has("db:"+formatID(dbID), "manage") {
		writeError(w, http.StatusForbidden, "Permission denied")
		return false
	}
	return true
}
