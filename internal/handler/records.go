package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/data2rest/data2rest/internal/adapter"
	"github.com/data2rest/data2rest/internal/bulk"
	"github.com/data2rest/data2rest/internal/cache"
	"github.com/data2rest/data2rest/internal/config"
	"github.com/data2rest/data2rest/internal/permission"
	"github.com/data2rest/data2rest/internal/query"
	"github.com/data2rest/data2rest/internal/server/middleware"
	"github.com/data2rest/data2rest/internal/version"
)

// RecordHandler serves the data API: CRUD over rows of any table in an
// exposed database, plus batched writes.
type RecordHandler struct {
	manager  *adapter.Manager
	store    *config.Store
	cache    *cache.Cache
	bulk     *bulk.Manager
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewRecordHandler creates a RecordHandler.
func NewRecordHandler(manager *adapter.Manager, store *config.Store, c *cache.Cache, b *bulk.Manager, cacheTTL time.Duration, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{
		manager:  manager,
		store:    store,
		cache:    c,
		bulk:     b,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// target resolves the database and table addressed by the request. On
// failure the error response has already been written.
func (h *RecordHandler) target(w http.ResponseWriter, r *http.Request) (int64, string, adapter.Adapter, bool) {
	dbID, err := strconv.ParseInt(chi.URLParam(r, "databaseID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid database id")
		return 0, "", nil, false
	}

	table := chi.URLParam(r, "table")
	if err := query.ValidateIdentifier(table); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid table name: "+err.Error())
		return 0, "", nil, false
	}

	a, err := h.manager.Get(r.Context(), dbID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Database not found")
		} else {
			writeError(w, http.StatusBadGateway, "Database unavailable: "+err.Error())
		}
		return 0, "", nil, false
	}

	return dbID, table, a, true
}

// targetDatabase resolves just the database addressed by the request, for
// routes that are not scoped to one table.
func (h *RecordHandler) targetDatabase(w http.ResponseWriter, r *http.Request) (int64, adapter.Adapter, bool) {
	dbID, err := strconv.ParseInt(chi.URLParam(r, "databaseID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid database id")
		return 0, nil, false
	}

	a, err := h.manager.Get(r.Context(), dbID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Database not found")
		} else {
			writeError(w, http.StatusBadGateway, "Database unavailable: "+err.Error())
		}
		return 0, nil, false
	}
	return dbID, a, true
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// authorize checks the caller's grant for one operation against the target
// database and table. Admin sessions consult the session permission set;
// API keys consult their permission rows, exact table rows outranking the
// database wildcard, plus the key's IP allow-list. On denial the response
// has already been written.
func (h *RecordHandler) authorize(w http.ResponseWriter, r *http.Request, dbID int64, table, op string) bool {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return false
	}

	if p.Type == "admin" {
		action := permission.NormalizeOperation(op)
		if action == "read" {
			action = "view"
		}
		if !p.Session.Permissions.Has("db:"+strconv.FormatInt(dbID, 10), action) {
			writeError(w, http.StatusForbidden, "Permission denied")
			return false
		}
		return true
	}

	perms, err := h.store.GetPermissions(r.Context(), p.KeyID, dbID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Permission lookup failed: "+err.Error())
		return false
	}

	grant := permission.Resolve(perms, table)
	if !permission.Allows(grant, op) {
		writeError(w, http.StatusForbidden, "Permission denied")
		return false
	}

	if grant.AllowedIPs != nil && *grant.AllowedIPs != "" {
		if !permission.IPAllowed(*grant.AllowedIPs, remoteIP(r)) {
			writeError(w, http.StatusForbidden, "IP address not allowed")
			return false
		}
	}
	return true
}

// remoteIP strips the port from RemoteAddr. RealIP middleware may have
// already replaced it with the bare client address.
func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// cacheScope is the readable prefix under which a table's responses are
// cached, so one write can invalidate by substring.
func cacheScope(dbID int64, table string) string {
	return fmt.Sprintf("db%d:%s:", dbID, table)
}

func (h *RecordHandler) cacheEnabled(r *http.Request) bool {
	if h.cache == nil {
		return false
	}
	val, err := h.store.GetSetting(r.Context(), "api_cache_enabled")
	if err != nil {
		return true
	}
	return val != "0" && val != "false"
}

// List retrieves rows from a table with filtering, sorting, field
// projection, and pagination. Responses carry an ETag and are served from
// the response cache when a live entry exists.
// GET /api/{version}/db/{databaseID}/{table}
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	v := middleware.GetVersion(r.Context())
	vcfg := version.ConfigFor(v)

	dbID, table, a, ok := h.target(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, r, dbID, table, "get") {
		return
	}

	params := r.URL.Query()
	useCache := h.cacheEnabled(r)
	key := cacheScope(dbID, table) + cache.Key(r.URL.Path, params)

	if useCache {
		if payload, hit, err := h.cache.Get(r.Context(), key); err != nil {
			h.logger.Warn("cache read failed", "error", err)
		} else if hit {
			var envelope map[string]interface{}
			if err := json.Unmarshal([]byte(payload), &envelope); err == nil {
				h.respondList(w, r, v, envelope, started, true)
				return
			}
		}
	}

	columns, err := a.GetColumns(r.Context(), table)
	if err != nil {
		code, msg := classifyDBError(err, "Table lookup failed")
		writeError(w, code, msg)
		return
	}

	limit, offset := query.ParseLimitOffset(params, vcfg.DefaultLimit, vcfg.MaxLimit)
	filter := query.BuildFilters(params, columns, a.QuoteName)
	fieldList := query.BuildFieldList(params.Get("fields"), columns, a.QuoteName)
	orderSQL := query.BuildSort(params.Get("sort"), columns, a.QuoteName)

	quotedTable := a.QuoteName(table)
	sqlStr := "SELECT " + fieldList + " FROM " + quotedTable
	if filter.Where != "" {
		sqlStr += " WHERE " + filter.Where
	}
	if orderSQL != "" {
		sqlStr += " " + orderSQL
	}
	sqlStr += " " + query.BuildLimitOffset(limit, offset)

	db := a.DB()
	rows, err := db.QueryxContext(r.Context(), db.Rebind(sqlStr), filter.Args...)
	if err != nil {
		code, msg := classifyDBError(err, "Query failed")
		writeError(w, code, msg)
		return
	}
	defer rows.Close()

	records := make([]map[string]interface{}, 0)
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to scan row: "+err.Error())
			return
		}
		cleanMapValues(row)
		records = append(records, row)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, "Row iteration error: "+err.Error())
		return
	}

	countSQL := "SELECT COUNT(*) FROM " + quotedTable
	if filter.Where != "" {
		countSQL += " WHERE " + filter.Where
	}
	var total int64
	if err := db.GetContext(r.Context(), &total, db.Rebind(countSQL), filter.Args...); err != nil {
		writeError(w, http.StatusInternalServerError, "Count failed: "+err.Error())
		return
	}

	envelope := map[string]interface{}{
		"data": records,
		"metadata": map[string]interface{}{
			"count":  len(records),
			"total":  total,
			"limit":  limit,
			"offset": offset,
		},
	}

	if useCache {
		if payload, err := json.Marshal(envelope); err == nil {
			if err := h.cache.Store(r.Context(), key, string(payload), h.cacheTTL); err != nil {
				h.logger.Warn("cache store failed", "error", err)
			}
		}
	}

	h.respondList(w, r, v, envelope, started, useCache)
}

// respondList handles the conditional-request short circuit and the
// version-specific response shaping shared by fresh and cached list
// responses.
func (h *RecordHandler) respondList(w http.ResponseWriter, r *http.Request, v string, envelope map[string]interface{}, started time.Time, cacheable bool) {
	etag := cache.GenerateETag(envelope)
	if cache.ClientCacheValid(r, etag) {
		cache.SetHeaders(w, etag, h.cacheTTL, cacheable)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	cache.SetHeaders(w, etag, h.cacheTTL, cacheable)
	writeJSON(w, http.StatusOK, version.TransformResponse(v, envelope, started))
}

// Get retrieves a single row by id.
// GET /api/{version}/db/{databaseID}/{table}/{id}
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	dbID, table, a, ok := h.target(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, r, dbID, table, "get") {
		return
	}

	db := a.DB()
	row := make(map[string]interface{})
	sqlStr := db.Rebind("SELECT * FROM " + a.QuoteName(table) + " WHERE " + a.QuoteName("id") + " = ?")
	if err := db.QueryRowxContext(r.Context(), sqlStr, chi.URLParam(r, "id")).MapScan(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Record not found")
			return
		}
		code, msg := classifyDBError(err, "Query failed")
		writeError(w, code, msg)
		return
	}
	cleanMapValues(row)

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": row})
}

// Create inserts one row and returns it (or at least its new id).
// POST /api/{version}/db/{databaseID}/{table}
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	dbID, table, a, ok := h.target(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, r, dbID, table, "post") {
		return
	}

	var data map[string]interface{}
	if err := readJSON(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "No fields provided")
		return
	}

	columns := make([]string, 0, len(data))
	for col := range data {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, col := range columns {
		if err := query.ValidateIdentifier(col); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid column name: "+err.Error())
			return
		}
		quoted[i] = a.QuoteName(col)
		args[i] = data[col]
	}

	db := a.DB()
	sqlStr := "INSERT INTO " + a.QuoteName(table) + " (" + strings.Join(quoted, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var id interface{}
	if a.SupportsReturning() {
		sqlStr += " RETURNING " + a.QuoteName("id")
		if err := db.QueryRowxContext(r.Context(), db.Rebind(sqlStr), args...).Scan(&id); err != nil {
			code, msg := classifyDBError(err, "Insert failed")
			writeError(w, code, msg)
			return
		}
	} else {
		res, err := db.ExecContext(r.Context(), db.Rebind(sqlStr), args...)
		if err != nil {
			code, msg := classifyDBError(err, "Insert failed")
			writeError(w, code, msg)
			return
		}
		id, _ = res.LastInsertId()
	}

	h.invalidate(r, dbID, table)

	data["id"] = id
	writeJSON(w, http.StatusCreated, map[string]interface{}{"data": data})
}

// Update rewrites the provided fields of one row. PUT and PATCH share the
// implementation; both update only the fields present in the body.
// PUT/PATCH /api/{version}/db/{databaseID}/{table}/{id}
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	dbID, table, a, ok := h.target(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, r, dbID, table, strings.ToLower(r.Method)) {
		return
	}

	var data map[string]interface{}
	if err := readJSON(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	delete(data, "id")
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	}

	columns := make([]string, 0, len(data))
	for col := range data {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	sets := make([]string, len(columns))
	args := make([]interface{}, 0, len(columns)+1)
	for i, col := range columns {
		if err := query.ValidateIdentifier(col); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid column name: "+err.Error())
			return
		}
		sets[i] = a.QuoteName(col) + " = ?"
		args = append(args, data[col])
	}
	id := chi.URLParam(r, "id")
	args = append(args, id)

	db := a.DB()
	sqlStr := "UPDATE " + a.QuoteName(table) + " SET " + strings.Join(sets, ", ") +
		" WHERE " + a.QuoteName("id") + " = ?"

	res, err := db.ExecContext(r.Context(), db.Rebind(sqlStr), args...)
	if err != nil {
		code, msg := classifyDBError(err, "Update failed")
		writeError(w, code, msg)
		return
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}

	h.invalidate(r, dbID, table)

	row := make(map[string]interface{})
	err = db.QueryRowxContext(r.Context(), db.Rebind(
		"SELECT * FROM "+a.QuoteName(table)+" WHERE "+a.QuoteName("id")+" = ?"), id).MapScan(row)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
		return
	}
	cleanMapValues(row)
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": row})
}

// Delete removes one row by id.
// DELETE /api/{version}/db/{databaseID}/{table}/{id}
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	dbID, table, a, ok := h.target(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, r, dbID, table, "delete") {
		return
	}

	db := a.DB()
	sqlStr := db.Rebind("DELETE FROM " + a.QuoteName(table) + " WHERE " + a.QuoteName("id") + " = ?")
	res, err := db.ExecContext(r.Context(), sqlStr, chi.URLParam(r, "id"))
	if err != nil {
		code, msg := classifyDBError(err, "Delete failed")
		writeError(w, code, msg)
		return
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}

	h.invalidate(r, dbID, table)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Bulk executes a batch of create/update/delete operations in one
// transaction. Available from API v2 onward.
// POST /api/{version}/db/{databaseID}/{table}/_bulk
func (h *RecordHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	v := middleware.GetVersion(r.Context())
	if !version.ConfigFor(v).SupportsBulk {
		writeError(w, http.StatusBadRequest, "Bulk operations require API "+version.Successor(v))
		return
	}

	dbID, table, a, ok := h.target(w, r)
	if !ok {
		return
	}
	// A batch mixes writes, so the caller needs every write grant.
	for _, op := range []string{"post", "put", "delete"} {
		if !h.authorize(w, r, dbID, table, op) {
			return
		}
	}

	var body struct {
		Operations []bulk.Operation `json:"operations"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.bulk.Execute(r.Context(), a, table, body.Operations)
	if err != nil {
		switch {
		case errors.Is(err, bulk.ErrEmptyBatch), errors.Is(err, bulk.ErrBatchTooLarge):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			code, msg := classifyDBError(err, "Batch failed")
			writeError(w, code, msg)
		}
		return
	}

	h.invalidate(r, dbID, table)
	writeJSON(w, http.StatusOK, result)
}

// invalidate busts every cached response touching the written table.
func (h *RecordHandler) invalidate(r *http.Request, dbID int64, table string) {
	if h.cache == nil {
		return
	}
	pattern := strings.TrimSuffix(cacheScope(dbID, table), ":")
	if _, err := h.cache.Invalidate(r.Context(), pattern); err != nil {
		h.logger.Warn("cache invalidation failed", "error", err, "pattern", pattern)
	}
}
