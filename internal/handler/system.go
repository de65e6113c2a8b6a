package handler

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/data2rest/data2rest/internal/adapter"
	"github.com/data2rest/data2rest/internal/cache"
	"github.com/data2rest/data2rest/internal/config"
	"github.com/data2rest/data2rest/internal/model"
	"github.com/data2rest/data2rest/internal/ratelimit"
	"github.com/data2rest/data2rest/internal/service"
)

// SystemHandler manages data2rest's own configuration: exposed databases,
// API keys and their permissions, users, and operational stats.
type SystemHandler struct {
	store   *config.Store
	authSvc *service.AuthService
	manager *adapter.Manager
	limiter *ratelimit.Limiter
	cache   *cache.Cache
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(store *config.Store, authSvc *service.AuthService, manager *adapter.Manager, limiter *ratelimit.Limiter, c *cache.Cache) *SystemHandler {
	return &SystemHandler{
		store:   store,
		authSvc: authSvc,
		manager: manager,
		limiter: limiter,
		cache:   c,
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
}

// Login authenticates an admin user and returns a JWT session token
// carrying the merged role+group permission set.
// POST /api/v1/system/login
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	principal, err := h.authSvc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "Authentication error: "+err.Error())
		return
	}

	ttl := 24 * time.Hour
	token, err := h.authSvc.IssueJWT(r.Context(), principal, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(ttl.Seconds()),
		UserID:    principal.UserID,
		Username:  principal.Username,
	})
}

// ---------------------------------------------------------------------------
// Database management
// ---------------------------------------------------------------------------

// ListDatabases returns all exposed databases.
// GET /api/v1/system/databases
func (h *SystemHandler) ListDatabases(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListDatabases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list databases: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(records))
	for i := range records {
		resources = append(resources, databaseToMap(&records[i]))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     resources,
		"metadata": map[string]interface{}{"count": len(resources)},
	})
}

type createDatabaseRequest struct {
	Name    string `json:"name"`
	Backend string `json:"backend"`
	DSN     string `json:"dsn"`
	Project string `json:"project"`
}

// CreateDatabase provisions a new database and registers it. For embedded
// backends the physical file is created under the data directory; for
// client/server backends the provisioning statement runs over the provided
// DSN.
// POST /api/v1/system/databases
func (h *SystemHandler) CreateDatabase(w http.ResponseWriter, r *http.Request) {
	var req createDatabaseRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Database name is required")
		return
	}
	if req.Backend == "" {
		writeError(w, http.StatusBadRequest, "Backend is required")
		return
	}

	if existing, err := h.store.GetDatabaseByName(r.Context(), req.Name); err == nil && existing != nil {
		writeError(w, http.StatusConflict, "Database already exists: "+req.Name)
		return
	}

	rec, err := h.manager.CreateDatabase(r.Context(), req.Name, req.Backend, req.DSN, req.Project)
	if err != nil {
		if errors.Is(err, adapter.ErrUnsupportedBackend) {
			writeError(w, http.StatusBadRequest, "Unsupported backend: "+req.Backend)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create database: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, databaseToMap(rec))
}

// GetDatabase returns one database record.
// GET /api/v1/system/databases/{databaseID}
func (h *SystemHandler) GetDatabase(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.databaseFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, databaseToMap(rec))
}

// UpdateDatabase edits a database's connection descriptor and evicts its
// cached connection so the next request reconnects.
// PUT /api/v1/system/databases/{databaseID}
func (h *SystemHandler) UpdateDatabase(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.databaseFromPath(w, r)
	if !ok {
		return
	}

	var updates createDatabaseRequest
	if err := readJSON(r, &updates); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if updates.Name != "" {
		rec.Name = updates.Name
	}
	if updates.Backend != "" {
		rec.Backend = updates.Backend
	}
	if updates.DSN != "" {
		rec.DSN = updates.DSN
	}
	if updates.Project != "" {
		rec.Project = updates.Project
	}

	if err := h.store.UpdateDatabaseRecord(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update database: "+err.Error())
		return
	}

	h.manager.ClearCache(rec.ID)
	writeJSON(w, http.StatusOK, databaseToMap(rec))
}

// DeleteDatabase removes a database record and disconnects it. The physical
// database is left in place.
// DELETE /api/v1/system/databases/{databaseID}
func (h *SystemHandler) DeleteDatabase(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.databaseFromPath(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteDatabaseRecord(r.Context(), rec.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete database: "+err.Error())
		return
	}

	h.manager.ClearCache(rec.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Database '" + rec.Name + "' removed",
	})
}

// TestDatabase verifies that a backend/DSN pair is reachable without
// persisting anything.
// POST /api/v1/system/databases/test
func (h *SystemHandler) TestDatabase(w http.ResponseWriter, r *http.Request) {
	var req createDatabaseRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	err := h.manager.TestConnection(r.Context(), adapter.ConnectionConfig{
		Backend: req.Backend,
		DSN:     req.DSN,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Connection failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Connection successful",
	})
}

// DatabaseSize reports the on-disk size of one database in bytes.
// GET /api/v1/system/databases/{databaseID}/size
func (h *SystemHandler) DatabaseSize(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.databaseFromPath(w, r)
	if !ok {
		return
	}

	a, err := h.manager.Get(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Database unavailable: "+err.Error())
		return
	}

	size, err := a.GetDatabaseSize(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to measure database: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":       rec.Name,
		"size_bytes": size,
	})
}

// OptimizeDatabase runs the backend's maintenance routine.
// POST /api/v1/system/databases/{databaseID}/optimize
func (h *SystemHandler) OptimizeDatabase(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.databaseFromPath(w, r)
	if !ok {
		return
	}

	a, err := h.manager.Get(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Database unavailable: "+err.Error())
		return
	}

	if err := a.Optimize(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Optimize failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Database optimized",
	})
}

func (h *SystemHandler) databaseFromPath(w http.ResponseWriter, r *http.Request) (*model.DatabaseRecord, bool) {
	idStr := chi.URLParam(r, "databaseID")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid database id: "+idStr)
		return nil, false
	}

	rec, err := h.store.GetDatabase(r.Context(), id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Database not found: "+idStr)
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get database: "+err.Error())
		return nil, false
	}
	return rec, true
}

// ---------------------------------------------------------------------------
// API key management
// ---------------------------------------------------------------------------

// ListAPIKeys returns all API keys without exposing their hashes.
// GET /api/v1/system/keys
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list API keys: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		resources = append(resources, apiKeyToMap(&keys[i]))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     resources,
		"metadata": map[string]interface{}{"count": len(resources)},
	})
}

type createAPIKeyRequest struct {
	Label      string     `json:"label"`
	RateLimit  int        `json:"rate_limit"`
	RateWindow int        `json:"rate_window"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type createAPIKeyResponse struct {
	ID        int64      `json:"id"`
	Key       string     `json:"api_key"` // Plaintext, shown ONCE.
	KeyPrefix string     `json:"key_prefix"`
	Label     string     `json:"label"`
	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateAPIKey generates a new API key, stores its hash, and returns the
// plaintext key exactly once.
// POST /api/v1/system/keys
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate key: "+err.Error())
		return
	}
	plaintext := "d2r_" + hex.EncodeToString(rawBytes)
	keyPrefix := plaintext[:12] // "d2r_" + first 8 hex chars

	apiKey := &model.APIKey{
		KeyHash:    config.HashAPIKey(plaintext),
		KeyPrefix:  keyPrefix,
		Label:      req.Label,
		IsActive:   true,
		RateLimit:  req.RateLimit,
		RateWindow: req.RateWindow,
		ExpiresAt:  req.ExpiresAt,
	}

	if err := h.store.CreateAPIKey(r.Context(), apiKey); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		ID:        apiKey.ID,
		Key:       plaintext,
		KeyPrefix: keyPrefix,
		Label:     apiKey.Label,
		IsActive:  apiKey.IsActive,
		ExpiresAt: apiKey.ExpiresAt,
		CreatedAt: apiKey.CreatedAt,
	})
}

// RevokeAPIKey deactivates an API key by ID.
// DELETE /api/v1/system/keys/{keyID}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "keyID")
	if !ok {
		return
	}

	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}

// ---------------------------------------------------------------------------
// API key permissions
// ---------------------------------------------------------------------------

// SetPermission upserts one permission row for a key. A null table_name is
// the database-wide wildcard.
// PUT /api/v1/system/keys/{keyID}/permissions
func (h *SystemHandler) SetPermission(w http.ResponseWriter, r *http.Request) {
	keyID, ok := pathID(w, r, "keyID")
	if !ok {
		return
	}

	var perm model.APIKeyPermission
	if err := readJSON(r, &perm); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	perm.APIKeyID = keyID
	if perm.DatabaseID == 0 {
		writeError(w, http.StatusBadRequest, "database_id is required")
		return
	}

	if _, err := h.store.GetAPIKey(r.Context(), keyID); err != nil {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}

	if err := h.store.SetPermission(r.Context(), &perm); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set permission: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, perm)
}

// ListKeyPermissions returns every permission row of one key.
// GET /api/v1/system/keys/{keyID}/permissions
func (h *SystemHandler) ListKeyPermissions(w http.ResponseWriter, r *http.Request) {
	keyID, ok := pathID(w, r, "keyID")
	if !ok {
		return
	}

	perms, err := h.store.ListPermissions(r.Context(), keyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list permissions: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     perms,
		"metadata": map[string]interface{}{"count": len(perms)},
	})
}

// DeletePermission removes one permission row.
// DELETE /api/v1/system/permissions/{permissionID}
func (h *SystemHandler) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}

	if err := h.store.DeletePermission(r.Context(), id); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Permission not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete permission: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// Operational stats
// ---------------------------------------------------------------------------

// KeyUsage reports the live rate-limit windows of one API key.
// GET /api/v1/system/keys/{keyID}/usage
func (h *SystemHandler) KeyUsage(w http.ResponseWriter, r *http.Request) {
	keyID, ok := pathID(w, r, "keyID")
	if !ok {
		return
	}

	usage, err := h.limiter.UsageFor(r.Context(), keyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read usage: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     usage,
		"metadata": map[string]interface{}{"count": len(usage)},
	})
}

// CacheStats reports how many cache entries are live and expired.
// GET /api/v1/system/cache/stats
func (h *SystemHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.ReadStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read cache stats: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ClearCache invalidates cache entries. With a pattern it busts matching
// entries; without one it drops expired entries only.
// POST /api/v1/system/cache/clear
func (h *SystemHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pattern string `json:"pattern"`
	}
	// An empty body means "expired entries only".
	_ = readJSON(r, &body)

	var removed int64
	var err error
	if body.Pattern != "" {
		removed, err = h.cache.Invalidate(r.Context(), body.Pattern)
	} else {
		removed, err = h.cache.ClearExpired(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear cache: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"removed": removed,
	})
}

// ---------------------------------------------------------------------------
// Serialization helpers (avoid exposing sensitive fields like DSN, hashes)
// ---------------------------------------------------------------------------

func databaseToMap(rec *model.DatabaseRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":         rec.ID,
		"name":       rec.Name,
		"backend":    rec.Backend,
		"project":    rec.Project,
		"created_at": rec.CreatedAt,
		"updated_at": rec.UpdatedAt,
	}
}

func apiKeyToMap(key *model.APIKey) map[string]interface{} {
	m := map[string]interface{}{
		"id":          key.ID,
		"key_prefix":  key.KeyPrefix,
		"label":       key.Label,
		"is_active":   key.IsActive,
		"rate_limit":  key.RateLimit,
		"rate_window": key.RateWindow,
		"created_at":  key.CreatedAt,
	}
	if key.ExpiresAt != nil {
		m["expires_at"] = key.ExpiresAt
	}
	if key.LastUsed != nil {
		m["last_used"] = key.LastUsed
	}
	return m
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	idStr := chi.URLParam(r, param)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id: "+idStr)
		return 0, false
	}
	return id, true
}
