package config

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/data2rest/data2rest/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store manages the control database backing the API surface: exposed
// database records, API keys and their grants, admin users with roles and
// groups, rate-limit windows, the response cache, and settings.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new control store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "data2rest.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open control database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate control database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the control store handle for the engines that keep their own
// tables in it (rate limiter, response cache).
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// ---------------------------------------------------------------------------
// Database records
// ---------------------------------------------------------------------------

// CreateDatabaseRecord inserts a new exposed-database record. The ID,
// CreatedAt, and UpdatedAt fields on rec are populated after insert.
func (s *Store) CreateDatabaseRecord(ctx context.Context, rec *model.DatabaseRecord) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	const q = `INSERT INTO databases (name, backend, dsn, project, created_at, updated_at)
		VALUES (:name, :backend, :dsn, :project, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, rec)
	if err != nil {
		return fmt.Errorf("insert database record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get database record id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetDatabase returns a database record by ID.
func (s *Store) GetDatabase(ctx context.Context, id int64) (*model.DatabaseRecord, error) {
	var rec model.DatabaseRecord
	if err := s.db.GetContext(ctx, &rec, "SELECT * FROM databases WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get database: %w", err)
	}
	return &rec, nil
}

// GetDatabaseByName returns a database record by its unique name.
func (s *Store) GetDatabaseByName(ctx context.Context, name string) (*model.DatabaseRecord, error) {
	var rec model.DatabaseRecord
	if err := s.db.GetContext(ctx, &rec, "SELECT * FROM databases WHERE name = ?", name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get database by name: %w", err)
	}
	return &rec, nil
}

// ListDatabases returns all exposed database records.
func (s *Store) ListDatabases(ctx context.Context) ([]model.DatabaseRecord, error) {
	var recs []model.DatabaseRecord
	if err := s.db.SelectContext(ctx, &recs, "SELECT * FROM databases ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	return recs, nil
}

// UpdateDatabaseRecord updates an existing database record. The UpdatedAt
// field on rec is refreshed automatically.
func (s *Store) UpdateDatabaseRecord(ctx context.Context, rec *model.DatabaseRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	const q = `UPDATE databases SET
		name = :name, backend = :backend, dsn = :dsn, project = :project, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, rec)
	if err != nil {
		return fmt.Errorf("update database record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update database record rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDatabaseRecord removes a database record by ID. Associated
// permission rows are cascade deleted.
func (s *Store) DeleteDatabaseRecord(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM databases WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete database record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete database record rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// API Key management
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. The key_hash must already be set
// (use HashAPIKey). The ID and CreatedAt fields are populated after insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys
		(key_hash, key_prefix, label, is_active, rate_limit, rate_window, expires_at, created_at)
		VALUES
		(:key_hash, :key_prefix, :label, :is_active, :rate_limit, :rate_window, :expires_at, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, key)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, "SELECT * FROM api_keys WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, "SELECT * FROM api_keys WHERE key_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns all API keys.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks an API key as inactive by ID.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAPIKeyByPrefix marks an API key as inactive by its prefix.
func (s *Store) RevokeAPIKeyByPrefix(ctx context.Context, prefix string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_active = 0 WHERE key_prefix = ? AND is_active = 1", prefix)
	if err != nil {
		return fmt.Errorf("revoke api key by prefix: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAPIKeyLastUsed sets the last_used timestamp for an API key.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// API key permissions
// ---------------------------------------------------------------------------

// SetPermission upserts a grant row keyed by (api_key_id, database_id,
// table_name) with NULL-safe matching on the table name, so the wildcard row
// and each table row are each singletons.
func (s *Store) SetPermission(ctx context.Context, p *model.APIKeyPermission) error {
	const upd = `UPDATE api_key_permissions SET
		can_read = ?, can_create = ?, can_update = ?, can_delete = ?, allowed_ips = ?
		WHERE api_key_id = ? AND database_id = ? AND table_name IS ?`

	result, err := s.db.ExecContext(ctx, upd,
		p.CanRead, p.CanCreate, p.CanUpdate, p.CanDelete, p.AllowedIPs,
		p.APIKeyID, p.DatabaseID, p.TableName)
	if err != nil {
		return fmt.Errorf("update permission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update permission rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	const ins = `INSERT INTO api_key_permissions
		(api_key_id, database_id, table_name, can_read, can_create, can_update, can_delete, allowed_ips)
		VALUES (:api_key_id, :database_id, :table_name, :can_read, :can_create, :can_update, :can_delete, :allowed_ips)`

	result, err = s.db.NamedExecContext(ctx, ins, p)
	if err != nil {
		return fmt.Errorf("insert permission: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get permission id: %w", err)
	}
	p.ID = id
	return nil
}

// GetPermissions returns the grant rows for one key on one database,
// table-specific rows first so callers can resolve precedence by scanning.
func (s *Store) GetPermissions(ctx context.Context, apiKeyID, databaseID int64) ([]model.APIKeyPermission, error) {
	const q = `SELECT * FROM api_key_permissions
		WHERE api_key_id = ? AND database_id = ?
		ORDER BY table_name IS NULL, table_name`

	var perms []model.APIKeyPermission
	if err := s.db.SelectContext(ctx, &perms, q, apiKeyID, databaseID); err != nil {
		return nil, fmt.Errorf("get permissions: %w", err)
	}
	return perms, nil
}

// ListPermissions returns every grant row for one API key.
func (s *Store) ListPermissions(ctx context.Context, apiKeyID int64) ([]model.APIKeyPermission, error) {
	var perms []model.APIKeyPermission
	err := s.db.SelectContext(ctx, &perms,
		"SELECT * FROM api_key_permissions WHERE api_key_id = ? ORDER BY database_id, table_name IS NULL, table_name",
		apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return perms, nil
}

// DeletePermission removes a single grant row by ID.
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_key_permissions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete permission rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePermissions removes every grant row for one API key.
func (s *Store) DeletePermissions(ctx context.Context, apiKeyID int64) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM api_key_permissions WHERE api_key_id = ?", apiKeyID); err != nil {
		return fmt.Errorf("delete permissions: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Users, roles, groups
// ---------------------------------------------------------------------------

// CreateUser inserts a new admin user. PasswordHash must already be a
// bcrypt hash. The ID and CreatedAt fields are populated after insert.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	u.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO users (username, password_hash, role_id, group_id, status, created_at)
		VALUES (:username, :password_hash, :role_id, :group_id, :status, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, u)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get user id: %w", err)
	}
	u.ID = id
	return nil
}

// GetUserByUsername returns an active user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u,
		"SELECT * FROM users WHERE username = ? AND status = 1", username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &u, nil
}

// GetUserPermissionDocs returns the raw role and group permission documents
// for a user in one query. A missing group yields an empty document.
func (s *Store) GetUserPermissionDocs(ctx context.Context, userID int64) (rolePerms, groupPerms string, err error) {
	var row struct {
		RolePerms  *string `db:"role_perms"`
		GroupPerms *string `db:"group_perms"`
	}
	const q = `SELECT r.permissions AS role_perms, g.permissions AS group_perms
		FROM users u
		LEFT JOIN roles r ON u.role_id = r.id
		LEFT JOIN groups g ON u.group_id = g.id
		WHERE u.id = ?`

	if err := s.db.GetContext(ctx, &row, q, userID); err != nil {
		if err == sql.ErrNoRows {
			return "", "", ErrNotFound
		}
		return "", "", fmt.Errorf("get user permission docs: %w", err)
	}
	if row.RolePerms != nil {
		rolePerms = *row.RolePerms
	}
	if row.GroupPerms != nil {
		groupPerms = *row.GroupPerms
	}
	return rolePerms, groupPerms, nil
}

// CreateRole inserts a new role with its JSON permission document.
func (s *Store) CreateRole(ctx context.Context, role *model.Role) error {
	const q = `INSERT INTO roles (name, permissions) VALUES (:name, :permissions)`
	result, err := s.db.NamedExecContext(ctx, q, role)
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get role id: %w", err)
	}
	role.ID = id
	return nil
}

// GetRole returns a role by ID.
func (s *Store) GetRole(ctx context.Context, id int64) (*model.Role, error) {
	var role model.Role
	if err := s.db.GetContext(ctx, &role, "SELECT * FROM roles WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	return &role, nil
}

// GetRoleByName returns a role by its unique name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	if err := s.db.GetContext(ctx, &role, "SELECT * FROM roles WHERE name = ?", name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get role by name: %w", err)
	}
	return &role, nil
}

// ListRoles returns all roles.
func (s *Store) ListRoles(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := s.db.SelectContext(ctx, &roles, "SELECT * FROM roles ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// CreateGroup inserts a new group with its JSON permission document.
func (s *Store) CreateGroup(ctx context.Context, g *model.Group) error {
	const q = `INSERT INTO groups (name, permissions) VALUES (:name, :permissions)`
	result, err := s.db.NamedExecContext(ctx, q, g)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get group id: %w", err)
	}
	g.ID = id
	return nil
}

// GetGroup returns a group by ID.
func (s *Store) GetGroup(ctx context.Context, id int64) (*model.Group, error) {
	var g model.Group
	if err := s.db.GetContext(ctx, &g, "SELECT * FROM groups WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns the value for a settings key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a settings key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const q = `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key string.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
