package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/data2rest/data2rest/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestDatabaseRecordCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &model.DatabaseRecord{
		Name:    "inventory",
		Backend: "sqlite",
		DSN:     "/data/inventory.sqlite",
		Project: "warehouse",
	}
	if err := s.CreateDatabaseRecord(ctx, rec); err != nil {
		t.Fatalf("CreateDatabaseRecord: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("expected non-zero ID after create")
	}

	got, err := s.GetDatabase(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetDatabase: %v", err)
	}
	if got.Name != "inventory" || got.Backend != "sqlite" {
		t.Errorf("got %+v", got)
	}

	byName, err := s.GetDatabaseByName(ctx, "inventory")
	if err != nil {
		t.Fatalf("GetDatabaseByName: %v", err)
	}
	if byName.ID != rec.ID {
		t.Errorf("got ID %d, want %d", byName.ID, rec.ID)
	}

	rec.Project = "logistics"
	if err := s.UpdateDatabaseRecord(ctx, rec); err != nil {
		t.Fatalf("UpdateDatabaseRecord: %v", err)
	}
	got, err = s.GetDatabase(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetDatabase after update: %v", err)
	}
	if got.Project != "logistics" {
		t.Errorf("project = %q, want %q", got.Project, "logistics")
	}

	list, err := s.ListDatabases(ctx)
	if err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d records, want 1", len(list))
	}

	if err := s.DeleteDatabaseRecord(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteDatabaseRecord: %v", err)
	}
	if _, err := s.GetDatabase(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	raw := "d2r_live_0123456789abcdef"
	key := &model.APIKey{
		KeyHash:   HashAPIKey(raw),
		KeyPrefix: raw[:8],
		Label:     "mobile app",
		IsActive:  true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKeyByHash(ctx, HashAPIKey(raw))
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got.Label != "mobile app" || !got.IsActive {
		t.Errorf("got %+v", got)
	}
	if got.LastUsed != nil {
		t.Error("fresh key should have no last_used")
	}

	if err := s.UpdateAPIKeyLastUsed(ctx, key.ID); err != nil {
		t.Fatalf("UpdateAPIKeyLastUsed: %v", err)
	}
	got, _ = s.GetAPIKeyByHash(ctx, HashAPIKey(raw))
	if got.LastUsed == nil {
		t.Error("last_used should be set after touch")
	}

	if err := s.RevokeAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	got, _ = s.GetAPIKeyByHash(ctx, HashAPIKey(raw))
	if got.IsActive {
		t.Error("key should be inactive after revoke")
	}

	if _, err := s.GetAPIKeyByHash(ctx, HashAPIKey("never-issued")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown hash, got %v", err)
	}
}

func TestSetPermissionUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	db := &model.DatabaseRecord{Name: "crm", Backend: "sqlite", DSN: "x"}
	if err := s.CreateDatabaseRecord(ctx, db); err != nil {
		t.Fatalf("CreateDatabaseRecord: %v", err)
	}
	key := &model.APIKey{KeyHash: HashAPIKey("k"), KeyPrefix: "k", IsActive: true}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	// Wildcard row (nil table name) and a table row.
	wildcard := &model.APIKeyPermission{
		APIKeyID: key.ID, DatabaseID: db.ID, TableName: nil, CanRead: true,
	}
	if err := s.SetPermission(ctx, wildcard); err != nil {
		t.Fatalf("SetPermission wildcard: %v", err)
	}
	exact := &model.APIKeyPermission{
		APIKeyID: key.ID, DatabaseID: db.ID, TableName: strPtr("contacts"),
		CanRead: true, CanCreate: true,
	}
	if err := s.SetPermission(ctx, exact); err != nil {
		t.Fatalf("SetPermission exact: %v", err)
	}

	perms, err := s.GetPermissions(ctx, key.ID, db.ID)
	if err != nil {
		t.Fatalf("GetPermissions: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("got %d rows, want 2", len(perms))
	}
	// Table-specific rows sort before the wildcard.
	if perms[0].TableName == nil || *perms[0].TableName != "contacts" {
		t.Errorf("first row should be the contacts grant, got %+v", perms[0])
	}
	if perms[1].TableName != nil {
		t.Errorf("second row should be the wildcard, got %+v", perms[1])
	}

	// Upserting the same scope must update in place, not duplicate.
	exact.CanDelete = true
	if err := s.SetPermission(ctx, exact); err != nil {
		t.Fatalf("SetPermission upsert: %v", err)
	}
	wildcard.CanUpdate = true
	if err := s.SetPermission(ctx, wildcard); err != nil {
		t.Fatalf("SetPermission wildcard upsert: %v", err)
	}

	perms, _ = s.GetPermissions(ctx, key.ID, db.ID)
	if len(perms) != 2 {
		t.Fatalf("after upsert got %d rows, want 2", len(perms))
	}
	if !perms[0].CanDelete {
		t.Error("exact row should carry the updated delete grant")
	}
	if !perms[1].CanUpdate {
		t.Error("wildcard row should carry the updated update grant")
	}

	if err := s.DeletePermissions(ctx, key.ID); err != nil {
		t.Fatalf("DeletePermissions: %v", err)
	}
	perms, _ = s.GetPermissions(ctx, key.ID, db.ID)
	if len(perms) != 0 {
		t.Errorf("expected no rows after delete, got %d", len(perms))
	}
}

func TestUserRoleGroupPermissionDocs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	role := &model.Role{Name: "editor", Permissions: `{"modules": {"users": ["view", "edit"]}}`}
	if err := s.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	group := &model.Group{Name: "night-shift", Permissions: `{"databases": {"3": ["export"]}}`}
	if err := s.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	u := &model.User{
		Username:     "dana",
		PasswordHash: "$2a$10$notarealhash",
		RoleID:       role.ID,
		GroupID:      &group.ID,
		Status:       1,
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	rolePerms, groupPerms, err := s.GetUserPermissionDocs(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserPermissionDocs: %v", err)
	}
	if rolePerms != role.Permissions {
		t.Errorf("role perms = %q", rolePerms)
	}
	if groupPerms != group.Permissions {
		t.Errorf("group perms = %q", groupPerms)
	}

	// A user without a group gets an empty group document.
	solo := &model.User{Username: "kim", PasswordHash: "x", RoleID: role.ID, Status: 1}
	if err := s.CreateUser(ctx, solo); err != nil {
		t.Fatalf("CreateUser solo: %v", err)
	}
	_, groupPerms, err = s.GetUserPermissionDocs(ctx, solo.ID)
	if err != nil {
		t.Fatalf("GetUserPermissionDocs solo: %v", err)
	}
	if groupPerms != "" {
		t.Errorf("expected empty group perms, got %q", groupPerms)
	}

	// Inactive users are invisible to login lookups.
	if _, err := s.GetUserByUsername(ctx, "dana"); err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET status = 0 WHERE id = ?", u.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetUserByUsername(ctx, "dana"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for inactive user, got %v", err)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "instance_id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing key, got %v", err)
	}
	if err := s.SetSetting(ctx, "instance_id", "a1b2"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "instance_id", "c3d4"); err != nil {
		t.Fatalf("SetSetting upsert: %v", err)
	}
	v, err := s.GetSetting(ctx, "instance_id")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "c3d4" {
		t.Errorf("got %q, want %q", v, "c3d4")
	}
}

func TestAPIKeyExpiryFieldRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exp := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	key := &model.APIKey{
		KeyHash: HashAPIKey("expiring"), KeyPrefix: "expiring"[:8],
		IsActive: true, ExpiresAt: &exp,
		RateLimit: 50, RateWindow: 60,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, exp)
	}
	if got.RateLimit != 50 || got.RateWindow != 60 {
		t.Errorf("rate override = (%d, %d), want (50, 60)", got.RateLimit, got.RateWindow)
	}
}
