package permission

import "testing"

func TestParseSetMalformed(t *testing.T) {
	for _, doc := range []string{"", "not json", "[]", "{"} {
		s := ParseSet(doc)
		if s.All {
			t.Errorf("ParseSet(%q).All = true, want false", doc)
		}
		if s.Has("module:users", "view") {
			t.Errorf("ParseSet(%q) should deny everything", doc)
		}
	}
}

func TestMergeAllShortCircuits(t *testing.T) {
	role := ParseSet(`{"all": true}`)
	group := ParseSet(`{"modules": {"users": ["view"]}}`)

	merged := Merge(role, group)
	if !merged.All {
		t.Fatal("merged.All = false, want true")
	}
	if !merged.Has("module:anything", "anything") {
		t.Error("all=true must grant every check")
	}
}

func TestMergeUnionsActionLists(t *testing.T) {
	role := ParseSet(`{"modules": {"users": ["view", "edit"]}, "databases": {"3": ["export"]}}`)
	group := ParseSet(`{"modules": {"users": ["view", "delete"], "reports": ["view"]}, "databases": {"5": []}}`)

	merged := Merge(role, group)

	if got := merged.Modules["users"]; len(got) != 3 {
		t.Errorf("users actions = %v, want deduplicated union of 3", got)
	}
	if !merged.Has("module:users", "delete") {
		t.Error("group-only action should be granted after merge")
	}
	if !merged.Has("module:users", "edit") {
		t.Error("role-only action should be granted after merge")
	}
	if !merged.Has("module:reports", "view") {
		t.Error("group-only module should be granted after merge")
	}
	if !merged.Has("db:3", "export") {
		t.Error("role database action should survive merge")
	}
	if !merged.Has("db:5", "view") {
		t.Error("database presence should grant implicit view")
	}
}

func TestHasModuleStrictMembership(t *testing.T) {
	s := ParseSet(`{"modules": {"users": ["view"]}}`)

	if !s.Has("module:users", "view") {
		t.Error("listed action should be granted")
	}
	if s.Has("module:users", "edit") {
		t.Error("unlisted action must be denied, no implicit wildcard")
	}
	if !s.Has("module:users", "") {
		t.Error("empty action asks only for module presence")
	}
	if s.Has("module:billing", "view") {
		t.Error("absent module must deny")
	}
}

func TestHasDottedResourceForm(t *testing.T) {
	s := ParseSet(`{"modules": {"users": ["edit"], "users.export": ["run"]}}`)

	// Dotted form resolves module "users" + action "edit" first.
	if !s.Has("module:users.edit", "") {
		t.Error("dotted form should resolve against the users module")
	}
	// When the dotted split does not grant, the whole string is tried as a
	// bare module name.
	if !s.Has("module:users.export", "run") {
		t.Error("bare lookup of a dotted module name should still work")
	}
	if s.Has("module:users.delete", "") {
		t.Error("dotted form with unlisted action must deny")
	}
}

func TestHasDatabaseImplicitView(t *testing.T) {
	s := ParseSet(`{"databases": {"7": ["edit"]}}`)

	if !s.Has("db:7", "view") {
		t.Error("presence in databases grants implicit view")
	}
	if !s.Has("db:7", "edit") {
		t.Error("listed database action should be granted")
	}
	if s.Has("db:7", "drop") {
		t.Error("unlisted database action must deny")
	}
	if s.Has("db:8", "view") {
		t.Error("absent database must deny even view")
	}
}

func TestHasUnknownResourcePrefix(t *testing.T) {
	s := ParseSet(`{"all": false, "modules": {"users": ["view"]}}`)
	if s.Has("users", "view") {
		t.Error("resource without a known prefix must deny")
	}
}
