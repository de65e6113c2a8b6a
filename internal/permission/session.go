package permission

import (
	"encoding/json"
	"sort"
	"strings"
)

// Set is a session permission document. All short-circuits every check;
// otherwise Modules and Databases map resource names to allowed-action
// lists.
type Set struct {
	All       bool                `json:"all"`
	Modules   map[string][]string `json:"modules"`
	Databases map[string][]string `json:"databases"`
}

// ParseSet decodes a stored permission document. Empty or malformed
// documents decode to an empty (deny-everything) set rather than an error,
// matching how absent role or group rows behave.
func ParseSet(doc string) Set {
	var s Set
	if doc != "" {
		_ = json.Unmarshal([]byte(doc), &s)
	}
	if s.Modules == nil {
		s.Modules = map[string][]string{}
	}
	if s.Databases == nil {
		s.Databases = map[string][]string{}
	}
	return s
}

// Merge unions two permission sets. All is the OR of both sides and makes
// the grant lists irrelevant; otherwise per-module and per-database action
// lists are unioned and deduplicated.
func Merge(a, b Set) Set {
	merged := Set{
		All:       a.All || b.All,
		Modules:   map[string][]string{},
		Databases: map[string][]string{},
	}
	if merged.All {
		return merged
	}

	for _, m := range []map[string][]string{a.Modules, b.Modules} {
		for name, actions := range m {
			merged.Modules[name] = unionActions(merged.Modules[name], actions)
		}
	}
	for _, m := range []map[string][]string{a.Databases, b.Databases} {
		for id, actions := range m {
			merged.Databases[id] = unionActions(merged.Databases[id], actions)
		}
	}
	return merged
}

// Has checks a resource string of the form "module:<name>" or "db:<id>"
// against the set.
//
// For modules, a dotted resource "module:<name>.<action>" is tried first,
// so the more specific form wins; the bare form then requires action to be
// literally present in the module's list (empty action means any grant on
// the module suffices). Databases grant view implicitly to any key present
// in the list; other actions require membership.
func (s Set) Has(resource, action string) bool {
	if s.All {
		return true
	}

	if name, ok := strings.CutPrefix(resource, "module:"); ok {
		if i := strings.LastIndex(name, "."); i > 0 {
			if actions, ok := s.Modules[name[:i]]; ok && containsAction(actions, name[i+1:]) {
				return true
			}
		}
		actions, ok := s.Modules[name]
		if !ok {
			return false
		}
		if action == "" {
			return true
		}
		return containsAction(actions, action)
	}

	if id, ok := strings.CutPrefix(resource, "db:"); ok {
		actions, ok := s.Databases[id]
		if !ok {
			return false
		}
		if action == "" || action == "view" {
			return true
		}
		return containsAction(actions, action)
	}

	return false
}

// IsAdmin reports whether the set carries the super-admin bypass.
func (s Set) IsAdmin() bool {
	return s.All
}

func containsAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

func unionActions(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, action := range list {
			if !seen[action] {
				seen[action] = true
				out = append(out, action)
			}
		}
	}
	sort.Strings(out)
	return out
}
