// Package permission decides access for the two independent authorization
// models: per-API-key table/database CRUD grants with IP allow-listing, and
// session permission documents merged from a user's role and group.
package permission

import (
	"net/netip"
	"strings"

	"github.com/data2rest/data2rest/internal/model"
)

// NormalizeOperation maps an HTTP method or operation synonym to one of the
// four grant columns: read, create, update, delete. Unknown inputs map to
// the empty string, which no grant allows.
func NormalizeOperation(op string) string {
	switch strings.ToLower(op) {
	case "get", "read":
		return "read"
	case "post", "create":
		return "create"
	case "put", "patch", "update":
		return "update"
	case "delete":
		return "delete"
	default:
		return ""
	}
}

// Resolve picks the grant row governing a table: an exact table match
// outranks the database-wide wildcard row (nil TableName), and the wildcard
// applies only when no exact row exists. Nil means no grant, which denies.
func Resolve(perms []model.APIKeyPermission, table string) *model.APIKeyPermission {
	var wildcard *model.APIKeyPermission
	for i := range perms {
		p := &perms[i]
		if p.TableName == nil {
			if wildcard == nil {
				wildcard = p
			}
			continue
		}
		if *p.TableName == table {
			return p
		}
	}
	return wildcard
}

// Allows reports whether a grant permits an operation. The operation is
// normalized through NormalizeOperation first, so HTTP method names work.
func Allows(p *model.APIKeyPermission, operation string) bool {
	if p == nil {
		return false
	}
	switch NormalizeOperation(operation) {
	case "read":
		return p.CanRead
	case "create":
		return p.CanCreate
	case "update":
		return p.CanUpdate
	case "delete":
		return p.CanDelete
	default:
		return false
	}
}

// IPAllowed checks a client address against a comma-separated allow-list of
// addresses and CIDR blocks. An empty list allows everything. Entries that
// fail to parse are skipped rather than treated as matches.
func IPAllowed(allowedIPs, remoteIP string) bool {
	allowedIPs = strings.TrimSpace(allowedIPs)
	if allowedIPs == "" {
		return true
	}

	addr, addrErr := netip.ParseAddr(remoteIP)

	for _, entry := range strings.Split(allowedIPs, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == remoteIP {
			return true
		}
		if addrErr != nil || !strings.Contains(entry, "/") {
			continue
		}
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
