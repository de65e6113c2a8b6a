package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// BuildFieldList converts a comma-separated fields parameter into a SELECT
// column list. Unknown columns are dropped; when nothing usable remains the
// full row is selected.
func BuildFieldList(fields string, validColumns []string, quote func(string) string) string {
	valid := make(map[string]bool, len(validColumns))
	for _, c := range validColumns {
		valid[c] = true
	}

	var parts []string
	for _, field := range strings.Split(fields, ",") {
		field = strings.TrimSpace(field)
		if field == "" || !valid[field] {
			continue
		}
		parts = append(parts, quote(field))
	}

	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, ", ")
}

// ParseLimitOffset extracts pagination from query parameters. Non-numeric or
// missing values fall back to defaultLimit and offset 0; limit is clamped to
// [1, maxLimit] and offset to >= 0.
func ParseLimitOffset(params url.Values, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := params.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	if v := params.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}

// BuildLimitOffset returns a LIMIT/OFFSET SQL fragment. Returns the empty
// string when limit is zero or negative.
func BuildLimitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	s := fmt.Sprintf("LIMIT %d", limit)
	if offset > 0 {
		s += fmt.Sprintf(" OFFSET %d", offset)
	}
	return s
}
