package query

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// reservedParams are query-string keys consumed by the request pipeline and
// never interpreted as column filters.
var reservedParams = map[string]bool{
	"limit":   true,
	"offset":  true,
	"fields":  true,
	"sort":    true,
	"api_key": true,
}

// filterKeyRegex matches a filter key of the form column[operator].
var filterKeyRegex = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_]*)\[([a-z]+)\]$`)

// comparisonOps maps filter operators to their SQL comparison tokens. The
// in, between, not and like operators need value handling and are dispatched
// separately.
var comparisonOps = map[string]string{
	"eq":  "=",
	"ne":  "!=",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

// Filter is a parameterized WHERE fragment built from request query
// parameters. Where is empty when no usable filter was present.
type Filter struct {
	Where string
	Args  []interface{}
}

// BuildFilters converts query parameters of the form column[operator]=value
// (bare column=value means equality) into a parameterized conjunction.
// Column names are checked against validColumns and enter SQL only through
// quote; values are always bound as arguments.
//
// Parameters naming unknown columns or unknown operators are silently
// dropped rather than rejected, so a stale client keeps getting results
// instead of errors.
func BuildFilters(params url.Values, validColumns []string, quote func(string) string) Filter {
	valid := make(map[string]bool, len(validColumns))
	for _, c := range validColumns {
		valid[c] = true
	}

	var fragments []string
	var args []interface{}

	for key, values := range params {
		if reservedParams[key] || len(values) == 0 {
			continue
		}
		value := values[0]

		column, op := key, "eq"
		if m := filterKeyRegex.FindStringSubmatch(key); m != nil {
			column, op = m[1], m[2]
		} else if strings.Contains(value, "%") {
			// A wildcard in a bare equality value means the client wants
			// pattern matching.
			op = "like"
		}
		if !valid[column] {
			continue
		}

		quoted := quote(column)

		switch {
		case comparisonOps[op] != "":
			fragments = append(fragments, quoted+" "+comparisonOps[op]+" ?")
			args = append(args, value)

		case op == "like":
			if !strings.Contains(value, "%") {
				value = "%" + value + "%"
			}
			fragments = append(fragments, quoted+" LIKE ?")
			args = append(args, value)

		case op == "not":
			if strings.EqualFold(value, "null") {
				fragments = append(fragments, quoted+" IS NOT NULL")
			} else {
				fragments = append(fragments, quoted+" != ?")
				args = append(args, value)
			}

		case op == "in":
			items := splitList(value)
			if len(items) == 0 {
				continue
			}
			placeholders := strings.Repeat("?, ", len(items))
			fragments = append(fragments, quoted+" IN ("+placeholders[:len(placeholders)-2]+")")
			for _, item := range items {
				args = append(args, item)
			}

		case op == "between":
			items := splitList(value)
			if len(items) != 2 {
				continue
			}
			fragments = append(fragments, quoted+" BETWEEN ? AND ?")
			args = append(args, items[0], items[1])
		}
	}

	if len(fragments) == 0 {
		return Filter{}
	}

	// Map iteration order is random; sort for a deterministic clause so
	// cache keys and tests see stable SQL.
	sortFragmentsWithArgs(fragments, args)

	return Filter{Where: strings.Join(fragments, " AND "), Args: args}
}

// sortFragmentsWithArgs orders fragments alphabetically while keeping each
// fragment's bound arguments attached to it.
func sortFragmentsWithArgs(fragments []string, args []interface{}) {
	type bound struct {
		sql  string
		args []interface{}
	}

	pairs := make([]bound, 0, len(fragments))
	ai := 0
	for _, f := range fragments {
		n := strings.Count(f, "?")
		pairs = append(pairs, bound{sql: f, args: append([]interface{}(nil), args[ai:ai+n]...)})
		ai += n
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].sql < pairs[j].sql })

	ai = 0
	for i, p := range pairs {
		fragments[i] = p.sql
		for _, a := range p.args {
			args[ai] = a
			ai++
		}
	}
}

// BuildSort converts a comma-separated sort parameter into an ORDER BY
// fragment. A leading minus selects descending order. Unknown columns are
// dropped; an empty result returns the empty string.
func BuildSort(sort string, validColumns []string, quote func(string) string) string {
	valid := make(map[string]bool, len(validColumns))
	for _, c := range validColumns {
		valid[c] = true
	}

	var parts []string
	for _, field := range strings.Split(sort, ",") {
		field = strings.TrimSpace(field)
		dir := "ASC"
		if strings.HasPrefix(field, "-") {
			field = field[1:]
			dir = "DESC"
		}
		if field == "" || !valid[field] {
			continue
		}
		parts = append(parts, quote(field)+" "+dir)
	}

	if len(parts) == 0 {
		return ""
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

// splitList splits a comma-separated value list, trimming whitespace and
// dropping empty items.
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
