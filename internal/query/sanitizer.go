// Package query turns request query parameters into parameterized SQL
// fragments: column[operator] filters, sort and field selection, and
// pagination. Identifier validation here backs up the adapter quoting that
// every fragment passes through.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// maxIdentifierLen caps table and column names; 128 is the tightest limit
// across the supported backends (SQL Server).
const maxIdentifierLen = 128

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// reservedWords are SQL keywords rejected as identifiers across the
// supported backends. Parameterization handles value injection; this keeps
// dynamic DDL and projection lists from colliding with query structure.
var reservedWords = func() map[string]struct{} {
	words := []string{
		"SELECT", "INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
		"TRUNCATE", "EXEC", "EXECUTE", "UNION", "INTO", "FROM", "WHERE",
		"TABLE", "DATABASE", "GRANT", "REVOKE", "INDEX", "VIEW",
		"PROCEDURE", "FUNCTION", "TRIGGER", "SCHEMA",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// ValidateIdentifier rejects empty names, names over maxIdentifierLen,
// names outside the identifier pattern, and SQL reserved words.
func ValidateIdentifier(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("identifier cannot be empty")
	case len(name) > maxIdentifierLen:
		return fmt.Errorf("identifier too long (max %d chars): %q", maxIdentifierLen, name)
	case !identPattern.MatchString(name):
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	if _, reserved := reservedWords[strings.ToUpper(name)]; reserved {
		return fmt.Errorf("identifier %q is a SQL reserved word", name)
	}
	return nil
}

// ValidateIdentifiers checks a list of identifiers, stopping at the first
// bad one.
func ValidateIdentifiers(names []string) error {
	for _, name := range names {
		if err := ValidateIdentifier(name); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeStringValue strips null bytes and enforces a length ceiling on a
// string value. maxLen 0 or below falls back to 64KiB. Binding is the
// primary injection defense; this guards the databases that choke on NUL.
func SanitizeStringValue(val string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = 65535
	}
	val = strings.ReplaceAll(val, "\x00", "")
	if len(val) > maxLen {
		return "", fmt.Errorf("string value too long (max %d chars)", maxLen)
	}
	return val, nil
}
