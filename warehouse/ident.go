package warehouse

import (
	"fmt"
	"strings"
	"unicode"
)

// ValidateIdentifier accepts table and column names made of letters, digits,
// underscores and dashes, which every backend can quote safely.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier")
	}
	if len(name) > 1024 {
		return fmt.Errorf("identifier too long: %d bytes", len(name))
	}
	for _, r := range name {
		if r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return fmt.Errorf("identifier %q contains %q", name, r)
	}
	return nil
}

// QuoteIdent double-quotes an identifier for SQL dialects that use ANSI quoting.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// OrderClause renders "ORDER BY a, b" with quote applied to each column, or
// an empty string when columns is empty.
func OrderClause(columns []string, quote func(string) string) string {
	if len(columns) == 0 {
		return ""
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quote(c)
	}
	return " ORDER BY " + strings.Join(quoted, ", ")
}

// SelectList renders a comma separated list of quoted columns, or "*".
func SelectList(columns []string, quote func(string) string) string {
	if len(columns) == 0 {
		return "*"
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}
