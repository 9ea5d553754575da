package ident

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmpty is returned when an identifier has no usable parts.
var ErrEmpty = errors.New("empty identifier")

// SplitQualified splits a potentially schema-qualified identifier into its parts.
func SplitQualified(ident string) []string {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return nil
	}
	var parts []string
	var buf strings.Builder
	inQuotes := false
	runes := []rune(ident)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				buf.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case '.':
			if inQuotes {
				buf.WriteRune(r)
				continue
			}
			parts = append(parts, strings.TrimSpace(buf.String()))
			buf.Reset()
		default:
			buf.WriteRune(r)
		}
	}
	parts = append(parts, strings.TrimSpace(buf.String()))
	return parts
}

// StripAlias removes trailing alias tokens from an identifier while preserving quotes.
func StripAlias(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ",")
	runes := []rune(s)
	inQuotes := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '"':
			inQuotes = !inQuotes
		default:
			if !inQuotes && unicode.IsSpace(r) {
				return strings.TrimSpace(string(runes[:i]))
			}
		}
	}
	return s
}

// QuoteQualified renders qualified identifier parts as a SQL identifier.
func QuoteQualified(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = Quote(p)
	}
	return strings.Join(quoted, ".")
}

// Quote safely quotes a single identifier part.
func Quote(part string) string {
	return `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
}

// Table parses a configured table name and returns it quoted for use in statements.
// Every part of a qualified name must be non-empty.
func Table(name string) (string, error) {
	parts := SplitQualified(name)
	if len(parts) == 0 {
		return "", ErrEmpty
	}
	for _, p := range parts {
		if p == "" {
			return "", ErrEmpty
		}
	}
	return QuoteQualified(parts), nil
}

// BaseTableName returns the last segment of a qualified identifier.
func BaseTableName(ident string) string {
	parts := SplitQualified(ident)
	if len(parts) == 0 {
		return strings.TrimSpace(ident)
	}
	return parts[len(parts)-1]
}

// IndexName builds an unquoted index name such as idx_audit_log_table_name_entity_id.
// Only the base table name is used since indexes live in the table's schema.
func IndexName(table string, columns ...string) string {
	var b strings.Builder
	b.WriteString("idx_")
	b.WriteString(BaseTableName(table))
	for _, c := range columns {
		b.WriteByte('_')
		b.WriteString(c)
	}
	return b.String()
}
