package query

import (
	"regexp"
	"strings"

	"github.com/mickamy/auditry/internal/ident"
)

// Kind is the top-level verb of a statement.
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	KindMerge  Kind = "MERGE"
	KindSelect Kind = "SELECT"
)

// Statement describes a recognized top-level statement.
type Statement struct {
	Kind         Kind
	Table        string // possibly schema-qualified; empty for SELECT
	HasReturning bool
}

// Mutates reports whether the statement changes stored rows.
func (s Statement) Mutates() bool {
	switch s.Kind {
	case KindInsert, KindUpdate, KindDelete, KindMerge:
		return true
	default:
		return false
	}
}

var (
	reInsert    = regexp.MustCompile(`(?is)^\s*(?:with\b.*?\)\s*)?insert\s+(?:or\s+\w+\s+)?into\s+([^\s(]+)`)
	reReplace   = regexp.MustCompile(`(?is)^\s*replace\s+into\s+([^\s(]+)`)
	reMerge     = regexp.MustCompile(`(?is)^\s*(?:with\b.*?\)\s*)?merge\s+into\s+([^\s]+(?:\s+(?:as\s+)?[^\s]+)?)\s+using\b`)
	reUpdate    = regexp.MustCompile(`(?is)^\s*(?:with\b.*?\)\s*)?update\s+([^\s]+(?:\s+(?:as\s+)?[^\s]+)?)\s+set\b`)
	reDelete    = regexp.MustCompile(`(?is)^\s*(?:with\b.*?\)\s*)?delete\s+from\s+([^\s]+(?:\s+(?:as\s+)?[^\s]+)?)`)
	reSelect    = regexp.MustCompile(`(?is)^\s*\(?\s*(?:with\b.*?\)\s*)?select\b`)
	reReturning = regexp.MustCompile(`(?is)\breturning\b`)
	reVerb      = regexp.MustCompile(`^\s*\(?\s*([A-Za-z]+)`)
)

// Parse recognizes a single top-level statement. Mutations are matched before SELECT so
// that INSERT ... SELECT and CTE-prefixed DML are classified by their outer verb.
// INSERT OR REPLACE and REPLACE INTO are inserts; MERGE is its own kind.
func Parse(q string) (Statement, bool) {
	qs := strings.TrimSpace(q)
	if m := reInsert.FindStringSubmatch(qs); len(m) == 2 {
		return Statement{Kind: KindInsert, Table: ident.StripAlias(m[1]), HasReturning: reReturning.MatchString(qs)}, true
	}
	if m := reReplace.FindStringSubmatch(qs); len(m) == 2 {
		return Statement{Kind: KindInsert, Table: ident.StripAlias(m[1]), HasReturning: reReturning.MatchString(qs)}, true
	}
	if m := reMerge.FindStringSubmatch(qs); len(m) == 2 {
		return Statement{Kind: KindMerge, Table: ident.StripAlias(m[1])}, true
	}
	if m := reUpdate.FindStringSubmatch(qs); len(m) == 2 {
		return Statement{Kind: KindUpdate, Table: ident.StripAlias(m[1]), HasReturning: reReturning.MatchString(qs)}, true
	}
	if m := reDelete.FindStringSubmatch(qs); len(m) == 2 {
		return Statement{Kind: KindDelete, Table: ident.StripAlias(m[1]), HasReturning: reReturning.MatchString(qs)}, true
	}
	if reSelect.MatchString(qs) {
		return Statement{Kind: KindSelect}, true
	}
	return Statement{}, false
}

// Verb returns the leading keyword of q in upper case, or "" when there is none.
func Verb(q string) string {
	m := reVerb.FindStringSubmatch(q)
	if len(m) != 2 {
		return ""
	}
	return strings.ToUpper(m[1])
}
