package auditry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mickamy/auditry/internal/ident"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

func idColumn(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "id BIGSERIAL PRIMARY KEY", nil
	case DriverSQLite:
		return "id INTEGER PRIMARY KEY AUTOINCREMENT", nil
	default:
		return "", fmt.Errorf("auditry: unsupported driver %q", driver)
	}
}

// schemaStatements returns the idempotent DDL for the audit table and its indexes.
func schemaStatements(driver, table string) ([]string, error) {
	id, err := idColumn(driver)
	if err != nil {
		return nil, err
	}
	quoted, err := ident.Table(table)
	if err != nil {
		return nil, fmt.Errorf("auditry: invalid audit table %q: %w", table, err)
	}

	stmts := []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	%s,
	table_name TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	old_values TEXT,
	new_values TEXT,
	user_id TEXT,
	timestamp TEXT NOT NULL
)`, quoted, id)}

	indexes := []struct {
		columns []string
		expr    string
	}{
		{columns: []string{"table_name", "entity_id"}, expr: "table_name, entity_id"},
		{columns: []string{"timestamp"}, expr: "timestamp DESC"},
		{columns: []string{"user_id"}, expr: "user_id"},
		{columns: []string{"operation"}, expr: "operation"},
	}
	for _, idx := range indexes {
		name := ident.Quote(ident.IndexName(table, idx.columns...))
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`, name, quoted, idx.expr))
	}
	return stmts, nil
}

// EnsureSchema creates the audit table and indexes when they are missing. It does not
// depend on any migrations of the business schema.
func EnsureSchema(ctx context.Context, db *sql.DB, cfg Config) error {
	cfg = cfg.withDefaults()
	stmts, err := schemaStatements(cfg.Driver, cfg.Table)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("auditry: failed to provision audit schema: %w", err)
		}
	}
	return nil
}
