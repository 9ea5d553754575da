package auditry_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/auditry"
)

type customer struct {
	auditry.Audited
	ID   int64
	Name string
}

func (c *customer) PrimaryKey() (string, any) { return "id", c.ID }

func (c *customer) Columns() ([]string, []any) {
	return []string{"name"}, []any{c.Name}
}

type customerStrategy struct{}

func (customerStrategy) TableName() string { return "Customers" }

func (customerStrategy) EntityID(c *customer) string {
	if c == nil {
		return ""
	}
	return strconv.FormatInt(c.ID, 10)
}

func (customerStrategy) ExtractFields(c *customer) auditry.Fields {
	if c == nil {
		return auditry.Fields{}
	}
	return auditry.Fields{"Id": c.ID, "Name": c.Name}
}

// invoice is auditable but never registered.
type invoice struct {
	auditry.Audited
	ID    int64
	Total float64
}

func (i *invoice) PrimaryKey() (string, any) { return "id", i.ID }

func (i *invoice) Columns() ([]string, []any) {
	return []string{"total"}, []any{i.Total}
}

// note is registered but does not embed auditry.Audited.
type note struct {
	ID   int64
	Body string
}

func (n *note) PrimaryKey() (string, any) { return "id", n.ID }

func (n *note) Columns() ([]string, []any) {
	return []string{"body"}, []any{n.Body}
}

type noteStrategy struct{}

func (noteStrategy) TableName() string { return "Notes" }

func (noteStrategy) EntityID(n *note) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(n.ID, 10)
}

func (noteStrategy) ExtractFields(n *note) auditry.Fields {
	if n == nil {
		return auditry.Fields{}
	}
	return auditry.Fields{"Id": n.ID, "Body": n.Body}
}

func newRegistry(t *testing.T) *auditry.Registry {
	t.Helper()

	reg, err := auditry.NewRegistry(
		auditry.Register[customer](customerStrategy{}),
		auditry.Register[note](noteStrategy{}),
	)
	require.NoError(t, err)
	return reg
}

// openDB returns a file-backed sqlite database holding the business tables.
func openDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE invoices (id INTEGER PRIMARY KEY, total REAL NOT NULL)`,
		`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func sqliteConfig() auditry.Config {
	return auditry.Config{Driver: auditry.DriverSQLite, Table: "audit_log"}
}

// collector is an in-memory Writer.
type collector struct {
	mu      sync.Mutex
	records []auditry.Record
}

func (c *collector) Persist(_ context.Context, r auditry.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

func (c *collector) all() []auditry.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]auditry.Record, len(c.records))
	copy(out, c.records)
	return out
}
