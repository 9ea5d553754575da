package auditry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mickamy/auditry/internal/ident"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Entry is a stored record with its surrogate id.
type Entry struct {
	ID int64 `json:"id"`
	Record
}

// Filter selects audit rows. Zero fields do not filter. Page is 1-based.
type Filter struct {
	TableName string
	EntityID  string
	Operation Operation
	UserID    string
	From      *time.Time
	To        *time.Time

	Page     int
	PageSize int
	// Ascending orders by id ascending instead of newest first.
	Ascending bool
}

// Page is one page of a Search.
type Page struct {
	Entries    []Entry `json:"entries"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
	TotalCount int64   `json:"total_count"`
	TotalPages int     `json:"total_pages"`
}

// Summary aggregates the whole audit table.
type Summary struct {
	TotalRecords       int64      `json:"total_records"`
	DistinctTables     int64      `json:"distinct_tables"`
	DistinctEntities   int64      `json:"distinct_entities"`
	DistinctOperations int64      `json:"distinct_operations"`
	DistinctUsers      int64      `json:"distinct_users"`
	Earliest           *time.Time `json:"earliest,omitempty"`
	Latest             *time.Time `json:"latest,omitempty"`
}

// Reader queries the audit table. Rows are visible eventually, not immediately, after
// the business commit that produced them.
type Reader struct {
	db    *sql.DB
	table string
}

// NewReader creates a Reader over the audit table named in cfg.
func NewReader(db *sql.DB, cfg Config) (*Reader, error) {
	if db == nil {
		return nil, fmt.Errorf("auditry: database connection is required")
	}
	table, err := ident.Table(cfg.withDefaults().Table)
	if err != nil {
		return nil, fmt.Errorf("auditry: invalid audit table: %w", err)
	}
	return &Reader{db: db, table: table}, nil
}

const selectColumns = `id, table_name, entity_id, operation, old_values, new_values, user_id, timestamp`

// Search returns one page of rows matching f, newest first unless f.Ascending is set.
func (r *Reader) Search(ctx context.Context, f Filter) (*Page, error) {
	page, size := normalizePage(f.Page, f.PageSize)

	var where strings.Builder
	where.WriteString("WHERE 1=1")
	args := []any{}
	argPos := 1
	add := func(cond string, v any) {
		where.WriteString(fmt.Sprintf(" AND %s $%d", cond, argPos))
		args = append(args, v)
		argPos++
	}
	if f.TableName != "" {
		add("table_name =", f.TableName)
	}
	if f.EntityID != "" {
		add("entity_id =", f.EntityID)
	}
	if f.Operation.Valid() {
		add("operation =", f.Operation.String())
	}
	if f.UserID != "" {
		add("user_id =", f.UserID)
	}
	if f.From != nil {
		add("timestamp >=", formatTimestamp(*f.From))
	}
	if f.To != nil {
		add("timestamp <=", formatTimestamp(*f.To))
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", r.table, where.String())
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("auditry: failed to count audit records: %w", err)
	}

	order := "DESC"
	if f.Ascending {
		order = "ASC"
	}
	listQuery := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY id %s LIMIT $%d OFFSET $%d",
		selectColumns, r.table, where.String(), order, argPos, argPos+1)
	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("auditry: failed to search audit records: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, size)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auditry: error iterating audit records: %w", err)
	}

	return &Page{
		Entries:    entries,
		Page:       page,
		PageSize:   size,
		TotalCount: total,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}, nil
}

// Get returns the row with the given id, or ErrNotFound.
func (r *Reader) Get(ctx context.Context, id int64) (*Entry, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", selectColumns, r.table)
	e, err := scanEntry(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Summary aggregates counts and the time range over the whole table.
func (r *Reader) Summary(ctx context.Context) (*Summary, error) {
	q := fmt.Sprintf(`
SELECT
	COUNT(*),
	COUNT(DISTINCT table_name),
	COUNT(DISTINCT table_name || ':' || entity_id),
	COUNT(DISTINCT operation),
	COUNT(DISTINCT user_id),
	MIN(timestamp),
	MAX(timestamp)
FROM %s`, r.table)

	var s Summary
	var earliest, latest sql.NullString
	if err := r.db.QueryRowContext(ctx, q).Scan(
		&s.TotalRecords,
		&s.DistinctTables,
		&s.DistinctEntities,
		&s.DistinctOperations,
		&s.DistinctUsers,
		&earliest,
		&latest,
	); err != nil {
		return nil, fmt.Errorf("auditry: failed to summarize audit records: %w", err)
	}
	for _, p := range []struct {
		src sql.NullString
		dst **time.Time
	}{{earliest, &s.Earliest}, {latest, &s.Latest}} {
		if !p.src.Valid {
			continue
		}
		t, err := parseTimestamp(p.src.String)
		if err != nil {
			return nil, err
		}
		*p.dst = &t
	}
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                    Entry
		op, ts               string
		oldValues, newValues sql.NullString
		userID               sql.NullString
	)
	if err := s.Scan(&e.ID, &e.TableName, &e.EntityID, &op, &oldValues, &newValues, &userID, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("auditry: failed to scan audit record: %w", err)
	}
	var err error
	if e.Operation, err = ParseOperation(op); err != nil {
		return Entry{}, err
	}
	if e.OldValues, err = DecodeFields(oldValues); err != nil {
		return Entry{}, err
	}
	if e.NewValues, err = DecodeFields(newValues); err != nil {
		return Entry{}, err
	}
	if e.Timestamp, err = parseTimestamp(ts); err != nil {
		return Entry{}, err
	}
	e.UserID = userID.String
	return e, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}
