package auditry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mickamy/auditry/internal/ident"
)

// Writer persists records. Persist never reports failure to its caller; implementations
// log and drop what they cannot write.
type Writer interface {
	Persist(ctx context.Context, r Record)
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, r Record)

// Persist calls f.
func (f WriterFunc) Persist(ctx context.Context, r Record) { f(ctx, r) }

// SQLWriter appends records to the audit table through database/sql. It opens its
// connection lazily from Config.DatabaseURL and provisions the table before the first
// write.
type SQLWriter struct {
	cfg     Config
	log     logrus.FieldLogger
	metrics *Metrics
	open    func(driver, dsn string) (*sql.DB, error)

	mu          sync.Mutex
	db          *sql.DB
	owned       bool
	provisioned bool
}

// WriterOption configures a SQLWriter.
type WriterOption func(*SQLWriter)

// WithDB makes the writer use db instead of opening Config.DatabaseURL. The caller keeps
// ownership of db.
func WithDB(db *sql.DB) WriterOption {
	return func(w *SQLWriter) {
		w.db = db
	}
}

// WithWriterLogger sets the logger for dropped records.
func WithWriterLogger(l logrus.FieldLogger) WriterOption {
	return func(w *SQLWriter) {
		if l != nil {
			w.log = l
		}
	}
}

// WithWriterMetrics records persisted and dropped counts on m.
func WithWriterMetrics(m *Metrics) WriterOption {
	return func(w *SQLWriter) {
		w.metrics = m
	}
}

// NewSQLWriter creates a writer for cfg. No connection is opened until the first write.
func NewSQLWriter(cfg Config, opts ...WriterOption) *SQLWriter {
	w := &SQLWriter{
		cfg:  cfg.withDefaults(),
		log:  logrus.StandardLogger(),
		open: sql.Open,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Persist writes r, logging and dropping it on failure.
func (w *SQLWriter) Persist(ctx context.Context, r Record) {
	start := time.Now()
	if err := w.Write(ctx, r); err != nil {
		entry := w.log.WithFields(logrus.Fields{
			"table":     r.TableName,
			"entity_id": r.EntityID,
			"operation": r.Operation.String(),
		})
		if errors.Is(err, ErrNoStorage) {
			entry.Warn("Audit storage is not configured, dropping audit record")
			w.metrics.dropped(r.TableName, "unconfigured")
			return
		}
		entry.WithError(err).Error("Failed to persist audit record")
		w.metrics.dropped(r.TableName, "error")
		return
	}
	w.metrics.persisted(r.TableName, time.Since(start).Seconds())
}

// Write persists r and returns any failure as a *PersistenceError.
func (w *SQLWriter) Write(ctx context.Context, r Record) error {
	fail := func(err error) error {
		return &PersistenceError{Table: r.TableName, EntityID: r.EntityID, Operation: r.Operation, Err: err}
	}

	db, err := w.conn(ctx)
	if err != nil {
		return fail(err)
	}
	oldValues, err := EncodeFields(r.OldValues)
	if err != nil {
		return fail(err)
	}
	newValues, err := EncodeFields(r.NewValues)
	if err != nil {
		return fail(err)
	}
	table, err := ident.Table(w.cfg.Table)
	if err != nil {
		return fail(err)
	}

	stmt := fmt.Sprintf(`
INSERT INTO %s (table_name, entity_id, operation, old_values, new_values, user_id, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, table)
	if _, err := db.ExecContext(
		ctx,
		stmt,
		r.TableName,
		r.EntityID,
		r.Operation.String(),
		oldValues,
		newValues,
		sql.NullString{String: r.UserID, Valid: r.UserID != ""},
		formatTimestamp(r.Timestamp),
	); err != nil {
		return fail(fmt.Errorf("auditry: failed to insert audit record: %w", err))
	}
	return nil
}

// conn returns the connection, opening it and provisioning the schema on first use. A
// failed provisioning attempt is retried on the next write.
func (w *SQLWriter) conn(ctx context.Context) (*sql.DB, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		if w.cfg.DatabaseURL == "" {
			return nil, ErrNoStorage
		}
		db, err := w.open(w.cfg.Driver, w.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("auditry: failed to open audit storage: %w", err)
		}
		db.SetMaxOpenConns(w.cfg.MaxOpenConns)
		db.SetMaxIdleConns(w.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(w.cfg.ConnMaxLifetime)
		w.db = db
		w.owned = true
	}
	if !w.provisioned {
		if err := EnsureSchema(ctx, w.db, w.cfg); err != nil {
			return nil, err
		}
		w.provisioned = true
	}
	return w.db, nil
}

// Close releases a connection the writer opened itself.
func (w *SQLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil || !w.owned {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	w.provisioned = false
	return err
}

// MultiWriter fans each record out to every writer in order.
func MultiWriter(ws ...Writer) Writer {
	return multiWriter(ws)
}

type multiWriter []Writer

func (m multiWriter) Persist(ctx context.Context, r Record) {
	for _, w := range m {
		persistIsolated(ctx, w, r, logrus.StandardLogger())
	}
}
