package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mickamy/auditry/internal/ident"
)

var (
	// ErrNotPointer is returned when a model is not a non-nil pointer.
	ErrNotPointer = errors.New("uow: model must be a non-nil pointer")
	// ErrAlreadyTracked is returned by Add for an entity the session already tracks.
	ErrAlreadyTracked = errors.New("uow: entity is already tracked")
	// ErrDeleted is returned by Update for an entity marked for deletion.
	ErrDeleted = errors.New("uow: entity is marked for deletion")
	// ErrNoRowsAffected means an update or delete matched no row.
	ErrNoRowsAffected = errors.New("uow: no rows affected")
)

type tracked struct {
	entity   Model
	original Model
	state    State
	seq      int
	table    string
}

// Session is a unit of work over a *sql.DB. It records which entities were added,
// modified or deleted and writes them in one transaction on SaveChanges.
// A Session is meant to serve one request; its methods are safe for concurrent use.
type Session struct {
	id           uuid.UUID
	db           *sql.DB
	interceptors []Interceptor
	log          logrus.FieldLogger

	mu      sync.Mutex
	entries map[Model]*tracked
	seq     int
}

// Option configures a Session.
type Option func(*Session)

// WithInterceptors registers interceptors, invoked in order.
func WithInterceptors(ics ...Interceptor) Option {
	return func(s *Session) {
		s.interceptors = append(s.interceptors, ics...)
	}
}

// WithLogger sets the logger for interceptor panics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Session over db.
func New(db *sql.DB, opts ...Option) *Session {
	s := &Session{
		id:      uuid.New(),
		db:      db,
		log:     logrus.StandardLogger(),
		entries: make(map[Model]*tracked),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func checkModel(m Model) error {
	if m == nil {
		return ErrNotPointer
	}
	v := reflect.ValueOf(m)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return ErrNotPointer
	}
	return nil
}

// ID identifies the session in every SaveContext it creates.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Add starts tracking a new entity to be inserted.
func (s *Session) Add(m Model) error {
	if err := checkModel(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[m]; ok {
		return ErrAlreadyTracked
	}
	s.entries[m] = &tracked{entity: m, state: Added, seq: s.next(), table: tableName(m)}
	return nil
}

// Attach tracks an entity loaded from the database as Unchanged and keeps a copy of
// its current values. Attaching a tracked entity does nothing.
func (s *Session) Attach(m Model) error {
	if err := checkModel(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[m]; ok {
		return nil
	}
	s.entries[m] = &tracked{entity: m, original: snapshot(m), state: Unchanged, table: tableName(m)}
	return nil
}

// Update marks an entity as Modified. An untracked entity is tracked without original
// values; attach it before mutating it to keep them.
func (s *Session) Update(m Model) error {
	if err := checkModel(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.entries[m]
	if !ok {
		s.entries[m] = &tracked{entity: m, state: Modified, seq: s.next(), table: tableName(m)}
		return nil
	}
	switch t.state {
	case Unchanged:
		t.state = Modified
		t.seq = s.next()
	case Deleted:
		return ErrDeleted
	}
	return nil
}

// Remove marks an entity for deletion. Removing an Added entity just stops tracking it.
func (s *Session) Remove(m Model) error {
	if err := checkModel(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.entries[m]
	if !ok {
		s.entries[m] = &tracked{entity: m, original: snapshot(m), state: Deleted, seq: s.next(), table: tableName(m)}
		return nil
	}
	switch t.state {
	case Added:
		delete(s.entries, m)
	case Unchanged, Modified:
		t.state = Deleted
		t.seq = s.next()
	}
	return nil
}

// State returns the tracking state of m.
func (s *Session) State(m Model) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.entries[m]; ok {
		return t.state
	}
	return Detached
}

func (s *Session) next() int {
	s.seq++
	return s.seq
}

// detectChanges marks Unchanged entities whose column values differ from their
// original copy as Modified.
func (s *Session) detectChanges() {
	for _, t := range s.entries {
		if t.state != Unchanged || t.original == nil {
			continue
		}
		_, cur := t.entity.Columns()
		_, orig := t.original.Columns()
		if !reflect.DeepEqual(cur, orig) {
			t.state = Modified
			t.seq = s.next()
		}
	}
}

func (s *Session) changeSet() []*tracked {
	var out []*tracked
	for _, t := range s.entries {
		switch t.state {
		case Added, Modified, Deleted:
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *tracked) int { return a.seq - b.seq })
	return out
}

// SaveChanges writes every pending change in one transaction and returns the number of
// rows written. Interceptors see the change set before the transaction starts and are
// told about the outcome after it ends.
func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detectChanges()
	changes := s.changeSet()
	if len(changes) == 0 {
		return 0, nil
	}

	sc := &SaveContext{ID: uuid.New(), SessionID: s.id, entries: make([]Entry, len(changes))}
	for i, t := range changes {
		sc.entries[i] = Entry{Entity: t.entity, Original: t.original, State: t.state, Table: t.table}
	}
	for _, ic := range s.interceptors {
		ctx = s.saving(ctx, ic, sc)
	}

	n, err := s.commit(ctx, changes)
	if err != nil {
		for _, ic := range s.interceptors {
			s.guard(sc, "SaveFailed", func() { ic.SaveFailed(ctx, sc, err) })
		}
		return 0, err
	}

	s.acceptChanges(changes)
	for _, ic := range s.interceptors {
		s.guard(sc, "SavedChanges", func() { ic.SavedChanges(ctx, sc, n) })
	}
	return n, nil
}

func (s *Session) saving(ctx context.Context, ic Interceptor, sc *SaveContext) (out context.Context) {
	out = ctx
	s.guard(sc, "SavingChanges", func() {
		if next := ic.SavingChanges(ctx, sc); next != nil {
			out = next
		}
	})
	return out
}

// guard keeps a misbehaving interceptor from failing the save.
func (s *Session) guard(sc *SaveContext, hook string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			s.log.WithFields(logrus.Fields{
				"save_id": sc.ID.String(),
				"hook":    hook,
				"panic":   p,
			}).Error("Save interceptor panicked")
		}
	}()
	fn()
}

func (s *Session) commit(ctx context.Context, changes []*tracked) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("uow: failed to begin transaction: %w", err)
	}
	for _, t := range changes {
		if err := write(ctx, tx, t); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("uow: failed to commit: %w", err)
	}
	return len(changes), nil
}

func write(ctx context.Context, tx *sql.Tx, t *tracked) error {
	table, err := ident.Table(t.table)
	if err != nil {
		return fmt.Errorf("uow: invalid table %q: %w", t.table, err)
	}
	key, id := t.entity.PrimaryKey()
	names, values := t.entity.Columns()

	var stmt string
	var args []any
	switch t.state {
	case Added:
		cols := make([]string, 0, len(names)+1)
		marks := make([]string, 0, len(names)+1)
		cols = append(cols, ident.Quote(key))
		marks = append(marks, "$1")
		args = append(args, id)
		for i, n := range names {
			cols = append(cols, ident.Quote(n))
			marks = append(marks, fmt.Sprintf("$%d", i+2))
		}
		args = append(args, values...)
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	case Modified:
		sets := make([]string, len(names))
		for i, n := range names {
			sets[i] = fmt.Sprintf("%s = $%d", ident.Quote(n), i+1)
		}
		args = append(args, values...)
		args = append(args, id)
		stmt = fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", table, strings.Join(sets, ", "), ident.Quote(key), len(names)+1)
	case Deleted:
		args = append(args, id)
		stmt = fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, ident.Quote(key))
	default:
		return nil
	}

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("uow: failed to write %s %v: %w", t.table, id, err)
	}
	if t.state != Added {
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("uow: %s %v: %w", t.table, id, ErrNoRowsAffected)
		}
	}
	return nil
}

// acceptChanges moves saved entities to Unchanged with fresh originals and stops
// tracking deleted ones.
func (s *Session) acceptChanges(changes []*tracked) {
	for _, t := range changes {
		if t.state == Deleted {
			delete(s.entries, t.entity)
			continue
		}
		t.state = Unchanged
		t.original = snapshot(t.entity)
		t.seq = 0
	}
}
