package auditry

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mickamy/auditry/internal/buffer"
	"github.com/mickamy/auditry/uow"
)

// Auditor captures tracked changes before a unit of work commits and persists them after
// the commit succeeds. It implements uow.Interceptor.
type Auditor struct {
	registry    *Registry
	writer      Writer
	log         logrus.FieldLogger
	metrics     *Metrics
	redact      RedactMap
	systemActor string

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	// tails holds, per session, the completion signal of its most recent batch.
	tails map[string]chan struct{}
}

var _ uow.Interceptor = (*Auditor)(nil)

// Option configures an Auditor.
type Option func(*Auditor)

// WithLogger sets the logger for capture and dispatch failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Auditor) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics records capture and dispatch counts on m.
func WithMetrics(m *Metrics) Option {
	return func(a *Auditor) {
		a.metrics = m
	}
}

// WithRedact masks the named fields in every captured record.
func WithRedact(m RedactMap) Option {
	return func(a *Auditor) {
		a.redact = m
	}
}

// WithSystemActor sets the user recorded for saves whose context carries no actor.
func WithSystemActor(userID string) Option {
	return func(a *Auditor) {
		if userID != "" {
			a.systemActor = userID
		}
	}
}

// New creates an Auditor. The registry is only read, so it may be shared.
func New(registry *Registry, writer Writer, opts ...Option) *Auditor {
	a := &Auditor{
		registry:    registry,
		writer:      writer,
		log:         logrus.StandardLogger(),
		systemActor: "system",
		tails:       make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// batch is the set of records captured for one save call. Batches sharing a lane are
// persisted in dispatch order.
type batch struct {
	id      string
	lane    string
	records *buffer.Buffer[Record]
}

// SavingChanges snapshots every auditable entry of the change set while old values are
// still available. The captured batch travels in the returned context only.
func (a *Auditor) SavingChanges(ctx context.Context, sc *uow.SaveContext) context.Context {
	if skipped(ctx) {
		return ctx
	}
	entries := sc.Entries()
	b := &batch{id: sc.ID.String(), lane: sc.SessionID.String(), records: buffer.NewBuffer[Record](len(entries))}
	userID := a.actor(ctx)
	for _, e := range entries {
		a.captureEntry(b, e, userID)
	}
	if b.records.Len() == 0 {
		return ctx
	}
	return withPending(ctx, b)
}

func (a *Auditor) captureEntry(b *batch, e uow.Entry, userID string) {
	if _, ok := e.Entity.(Auditable); !ok {
		return
	}
	binding, ok := a.registry.Lookup(e.Entity)
	if !ok {
		return
	}

	var op Operation
	var oldEntity, newEntity any
	switch e.State {
	case uow.Added:
		op = OperationInsert
		newEntity = e.Entity
	case uow.Modified:
		op = OperationUpdate
		oldEntity, newEntity = e.Entity, e.Entity
		if e.Original != nil {
			oldEntity = e.Original
		}
	case uow.Deleted:
		op = OperationDelete
		oldEntity = e.Entity
	default:
		return
	}

	r, err := a.build(binding, oldEntity, newEntity, op, userID)
	if err != nil {
		a.captureFailed(binding.TableName(), e.Entity, err, logrus.Fields{"batch_id": b.id})
		return
	}
	b.records.Add(r)
	a.metrics.captured(r)
}

// SavedChanges hands the batch captured for this save to the writer on a detached
// goroutine. The commit path never waits for it. Batches of one Session are persisted in
// the order their saves committed.
func (a *Auditor) SavedChanges(ctx context.Context, _ *uow.SaveContext, _ int) {
	b := pendingFrom(ctx)
	if b == nil {
		return
	}
	records := b.records.Drain()
	if len(records) == 0 {
		return
	}
	a.dispatch(ctx, b.id, b.lane, records)
}

// SaveFailed discards the batch; only committed changes are audited.
func (a *Auditor) SaveFailed(ctx context.Context, _ *uow.SaveContext, err error) {
	b := pendingFrom(ctx)
	if b == nil {
		return
	}
	if n := len(b.records.Drain()); n > 0 {
		a.log.WithError(err).WithFields(logrus.Fields{
			"batch_id": b.id,
			"records":  n,
		}).Debug("Save failed, discarding captured audit records")
	}
}

// Wait blocks until every dispatched batch has been persisted or dropped. It must not
// run concurrently with saves; use Close on shutdown.
func (a *Auditor) Wait() {
	a.wg.Wait()
}

// Close stops accepting new batches and waits for dispatched ones. Batches committed
// after Close are logged and dropped.
func (a *Auditor) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
}

// dispatch persists records on a detached goroutine. A non-empty lane chains the batch
// behind the previous batch of the same lane.
func (a *Auditor) dispatch(ctx context.Context, batchID, lane string, records []Record) {
	// no cancellation flows from the originating request into the write
	ctx = context.WithoutCancel(ctx)
	log := a.log.WithField("batch_id", batchID)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		log.WithField("records", len(records)).Warn("Auditor is closed, dropping audit records")
		for _, r := range records {
			a.metrics.dropped(r.TableName, "closed")
		}
		return
	}
	var prev chan struct{}
	done := make(chan struct{})
	if lane != "" {
		prev = a.tails[lane]
		a.tails[lane] = done
	}
	a.wg.Add(1)
	a.mu.Unlock()

	a.metrics.batchStarted()
	go func() {
		defer a.wg.Done()
		defer a.metrics.batchDone()
		defer a.release(lane, done)
		if prev != nil {
			<-prev
		}
		for _, r := range records {
			persistIsolated(ctx, a.writer, r, log)
		}
	}()
}

// release signals the next batch of the lane and forgets the lane once it is idle.
func (a *Auditor) release(lane string, done chan struct{}) {
	close(done)
	if lane == "" {
		return
	}
	a.mu.Lock()
	if a.tails[lane] == done {
		delete(a.tails, lane)
	}
	a.mu.Unlock()
}

// persistIsolated keeps one record's failure from reaching the rest of its batch.
func persistIsolated(ctx context.Context, w Writer, r Record, log logrus.FieldLogger) {
	defer func() {
		if p := recover(); p != nil {
			log.WithFields(logrus.Fields{
				"table":     r.TableName,
				"entity_id": r.EntityID,
				"operation": r.Operation.String(),
				"panic":     p,
			}).Error("Audit writer panicked, dropping audit record")
		}
	}()
	w.Persist(ctx, r)
}

// build runs the strategy, turning a panic into an error scoped to this entity.
func (a *Auditor) build(b Binding, oldEntity, newEntity any, op Operation, userID string) (r Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("strategy panicked: %v", p)
		}
	}()
	return b.record(oldEntity, newEntity, op, userID, a.redact)
}

func (a *Auditor) captureFailed(table string, entity any, err error, fields logrus.Fields) {
	cerr := &CaptureError{Table: table, Type: fmt.Sprintf("%T", entity), Err: err}
	a.log.WithFields(fields).WithField("table", table).WithError(cerr).Error("Failed to capture audit record, skipping entity")
	a.metrics.captureFailed(table)
}

func (a *Auditor) actor(ctx context.Context) string {
	if v, ok := ActorFrom(ctx); ok {
		return v
	}
	return a.systemActor
}
