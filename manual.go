package auditry

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mickamy/auditry/internal/query"
)

// CaptureManual audits a mutation made outside a uow.Session, such as a raw statement.
// Like save-time capture, entities that do not embed Audited or have no registered
// strategy are ignored. Reads have no operation and are never passed here. An empty
// userID falls back to the actor on ctx.
func (a *Auditor) CaptureManual(ctx context.Context, entity any, op Operation, userID string) {
	var oldEntity, newEntity any
	if op != OperationInsert {
		oldEntity = entity
	}
	if op != OperationDelete {
		newEntity = entity
	}
	a.capture(ctx, entity, oldEntity, newEntity, op, userID)
}

// CaptureChange is CaptureManual for updates whose prior state the caller loaded itself.
func (a *Auditor) CaptureChange(ctx context.Context, before, after any, userID string) {
	a.capture(ctx, after, before, after, OperationUpdate, userID)
}

func (a *Auditor) capture(ctx context.Context, entity, oldEntity, newEntity any, op Operation, userID string) {
	if entity == nil || skipped(ctx) {
		return
	}
	if _, ok := entity.(Auditable); !ok {
		return
	}
	binding, ok := a.registry.Lookup(entity)
	if !ok {
		return
	}
	if userID == "" {
		userID = a.actor(ctx)
	}

	batchID := uuid.NewString()
	r, err := a.build(binding, oldEntity, newEntity, op, userID)
	if err != nil {
		a.captureFailed(binding.TableName(), entity, err, logrus.Fields{"batch_id": batchID})
		return
	}
	a.metrics.captured(r)
	a.dispatch(ctx, batchID, "", []Record{r})
}

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Target names the entity a raw statement writes and who is writing it.
type Target struct {
	Entity any
	UserID string
}

// ExecContext runs a raw statement and audits it against t.Entity when it is an INSERT,
// UPDATE, DELETE, REPLACE or MERGE that succeeded and touched rows. Reads are executed
// without producing a record. A statement that cannot be classified but reports affected
// rows is logged at warn level and not audited.
func (a *Auditor) ExecContext(ctx context.Context, db Execer, t Target, q string, args ...any) (sql.Result, error) {
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return res, err
	}
	stmt, ok := query.Parse(q)
	if ok && !stmt.Mutates() {
		return res, nil
	}
	n, rerr := res.RowsAffected()
	if rerr == nil && n == 0 {
		return res, nil
	}
	if !ok {
		table := ""
		if b, found := a.registry.Lookup(t.Entity); found {
			table = b.TableName()
		}
		a.log.WithFields(logrus.Fields{
			"verb":          query.Verb(q),
			"table":         table,
			"rows_affected": n,
		}).Warn("Unrecognized statement changed rows, not audited")
		return res, nil
	}
	a.log.WithFields(logrus.Fields{
		"statement": stmt.Kind,
		"table":     stmt.Table,
		"returning": stmt.HasReturning,
	}).Debug("Auditing raw statement")
	a.CaptureManual(ctx, t.Entity, operationOf(stmt.Kind), t.UserID)
	return res, nil
}

// operationOf maps a statement kind to an operation. REPLACE is parsed as an insert and
// MERGE is recorded as an update since the statement alone does not tell which branch ran.
func operationOf(k query.Kind) Operation {
	switch k {
	case query.KindInsert:
		return OperationInsert
	case query.KindUpdate, query.KindMerge:
		return OperationUpdate
	default:
		return OperationDelete
	}
}
