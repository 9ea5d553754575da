package auditry

import (
	"time"
)

// Strategy knows how to name, identify and flatten one entity type for the audit log.
// Implementations list the audited fields explicitly; new columns on the entity stay out
// of the audit trail until a strategy opts them in.
type Strategy[T any] interface {
	// TableName is the logical name recorded for every change of T.
	TableName() string
	// EntityID returns a stable string form of the primary key, or "" for nil.
	EntityID(entity *T) string
	// ExtractFields returns the audited fields, or an empty map for nil.
	ExtractFields(entity *T) Fields
}

// NewRecord builds the Record for a change of T. The entity id comes from newEntity when
// it is set and from oldEntity otherwise. A nil entity where op requires one yields an
// empty field map rather than an error.
func NewRecord[T any](s Strategy[T], oldEntity, newEntity *T, op Operation, userID string) Record {
	return newRecord(s, oldEntity, newEntity, op, userID, nil)
}

func newRecord[T any](s Strategy[T], oldEntity, newEntity *T, op Operation, userID string, redact RedactMap) Record {
	source := newEntity
	if source == nil {
		source = oldEntity
	}
	id := s.EntityID(source)

	r := Record{
		TableName: s.TableName(),
		EntityID:  id,
		Operation: op,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
	if op != OperationInsert {
		r.OldValues = redact.apply(fieldsOf(s, oldEntity))
	}
	if op != OperationDelete {
		r.NewValues = redact.apply(fieldsOf(s, newEntity))
	}
	return r
}

func fieldsOf[T any](s Strategy[T], entity *T) Fields {
	f := s.ExtractFields(entity)
	if f == nil {
		return Fields{}
	}
	return f
}

// Auditable marks entity types whose tracked changes are captured on save. Embed Audited
// to satisfy it.
type Auditable interface {
	auditable()
}

// Audited is embedded in entity structs to opt them in to save-time capture.
type Audited struct{}

func (Audited) auditable() {}

// RedactFunc masks a value before it is recorded.
type RedactFunc func(key string, v any) any

// RedactMap maps field names to redaction functions.
type RedactMap map[string]RedactFunc

// apply returns a redacted copy of f. The input map is never modified since it may be
// owned by the strategy.
func (m RedactMap) apply(f Fields) Fields {
	if f == nil || len(m) == 0 {
		return f
	}
	out := make(Fields, len(f))
	for k, v := range f {
		if fn, ok := m[k]; ok && fn != nil {
			out[k] = fn(k, v)
		} else {
			out[k] = v
		}
	}
	return out
}

// Mask is a RedactFunc replacing any value with a fixed placeholder.
func Mask(string, any) any {
	return "[REDACTED]"
}
