package auditry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnregisteredStrategy is returned by Registry.Get for a type without a strategy.
	ErrUnregisteredStrategy = errors.New("auditry: no strategy registered for type")
	// ErrDuplicateStrategy is returned by NewRegistry when a type is registered twice.
	ErrDuplicateStrategy = errors.New("auditry: strategy registered more than once for type")
	// ErrNoStorage means the writer has no connection string configured.
	ErrNoStorage = errors.New("auditry: audit storage is not configured")
	// ErrNotFound is returned by Reader.Get for a missing row.
	ErrNotFound = errors.New("auditry: audit record not found")
)

// CaptureError is a failure to turn one tracked entity into a Record. It never leaves
// the capture path; it is logged and the entity is skipped.
type CaptureError struct {
	Table string
	Type  string
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("auditry: capture %s (%s): %v", e.Table, e.Type, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// PersistenceError is a failure to write one Record. It is logged and the record dropped.
type PersistenceError struct {
	Table     string
	EntityID  string
	Operation Operation
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("auditry: persist %s/%s (%s): %v", e.Table, e.EntityID, e.Operation, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
