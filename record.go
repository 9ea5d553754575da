package auditry

import (
	"fmt"
	"time"
)

// Operation is the kind of mutation a Record describes.
type Operation int

const (
	OperationInsert Operation = iota + 1
	OperationUpdate
	OperationDelete
)

func (o Operation) String() string {
	switch o {
	case OperationInsert:
		return "Insert"
	case OperationUpdate:
		return "Update"
	case OperationDelete:
		return "Delete"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// Valid reports whether o is one of the three mutation kinds.
func (o Operation) Valid() bool {
	return o >= OperationInsert && o <= OperationDelete
}

// ParseOperation is the inverse of Operation.String.
func ParseOperation(s string) (Operation, error) {
	switch s {
	case "Insert":
		return OperationInsert, nil
	case "Update":
		return OperationUpdate, nil
	case "Delete":
		return OperationDelete, nil
	default:
		return 0, fmt.Errorf("auditry: unknown operation %q", s)
	}
}

// MarshalText encodes o by name. Invalid operations fail.
func (o Operation) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("auditry: invalid operation %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (o *Operation) UnmarshalText(b []byte) error {
	v, err := ParseOperation(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Fields is a flat snapshot of audited field names to values.
type Fields map[string]any

// Record is a single before/after change. OldValues is nil for inserts and NewValues is
// nil for deletes; both are set for updates.
type Record struct {
	TableName string    `json:"table_name"`
	EntityID  string    `json:"entity_id"`
	Operation Operation `json:"operation"`
	OldValues Fields    `json:"old_values"`
	NewValues Fields    `json:"new_values"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
