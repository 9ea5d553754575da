package uow

import (
	"fmt"

	"github.com/google/uuid"
)

// State is the tracking state of an entity in a Session.
type State int

const (
	Detached State = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Detached:
		return "Detached"
	case Unchanged:
		return "Unchanged"
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Entry is a tracked entity as seen by interceptors.
type Entry struct {
	Entity Model
	// Original is a copy of the entity as last loaded or saved; nil for Added entities.
	Original Model
	State    State
	Table    string
}

// SaveContext describes one SaveChanges call. Each call gets its own SaveContext.
type SaveContext struct {
	ID        uuid.UUID
	SessionID uuid.UUID // shared by every save of the same Session
	entries   []Entry
}

// Entries returns the change set in the order the changes were made.
func (sc *SaveContext) Entries() []Entry {
	out := make([]Entry, len(sc.entries))
	copy(out, sc.entries)
	return out
}
