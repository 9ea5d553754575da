package auditry

import (
	"fmt"
	"reflect"
)

// Binding is a strategy with its entity type erased, as stored in a Registry.
type Binding interface {
	TableName() string
	// Record builds a Record from old and new entities, each either nil or a *T of the
	// bound type.
	Record(oldEntity, newEntity any, op Operation, userID string) (Record, error)

	record(oldEntity, newEntity any, op Operation, userID string, redact RedactMap) (Record, error)
}

// Registration pairs an entity type with its strategy. Build one with Register.
type Registration struct {
	typ     reflect.Type
	binding Binding
}

// Register binds s to the pointer type *T, which is the runtime type tracked entities
// must have to be matched.
func Register[T any](s Strategy[T]) Registration {
	reg := Registration{typ: reflect.TypeFor[*T]()}
	if s != nil {
		reg.binding = typed[T]{s: s}
	}
	return reg
}

type typed[T any] struct {
	s Strategy[T]
}

func (b typed[T]) TableName() string { return b.s.TableName() }

func (b typed[T]) Record(oldEntity, newEntity any, op Operation, userID string) (Record, error) {
	return b.record(oldEntity, newEntity, op, userID, nil)
}

func (b typed[T]) record(oldEntity, newEntity any, op Operation, userID string, redact RedactMap) (Record, error) {
	if !op.Valid() {
		return Record{}, fmt.Errorf("invalid operation %s", op)
	}
	o, err := entityAs[T](oldEntity)
	if err != nil {
		return Record{}, err
	}
	n, err := entityAs[T](newEntity)
	if err != nil {
		return Record{}, err
	}
	return newRecord(b.s, o, n, op, userID, redact), nil
}

func entityAs[T any](v any) (*T, error) {
	if v == nil {
		return nil, nil
	}
	e, ok := v.(*T)
	if !ok {
		return nil, fmt.Errorf("entity of type %T does not match %v", v, reflect.TypeFor[*T]())
	}
	return e, nil
}

// Registry maps entity types to strategies. It is immutable once built and safe for
// concurrent use without locking.
type Registry struct {
	bindings map[reflect.Type]Binding
}

// NewRegistry builds a Registry. Registering the same type twice is a configuration
// error and fails with ErrDuplicateStrategy.
func NewRegistry(regs ...Registration) (*Registry, error) {
	bindings := make(map[reflect.Type]Binding, len(regs))
	for _, reg := range regs {
		if reg.typ == nil || reg.binding == nil {
			return nil, fmt.Errorf("auditry: nil strategy registered for %v", reg.typ)
		}
		if _, ok := bindings[reg.typ]; ok {
			return nil, fmt.Errorf("%w %v", ErrDuplicateStrategy, reg.typ)
		}
		bindings[reg.typ] = reg.binding
	}
	return &Registry{bindings: bindings}, nil
}

// MustRegistry is like NewRegistry but panics on error. Meant for package-level setup.
func MustRegistry(regs ...Registration) *Registry {
	r, err := NewRegistry(regs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Has reports whether t has a strategy.
func (r *Registry) Has(t reflect.Type) bool {
	if r == nil {
		return false
	}
	_, ok := r.bindings[t]
	return ok
}

// Get returns the binding for t, or ErrUnregisteredStrategy.
func (r *Registry) Get(t reflect.Type) (Binding, error) {
	if r != nil {
		if b, ok := r.bindings[t]; ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w %v", ErrUnregisteredStrategy, t)
}

// Lookup returns the binding for entity's runtime type. A missing binding means the
// entity is not audited.
func (r *Registry) Lookup(entity any) (Binding, bool) {
	if r == nil || entity == nil {
		return nil, false
	}
	b, ok := r.bindings[reflect.TypeOf(entity)]
	return b, ok
}

// Len reports the number of registered types.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.bindings)
}
