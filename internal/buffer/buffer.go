package buffer

import (
	"sync"
)

// Buffer collects values in insertion order. It is owned by a single save call and is
// drained exactly once.
type Buffer[T any] struct {
	mu sync.Mutex
	ts []T
}

func NewBuffer[T any](capacity int) *Buffer[T] {
	return &Buffer[T]{ts: make([]T, 0, capacity)}
}

func (b *Buffer[T]) Add(e T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ts = append(b.ts, e)
}

func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ts)
}

// Drain returns the buffered values and empties the buffer. A second Drain returns nil,
// which keeps a batch from being handed off twice.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	es := b.ts
	b.ts = nil
	b.mu.Unlock()
	return es
}
