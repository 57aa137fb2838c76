package sqlitebind

import (
	"slices"
	"sync"
)

// handleID is an opaque reference to an entry in a handleTable.
// handleID 0 is reserved and always invalid, so it can never be confused
// with a NULL user-data pointer coming back from the engine.
type handleID uintptr

// handleTable maps ids to values. It is the non-owning registry behind a
// Connection's live cursors and statements and behind the callback bridge.
type handleTable[T any] struct {
	mu    sync.Mutex
	next  handleID
	items map[handleID]T
}

func newHandleTable[T any]() *handleTable[T] {
	return &handleTable[T]{items: make(map[handleID]T)}
}

// insert adds a value and returns its handle.
func (t *handleTable[T]) insert(v T) handleID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	if t.next == 0 {
		t.next++
	}
	t.items[t.next] = v
	return t.next
}

// get retrieves a value by handle.
func (t *handleTable[T]) get(id handleID) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[id]
	return v, ok
}

// remove drops an entry and returns (value, true) if it was present.
func (t *handleTable[T]) remove(id handleID) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[id]
	if ok {
		delete(t.items, id)
	}
	return v, ok
}

// drain removes every entry and returns the values in insertion order.
func (t *handleTable[T]) drain() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]handleID, 0, len(t.items))
	for id := range t.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.items[id])
		delete(t.items, id)
	}
	return out
}

// len returns the number of live entries.
func (t *handleTable[T]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
