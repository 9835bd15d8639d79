package resource

import (
	"errors"
	"sync"
)

// Handle is an opaque reference to a resource in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

var ErrClosed = errors.New("resource table closed")

// Dropper is optionally implemented by resource values that need cleanup.
type Dropper interface {
	Drop()
}

// Table maps handles to guest representations or host values.
// It is safe for concurrent use.
type Table struct {
	entries  []entry
	freeList []Handle
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value  any
	typeID uint32
	rep    uint32
	valid  bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 8),
		freeList: make([]Handle, 0, 4),
	}
}

// New creates a handle for a guest representation. It returns 0 once the
// table is closed.
func (t *Table) New(typeID, rep uint32) Handle {
	h, _ := t.insert(entry{typeID: typeID, rep: rep, valid: true})
	return h
}

// Insert stores a host value and returns its handle.
func (t *Table) Insert(typeID uint32, value any) (Handle, error) {
	return t.insert(entry{typeID: typeID, value: value, valid: true})
}

func (t *Table) insert(e entry) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrClosed
	}

	if n := len(t.freeList); n > 0 {
		h := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[h-1] = e
		return h, nil
	}

	t.entries = append(t.entries, e)
	return Handle(len(t.entries)), nil
}

// lookup must be called with t.mu held.
func (t *Table) lookup(h Handle) (*entry, bool) {
	if h == 0 || int(h) > len(t.entries) {
		return nil, false
	}
	e := &t.entries[h-1]
	return e, e.valid
}

// Rep returns the guest representation for h.
func (t *Table) Rep(h Handle) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.lookup(h)
	if !ok {
		return 0, false
	}
	return e.rep, true
}

// Get returns the host value stored under h.
func (t *Table) Get(h Handle) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.lookup(h)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// TypeID returns the resource type of h.
func (t *Table) TypeID(h Handle) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.lookup(h)
	if !ok {
		return 0, false
	}
	return e.typeID, true
}

// Drop invalidates h and returns its representation. The stored value, if
// any, is released when it implements Dropper.
func (t *Table) Drop(h Handle) (uint32, bool) {
	t.mu.Lock()
	e, ok := t.lookup(h)
	if !ok {
		t.mu.Unlock()
		return 0, false
	}
	rep, value := e.rep, e.value
	*e = entry{}
	t.freeList = append(t.freeList, h)
	t.mu.Unlock()

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}
	return rep, true
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries) - len(t.freeList)
}

// Each calls fn for every live handle until fn returns false.
func (t *Table) Each(fn func(h Handle, typeID, rep uint32) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, e := range t.entries {
		if e.valid && !fn(Handle(i+1), e.typeID, e.rep) {
			return
		}
	}
}

// Close drops every live handle. Further inserts fail with ErrClosed.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	entries := t.entries
	t.entries = nil
	t.freeList = nil
	t.mu.Unlock()

	for _, e := range entries {
		if !e.valid {
			continue
		}
		if d, ok := e.value.(Dropper); ok {
			d.Drop()
		}
	}
	return nil
}
