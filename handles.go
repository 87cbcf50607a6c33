package vole

import "github.com/google/uuid"

// handle is one entry in the VM's doubly linked handle list: a host-held
// reference that roots a value across API calls until explicitly
// destroyed. Handles are identified by an opaque uuid rather than a bare
// slot index, so a destroyed-then-reused slot is never silently
// revalidated by a stale host-held id.
type handle struct {
	id         uuid.UUID
	value      Value
	prev, next *handle
}

// HandleID is the opaque, host-visible identifier for a handle.
type HandleID = uuid.UUID

type handleList struct {
	head, tail *handle
	byID       map[uuid.UUID]*handle
}

func newHandleList() *handleList {
	return &handleList{byID: make(map[uuid.UUID]*handle)}
}

func (l *handleList) make(v Value) HandleID {
	h := &handle{id: uuid.New(), value: v}
	h.prev = l.tail
	if l.tail != nil {
		l.tail.next = h
	} else {
		l.head = h
	}
	l.tail = h
	l.byID[h.id] = h
	return h.id
}

func (l *handleList) get(id HandleID) (Value, bool) {
	h, ok := l.byID[id]
	if !ok {
		return Nil, false
	}
	return h.value, true
}

func (l *handleList) destroy(id HandleID) bool {
	h, ok := l.byID[id]
	if !ok {
		return false
	}
	if h.prev != nil {
		h.prev.next = h.next
	} else {
		l.head = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	} else {
		l.tail = h.prev
	}
	delete(l.byID, id)
	return true
}

// each calls fn for every live handle's value, used by the GC root walk.
func (l *handleList) each(fn func(v Value)) {
	for h := l.head; h != nil; h = h.next {
		fn(h.value)
	}
}
