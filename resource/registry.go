package resource

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("resource registry closed")

// Registry maps handles to Go values so the engine can carry them as
// context pointers. Handles are dense and reused after release.
type Registry struct {
	entries  []entry
	freeList []Handle
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value any
	kind  uint32
	valid bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make([]entry, 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

// Register stores value under kind and returns its handle.
func (r *Registry) Register(kind uint32, value any) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}

	e := entry{
		kind:  kind,
		value: value,
		valid: true,
	}

	if len(r.freeList) > 0 {
		handle := r.freeList[len(r.freeList)-1]
		r.freeList = r.freeList[:len(r.freeList)-1]
		r.entries[handle-1] = e
		return handle, nil
	}

	r.entries = append(r.entries, e)
	return Handle(len(r.entries)), nil
}

// Lookup returns the value registered under handle if it has kind.
func (r *Registry) Lookup(handle Handle, kind uint32) (any, bool) {
	if handle == 0 {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := handle - 1
	if int(idx) >= len(r.entries) {
		return nil, false
	}

	e := r.entries[idx]
	if !e.valid || e.kind != kind {
		return nil, false
	}
	return e.value, true
}

// Release removes handle and returns its value.
func (r *Registry) Release(handle Handle) (any, bool) {
	return r.release(handle, nil, false)
}

// ReleaseIf removes handle only while it still maps to value. A handle
// that was released and reused for another value is left alone.
func (r *Registry) ReleaseIf(handle Handle, value any) bool {
	_, ok := r.release(handle, value, true)
	return ok
}

func (r *Registry) release(handle Handle, value any, match bool) (any, bool) {
	if handle == 0 {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := handle - 1
	if int(idx) >= len(r.entries) {
		return nil, false
	}

	e := &r.entries[idx]
	if !e.valid || (match && e.value != value) {
		return nil, false
	}

	v := e.value
	e.valid = false
	e.value = nil
	e.kind = 0
	r.freeList = append(r.freeList, handle)

	return v, true
}

// Len returns the number of registered values.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries) - len(r.freeList)
}

// Close drops every remaining value and refuses further registrations.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for i := range r.entries {
		if r.entries[i].valid {
			if d, ok := r.entries[i].value.(Dropper); ok {
				d.Drop()
			}
			r.entries[i].valid = false
			r.entries[i].value = nil
		}
	}

	r.entries = nil
	r.freeList = nil
	return nil
}
