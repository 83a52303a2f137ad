package resource

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wippyai/ufbx-bridge/errors"
)

// Ops are the engine calls behind one kind of root.
type Ops struct {
	Retain  func(ctx context.Context, ptr uint32) error
	Release func(ctx context.Context, ptr uint32) error
	Kind    string
}

// Hub counts live roots and fans lifecycle events out to observers.
type Hub struct {
	observers map[uint64]Observer
	next      uint64
	live      atomic.Int64
	mu        sync.RWMutex
}

// NewHub returns a hub with no observers.
func NewHub() *Hub {
	return &Hub{observers: make(map[uint64]Observer)}
}

// Subscribe adds o and returns a function that removes it.
func (h *Hub) Subscribe(o Observer) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.observers[id] = o
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.observers, id)
	}
}

// Live returns the number of roots created and not yet closed.
func (h *Hub) Live() int64 {
	return h.live.Load()
}

func (h *Hub) notify(e Event) {
	if h == nil {
		return
	}
	switch e.Type {
	case EventCreated, EventCloned:
		h.live.Add(1)
	case EventDropped:
		h.live.Add(-1)
	}

	h.mu.RLock()
	observers := make([]Observer, 0, len(h.observers))
	for _, o := range h.observers {
		observers = append(observers, o)
	}
	h.mu.RUnlock()

	for _, o := range observers {
		o.OnRootEvent(e)
	}
}

// shared is the Go-side state of one engine object, common to all roots
// that reference it.
type shared struct {
	finalize func(context.Context)
	refs     atomic.Int32
}

// Root owns one engine reference to a refcounted object. Clone takes
// another reference; Close gives this one back exactly once. Roots have
// no finalizer: a root that is never closed keeps the object alive.
type Root struct {
	hub    *Hub
	ops    *Ops
	obj    *shared
	ptr    uint32
	closed atomic.Bool
}

// Wrap takes ownership of the reference held on ptr. finalize, if set, runs
// after the last root of the object closes.
func Wrap(hub *Hub, ops *Ops, ptr uint32, finalize func(context.Context)) (*Root, error) {
	if ptr == 0 {
		return nil, errors.NilPointer(errors.PhaseResource, []string{ops.Kind}, "*resource.Root")
	}
	r := &Root{hub: hub, ops: ops, ptr: ptr, obj: &shared{finalize: finalize}}
	r.obj.refs.Store(1)
	hub.notify(Event{Type: EventCreated, Root: r, Kind: ops.Kind, Ptr: ptr})
	return r, nil
}

func (r *Root) Kind() string {
	return r.ops.Kind
}

// Ptr returns the engine address of the object. It panics if the root is
// closed.
func (r *Root) Ptr() uint32 {
	if r.closed.Load() {
		panic(fmt.Sprintf("resource: use of closed %s root", r.ops.Kind))
	}
	return r.ptr
}

// Borrow returns the engine address, or an error if the root is closed.
// The address is valid while the root stays open.
func (r *Root) Borrow() (uint32, error) {
	if r.closed.Load() {
		return 0, errors.Closed(errors.PhaseResource, r.ops.Kind)
	}
	return r.ptr, nil
}

func (r *Root) Closed() bool {
	return r.closed.Load()
}

// Clone retains the object and returns a new root sharing it.
func (r *Root) Clone(ctx context.Context) (*Root, error) {
	if r.closed.Load() {
		return nil, errors.Closed(errors.PhaseResource, r.ops.Kind)
	}
	if err := r.ops.Retain(ctx, r.ptr); err != nil {
		return nil, err
	}
	r.obj.refs.Add(1)
	c := &Root{hub: r.hub, ops: r.ops, ptr: r.ptr, obj: r.obj}
	r.hub.notify(Event{Type: EventCloned, Root: c, Kind: r.ops.Kind, Ptr: r.ptr})
	return c, nil
}

// Close releases this root's reference. Only the first call does anything.
func (r *Root) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.ops.Release(ctx, r.ptr)
	if r.obj.refs.Add(-1) == 0 && r.obj.finalize != nil {
		r.obj.finalize(ctx)
	}
	r.hub.notify(Event{Type: EventDropped, Root: r, Kind: r.ops.Kind, Ptr: r.ptr})
	return err
}
