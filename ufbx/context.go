package ufbx

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/callback"
	"github.com/wippyai/ufbx-bridge/engine"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/resource"
)

// Context is one engine with its callback dispatcher. Scenes, meshes,
// geometry caches and buffers created through a Context must be closed
// before it.
type Context struct {
	native   engine.Native
	d        *callback.Dispatcher
	hub      *resource.Hub
	sceneOps *resource.Ops
	meshOps  *resource.Ops
	cacheOps *resource.Ops
	kept     map[uint64]func()
	nextKept uint64
	caps     engine.Capabilities
	owned    bool
	closed   atomic.Bool
	mu       sync.Mutex
}

// New wraps an engine. The capability query runs here, once.
func New(ctx context.Context, n engine.Native) (*Context, error) {
	if n == nil {
		return nil, errors.NilPointer(errors.PhaseLoad, nil, "engine.Native")
	}
	caps, err := engine.QueryCapabilities(ctx, n)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotInitialized).
			Detail("query engine capabilities").
			Cause(err).
			Build()
	}

	c := &Context{
		native: n,
		d:      callback.NewDispatcher(n),
		hub:    resource.NewHub(),
		kept:   make(map[uint64]func()),
		caps:   caps,
	}
	c.sceneOps = c.refOps("scene", abi.FnRetainScene, abi.FnFreeScene)
	c.meshOps = c.refOps("mesh", abi.FnRetainMesh, abi.FnFreeMesh)
	c.cacheOps = c.refOps("geometry_cache", abi.FnRetainGeometryCache, abi.FnFreeGeometryCache)
	return c, nil
}

// NewWazero instantiates the engine module under wazero. The Context owns
// the engine and closes it on Close.
func NewWazero(ctx context.Context, wasm []byte, cfg *engine.Config) (*Context, error) {
	n, err := engine.NewWazero(ctx, wasm, cfg)
	if err != nil {
		return nil, err
	}
	c, err := New(ctx, n)
	if err != nil {
		_ = n.Close(ctx)
		return nil, err
	}
	c.owned = true
	return c, nil
}

func (c *Context) refOps(kind, retain, release string) *resource.Ops {
	return &resource.Ops{
		Kind: kind,
		Retain: func(ctx context.Context, ptr uint32) error {
			_, err := c.call(ctx, retain, uint64(ptr))
			return err
		},
		// Release bypasses the closed check: a reference handed out
		// before Close still belongs to a live engine unless the Context
		// owned it.
		Release: func(ctx context.Context, ptr uint32) error {
			if _, err := c.native.Call(ctx, release, uint64(ptr)); err != nil {
				return transport(release, err)
			}
			return nil
		},
	}
}

// call invokes an export outside of any option scope.
func (c *Context) call(ctx context.Context, fn string, args ...uint64) ([]uint64, error) {
	if c.closed.Load() {
		return nil, errors.Closed(errors.PhaseCall, "ufbx context")
	}
	Logger().Debug("engine call", zap.String("fn", fn))
	res, err := c.native.Call(ctx, fn, args...)
	if err != nil {
		return nil, transport(fn, err)
	}
	return res, nil
}

// transport keeps structured errors as they are and wraps anything else
// as a failed call.
func transport(fn string, err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	return errors.Trap(fn, err)
}

// ThreadSafe reports whether scenes and meshes may be used from several
// goroutines at once.
func (c *Context) ThreadSafe() bool {
	return c.caps.ThreadSafe
}

func (c *Context) Native() engine.Native {
	return c.native
}

// Dispatcher returns the callback dispatcher bound to the engine.
func (c *Context) Dispatcher() *callback.Dispatcher {
	return c.d
}

// Subscribe reports scene and mesh handle events to o until the returned
// function is called.
func (c *Context) Subscribe(o resource.Observer) func() {
	return c.hub.Subscribe(o)
}

// LiveHandles returns the number of open Scene, Mesh and GeometryCache
// handles.
func (c *Context) LiveHandles() int64 {
	return c.hub.Live()
}

// keep takes over the registrations s owns. They stay until the engine
// ends them, the returned function runs, or the Context closes. It fails
// once the Context is closed, after releasing them.
func (c *Context) keep(s *callback.Scope) (func(), error) {
	c.mu.Lock()
	if c.kept == nil {
		c.mu.Unlock()
		if release := s.Keep(nil); release != nil {
			release()
		}
		return nil, errors.Closed(errors.PhaseCall, "ufbx context")
	}
	id := c.nextKept
	c.nextKept++
	c.mu.Unlock()

	var gone bool // guarded by c.mu
	forget := func() {
		c.mu.Lock()
		gone = true
		delete(c.kept, id)
		c.mu.Unlock()
	}
	release := s.Keep(forget)
	if release == nil {
		return func() {}, nil
	}

	c.mu.Lock()
	if c.kept == nil {
		c.mu.Unlock()
		release()
		return nil, errors.Closed(errors.PhaseCall, "ufbx context")
	}
	if !gone {
		c.kept[id] = release
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			forget()
			release()
		})
	}, nil
}

// Close drops every registration still held and unbinds the dispatcher.
// An engine created by NewWazero is closed as well.
func (c *Context) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := c.hub.Live(); n > 0 {
		Logger().Warn("context closed with open handles", zap.Int64("handles", n))
	}

	c.mu.Lock()
	kept := c.kept
	c.kept = nil
	c.mu.Unlock()
	for _, release := range kept {
		release()
	}

	err := c.d.Close()
	if c.owned {
		if cerr := c.native.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// GuestBuffer is caller-owned engine memory. Its Buffer can be passed
// wherever an option accepts a borrowed reference.
type GuestBuffer struct {
	c     *Context
	buf   fbxbridge.Buffer
	size  uint32
	freed atomic.Bool
}

// NewBuffer copies data into a fresh engine allocation.
func (c *Context) NewBuffer(ctx context.Context, data []byte) (*GuestBuffer, error) {
	if c.closed.Load() {
		return nil, errors.Closed(errors.PhaseCall, "ufbx context")
	}
	if uint64(len(data)) >= 1<<32 {
		return nil, errors.Overflow(errors.PhaseTranslate, nil, len(data), "size_t")
	}
	size := max(uint32(len(data)), 1)
	ptr, err := c.native.Allocator().Alloc(ctx, size, 8)
	if err != nil {
		return nil, err
	}
	if ptr == 0 {
		return nil, errors.AllocationFailed(errors.PhaseTranslate, size, 8)
	}
	if err := c.native.Memory().Write(ptr, data); err != nil {
		c.native.Allocator().Free(ctx, ptr, size, 8)
		return nil, errors.Wrap(errors.PhaseTranslate, errors.KindOutOfBounds, err, "write guest buffer")
	}
	return &GuestBuffer{c: c, buf: fbxbridge.Buffer{Ptr: ptr, Len: uint32(len(data))}, size: size}, nil
}

// Buffer returns the engine address and length. It is valid until Free.
func (b *GuestBuffer) Buffer() fbxbridge.Buffer {
	return b.buf
}

// Bytes copies the buffer's current contents out of engine memory.
func (b *GuestBuffer) Bytes() ([]byte, error) {
	if b.freed.Load() {
		return nil, errors.Closed(errors.PhaseResource, "guest buffer")
	}
	if b.buf.Len == 0 {
		return nil, nil
	}
	data, err := b.c.native.Memory().Read(b.buf.Ptr, b.buf.Len)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

// Free returns the memory to the engine heap. Only the first call frees.
func (b *GuestBuffer) Free(ctx context.Context) {
	if !b.freed.CompareAndSwap(false, true) {
		return
	}
	b.c.native.Allocator().Free(ctx, b.buf.Ptr, b.size, 8)
}
