package callback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/engine"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/resource"
	"github.com/wippyai/ufbx-bridge/stream"
)

// Registry kinds of the values behind context pointers.
const (
	kindStream uint32 = iota + 1
	kindOpenFile
	kindProgress
	kindCloseMemory
	kindAllocator
	kindPool
)

// Dispatcher routes trampoline invocations from one engine to the Go
// values registered for them. It implements engine.Host.
type Dispatcher struct {
	native engine.Native
	reg    *resource.Registry
}

// NewDispatcher binds a dispatcher to n.
func NewDispatcher(n engine.Native) *Dispatcher {
	d := &Dispatcher{native: n, reg: resource.NewRegistry()}
	n.Bind(d)
	return d
}

func (d *Dispatcher) Native() engine.Native {
	return d.native
}

// Registered returns the number of live context registrations.
func (d *Dispatcher) Registered() int {
	return d.reg.Len()
}

// Close unbinds the dispatcher and drops every registration.
func (d *Dispatcher) Close() error {
	d.native.Bind(nil)
	return d.reg.Close()
}

func (d *Dispatcher) lookup(user, kind uint32, op string) (any, bool) {
	v, ok := d.reg.Lookup(resource.Handle(user), kind)
	if !ok {
		Logger().Warn("trampoline called with unknown context",
			zap.String("op", op), zap.Uint32("user", user))
	}
	return v, ok
}

type registration struct {
	value  any
	handle resource.Handle
}

// Scope holds the registrations made for one engine call. Call-scoped
// registrations end with Close; owned ones end when the engine says so,
// or with Close unless Keep took them over.
type Scope struct {
	d       *Dispatcher
	arena   *arena.Arena
	fault   any
	faultOp string
	scoped  []registration
	owned   []registration
	streams []*stream.Adapter
	done    bool
	mu      sync.Mutex
}

// NewScope starts a call scope whose translated data lives in a.
func (d *Dispatcher) NewScope(a *arena.Arena) *Scope {
	return &Scope{d: d, arena: a}
}

func (s *Scope) Arena() *arena.Arena {
	return s.arena
}

func (s *Scope) Dispatcher() *Dispatcher {
	return s.d
}

// register stores v and returns the callback pair for trampoline kind t.
func (s *Scope) register(t abi.Trampoline, kind uint32, v any, owned bool) (abi.Callback, error) {
	fn := s.d.native.Trampoline(t)
	if fn == 0 {
		return abi.Callback{}, errors.Unsupported(errors.PhaseTranslate, t.String()+" trampoline")
	}
	h, err := s.d.reg.Register(kind, v)
	if err != nil {
		return abi.Callback{}, errors.Wrap(errors.PhaseTranslate, errors.KindClosed, err, "register "+t.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := registration{value: v, handle: h}
	if owned {
		s.owned = append(s.owned, r)
	} else {
		s.scoped = append(s.scoped, r)
	}
	return abi.Callback{Fn: fn, User: uint32(h)}, nil
}

// recovered records a panic raised by user code inside a trampoline. The
// first one is kept for Rethrow while the scope is open.
func (s *Scope) recovered(op string, r any) {
	Logger().Error("callback panicked", zap.String("op", op), zap.Any("panic", r))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.fault != nil {
		return
	}
	s.fault = r
	s.faultOp = op
}

// Fault returns the first recovered panic, if any.
func (s *Scope) Fault() (op string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faultOp, s.fault
}

// Rethrow re-raises a panic recovered during the call. Call it after the
// engine has returned.
func (s *Scope) Rethrow() {
	if _, r := s.Fault(); r != nil {
		panic(r)
	}
}

// Keep hands the owned registrations to the caller. It returns nil when
// the scope owns nothing the engine still holds. Otherwise released runs
// once the engine has given up every kept registration, and the returned
// function releases whatever the engine has not released by then.
func (s *Scope) Keep(released func()) func() {
	s.mu.Lock()
	owned := s.owned
	s.owned = nil
	s.mu.Unlock()
	if len(owned) == 0 {
		return nil
	}

	var left atomic.Int32
	left.Store(int32(len(owned)))
	settle := func() {
		if left.Add(-1) == 0 && released != nil {
			released()
		}
	}
	for _, r := range owned {
		o, ok := r.value.(engineOwned)
		if !ok || !o.watch(settle) {
			settle()
		}
	}
	if left.Load() == 0 {
		return nil
	}
	return func() {
		for _, r := range owned {
			s.d.reg.ReleaseIf(r.handle, r.value)
		}
	}
}

// engineOwned is a registration the engine ends through a trampoline.
type engineOwned interface {
	watch(fn func()) bool
}

// ownership records that the engine ended a registration.
type ownership struct {
	hook     func()
	released bool
	mu       sync.Mutex
}

// end marks the registration released and runs the watcher, if any.
func (o *ownership) end() {
	o.mu.Lock()
	o.released = true
	hook := o.hook
	o.hook = nil
	o.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// watch runs fn when the engine ends the registration. It returns false
// if that already happened.
func (o *ownership) watch(fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.released {
		return false
	}
	o.hook = fn
	return true
}

// Close ends the call. Streams the engine never closed are closed here,
// and the scope's registrations are released.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	regs := append(s.scoped, s.owned...)
	streams := s.streams
	s.scoped, s.owned, s.streams = nil, nil, nil
	s.mu.Unlock()

	for _, a := range streams {
		if !a.Closed() {
			Logger().Debug("closing stream the engine left open")
			if err := a.Close(); err != nil {
				Logger().Warn("stream close failed", zap.Error(err))
			}
		}
	}
	for _, r := range regs {
		s.d.reg.ReleaseIf(r.handle, r.value)
	}
}

// Stream registers st for the duration of the scope and returns the
// ufbx_stream image describing it.
func (s *Scope) Stream(st stream.Stream) (*abi.Frame, error) {
	switch st.Kind() {
	case stream.KindNone:
		return nil, errors.NilPointer(errors.PhaseTranslate, []string{"stream"}, "stream.Stream")
	case stream.KindRaw, stream.KindMemory:
		desc, err := st.TakeRaw()
		if err != nil {
			return nil, err
		}
		return desc.Frame(), nil
	}

	n := s.d.native
	readFn := n.Trampoline(abi.TrampolineRead)
	skipFn := n.Trampoline(abi.TrampolineSkip)
	closeFn := n.Trampoline(abi.TrampolineClose)
	if readFn == 0 || skipFn == 0 || closeFn == 0 {
		return nil, errors.Unsupported(errors.PhaseTranslate, "stream trampolines")
	}

	a, err := st.Take()
	if err != nil {
		return nil, err
	}
	e := &streamEntry{adapter: a, scope: s}
	cb, err := s.register(abi.TrampolineRead, kindStream, e, false)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	s.mu.Lock()
	s.streams = append(s.streams, a)
	s.mu.Unlock()

	return stream.Descriptor{Read: readFn, Skip: skipFn, Close: closeFn, User: cb.User}.Frame(), nil
}

type streamEntry struct {
	adapter *stream.Adapter
	scope   *Scope
}

func (d *Dispatcher) StreamRead(_ context.Context, mem fbxbridge.Memory, user, buf, size uint32) (n uint32) {
	v, ok := d.lookup(user, kindStream, "stream_read")
	if !ok {
		return abi.ReadError
	}
	e := v.(*streamEntry)
	defer func() {
		if r := recover(); r != nil {
			e.scope.recovered("stream_read", r)
			n = abi.ReadError
		}
	}()
	view, err := mem.Read(buf, size)
	if err != nil {
		Logger().Warn("stream read buffer out of bounds", zap.Uint32("buf", buf), zap.Uint32("size", size))
		return abi.ReadError
	}
	return e.adapter.Read(view)
}

func (d *Dispatcher) StreamSkip(_ context.Context, _ fbxbridge.Memory, user, size uint32) (ok bool) {
	v, found := d.lookup(user, kindStream, "stream_skip")
	if !found {
		return false
	}
	e := v.(*streamEntry)
	defer func() {
		if r := recover(); r != nil {
			e.scope.recovered("stream_skip", r)
			ok = false
		}
	}()
	return e.adapter.Skip(uint64(size))
}

func (d *Dispatcher) StreamClose(_ context.Context, _ fbxbridge.Memory, user uint32) {
	v, ok := d.lookup(user, kindStream, "stream_close")
	if !ok {
		return
	}
	e := v.(*streamEntry)
	defer func() {
		if r := recover(); r != nil {
			e.scope.recovered("stream_close", r)
		}
	}()
	if err := e.adapter.Close(); err != nil {
		Logger().Warn("stream close failed", zap.Error(err))
	}
}

func (d *Dispatcher) OpenFile(ctx context.Context, mem fbxbridge.Memory, user, streamPtr, path, pathLen, info uint32) (ok bool) {
	v, found := d.lookup(user, kindOpenFile, "open_file")
	if !found {
		return false
	}
	e := v.(*openFileEntry)
	defer func() {
		if r := recover(); r != nil {
			e.scope.recovered("open_file", r)
			ok = false
		}
	}()

	name, err := abi.ReadString(mem, abi.Span{Ptr: path, Len: pathLen})
	if err != nil {
		Logger().Warn("open_file path unreadable", zap.Error(err))
		return false
	}
	fi := FileInfo{}
	if info != 0 {
		f, err := abi.ReadFrame(mem, info, abi.OpenFileInfo)
		if err != nil {
			Logger().Warn("open_file info unreadable", zap.Error(err))
			return false
		}
		fi.Type = FileType(f.U32("type"))
		fi.OriginalName, _ = abi.ReadString(mem, f.Span("original_filename"))
	}

	st, err := e.fn(ctx, name, fi)
	if err != nil {
		Logger().Debug("open_file declined", zap.String("path", name), zap.Error(err))
		_ = st.Discard()
		return false
	}
	if st.IsZero() {
		return false
	}
	f, err := e.scope.Stream(st)
	if err != nil {
		Logger().Warn("open_file stream rejected", zap.String("path", name), zap.Error(err))
		_ = st.Discard()
		return false
	}
	if err := f.WriteTo(mem, streamPtr); err != nil {
		Logger().Warn("open_file stream write failed", zap.Error(err))
		return false
	}
	return true
}

func (d *Dispatcher) Progress(_ context.Context, mem fbxbridge.Memory, user, progress uint32) (res uint32) {
	v, ok := d.lookup(user, kindProgress, "progress")
	if !ok {
		return abi.ProgressContinue
	}
	e := v.(*progressEntry)
	if e.cancelled {
		return abi.ProgressCancel
	}
	defer func() {
		if r := recover(); r != nil {
			e.scope.recovered("progress", r)
			e.cancelled = true
			res = abi.ProgressCancel
		}
	}()

	f, err := abi.ReadFrame(mem, progress, abi.Progress)
	if err != nil {
		return abi.ProgressContinue
	}
	r := e.fn(ProgressInfo{BytesRead: f.U64("bytes_read"), BytesTotal: f.U64("bytes_total")})
	if r == Cancel {
		e.cancelled = true
		return abi.ProgressCancel
	}
	return abi.ProgressContinue
}

func (d *Dispatcher) CloseMemory(_ context.Context, _ fbxbridge.Memory, user, data, size uint32) {
	v, ok := d.lookup(user, kindCloseMemory, "close_memory")
	if !ok {
		return
	}
	e := v.(*closeMemoryEntry)
	if !e.fired.CompareAndSwap(false, true) {
		return
	}
	d.reg.ReleaseIf(resource.Handle(user), e)
	defer e.end()
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("close_memory callback panicked", zap.Any("panic", r))
		}
	}()
	e.fn(fbxbridge.Buffer{Ptr: data, Len: size})
}

func (d *Dispatcher) allocator(user uint32, op string) (*allocatorEntry, bool) {
	v, ok := d.lookup(user, kindAllocator, op)
	if !ok {
		return nil, false
	}
	return v.(*allocatorEntry), true
}

func guardAlloc(op string, out *uint32) {
	if r := recover(); r != nil {
		Logger().Error("allocator panicked", zap.String("op", op), zap.Any("panic", r))
		*out = 0
	}
}

func (d *Dispatcher) Alloc(ctx context.Context, _ fbxbridge.Memory, user, size uint32) (ptr uint32) {
	e, ok := d.allocator(user, "alloc")
	if !ok {
		return 0
	}
	defer guardAlloc("alloc", &ptr)
	return e.impl.Alloc(ctx, size)
}

func (d *Dispatcher) Realloc(ctx context.Context, _ fbxbridge.Memory, user, old, oldSize, newSize uint32) (ptr uint32) {
	e, ok := d.allocator(user, "realloc")
	if !ok {
		return 0
	}
	defer guardAlloc("realloc", &ptr)
	return e.impl.Realloc(ctx, old, oldSize, newSize)
}

func (d *Dispatcher) Free(ctx context.Context, _ fbxbridge.Memory, user, ptr, size uint32) {
	e, ok := d.allocator(user, "free")
	if !ok {
		return
	}
	var sink uint32
	defer guardAlloc("free", &sink)
	e.impl.Free(ctx, ptr, size)
}

func (d *Dispatcher) FreeAllocator(ctx context.Context, _ fbxbridge.Memory, user uint32) {
	e, ok := d.allocator(user, "free_allocator")
	if !ok {
		return
	}
	d.reg.ReleaseIf(resource.Handle(user), e)
	defer e.end()
	var sink uint32
	defer guardAlloc("free_allocator", &sink)
	e.impl.FreeAllocator(ctx)
}

func (d *Dispatcher) pool(user uint32, op string) (*poolEntry, bool) {
	v, ok := d.lookup(user, kindPool, op)
	if !ok {
		return nil, false
	}
	return v.(*poolEntry), true
}

func (e *poolEntry) guard(op string, ok *bool) {
	if r := recover(); r != nil {
		e.scope.recovered(op, r)
		*ok = false
	}
}

func (d *Dispatcher) PoolInit(ctx context.Context, mem fbxbridge.Memory, user, _, info uint32) (ok bool) {
	e, found := d.pool(user, "pool_init")
	if !found {
		return false
	}
	defer e.guard("pool_init", &ok)
	pi := PoolInfo{}
	if info != 0 {
		f, err := abi.ReadFrame(mem, info, abi.ThreadPoolInfo)
		if err != nil {
			return false
		}
		pi.MaxConcurrentTasks = f.U32("max_concurrent_tasks")
	}
	if err := e.impl.Init(ctx, pi); err != nil {
		Logger().Warn("thread pool init failed", zap.Error(err))
		return false
	}
	return true
}

func (d *Dispatcher) PoolRun(ctx context.Context, _ fbxbridge.Memory, user, pool, group, start, count uint32) (ok bool) {
	e, found := d.pool(user, "pool_run")
	if !found {
		return false
	}
	defer e.guard("pool_run", &ok)
	tasks := Tasks{
		Group: group,
		Start: start,
		Count: count,
		run: func(ctx context.Context, index uint32) error {
			_, err := d.native.Call(ctx, abi.FnThreadPoolRunTask, uint64(pool), uint64(index))
			return err
		},
	}
	if err := e.impl.Run(ctx, tasks); err != nil {
		Logger().Warn("thread pool run failed", zap.Error(err))
		return false
	}
	return true
}

func (d *Dispatcher) PoolWait(ctx context.Context, _ fbxbridge.Memory, user, _, group, maxIndex uint32) (ok bool) {
	e, found := d.pool(user, "pool_wait")
	if !found {
		return false
	}
	defer e.guard("pool_wait", &ok)
	if err := e.impl.Wait(ctx, group, maxIndex); err != nil {
		Logger().Warn("thread pool wait failed", zap.Error(err))
		return false
	}
	return true
}

func (d *Dispatcher) PoolFree(ctx context.Context, _ fbxbridge.Memory, user, _ uint32) {
	e, found := d.pool(user, "pool_free")
	if !found {
		return
	}
	var ok bool
	defer e.guard("pool_free", &ok)
	e.impl.Free(ctx)
}

func (s *Scope) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("scope(scoped=%d owned=%d streams=%d)", len(s.scoped), len(s.owned), len(s.streams))
}

var _ engine.Host = (*Dispatcher)(nil)
