package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/errors"
)

// Config holds configuration for engine creation
type Config struct {
	// ModuleName names the guest instance. Empty means "ufbx".
	ModuleName string

	// MemoryLimitPages sets the maximum guest memory in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// CloseOnContextDone aborts a running engine call when its context is
	// cancelled. Without it cancellation is only observed through progress
	// callbacks.
	CloseOnContextDone bool
}

// Wazero runs the engine compiled to wasm32 under wazero.
// Guest entry is serialized: a wasm instance has one stack. Calls made
// from inside a trampoline re-enter without blocking.
type Wazero struct {
	runtime wazero.Runtime
	module  api.Module
	memory  *WazeroMemory
	alloc   *wazeroAllocator
	host    atomic.Pointer[hostBinding]
	funcs   map[string]api.Function
	table   [abi.TrampolineCount + 1]uint32
	funcsMu sync.RWMutex
	callMu  sync.Mutex
}

type hostBinding struct {
	h Host
}

type callKey struct{}

// NewWazero compiles and instantiates the engine module.
func NewWazero(ctx context.Context, wasmBytes []byte, cfg *Config) (*Wazero, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.CloseOnContextDone {
		runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
	}

	e := &Wazero{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		funcs:   make(map[string]api.Function),
	}
	e.host.Store(&hostBinding{h: nopHost{}})

	if err := e.instantiate(ctx, wasmBytes, cfg); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, err
	}
	return e, nil
}

func (e *Wazero) instantiate(ctx context.Context, wasmBytes []byte, cfg *Config) error {
	if err := InstantiateWASI(ctx, e.runtime); err != nil {
		return errors.Instantiation(err)
	}
	if err := e.instantiateHost(ctx); err != nil {
		return errors.Instantiation(fmt.Errorf("host module: %w", err))
	}

	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return errors.Compile(err)
	}

	name := cfg.ModuleName
	if name == "" {
		name = "ufbx"
	}
	modConfig := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions(ExportInitialize)

	mod, err := e.runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		return errors.Instantiation(err)
	}
	e.module = mod

	mem := mod.Memory()
	if mem == nil {
		return errors.NotFound(errors.PhaseLoad, "export", ExportMemory)
	}
	e.memory = &WazeroMemory{mem: mem}

	e.alloc = &wazeroAllocator{engine: e}
	if fn := mod.ExportedFunction(Malloc); fn != nil {
		e.alloc.allocFn = fn
		e.alloc.freeFn = mod.ExportedFunction(Free)
	} else if fn := mod.ExportedFunction(CabiRealloc); fn != nil {
		e.alloc.allocFn = fn
		e.alloc.cabi = true
		e.alloc.freeFn = mod.ExportedFunction(CabiFree)
	}
	if e.alloc.allocFn == nil {
		return errors.NotFound(errors.PhaseLoad, "export", Malloc)
	}

	return e.resolveTrampolines(ctx)
}

func (e *Wazero) resolveTrampolines(ctx context.Context) error {
	fn := e.module.ExportedFunction(abi.FnTrampoline)
	if fn == nil {
		Logger().Warn("engine has no trampoline table, callbacks are unavailable")
		return nil
	}
	for kind := abi.Trampoline(1); int(kind) <= abi.TrampolineCount; kind++ {
		res, err := fn.Call(ctx, uint64(kind))
		if err != nil {
			return errors.Trap(abi.FnTrampoline, err)
		}
		e.table[kind] = uint32(res[0])
	}
	return nil
}

// enter acquires the guest unless ctx already belongs to a call on this
// engine, which is the case inside trampolines.
func (e *Wazero) enter(ctx context.Context) (context.Context, func()) {
	if owner, _ := ctx.Value(callKey{}).(*Wazero); owner == e {
		return ctx, func() {}
	}
	e.callMu.Lock()
	return context.WithValue(ctx, callKey{}, e), e.callMu.Unlock
}

func (e *Wazero) function(name string) api.Function {
	e.funcsMu.RLock()
	fn, ok := e.funcs[name]
	e.funcsMu.RUnlock()
	if ok {
		return fn
	}

	fn = e.module.ExportedFunction(name)
	if fn != nil {
		e.funcsMu.Lock()
		e.funcs[name] = fn
		e.funcsMu.Unlock()
	}
	return fn
}

// Call invokes an engine export.
func (e *Wazero) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	if e.module == nil {
		return nil, errors.Closed(errors.PhaseCall, "engine")
	}
	fn := e.function(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseCall, "export", name)
	}

	ctx, leave := e.enter(ctx)
	defer leave()

	res, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, errors.Trap(name, err)
	}
	return res, nil
}

func (e *Wazero) Memory() fbxbridge.Memory {
	return e.memory
}

func (e *Wazero) Allocator() fbxbridge.Allocator {
	return e.alloc
}

func (e *Wazero) Trampoline(kind abi.Trampoline) uint32 {
	if kind < 1 || int(kind) > abi.TrampolineCount {
		return 0
	}
	return e.table[kind]
}

func (e *Wazero) Bind(h Host) {
	if h == nil {
		h = nopHost{}
	}
	e.host.Store(&hostBinding{h: h})
}

func (e *Wazero) boundHost() Host {
	return e.host.Load().h
}

func (e *Wazero) Close(ctx context.Context) error {
	e.module = nil
	e.funcsMu.Lock()
	e.funcs = nil
	e.funcsMu.Unlock()
	return e.runtime.Close(ctx)
}

// wazeroAllocator implements fbxbridge.Allocator with the guest heap
type wazeroAllocator struct {
	engine  *Wazero
	allocFn api.Function
	freeFn  api.Function
	cabi    bool
}

func (a *wazeroAllocator) Alloc(ctx context.Context, size, align uint32) (uint32, error) {
	ctx, leave := a.engine.enter(ctx)
	defer leave()

	var (
		res []uint64
		err error
	)
	if a.cabi {
		res, err = a.allocFn.Call(ctx, 0, 0, uint64(align), uint64(size))
	} else {
		res, err = a.allocFn.Call(ctx, uint64(size))
	}
	if err != nil {
		return 0, errors.Trap(Malloc, err)
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseCall, size, align)
	}
	return ptr, nil
}

func (a *wazeroAllocator) Free(ctx context.Context, ptr, size, align uint32) {
	if a.freeFn == nil || ptr == 0 {
		return
	}

	ctx, leave := a.engine.enter(ctx)
	defer leave()

	var err error
	if a.cabi {
		_, err = a.freeFn.Call(ctx, uint64(ptr), uint64(size), uint64(align))
	} else {
		_, err = a.freeFn.Call(ctx, uint64(ptr))
	}
	if err != nil {
		Logger().Warn("Free: guest free failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

// WazeroMemory wraps wazero memory to implement fbxbridge.Memory
type WazeroMemory struct {
	mem api.Memory
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	ok := m.mem.Write(offset, data)
	if !ok {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *WazeroMemory) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *WazeroMemory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *WazeroMemory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) WriteU16(offset uint32, value uint16) error {
	if !m.mem.WriteUint16Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Compile-time checks
var (
	_ Native                = (*Wazero)(nil)
	_ fbxbridge.Memory      = (*WazeroMemory)(nil)
	_ fbxbridge.MemorySizer = (*WazeroMemory)(nil)
	_ fbxbridge.Allocator   = (*wazeroAllocator)(nil)
)
