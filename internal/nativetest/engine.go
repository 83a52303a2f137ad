package nativetest

import (
	"context"
	"fmt"
	"sync"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/engine"
	"github.com/wippyai/ufbx-bridge/errors"
)

// Function pointer values handed out by the stub. Trampolines live at
// trampolineBase+kind; the stub's own memory stream functions follow.
const (
	trampolineBase uint32 = 0x100
	memReadFn      uint32 = 0x200
	memSkipFn      uint32 = 0x201
	memCloseFn     uint32 = 0x202
)

// Config configures a stub engine.
type Config struct {
	// Files is the stub's default filesystem for ufbx_load_file_len when no
	// open-file callback is set.
	Files map[string][]byte

	// MemorySize is the linear memory size. 0 means 8MB.
	MemorySize uint32

	ThreadSafe bool

	// NoTrampolines makes Trampoline return 0, like an engine build
	// without the shim's trampoline table.
	NoTrampolines bool
}

// Stats counts engine activity for assertions.
type Stats struct {
	Calls         map[string]int
	Tasks         []uint32
	Retains       int
	Releases      int
	Frees         int
	ProgressCalls int
}

// Engine is an instrumented stand-in for the wasm engine. It implements
// the flat call contract over a Go-side Memory and understands a small
// subset of the binary FBX container: the header and top-level node
// records. Records named "Geometry" become meshes with one quad face per
// property; "NurbsSurface" records become surfaces with one knot span per
// property in each direction.
type Engine struct {
	mem        *Memory
	host       engine.Host
	files      map[string][]byte
	objects    map[uint32]*object
	memStreams map[uint32]*memStream
	pools      map[uint32]*poolState
	statics    map[string]abi.Span
	failures   []string
	overrides  []Override
	stats      Stats
	nextID     uint32
	threadSafe bool
	noTramp    bool
	mu         sync.Mutex
}

// New returns a stub engine.
func New(cfg Config) *Engine {
	size := cfg.MemorySize
	if size == 0 {
		size = 8 << 20
	}
	files := make(map[string][]byte, len(cfg.Files))
	for k, v := range cfg.Files {
		files[k] = v
	}
	return &Engine{
		mem:        NewMemory(size),
		host:       nil,
		files:      files,
		objects:    make(map[uint32]*object),
		memStreams: make(map[uint32]*memStream),
		pools:      make(map[uint32]*poolState),
		statics:    make(map[string]abi.Span),
		stats:      Stats{Calls: make(map[string]int)},
		threadSafe: cfg.ThreadSafe,
		noTramp:    cfg.NoTrampolines,
	}
}

func (e *Engine) Memory() fbxbridge.Memory       { return e.mem }
func (e *Engine) Allocator() fbxbridge.Allocator { return e.mem }

// Mem returns the concrete memory for allocation assertions.
func (e *Engine) Mem() *Memory { return e.mem }

func (e *Engine) Trampoline(kind abi.Trampoline) uint32 {
	if e.noTramp || kind < 1 || int(kind) > abi.TrampolineCount {
		return 0
	}
	return trampolineBase + uint32(kind)
}

func (e *Engine) Bind(h engine.Host) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.host = h
}

func (e *Engine) Close(context.Context) error {
	return nil
}

// AddFile adds a file to the stub filesystem.
func (e *Engine) AddFile(path string, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[path] = data
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Calls = make(map[string]int, len(e.stats.Calls))
	for k, v := range e.stats.Calls {
		s.Calls[k] = v
	}
	s.Tasks = append([]uint32(nil), e.stats.Tasks...)
	return s
}

// LiveObjects returns the number of scenes, standalone meshes and
// geometry caches not yet freed.
func (e *Engine) LiveObjects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, o := range e.objects {
		if o.owner == 0 && !o.dead {
			n++
		}
	}
	return n
}

// Failures returns contract violations seen by the stub: releases of
// freed objects, double frees, unknown function pointers.
func (e *Engine) Failures() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]string(nil), e.failures...)
	return append(out, e.mem.Failures()...)
}

// LastOverrides returns the property overrides decoded by the last
// successful evaluation, in engine order.
func (e *Engine) LastOverrides() []Override {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Override(nil), e.overrides...)
}

func (e *Engine) failf(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, fmt.Sprintf(format, args...))
}

func (e *Engine) boundHost() engine.Host {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.host
}

func (e *Engine) newID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return e.nextID
}

// static interns an engine-owned string.
func (e *Engine) static(s string) abi.Span {
	if s == "" {
		return abi.Span{}
	}
	e.mu.Lock()
	sp, ok := e.statics[s]
	e.mu.Unlock()
	if ok {
		return sp
	}
	sp = abi.Span{Ptr: e.mem.putStatic([]byte(s)), Len: uint32(len(s))}
	e.mu.Lock()
	e.statics[s] = sp
	e.mu.Unlock()
	return sp
}

var arity = map[string]int{
	abi.FnIsThreadSafe:               0,
	abi.FnLoadMemory:                 4,
	abi.FnLoadFileLen:                4,
	abi.FnLoadStream:                 3,
	abi.FnLoadStreamPrefix:           5,
	abi.FnRetainScene:                1,
	abi.FnFreeScene:                  1,
	abi.FnRetainMesh:                 1,
	abi.FnFreeMesh:                   1,
	abi.FnFormatError:                3,
	abi.FnOpenMemory:                 5,
	abi.FnEvaluateScene:              4,
	abi.FnSubdivideMesh:              4,
	abi.FnThreadPoolRunTask:          2,
	abi.FnLoadGeometryCache:          4,
	abi.FnRetainGeometryCache:        1,
	abi.FnFreeGeometryCache:          1,
	abi.FnTessellateNurbsSurface:     3,
	abi.FnSceneInfo:                  2,
	abi.FnSceneMesh:                  2,
	abi.FnSceneNurbsSurface:          2,
	abi.FnMeshInfo:                   2,
	abi.FnGeometryCacheInfo:          2,
	abi.FnCatchMeshFace:              4,
	abi.FnCatchTriangulateFace:       5,
	abi.FnCatchComputeTopology:       4,
	abi.FnCatchTopoNextVertexEdge:    4,
	abi.FnCatchTopoPrevVertexEdge:    4,
	abi.FnCatchGenerateNormalMapping: 7,
	abi.FnCatchVertexPosition:        4,
	abi.FnCatchComputeNormals:        6,
	abi.FnCloseStream:                1,
}

// Call implements engine.Native.
func (e *Engine) Call(ctx context.Context, fn string, args ...uint64) ([]uint64, error) {
	n, ok := arity[fn]
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "export", fn)
	}
	if len(args) != n {
		return nil, fmt.Errorf("nativetest: %s takes %d arguments, got %d", fn, n, len(args))
	}

	e.mu.Lock()
	e.stats.Calls[fn]++
	e.mu.Unlock()

	a := make([]uint32, len(args))
	for i, v := range args {
		a[i] = uint32(v)
	}

	switch fn {
	case abi.FnIsThreadSafe:
		return ret(b2u(e.threadSafe)), nil
	case abi.FnLoadMemory:
		return ret(e.loadMemory(ctx, a[0], a[1], a[2], a[3])), nil
	case abi.FnLoadFileLen:
		return ret(e.loadFile(ctx, a[0], a[1], a[2], a[3])), nil
	case abi.FnLoadStream:
		return ret(e.loadStream(ctx, a[0], 0, 0, a[1], a[2])), nil
	case abi.FnLoadStreamPrefix:
		return ret(e.loadStream(ctx, a[0], a[1], a[2], a[3], a[4])), nil
	case abi.FnRetainScene:
		e.retain(a[0], kindScene)
		return nil, nil
	case abi.FnFreeScene:
		e.release(ctx, a[0], kindScene)
		return nil, nil
	case abi.FnRetainMesh:
		e.retain(a[0], kindMesh)
		return nil, nil
	case abi.FnFreeMesh:
		e.release(ctx, a[0], kindMesh)
		return nil, nil
	case abi.FnFormatError:
		return ret(e.formatError(a[0], a[1], a[2])), nil
	case abi.FnOpenMemory:
		return ret(b2u(e.openMemory(ctx, a[0], a[1], a[2], a[3], a[4]))), nil
	case abi.FnEvaluateScene:
		return ret(e.evaluate(ctx, a[0], args[1], a[2], a[3])), nil
	case abi.FnSubdivideMesh:
		return ret(e.subdivide(ctx, a[0], a[1], a[2], a[3])), nil
	case abi.FnThreadPoolRunTask:
		e.runTask(a[0], a[1])
		return nil, nil
	case abi.FnLoadGeometryCache:
		return ret(e.loadGeometryCache(ctx, a[0], a[1], a[2], a[3])), nil
	case abi.FnRetainGeometryCache:
		e.retain(a[0], kindCache)
		return nil, nil
	case abi.FnFreeGeometryCache:
		e.release(ctx, a[0], kindCache)
		return nil, nil
	case abi.FnTessellateNurbsSurface:
		return ret(e.tessellate(ctx, a[0], a[1], a[2])), nil
	case abi.FnSceneInfo:
		return nil, e.sceneInfo(a[0], a[1])
	case abi.FnSceneMesh:
		return ret(e.sceneMesh(a[0], a[1])), nil
	case abi.FnSceneNurbsSurface:
		return ret(e.sceneNurbsSurface(a[0], a[1])), nil
	case abi.FnMeshInfo:
		return nil, e.meshInfo(a[0], a[1])
	case abi.FnGeometryCacheInfo:
		return nil, e.geometryCacheInfo(a[0], a[1])
	case abi.FnCatchMeshFace:
		return nil, e.catchMeshFace(a[0], a[1], a[2], a[3])
	case abi.FnCatchTriangulateFace:
		v, err := e.catchTriangulateFace(a[0], a[1], a[2], a[3], a[4])
		return ret(v), err
	case abi.FnCatchComputeTopology:
		return nil, e.catchComputeTopology(a[0], a[1], a[2], a[3])
	case abi.FnCatchTopoNextVertexEdge:
		v, err := e.catchTopoNextVertexEdge(a[0], a[1], a[2], a[3])
		return ret(v), err
	case abi.FnCatchTopoPrevVertexEdge:
		v, err := e.catchTopoPrevVertexEdge(a[0], a[1], a[2], a[3])
		return ret(v), err
	case abi.FnCatchGenerateNormalMapping:
		v, err := e.catchGenerateNormalMapping(a[0], a[1], a[2], a[3], a[4], a[5], a[6])
		return ret(v), err
	case abi.FnCatchVertexPosition:
		return nil, e.catchVertexPosition(a[0], a[1], a[2], a[3])
	case abi.FnCatchComputeNormals:
		return nil, e.catchComputeNormals(a[0], a[1], a[2], a[3], a[4], a[5])
	case abi.FnCloseStream:
		return nil, e.closeStream(ctx, a[0])
	}
	return nil, errors.NotFound(errors.PhaseCall, "export", fn)
}

func ret(v uint32) []uint64 {
	return []uint64{uint64(v)}
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// isTrampoline reports whether fn is the trampoline of kind. A function
// pointer in the wrong slot is a translation bug and is recorded.
func (e *Engine) isTrampoline(fn uint32, kind abi.Trampoline) bool {
	if fn == 0 {
		return false
	}
	if fn == e.Trampoline(kind) {
		return true
	}
	e.failf("function pointer %#x used as %s", fn, kind)
	return false
}

func (e *Engine) callRead(ctx context.Context, fn, user, buf, size uint32) uint32 {
	if fn == memReadFn {
		return e.memStreamRead(user, buf, size)
	}
	if h := e.boundHost(); h != nil && e.isTrampoline(fn, abi.TrampolineRead) {
		return h.StreamRead(ctx, e.mem, user, buf, size)
	}
	return abi.ReadError
}

func (e *Engine) callSkip(ctx context.Context, fn, user, size uint32) bool {
	if fn == memSkipFn {
		return e.memStreamSkip(user, size)
	}
	if h := e.boundHost(); h != nil && e.isTrampoline(fn, abi.TrampolineSkip) {
		return h.StreamSkip(ctx, e.mem, user, size)
	}
	return false
}

func (e *Engine) callClose(ctx context.Context, fn, user uint32) {
	if fn == memCloseFn {
		e.memStreamClose(ctx, user)
		return
	}
	if h := e.boundHost(); h != nil && e.isTrampoline(fn, abi.TrampolineClose) {
		h.StreamClose(ctx, e.mem, user)
	}
}

func (e *Engine) callProgress(ctx context.Context, cb abi.Callback, progress uint32) uint32 {
	e.mu.Lock()
	e.stats.ProgressCalls++
	e.mu.Unlock()
	if h := e.boundHost(); h != nil && e.isTrampoline(cb.Fn, abi.TrampolineProgress) {
		return h.Progress(ctx, e.mem, cb.User, progress)
	}
	return abi.ProgressContinue
}

func (e *Engine) callOpenFile(ctx context.Context, cb abi.Callback, stream, path, pathLen, info uint32) bool {
	if h := e.boundHost(); h != nil && e.isTrampoline(cb.Fn, abi.TrampolineOpenFile) {
		return h.OpenFile(ctx, e.mem, cb.User, stream, path, pathLen, info)
	}
	return false
}

func (e *Engine) callCloseMemory(ctx context.Context, cb abi.Callback, data, size uint32) {
	if h := e.boundHost(); h != nil && e.isTrampoline(cb.Fn, abi.TrampolineCloseMemory) {
		h.CloseMemory(ctx, e.mem, cb.User, data, size)
	}
}

var _ engine.Native = (*Engine)(nil)
