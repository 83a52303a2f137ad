package nativetest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/errors"
)

// Binary FBX container framing.
const (
	headerSize     = 27
	minVersion     = 3000
	maxVersion     = 7700
	wideVersion    = 7500
	narrowNodeSize = 13
	wideNodeSize   = 25
)

// Magic is the binary FBX signature preceding the version word.
var Magic = []byte("Kaydara FBX Binary  \x00\x1a\x00")

// failure is an engine-side error destined for an error record.
type failure struct {
	desc string
	info string
	typ  errors.ErrorType
}

func fail(typ errors.ErrorType, desc string, args ...any) *failure {
	return &failure{typ: typ, desc: fmt.Sprintf(desc, args...)}
}

func (f *failure) withInfo(info string) *failure {
	f.info = info
	return f
}

// writeError fills the error record at ptr. A null record is allowed.
func (e *Engine) writeError(ptr uint32, f *failure) {
	if ptr == 0 {
		return
	}
	fr := abi.NewFrame(abi.Error)
	fr.SetU32("type", uint32(f.typ))
	fr.SetSpan("description", e.static(f.desc))
	fr.SetU32("stack_size", 1)
	top := abi.ErrorFrameAt(fr, 0)
	top.SetU32("source_line", 1000+uint32(f.typ))
	top.SetSpan("function", e.static("ufbxi_load_imp"))
	top.SetSpan("description", e.static(f.desc))
	info := f.info
	if len(info) > abi.ErrorInfoLength-1 {
		info = info[:abi.ErrorInfoLength-1]
	}
	n := copy(fr.Field("info"), info)
	fr.SetU32("info_length", uint32(n))
	if err := fr.WriteTo(e.mem, ptr); err != nil {
		e.failf("write error record: %v", err)
	}
}

// clearError resets the record at ptr to the no-error state.
func (e *Engine) clearError(ptr uint32) {
	if ptr != 0 {
		_ = abi.NewFrame(abi.Error).WriteTo(e.mem, ptr)
	}
}

// readOpts reads an options struct, checking its zero guards. A null
// pointer yields the zero options.
func (e *Engine) readOpts(ptr uint32, s *abi.Struct) (*abi.Frame, *failure) {
	if ptr == 0 {
		return abi.NewFrame(s), nil
	}
	f, err := abi.ReadFrame(e.mem, ptr, s)
	if err != nil {
		return nil, fail(errors.ErrorUnknown, "Bad options pointer")
	}
	if f.U32("_begin_zero") != 0 || f.U32("_end_zero") != 0 {
		return nil, fail(errors.ErrorUninitializedOptions, "Uninitialized options")
	}
	return f, nil
}

// source is the byte supply of one load: an optional in-memory prefix
// followed by an optional stream.
type source struct {
	e       *Engine
	data    []byte
	stream  abi.Frame
	staging uint32
	size    uint32
	pos     uint64
	live    bool
	eof     bool
	closed  bool
}

func (e *Engine) memorySource(data []byte) *source {
	return &source{e: e, data: data, eof: true}
}

func (e *Engine) streamSource(ctx context.Context, stream *abi.Frame, prefix []byte, bufSize uint32) (*source, *failure) {
	if bufSize == 0 {
		bufSize = 4096
	}
	ptr, err := e.mem.Alloc(ctx, bufSize, 8)
	if err != nil {
		return nil, fail(errors.ErrorOutOfMemory, "Failed to allocate read buffer")
	}
	return &source{
		e:       e,
		data:    prefix,
		stream:  *stream,
		staging: ptr,
		size:    bufSize,
		live:    true,
	}, nil
}

// fill appends up to n bytes from the stream to s.data.
func (s *source) fill(ctx context.Context, n int) *failure {
	for len(s.data) < n && !s.eof {
		want := min(uint32(n-len(s.data)), s.size)
		got := s.e.callRead(ctx, s.stream.U32("read_fn"), s.stream.U32("user"), s.staging, want)
		switch {
		case got == abi.ReadError:
			return fail(errors.ErrorIO, "IO error")
		case got > want:
			return fail(errors.ErrorIO, "Stream read %d bytes into a %d byte buffer", got, want)
		case got == 0:
			s.eof = true
		default:
			chunk, err := s.e.mem.Read(s.staging, got)
			if err != nil {
				return fail(errors.ErrorIO, "Bad read buffer")
			}
			s.data = append(s.data, chunk...)
		}
	}
	return nil
}

// peek returns up to n buffered bytes without consuming them.
func (s *source) peek(ctx context.Context, n int) ([]byte, *failure) {
	if s.live {
		if f := s.fill(ctx, n); f != nil {
			return nil, f
		}
	}
	return s.data[:min(n, len(s.data))], nil
}

// read consumes exactly n bytes.
func (s *source) read(ctx context.Context, n int) ([]byte, *failure) {
	b, f := s.peek(ctx, n)
	if f != nil {
		return nil, f
	}
	if len(b) < n {
		return nil, fail(errors.ErrorTruncatedFile, "Truncated file")
	}
	out := append([]byte(nil), b...)
	s.data = s.data[n:]
	s.pos += uint64(n)
	return out, nil
}

// rest consumes everything left, failing if that is more than limit bytes.
func (s *source) rest(ctx context.Context, limit int) ([]byte, *failure) {
	b, f := s.peek(ctx, limit+1)
	if f != nil {
		return nil, f
	}
	if len(b) > limit {
		return nil, fail(errors.ErrorUnknown, "File too large").withInfo(fmt.Sprint(limit))
	}
	return s.read(ctx, len(b))
}

// skip discards n bytes, preferring the stream's skip function once the
// buffered prefix is exhausted.
func (s *source) skip(ctx context.Context, n uint64) *failure {
	buffered := min(n, uint64(len(s.data)))
	s.data = s.data[buffered:]
	s.pos += buffered
	n -= buffered
	if n == 0 {
		return nil
	}
	if !s.live || s.eof {
		return fail(errors.ErrorTruncatedFile, "Truncated file")
	}
	if skipFn := s.stream.U32("skip_fn"); skipFn != 0 {
		for n > 0 {
			step := uint32(min(n, 1<<30))
			if !s.e.callSkip(ctx, skipFn, s.stream.U32("user"), step) {
				return fail(errors.ErrorTruncatedFile, "Truncated file")
			}
			n -= uint64(step)
			s.pos += uint64(step)
		}
		return nil
	}
	for n > 0 {
		step := int(min(n, uint64(s.size)))
		if _, f := s.read(ctx, step); f != nil {
			return f
		}
		n -= uint64(step)
	}
	return nil
}

func (s *source) close(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true
	if s.live {
		if fn := s.stream.U32("close_fn"); fn != 0 {
			s.e.callClose(ctx, fn, s.stream.U32("user"))
		}
		s.e.mem.Free(ctx, s.staging, s.size, 8)
	}
}

// document is what the parser extracts from a container.
type document struct {
	geometry  []uint32
	surfaces  []uint32
	version   uint32
	elements  uint32
	models    uint32
	materials uint32
	stacks    uint32
}

type progressFn func(pos uint64) *failure

func parse(ctx context.Context, s *source, progress progressFn) (*document, *failure) {
	head, f := s.peek(ctx, headerSize)
	if f != nil {
		return nil, f
	}
	switch {
	case len(head) == 0:
		return nil, fail(errors.ErrorEmptyFile, "Empty file")
	case len(head) < len(Magic):
		if bytes.HasPrefix(Magic, head) {
			return nil, fail(errors.ErrorTruncatedFile, "Truncated file")
		}
		return nil, fail(errors.ErrorUnrecognizedFileFormat, "Unrecognized file format")
	case !bytes.Equal(head[:len(Magic)], Magic):
		return nil, fail(errors.ErrorUnrecognizedFileFormat, "Unrecognized file format")
	case len(head) < headerSize:
		return nil, fail(errors.ErrorTruncatedFile, "Truncated file")
	}
	if _, f := s.read(ctx, headerSize); f != nil {
		return nil, f
	}

	doc := &document{version: binary.LittleEndian.Uint32(head[len(Magic):])}
	if doc.version < minVersion || doc.version > maxVersion {
		return nil, fail(errors.ErrorUnsupportedVersion, "Unsupported version (%d)", doc.version).
			withInfo(fmt.Sprint(doc.version))
	}

	nodeSize := narrowNodeSize
	if doc.version >= wideVersion {
		nodeSize = wideNodeSize
	}

	for {
		next, f := s.peek(ctx, 1)
		if f != nil {
			return nil, f
		}
		if len(next) == 0 {
			return doc, nil
		}
		hdr, f := s.read(ctx, nodeSize)
		if f != nil {
			return nil, f
		}
		var end, props uint64
		if nodeSize == wideNodeSize {
			end = binary.LittleEndian.Uint64(hdr[0:])
			props = binary.LittleEndian.Uint64(hdr[8:])
		} else {
			end = uint64(binary.LittleEndian.Uint32(hdr[0:]))
			props = uint64(binary.LittleEndian.Uint32(hdr[4:]))
		}
		if end == 0 {
			return doc, nil
		}
		name, f := s.read(ctx, int(hdr[nodeSize-1]))
		if f != nil {
			return nil, f
		}
		if end < s.pos {
			return nil, fail(errors.ErrorUnknown, "Bad node end offset %d", end)
		}
		if f := s.skip(ctx, end-s.pos); f != nil {
			return nil, f
		}

		doc.elements++
		switch string(name) {
		case "Geometry":
			doc.geometry = append(doc.geometry, uint32(props))
		case "NurbsSurface":
			doc.surfaces = append(doc.surfaces, uint32(props))
		case "Model":
			doc.models++
		case "Material":
			doc.materials++
		case "AnimationStack":
			doc.stacks++
		}

		if progress != nil {
			if f := progress(s.pos); f != nil {
				return nil, f
			}
		}
	}
}

// allocator is one engine allocator instance configured by an
// ufbx_allocator_opts struct.
type allocator struct {
	cb         abi.Frame
	memLimit   uint32
	allocLimit uint32
	used       uint32
	count      uint32
	released   bool
}

func newAllocator(opts *abi.Frame) *allocator {
	return &allocator{
		cb:         *opts.Sub("allocator", abi.Allocator),
		memLimit:   opts.U32("memory_limit"),
		allocLimit: opts.U32("allocation_limit"),
	}
}

func (e *Engine) allocate(ctx context.Context, a *allocator, size uint32) (uint32, *failure) {
	if a.allocLimit != 0 && a.count+1 > a.allocLimit {
		return 0, fail(errors.ErrorAllocationLimit, "Allocation limit exceeded").withInfo(fmt.Sprint(a.allocLimit))
	}
	if a.memLimit != 0 && a.used+size > a.memLimit {
		return 0, fail(errors.ErrorMemoryLimit, "Memory limit exceeded").withInfo(fmt.Sprint(a.memLimit))
	}
	var ptr uint32
	if fn := a.cb.U32("alloc_fn"); fn != 0 {
		if h := e.boundHost(); h != nil && e.isTrampoline(fn, abi.TrampolineAlloc) {
			ptr = h.Alloc(ctx, e.mem, a.cb.U32("user"), size)
		}
	} else {
		ptr, _ = e.mem.Alloc(ctx, size, 8)
	}
	if ptr == 0 {
		return 0, fail(errors.ErrorOutOfMemory, "Out of memory")
	}
	a.used += size
	a.count++
	return ptr, nil
}

func (e *Engine) deallocate(ctx context.Context, a *allocator, ptr, size uint32) {
	if fn := a.cb.U32("free_fn"); fn != 0 {
		if h := e.boundHost(); h != nil && e.isTrampoline(fn, abi.TrampolineFree) {
			h.Free(ctx, e.mem, a.cb.U32("user"), ptr, size)
		}
	} else if a.cb.U32("alloc_fn") == 0 {
		e.mem.Free(ctx, ptr, size, 8)
	}
	a.used -= size
}

// release ends the allocator's lifetime, notifying its owner once.
func (e *Engine) releaseAllocator(ctx context.Context, a *allocator) {
	if a == nil || a.released {
		return
	}
	a.released = true
	fn := a.cb.U32("free_allocator_fn")
	if fn == 0 {
		return
	}
	if h := e.boundHost(); h != nil && e.isTrampoline(fn, abi.TrampolineFreeAllocator) {
		h.FreeAllocator(ctx, e.mem, a.cb.U32("user"))
	}
}

// load runs a full import from s under opts and returns the scene pointer,
// or 0 after filling the error record.
func (e *Engine) load(ctx context.Context, s *source, opts *abi.Frame, errPtr uint32) uint32 {
	defer s.close(ctx)

	temp := newAllocator(opts.Sub("temp_allocator", abi.AllocatorOpts))
	result := newAllocator(opts.Sub("result_allocator", abi.AllocatorOpts))

	scene, f := e.build(ctx, s, opts, temp, result)
	e.releaseAllocator(ctx, temp)
	if f != nil {
		e.releaseAllocator(ctx, result)
		e.writeError(errPtr, f)
		return 0
	}
	e.clearError(errPtr)
	return scene
}

func (e *Engine) build(ctx context.Context, s *source, opts *abi.Frame, temp, result *allocator) (uint32, *failure) {
	scratch, f := e.allocate(ctx, temp, 64)
	if f != nil {
		return 0, f
	}
	defer e.deallocate(ctx, temp, scratch, 64)

	doc, f := parse(ctx, s, e.progressFn(ctx, opts, s))
	if f != nil {
		return 0, f
	}
	if opts.Bool("ignore_all_content") {
		doc = &document{version: doc.version}
	}

	pool := opts.Sub("thread_opts", abi.ThreadOpts)
	if f := e.runPool(ctx, pool, doc.elements); f != nil {
		return 0, f
	}

	sc := &object{
		kind:  kindScene,
		refs:  1,
		alloc: result,
		info: sceneInfo{
			elements:  doc.elements,
			nodes:     doc.models,
			materials: doc.materials,
			stacks:    doc.stacks,
			version:   doc.version,
			retainDOM: opts.Bool("retain_dom"),
		},
	}
	ptr, f := e.place(ctx, sc, 64)
	if f != nil {
		return 0, f
	}
	for _, faces := range doc.geometry {
		if opts.Bool("ignore_geometry") {
			faces = 0
		}
		m := quadMesh(faces)
		m.owner = ptr
		mp, f := e.place(ctx, m, 32+8*faces)
		if f != nil {
			e.destroy(ctx, ptr)
			return 0, f
		}
		sc.meshes = append(sc.meshes, mp)
	}
	sc.info.meshes = uint32(len(sc.meshes))
	for _, spans := range doc.surfaces {
		sf := &object{kind: kindSurface, refs: 1, owner: ptr, spans: spans}
		sp, f := e.place(ctx, sf, 16)
		if f != nil {
			e.destroy(ctx, ptr)
			return 0, f
		}
		sc.surfaces = append(sc.surfaces, sp)
	}
	return ptr, nil
}

// progressFn returns the progress reporter configured in opts, if any.
func (e *Engine) progressFn(ctx context.Context, opts *abi.Frame, s *source) progressFn {
	cb := opts.Callback("progress_cb")
	if cb.Fn == 0 {
		return nil
	}
	total := opts.U64("file_size_estimate")
	if !s.live {
		total = uint64(len(s.data)) + s.pos
	}
	return func(pos uint64) *failure {
		ptr, err := e.mem.Alloc(ctx, abi.Progress.Size, 8)
		if err != nil {
			return fail(errors.ErrorOutOfMemory, "Out of memory")
		}
		defer e.mem.Free(ctx, ptr, abi.Progress.Size, 8)

		p := abi.NewFrame(abi.Progress)
		p.SetU64("bytes_read", pos)
		p.SetU64("bytes_total", max(total, pos))
		_ = p.WriteTo(e.mem, ptr)

		if e.callProgress(ctx, cb, ptr) == abi.ProgressCancel {
			return fail(errors.ErrorCancelled, "Cancelled")
		}
		return nil
	}
}

// runPool schedules one task per element on the configured pool.
func (e *Engine) runPool(ctx context.Context, opts *abi.Frame, tasks uint32) *failure {
	pool := opts.Sub("pool", abi.ThreadPool)
	if pool.U32("run_fn") == 0 || tasks == 0 {
		return nil
	}
	h := e.boundHost()
	if h == nil {
		return fail(errors.ErrorUnknown, "Thread pool without host")
	}
	user := pool.U32("user")
	id := e.newID()
	e.mu.Lock()
	e.pools[id] = &poolState{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pools, id)
		e.mu.Unlock()
	}()

	if fn := pool.U32("init_fn"); fn != 0 && e.isTrampoline(fn, abi.TrampolinePoolInit) {
		info, err := e.mem.Alloc(ctx, abi.ThreadPoolInfo.Size, 8)
		if err != nil {
			return fail(errors.ErrorOutOfMemory, "Out of memory")
		}
		fi := abi.NewFrame(abi.ThreadPoolInfo)
		fi.SetU32("max_concurrent_tasks", max(opts.U32("num_tasks"), 1))
		_ = fi.WriteTo(e.mem, info)
		ok := h.PoolInit(ctx, e.mem, user, id, info)
		e.mem.Free(ctx, info, abi.ThreadPoolInfo.Size, 8)
		if !ok {
			return fail(errors.ErrorUnknown, "Failed to initialize thread pool")
		}
	}
	defer func() {
		if fn := pool.U32("free_fn"); fn != 0 && e.isTrampoline(fn, abi.TrampolinePoolFree) {
			h.PoolFree(ctx, e.mem, user, id)
		}
	}()

	if !e.isTrampoline(pool.U32("run_fn"), abi.TrampolinePoolRun) || !h.PoolRun(ctx, e.mem, user, id, 0, 0, tasks) {
		return fail(errors.ErrorUnknown, "Failed to run thread pool tasks")
	}
	if fn := pool.U32("wait_fn"); fn != 0 && e.isTrampoline(fn, abi.TrampolinePoolWait) {
		if !h.PoolWait(ctx, e.mem, user, id, 0, tasks) {
			return fail(errors.ErrorUnknown, "Failed to wait for thread pool tasks")
		}
	}

	e.mu.Lock()
	done := e.pools[id].done
	e.mu.Unlock()
	if done != tasks {
		return fail(errors.ErrorUnknown, "Thread pool ran %d of %d tasks", done, tasks)
	}
	return nil
}

type poolState struct {
	done uint32
}

func (e *Engine) runTask(pool, index uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.pools[pool]
	if !ok {
		e.failures = append(e.failures, fmt.Sprintf("task %d for unknown pool %d", index, pool))
		return
	}
	st.done++
	e.stats.Tasks = append(e.stats.Tasks, index)
}

func (e *Engine) loadMemory(ctx context.Context, data, size, optsPtr, errPtr uint32) uint32 {
	opts, f := e.readOpts(optsPtr, abi.LoadOpts)
	if f != nil {
		e.writeError(errPtr, f)
		return 0
	}
	buf, err := e.mem.Read(data, size)
	if err != nil {
		e.writeError(errPtr, fail(errors.ErrorIO, "Bad data pointer"))
		return 0
	}
	return e.load(ctx, e.memorySource(append([]byte(nil), buf...)), opts, errPtr)
}

func (e *Engine) loadStream(ctx context.Context, streamPtr, prefix, prefixLen, optsPtr, errPtr uint32) uint32 {
	opts, f := e.readOpts(optsPtr, abi.LoadOpts)
	if f != nil {
		e.writeError(errPtr, f)
		return 0
	}
	stream, err := abi.ReadFrame(e.mem, streamPtr, abi.Stream)
	if err != nil {
		e.writeError(errPtr, fail(errors.ErrorIO, "Bad stream pointer"))
		return 0
	}
	var head []byte
	if prefixLen > 0 {
		b, err := e.mem.Read(prefix, prefixLen)
		if err != nil {
			e.writeError(errPtr, fail(errors.ErrorIO, "Bad prefix pointer"))
			return 0
		}
		head = append(head, b...)
	}
	s, f := e.streamSource(ctx, stream, head, opts.U32("read_buffer_size"))
	if f != nil {
		e.writeError(errPtr, f)
		return 0
	}
	return e.load(ctx, s, opts, errPtr)
}

func (e *Engine) loadFile(ctx context.Context, path, pathLen, optsPtr, errPtr uint32) uint32 {
	opts, f := e.readOpts(optsPtr, abi.LoadOpts)
	if f != nil {
		e.writeError(errPtr, f)
		return 0
	}
	s, f := e.openFile(ctx, opts.Callback("open_file_cb"), path, pathLen, abi.OpenFileMainModel, opts.U32("read_buffer_size"))
	if f != nil {
		e.writeError(errPtr, f)
		return 0
	}
	return e.load(ctx, s, opts, errPtr)
}

// openFile opens the named file through cb, or from the stub filesystem
// when cb is unset.
func (e *Engine) openFile(ctx context.Context, cb abi.Callback, path, pathLen, typ, bufSize uint32) (*source, *failure) {
	name, err := abi.ReadString(e.mem, abi.Span{Ptr: path, Len: pathLen})
	if err != nil {
		return nil, fail(errors.ErrorFileNotFound, "File not found")
	}
	if cb.Fn == 0 {
		e.mu.Lock()
		data, ok := e.files[name]
		e.mu.Unlock()
		if !ok {
			return nil, fail(errors.ErrorFileNotFound, "File not found").withInfo(name)
		}
		return e.memorySource(append([]byte(nil), data...)), nil
	}

	streamPtr, err := e.mem.Alloc(ctx, abi.Stream.Size, 8)
	if err != nil {
		return nil, fail(errors.ErrorOutOfMemory, "Out of memory")
	}
	defer e.mem.Free(ctx, streamPtr, abi.Stream.Size, 8)
	infoPtr, err := e.mem.Alloc(ctx, abi.OpenFileInfo.Size, 8)
	if err != nil {
		return nil, fail(errors.ErrorOutOfMemory, "Out of memory")
	}
	defer e.mem.Free(ctx, infoPtr, abi.OpenFileInfo.Size, 8)

	info := abi.NewFrame(abi.OpenFileInfo)
	info.SetU32("type", typ)
	info.SetSpan("original_filename", abi.Span{Ptr: path, Len: pathLen})
	_ = info.WriteTo(e.mem, infoPtr)

	if !e.callOpenFile(ctx, cb, streamPtr, path, pathLen, infoPtr) {
		return nil, fail(errors.ErrorFileNotFound, "File not found").withInfo(name)
	}
	stream, err := abi.ReadFrame(e.mem, streamPtr, abi.Stream)
	if err != nil {
		return nil, fail(errors.ErrorIO, "Bad stream")
	}
	return e.streamSource(ctx, stream, nil, bufSize)
}

func (e *Engine) formatError(dst, dstSize, errPtr uint32) uint32 {
	if dstSize == 0 {
		return 0
	}
	ne, err := abi.DecodeError(e.mem, errPtr)
	if err != nil {
		return 0
	}
	text := "ufbx: no error"
	if ne != nil {
		text = fmt.Sprintf("ufbx error: %s (%s)", ne.Description, ne.Type)
		if ne.Info != "" {
			text += "\n" + ne.Info
		}
		for _, fr := range ne.Stack {
			text += fmt.Sprintf("\n%6d:%s: %s", fr.SourceLine, fr.Function, fr.Description)
		}
	}
	if uint32(len(text)) > dstSize-1 {
		text = text[:dstSize-1]
	}
	out := append([]byte(text), 0)
	if err := e.mem.Write(dst, out); err != nil {
		return 0
	}
	return uint32(len(text))
}
