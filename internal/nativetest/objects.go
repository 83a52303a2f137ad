package nativetest

import (
	"context"
	"fmt"
	"math"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/errors"
)

type objectKind uint8

const (
	kindScene objectKind = iota + 1
	kindMesh
	kindSurface
	kindCache
)

func (k objectKind) String() string {
	switch k {
	case kindScene:
		return "scene"
	case kindSurface:
		return "nurbs surface"
	case kindCache:
		return "geometry cache"
	}
	return "mesh"
}

type sceneInfo struct {
	elements  uint32
	nodes     uint32
	meshes    uint32
	materials uint32
	stacks    uint32
	version   uint32
	retainDOM bool
}

type face struct {
	begin uint32
	count uint32
}

// cacheChannel is one animated vertex stream of a geometry cache.
type cacheChannel struct {
	name   string
	frames uint32
}

// object is an engine allocation with a refcounted lifetime. Meshes and
// surfaces owned by a scene have owner set and share its lifetime.
type object struct {
	alloc     *allocator
	meshes    []uint32
	surfaces  []uint32
	faces     []face
	positions [][3]float64
	channels  []cacheChannel
	info      sceneInfo
	fps       float64
	spans     uint32
	block     uint32
	blockSize uint32
	owner     uint32
	refs      int
	kind      objectKind
	dead      bool
}

func quadMesh(faces uint32) *object {
	m := &object{kind: kindMesh, refs: 1}
	for i := uint32(0); i < faces; i++ {
		m.faces = append(m.faces, face{begin: 4 * i, count: 4})
		for j := uint32(0); j < 4; j++ {
			m.positions = append(m.positions, [3]float64{float64(j & 1), float64(j >> 1), float64(i)})
		}
	}
	return m
}

func (o *object) numIndices() uint32 {
	return uint32(len(o.positions))
}

// place allocates the object's block and registers it under the block
// address.
func (e *Engine) place(ctx context.Context, o *object, size uint32) (uint32, *failure) {
	a := o.alloc
	if a == nil && o.owner != 0 {
		a = e.lookup(o.owner).alloc
		o.alloc = a
	}
	ptr, f := e.allocate(ctx, a, size)
	if f != nil {
		return 0, f
	}
	o.block = ptr
	o.blockSize = size
	e.mu.Lock()
	e.objects[ptr] = o
	e.mu.Unlock()
	return ptr, nil
}

func (e *Engine) lookup(ptr uint32) *object {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.objects[ptr]
}

// live returns the object at ptr if it exists, has kind k and is not freed.
func (e *Engine) live(ptr uint32, k objectKind) (*object, error) {
	o := e.lookup(ptr)
	if o == nil || o.kind != k {
		return nil, fmt.Errorf("nativetest: %#x is not a %s", ptr, k)
	}
	if o.dead {
		return nil, fmt.Errorf("nativetest: use of freed %s %#x", k, ptr)
	}
	return o, nil
}

// destroy frees the object's memory and that of the elements it owns.
func (e *Engine) destroy(ctx context.Context, ptr uint32) {
	o := e.lookup(ptr)
	if o == nil || o.dead {
		return
	}
	for _, m := range o.meshes {
		e.destroy(ctx, m)
	}
	for _, sf := range o.surfaces {
		e.destroy(ctx, sf)
	}
	e.mu.Lock()
	o.dead = true
	e.mu.Unlock()
	e.deallocate(ctx, o.alloc, o.block, o.blockSize)
}

func (e *Engine) retain(ptr uint32, k objectKind) {
	if ptr == 0 {
		return
	}
	o, err := e.live(ptr, k)
	if err != nil {
		e.failf("retain: %v", err)
		return
	}
	if o.owner != 0 {
		e.retain(o.owner, kindScene)
		return
	}
	e.mu.Lock()
	o.refs++
	e.stats.Retains++
	e.mu.Unlock()
}

func (e *Engine) release(ctx context.Context, ptr uint32, k objectKind) {
	if ptr == 0 {
		return
	}
	o, err := e.live(ptr, k)
	if err != nil {
		e.failf("release: %v", err)
		return
	}
	if o.owner != 0 {
		e.release(ctx, o.owner, kindScene)
		return
	}
	e.mu.Lock()
	o.refs--
	e.stats.Releases++
	last := o.refs == 0
	if last {
		e.stats.Frees++
	}
	e.mu.Unlock()
	if last {
		e.destroy(ctx, ptr)
		e.releaseAllocator(ctx, o.alloc)
	}
}

func (e *Engine) sceneInfo(ptr, out uint32) error {
	o, err := e.live(ptr, kindScene)
	if err != nil {
		return err
	}
	f := abi.NewFrame(abi.SceneInfo)
	f.SetU32("num_elements", o.info.elements)
	f.SetU32("num_nodes", o.info.nodes)
	f.SetU32("num_meshes", o.info.meshes)
	f.SetU32("num_materials", o.info.materials)
	f.SetU32("num_anim_stacks", o.info.stacks)
	f.SetU32("version", o.info.version)
	f.SetU32("file_format", 1)
	f.SetBool("retained_dom", o.info.retainDOM)
	return f.WriteTo(e.mem, out)
}

func (e *Engine) sceneMesh(ptr, index uint32) uint32 {
	o, err := e.live(ptr, kindScene)
	if err != nil || index >= uint32(len(o.meshes)) {
		return 0
	}
	return o.meshes[index]
}

func (e *Engine) sceneNurbsSurface(ptr, index uint32) uint32 {
	o, err := e.live(ptr, kindScene)
	if err != nil || index >= uint32(len(o.surfaces)) {
		return 0
	}
	return o.surfaces[index]
}

func (e *Engine) meshInfo(ptr, out uint32) error {
	o, err := e.live(ptr, kindMesh)
	if err != nil {
		return err
	}
	var tris, maxTris, edges uint32
	for _, fc := range o.faces {
		if fc.count >= 3 {
			tris += fc.count - 2
			maxTris = max(maxTris, fc.count-2)
		}
		edges += fc.count
	}
	f := abi.NewFrame(abi.MeshInfo)
	f.SetU32("num_vertices", o.numIndices())
	f.SetU32("num_indices", o.numIndices())
	f.SetU32("num_faces", uint32(len(o.faces)))
	f.SetU32("num_triangles", tris)
	f.SetU32("max_face_triangles", maxTris)
	f.SetU32("num_edges", edges)
	return f.WriteTo(e.mem, out)
}

// Override is a property override as decoded from evaluation options.
type Override struct {
	Name      string
	ValueStr  string
	Value     [4]float64
	ValueInt  int64
	ElementID uint32
}

func (e *Engine) readOverrides(list abi.Span) ([]Override, *failure) {
	out := make([]Override, 0, list.Len)
	seen := make(map[string]bool, list.Len)
	size := abi.PropOverrideDesc.Size
	for i := uint32(0); i < list.Len; i++ {
		f, err := abi.ReadFrame(e.mem, list.Ptr+i*size, abi.PropOverrideDesc)
		if err != nil {
			return nil, fail(errors.ErrorUnknown, "Bad override list")
		}
		name, err := abi.ReadString(e.mem, f.Span("prop_name"))
		if err != nil {
			return nil, fail(errors.ErrorUnknown, "Bad override name")
		}
		str, err := abi.ReadString(e.mem, f.Span("value_str"))
		if err != nil {
			return nil, fail(errors.ErrorUnknown, "Bad override string")
		}
		ov := Override{
			ElementID: f.U32("element_id"),
			Name:      name,
			ValueStr:  str,
			ValueInt:  f.S64("value_int"),
		}
		for i, c := range []string{"x", "y", "z", "w"} {
			ov.Value[i] = f.F64("value." + c)
		}
		key := fmt.Sprintf("%d/%s", ov.ElementID, ov.Name)
		if seen[key] {
			return nil, fail(errors.ErrorDuplicateOverride, "Duplicate override").withInfo(key)
		}
		seen[key] = true
		out = append(out, ov)
	}
	return out, nil
}

func (e *Engine) evaluate(ctx context.Context, ptr uint32, timeBits uint64, optsPtr, errPtr uint32) uint32 {
	src, err := e.live(ptr, kindScene)
	if err != nil {
		e.failf("evaluate: %v", err)
		e.writeError(errPtr, fail(errors.ErrorUnknown, "Bad scene"))
		return 0
	}
	opts, f := e.readOpts(optsPtr, abi.EvaluateOpts)
	if f != nil {
		e.writeError(errPtr, f)
		return 0
	}
	overrides, f := e.readOverrides(opts.Span("prop_overrides"))
	if f == nil {
		for _, ov := range overrides {
			if ov.ElementID >= src.info.elements {
				f = fail(errors.ErrorBadIndex, "Override element out of bounds").withInfo(fmt.Sprint(ov.ElementID))
				break
			}
		}
	}
	if f == nil && math.IsNaN(math.Float64frombits(timeBits)) {
		f = fail(errors.ErrorUnknown, "Bad evaluation time")
	}

	temp := newAllocator(opts.Sub("temp_allocator", abi.AllocatorOpts))
	result := newAllocator(opts.Sub("result_allocator", abi.AllocatorOpts))
	e.releaseAllocator(ctx, temp)
	if f != nil {
		e.releaseAllocator(ctx, result)
		e.writeError(errPtr, f)
		return 0
	}

	sc := &object{kind: kindScene, refs: 1, alloc: result, info: src.info}
	out, f := e.place(ctx, sc, 64)
	if f == nil {
		for _, mp := range src.meshes {
			m := e.lookup(mp)
			cp := &object{kind: kindMesh, refs: 1, owner: out, faces: m.faces, positions: m.positions}
			var cpp uint32
			if cpp, f = e.place(ctx, cp, m.blockSize); f != nil {
				e.destroy(ctx, out)
				break
			}
			sc.meshes = append(sc.meshes, cpp)
		}
	}
	if f == nil {
		for _, sp := range src.surfaces {
			cp := &object{kind: kindSurface, refs: 1, owner: out, spans: e.lookup(sp).spans}
			var cpp uint32
			if cpp, f = e.place(ctx, cp, 16); f != nil {
				e.destroy(ctx, out)
				break
			}
			sc.surfaces = append(sc.surfaces, cpp)
		}
	}
	if f != nil {
		e.releaseAllocator(ctx, result)
		e.writeError(errPtr, f)
		return 0
	}

	e.mu.Lock()
	e.overrides = overrides
	e.mu.Unlock()
	e.clearError(errPtr)
	return out
}

// maxSubdivision bounds the face growth of subdivide.
const maxSubdivision = 4

func (e *Engine) subdivide(ctx context.Context, ptr, level, optsPtr, errPtr uint32) uint32 {
	src, err := e.live(ptr, kindMesh)
	if err != nil {
		e.failf("subdivide: %v", err)
		e.writeError(errPtr, fail(errors.ErrorUnknown, "Bad mesh"))
		return 0
	}
	opts, f := e.readOpts(optsPtr, abi.SubdivideOpts)
	if f != nil {
		e.writeError(errPtr, f)
		return 0
	}
	temp := newAllocator(opts.Sub("temp_allocator", abi.AllocatorOpts))
	result := newAllocator(opts.Sub("result_allocator", abi.AllocatorOpts))
	e.releaseAllocator(ctx, temp)
	if level > maxSubdivision {
		e.releaseAllocator(ctx, result)
		e.writeError(errPtr, fail(errors.ErrorUnknown, "Subdivision level too high").withInfo(fmt.Sprint(level)))
		return 0
	}

	faces := uint32(len(src.faces))
	for i := uint32(0); i < level; i++ {
		faces *= 4
	}
	m := quadMesh(faces)
	m.alloc = result
	out, f := e.place(ctx, m, 32+8*faces)
	if f != nil {
		e.releaseAllocator(ctx, result)
		e.writeError(errPtr, f)
		return 0
	}
	e.clearError(errPtr)
	return out
}

// Tessellation limits. Spans are subdivided defaultSpanSubdivision times
// per direction unless the options say otherwise.
const (
	defaultSpanSubdivision = 4
	maxTessellatedFaces    = 1 << 16
)

func (e *Engine) tessellate(ctx context.Context, ptr, optsPtr, errPtr uint32) uint32 {
	src, err := e.live(ptr, kindSurface)
	if err != nil {
		e.failf("tessellate: %v", err)
		e.writeError(errPtr, fail(errors.ErrorUnknown, "Bad surface"))
		return 0
	}
	opts, f := e.readOpts(optsPtr, abi.TessellateOpts)
	if f != nil {
		e.writeError(errPtr, f)
		return 0
	}
	temp := newAllocator(opts.Sub("temp_allocator", abi.AllocatorOpts))
	result := newAllocator(opts.Sub("result_allocator", abi.AllocatorOpts))
	e.releaseAllocator(ctx, temp)

	su, sv := opts.U32("span_subdivision_u"), opts.U32("span_subdivision_v")
	if su == 0 {
		su = defaultSpanSubdivision
	}
	if sv == 0 {
		sv = defaultSpanSubdivision
	}
	faces := uint64(src.spans) * uint64(su) * uint64(src.spans) * uint64(sv)
	switch {
	case src.spans == 0:
		f = fail(errors.ErrorBadNurbs, "Surface has no spans")
	case faces > maxTessellatedFaces:
		f = fail(errors.ErrorUnknown, "Tessellation too large").withInfo(fmt.Sprint(faces))
	}
	if f != nil {
		e.releaseAllocator(ctx, result)
		e.writeError(errPtr, f)
		return 0
	}

	m := quadMesh(uint32(faces))
	m.alloc = result
	out, f := e.place(ctx, m, 32+8*uint32(faces))
	if f != nil {
		e.releaseAllocator(ctx, result)
		e.writeError(errPtr, f)
		return 0
	}
	e.clearError(errPtr)
	return out
}

// memStream is the engine side of an ufbx_open_memory stream.
type memStream struct {
	data    []byte
	closeCb abi.Callback
	ptr     uint32
	size    uint32
	pos     uint32
	noCopy  bool
	closed  bool
}

func (e *Engine) openMemory(ctx context.Context, streamPtr, data, size, optsPtr, errPtr uint32) bool {
	opts, f := e.readOpts(optsPtr, abi.OpenMemoryOpts)
	if f != nil {
		e.writeError(errPtr, f)
		return false
	}
	buf, err := e.mem.Read(data, size)
	if err != nil {
		e.writeError(errPtr, fail(errors.ErrorIO, "Bad data pointer"))
		return false
	}
	ms := &memStream{
		closeCb: opts.Callback("close_cb"),
		ptr:     data,
		size:    size,
		noCopy:  opts.Bool("no_copy"),
	}
	if !ms.noCopy {
		ms.data = append([]byte(nil), buf...)
	}

	id := e.newID()
	e.mu.Lock()
	e.memStreams[id] = ms
	e.mu.Unlock()

	s := abi.NewFrame(abi.Stream)
	s.SetU32("read_fn", memReadFn)
	s.SetU32("skip_fn", memSkipFn)
	s.SetU32("close_fn", memCloseFn)
	s.SetU32("user", id)
	if err := s.WriteTo(e.mem, streamPtr); err != nil {
		e.mu.Lock()
		delete(e.memStreams, id)
		e.mu.Unlock()
		e.writeError(errPtr, fail(errors.ErrorIO, "Bad stream pointer"))
		return false
	}
	e.clearError(errPtr)
	return true
}

func (e *Engine) memStream(id uint32) *memStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	ms := e.memStreams[id]
	if ms == nil || ms.closed {
		return nil
	}
	return ms
}

func (e *Engine) memStreamRead(id, buf, size uint32) uint32 {
	ms := e.memStream(id)
	if ms == nil {
		return abi.ReadError
	}
	n := min(size, ms.size-ms.pos)
	var chunk []byte
	if ms.noCopy {
		b, err := e.mem.Read(ms.ptr+ms.pos, n)
		if err != nil {
			return abi.ReadError
		}
		chunk = b
	} else {
		chunk = ms.data[ms.pos : ms.pos+n]
	}
	if err := e.mem.Write(buf, chunk); err != nil {
		return abi.ReadError
	}
	ms.pos += n
	return n
}

func (e *Engine) memStreamSkip(id, size uint32) bool {
	ms := e.memStream(id)
	if ms == nil || size > ms.size-ms.pos {
		return false
	}
	ms.pos += size
	return true
}

func (e *Engine) memStreamClose(ctx context.Context, id uint32) {
	e.mu.Lock()
	ms := e.memStreams[id]
	if ms == nil || ms.closed {
		e.mu.Unlock()
		e.failf("close of unknown memory stream %d", id)
		return
	}
	ms.closed = true
	delete(e.memStreams, id)
	e.mu.Unlock()
	if ms.closeCb.Fn != 0 {
		e.callCloseMemory(ctx, ms.closeCb, ms.ptr, ms.size)
	}
}

// OpenMemoryStreams returns the number of memory streams not yet closed.
func (e *Engine) OpenMemoryStreams() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.memStreams)
}

// closeStream closes the stream described at ptr without reading from it.
func (e *Engine) closeStream(ctx context.Context, ptr uint32) error {
	f, err := abi.ReadFrame(e.mem, ptr, abi.Stream)
	if err != nil {
		return err
	}
	if fn := f.U32("close_fn"); fn != 0 {
		e.callClose(ctx, fn, f.U32("user"))
	}
	return nil
}
