package ufbx

import (
	"context"
	"math"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/config"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/resource"
)

// Mesh is a handle to a mesh. Meshes taken from a scene share its
// lifetime; subdivided meshes are standalone.
type Mesh struct {
	c    *Context
	root *resource.Root
}

type MeshInfo struct {
	Vertices         uint32
	Indices          uint32
	Faces            uint32
	Triangles        uint32
	MaxFaceTriangles uint32
	Edges            uint32
}

// Face is a polygon as a run of the mesh's index array.
type Face struct {
	IndexBegin uint32
	NumIndices uint32
}

// Triangles returns the number of triangles the face splits into.
func (f Face) Triangles() uint32 {
	if f.NumIndices < 3 {
		return 0
	}
	return f.NumIndices - 2
}

type TopoFlags uint32

const (
	TopoNonManifold TopoFlags = 0x1
)

// TopoEdge is one half-edge of a computed topology. Missing links are
// abi.NoIndex.
type TopoEdge struct {
	Index uint32
	Next  uint32
	Prev  uint32
	Twin  uint32
	Face  uint32
	Edge  uint32
	Flags TopoFlags
}

func (m *Mesh) Ptr() uint32 {
	return m.root.Ptr()
}

func (m *Mesh) Closed() bool {
	return m.root.Closed()
}

func (m *Mesh) Clone(ctx context.Context) (*Mesh, error) {
	r, err := m.root.Clone(ctx)
	if err != nil {
		return nil, err
	}
	return &Mesh{c: m.c, root: r}, nil
}

func (m *Mesh) Close(ctx context.Context) error {
	return m.root.Close(ctx)
}

func (m *Mesh) Info(ctx context.Context) (MeshInfo, error) {
	ptr, err := m.root.Borrow()
	if err != nil {
		return MeshInfo{}, err
	}
	k, err := m.c.begin(abi.FnMeshInfo)
	if err != nil {
		return MeshInfo{}, err
	}
	defer k.end(ctx)

	out, err := k.arena.Alloc(ctx, abi.MeshInfo.Size, abi.MeshInfo.Align)
	if err != nil {
		return MeshInfo{}, err
	}
	if _, err := k.invoke(ctx, uint64(ptr), uint64(out)); err != nil {
		return MeshInfo{}, err
	}
	f, err := abi.ReadFrame(m.c.native.Memory(), out, abi.MeshInfo)
	if err != nil {
		return MeshInfo{}, errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "read mesh info")
	}
	return MeshInfo{
		Vertices:         f.U32("num_vertices"),
		Indices:          f.U32("num_indices"),
		Faces:            f.U32("num_faces"),
		Triangles:        f.U32("num_triangles"),
		MaxFaceTriangles: f.U32("max_face_triangles"),
		Edges:            f.U32("num_edges"),
	}, nil
}

// Face returns face index. An index out of range panics.
func (m *Mesh) Face(ctx context.Context, index uint32) (Face, error) {
	ptr, err := m.root.Borrow()
	if err != nil {
		return Face{}, err
	}
	k, err := m.c.begin(abi.FnCatchMeshFace)
	if err != nil {
		return Face{}, err
	}
	defer k.end(ctx)

	out, err := k.arena.Alloc(ctx, abi.Face.Size, abi.Face.Align)
	if err != nil {
		return Face{}, err
	}
	if _, err := k.catch(ctx, uint64(ptr), uint64(index), uint64(out)); err != nil {
		return Face{}, err
	}
	f, err := abi.ReadFrame(m.c.native.Memory(), out, abi.Face)
	if err != nil {
		return Face{}, errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "read face")
	}
	return Face{IndexBegin: f.U32("index_begin"), NumIndices: f.U32("num_indices")}, nil
}

// TriangulateFace writes the triangles of face into indices as index
// triples and returns the triangle count. indices must hold at least
// 3*face.Triangles() entries; a smaller buffer panics.
func (m *Mesh) TriangulateFace(ctx context.Context, indices []uint32, face Face) (uint32, error) {
	ptr, err := m.root.Borrow()
	if err != nil {
		return 0, err
	}
	size, err := arraySize(len(indices), 4, "indices")
	if err != nil {
		return 0, err
	}
	k, err := m.c.begin(abi.FnCatchTriangulateFace)
	if err != nil {
		return 0, err
	}
	defer k.end(ctx)

	buf, err := k.arena.Alloc(ctx, max(size, 4), 4)
	if err != nil {
		return 0, err
	}
	ff := abi.NewFrame(abi.Face)
	ff.SetU32("index_begin", face.IndexBegin)
	ff.SetU32("num_indices", face.NumIndices)
	facePtr, err := k.place(ctx, ff)
	if err != nil {
		return 0, err
	}

	tris, err := k.catch(ctx, uint64(buf), uint64(len(indices)), uint64(ptr), uint64(facePtr))
	if err != nil {
		return 0, err
	}
	n := min(int(tris)*3, len(indices))
	if err := readU32s(m.c.native.Memory(), buf, indices[:n]); err != nil {
		return 0, err
	}
	return tris, nil
}

// ComputeTopology fills topo with the mesh's half-edges, one per index.
// topo must hold at least MeshInfo.Indices entries; a smaller slice panics.
func (m *Mesh) ComputeTopology(ctx context.Context, topo []TopoEdge) error {
	ptr, err := m.root.Borrow()
	if err != nil {
		return err
	}
	size, err := arraySize(len(topo), abi.TopoEdge.Size, "topo")
	if err != nil {
		return err
	}
	k, err := m.c.begin(abi.FnCatchComputeTopology)
	if err != nil {
		return err
	}
	defer k.end(ctx)

	buf, err := k.arena.Alloc(ctx, max(size, abi.TopoEdge.Size), abi.TopoEdge.Align)
	if err != nil {
		return err
	}
	if _, err := k.catch(ctx, uint64(ptr), uint64(buf), uint64(len(topo))); err != nil {
		return err
	}
	mem := m.c.native.Memory()
	for i := range topo {
		f, err := abi.ReadFrame(mem, buf+uint32(i)*abi.TopoEdge.Size, abi.TopoEdge)
		if err != nil {
			return errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "read topology")
		}
		topo[i] = TopoEdge{
			Index: f.U32("index"),
			Next:  f.U32("next"),
			Prev:  f.U32("prev"),
			Twin:  f.U32("twin"),
			Face:  f.U32("face"),
			Edge:  f.U32("edge"),
			Flags: TopoFlags(f.U32("flags")),
		}
	}
	return nil
}

// VertexPosition returns the position at index. An index out of range
// panics.
func (m *Mesh) VertexPosition(ctx context.Context, index uint32) (fbxbridge.Vec3, error) {
	ptr, err := m.root.Borrow()
	if err != nil {
		return fbxbridge.Vec3{}, err
	}
	k, err := m.c.begin(abi.FnCatchVertexPosition)
	if err != nil {
		return fbxbridge.Vec3{}, err
	}
	defer k.end(ctx)

	out, err := k.arena.Alloc(ctx, abi.Vec3.Size, abi.Vec3.Align)
	if err != nil {
		return fbxbridge.Vec3{}, err
	}
	if _, err := k.catch(ctx, uint64(ptr), uint64(index), uint64(out)); err != nil {
		return fbxbridge.Vec3{}, err
	}
	f, err := abi.ReadFrame(m.c.native.Memory(), out, abi.Vec3)
	if err != nil {
		return fbxbridge.Vec3{}, errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "read position")
	}
	return fbxbridge.Vec3{X: f.F64("x"), Y: f.F64("y"), Z: f.F64("z")}, nil
}

// Subdivide returns a new standalone mesh subdivided level times.
func (m *Mesh) Subdivide(ctx context.Context, level uint32, opts *config.SubdivideOpts) (*Mesh, error) {
	ptr, err := m.root.Borrow()
	if err != nil {
		return nil, err
	}
	k, err := m.c.begin(abi.FnSubdivideMesh)
	if err != nil {
		return nil, err
	}
	defer k.end(ctx)

	of, err := opts.Translate(ctx, k.scope)
	if err != nil {
		return nil, err
	}
	optsPtr, err := k.place(ctx, of)
	if err != nil {
		return nil, err
	}
	errPtr, err := k.errorRecord(ctx)
	if err != nil {
		return nil, err
	}

	res, err := k.invoke(ctx, uint64(ptr), uint64(level), uint64(optsPtr), uint64(errPtr))
	if err != nil {
		return nil, err
	}
	root, err := k.adopt(ctx, res, m.c.meshOps)
	if err != nil {
		return nil, err
	}
	return &Mesh{c: m.c, root: root}, nil
}

// TopoNextVertexEdge returns the half-edge after index around its vertex,
// or abi.NoIndex at a boundary. An index out of range panics.
func (c *Context) TopoNextVertexEdge(ctx context.Context, topo []TopoEdge, index uint32) (uint32, error) {
	return c.topoStep(ctx, abi.FnCatchTopoNextVertexEdge, topo, index)
}

// TopoPrevVertexEdge returns the half-edge before index around its vertex,
// or abi.NoIndex at a boundary. An index out of range panics.
func (c *Context) TopoPrevVertexEdge(ctx context.Context, topo []TopoEdge, index uint32) (uint32, error) {
	return c.topoStep(ctx, abi.FnCatchTopoPrevVertexEdge, topo, index)
}

func (c *Context) topoStep(ctx context.Context, fn string, topo []TopoEdge, index uint32) (uint32, error) {
	k, err := c.begin(fn)
	if err != nil {
		return 0, err
	}
	defer k.end(ctx)

	buf, err := k.topo(ctx, topo)
	if err != nil {
		return 0, err
	}
	return k.catch(ctx, uint64(buf), uint64(len(topo)), uint64(index))
}

// topo copies edges into the arena.
func (k *call) topo(ctx context.Context, edges []TopoEdge) (uint32, error) {
	size, err := arraySize(len(edges), abi.TopoEdge.Size, "topo")
	if err != nil {
		return 0, err
	}
	buf, err := k.arena.Alloc(ctx, max(size, abi.TopoEdge.Size), abi.TopoEdge.Align)
	if err != nil {
		return 0, err
	}
	f := abi.NewFrame(abi.TopoEdge)
	mem := k.c.native.Memory()
	for i, e := range edges {
		f.SetU32("index", e.Index)
		f.SetU32("next", e.Next)
		f.SetU32("prev", e.Prev)
		f.SetU32("twin", e.Twin)
		f.SetU32("face", e.Face)
		f.SetU32("edge", e.Edge)
		f.SetU32("flags", uint32(e.Flags))
		if err := f.WriteTo(mem, buf+uint32(i)*abi.TopoEdge.Size); err != nil {
			return 0, errors.Wrap(errors.PhaseTranslate, errors.KindOutOfBounds, err, "write topology")
		}
	}
	return buf, nil
}

// GenerateNormalMapping assigns a normal to every index of the mesh from
// its topology and returns the number of distinct normals. With
// assumeSmooth, edges without a smoothing flag are treated as smooth.
// topo and normalIndices must hold at least MeshInfo.Indices entries; a
// smaller slice panics.
func (m *Mesh) GenerateNormalMapping(ctx context.Context, topo []TopoEdge, normalIndices []uint32, assumeSmooth bool) (uint32, error) {
	ptr, err := m.root.Borrow()
	if err != nil {
		return 0, err
	}
	size, err := arraySize(len(normalIndices), 4, "normal_indices")
	if err != nil {
		return 0, err
	}
	k, err := m.c.begin(abi.FnCatchGenerateNormalMapping)
	if err != nil {
		return 0, err
	}
	defer k.end(ctx)

	tp, err := k.topo(ctx, topo)
	if err != nil {
		return 0, err
	}
	buf, err := k.arena.Alloc(ctx, max(size, 4), 4)
	if err != nil {
		return 0, err
	}
	// Entries past the mesh's index count are left as the caller had them.
	if err := writeU32s(m.c.native.Memory(), buf, normalIndices); err != nil {
		return 0, err
	}
	var smooth uint64
	if assumeSmooth {
		smooth = 1
	}
	n, err := k.catch(ctx, uint64(ptr), uint64(tp), uint64(len(topo)), uint64(buf), uint64(len(normalIndices)), smooth)
	if err != nil {
		return 0, err
	}
	if err := readU32s(m.c.native.Memory(), buf, normalIndices); err != nil {
		return 0, err
	}
	return n, nil
}

// ComputeNormals writes the normals of the mesh's vertex positions into
// normals, which must hold every index named by normalIndices.
// normalIndices must hold at least MeshInfo.Indices entries. Violating
// either bound panics.
func (m *Mesh) ComputeNormals(ctx context.Context, normalIndices []uint32, normals []fbxbridge.Vec3) error {
	ptr, err := m.root.Borrow()
	if err != nil {
		return err
	}
	isize, err := arraySize(len(normalIndices), 4, "normal_indices")
	if err != nil {
		return err
	}
	nsize, err := arraySize(len(normals), abi.Vec3.Size, "normals")
	if err != nil {
		return err
	}
	k, err := m.c.begin(abi.FnCatchComputeNormals)
	if err != nil {
		return err
	}
	defer k.end(ctx)

	ibuf, err := k.arena.Alloc(ctx, max(isize, 4), 4)
	if err != nil {
		return err
	}
	mem := m.c.native.Memory()
	if err := writeU32s(mem, ibuf, normalIndices); err != nil {
		return err
	}
	nbuf, err := k.arena.Alloc(ctx, max(nsize, abi.Vec3.Size), abi.Vec3.Align)
	if err != nil {
		return err
	}
	if _, err := k.catch(ctx, uint64(ptr), uint64(ibuf), uint64(len(normalIndices)), uint64(nbuf), uint64(len(normals))); err != nil {
		return err
	}
	for i := range normals {
		f, err := abi.ReadFrame(mem, nbuf+uint32(i)*abi.Vec3.Size, abi.Vec3)
		if err != nil {
			return errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "read normals")
		}
		normals[i] = fbxbridge.Vec3{X: f.F64("x"), Y: f.F64("y"), Z: f.F64("z")}
	}
	return nil
}

func writeU32s(mem fbxbridge.Memory, ptr uint32, vals []uint32) error {
	for i, v := range vals {
		if err := mem.WriteU32(ptr+uint32(i)*4, v); err != nil {
			return errors.Wrap(errors.PhaseTranslate, errors.KindOutOfBounds, err, "write index array")
		}
	}
	return nil
}

func readU32s(mem fbxbridge.Memory, ptr uint32, out []uint32) error {
	for i := range out {
		v, err := mem.ReadU32(ptr + uint32(i)*4)
		if err != nil {
			return errors.Wrap(errors.PhaseCall, errors.KindOutOfBounds, err, "read index array")
		}
		out[i] = v
	}
	return nil
}

// arraySize returns n*elem as an engine size.
func arraySize(n int, elem uint32, path string) (uint32, error) {
	if uint64(n)*uint64(elem) > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseTranslate, []string{path}, n, "size_t")
	}
	return uint32(n) * elem, nil
}
