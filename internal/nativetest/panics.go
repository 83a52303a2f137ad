package nativetest

import (
	"fmt"
	"math"

	"github.com/wippyai/ufbx-bridge/abi"
)

// ErrAbort is returned when an engine panic has no record to land in.
// The real engine aborts the process in that case.
type ErrAbort struct {
	Message string
}

func (e *ErrAbort) Error() string {
	return "nativetest: engine abort: " + e.Message
}

// pending reports whether the panic record at ptr already holds a panic,
// in which case panic-checked operations do nothing.
func (e *Engine) pending(ptr uint32) bool {
	if ptr == 0 {
		return false
	}
	did, _, err := abi.DecodePanic(e.mem, ptr)
	return err == nil && did
}

func (e *Engine) raise(ptr uint32, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if ptr == 0 {
		return &ErrAbort{Message: msg}
	}
	return abi.EncodePanic(msg).WriteTo(e.mem, ptr)
}

func (e *Engine) catchMeshFace(panicPtr, meshPtr, index, out uint32) error {
	if e.pending(panicPtr) {
		return nil
	}
	m, err := e.live(meshPtr, kindMesh)
	if err != nil {
		return err
	}
	if index >= uint32(len(m.faces)) {
		return e.raise(panicPtr, "Face index (%d) out of bounds (%d)", index, len(m.faces))
	}
	f := abi.NewFrame(abi.Face)
	f.SetU32("index_begin", m.faces[index].begin)
	f.SetU32("num_indices", m.faces[index].count)
	return f.WriteTo(e.mem, out)
}

func (e *Engine) catchTriangulateFace(panicPtr, indices, numIndices, meshPtr, facePtr uint32) (uint32, error) {
	if e.pending(panicPtr) {
		return 0, nil
	}
	if _, err := e.live(meshPtr, kindMesh); err != nil {
		return 0, err
	}
	fc, err := abi.ReadFrame(e.mem, facePtr, abi.Face)
	if err != nil {
		return 0, err
	}
	begin, n := fc.U32("index_begin"), fc.U32("num_indices")
	if n < 3 {
		return 0, nil
	}
	tris := n - 2
	if need := tris * 3; numIndices < need {
		return 0, e.raise(panicPtr, "Face needs at least %d indices for triangles, got space for %d", need, numIndices)
	}
	for t := uint32(0); t < tris; t++ {
		base := indices + t*12
		for k, v := range [3]uint32{begin, begin + t + 1, begin + t + 2} {
			if err := e.mem.WriteU32(base+uint32(k)*4, v); err != nil {
				return 0, err
			}
		}
	}
	return tris, nil
}

func (e *Engine) catchComputeTopology(panicPtr, meshPtr, topo, numTopo uint32) error {
	if e.pending(panicPtr) {
		return nil
	}
	m, err := e.live(meshPtr, kindMesh)
	if err != nil {
		return err
	}
	if need := m.numIndices(); numTopo < need {
		return e.raise(panicPtr, "Topology output too small: need %d edges, got %d", need, numTopo)
	}
	size := abi.TopoEdge.Size
	edge := abi.NewFrame(abi.TopoEdge)
	for fi, fc := range m.faces {
		for j := uint32(0); j < fc.count; j++ {
			i := fc.begin + j
			edge.SetU32("index", i)
			edge.SetU32("next", fc.begin+(j+1)%fc.count)
			edge.SetU32("prev", fc.begin+(j+fc.count-1)%fc.count)
			edge.SetU32("twin", abi.NoIndex)
			edge.SetU32("face", uint32(fi))
			edge.SetU32("edge", abi.NoIndex)
			edge.SetU32("flags", 0)
			if err := edge.WriteTo(e.mem, topo+i*size); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) catchTopoNextVertexEdge(panicPtr, topo, numTopo, index uint32) (uint32, error) {
	if e.pending(panicPtr) {
		return 0, nil
	}
	if index == abi.NoIndex {
		return abi.NoIndex, nil
	}
	if index >= numTopo {
		return 0, e.raise(panicPtr, "index (%d) out of bounds (%d)", index, numTopo)
	}
	size := abi.TopoEdge.Size
	cur, err := abi.ReadFrame(e.mem, topo+index*size, abi.TopoEdge)
	if err != nil {
		return 0, err
	}
	prev := cur.U32("prev")
	if prev >= numTopo {
		return 0, e.raise(panicPtr, "index (%d) out of bounds (%d)", prev, numTopo)
	}
	p, err := abi.ReadFrame(e.mem, topo+prev*size, abi.TopoEdge)
	if err != nil {
		return 0, err
	}
	return p.U32("twin"), nil
}

func (e *Engine) catchTopoPrevVertexEdge(panicPtr, topo, numTopo, index uint32) (uint32, error) {
	if e.pending(panicPtr) {
		return 0, nil
	}
	if index == abi.NoIndex {
		return abi.NoIndex, nil
	}
	if index >= numTopo {
		return 0, e.raise(panicPtr, "index (%d) out of bounds (%d)", index, numTopo)
	}
	size := abi.TopoEdge.Size
	cur, err := abi.ReadFrame(e.mem, topo+index*size, abi.TopoEdge)
	if err != nil {
		return 0, err
	}
	twin := cur.U32("twin")
	if twin == abi.NoIndex {
		return abi.NoIndex, nil
	}
	if twin >= numTopo {
		return 0, e.raise(panicPtr, "index (%d) out of bounds (%d)", twin, numTopo)
	}
	t, err := abi.ReadFrame(e.mem, topo+twin*size, abi.TopoEdge)
	if err != nil {
		return 0, err
	}
	return t.U32("next"), nil
}

// catchGenerateNormalMapping gives every face its own normal, or every
// index its own when smooth. The stub's meshes share no vertices, so
// smoothing never merges.
func (e *Engine) catchGenerateNormalMapping(panicPtr, meshPtr, topo, numTopo, out, numOut, smooth uint32) (uint32, error) {
	if e.pending(panicPtr) {
		return 0, nil
	}
	m, err := e.live(meshPtr, kindMesh)
	if err != nil {
		return 0, err
	}
	n := m.numIndices()
	if numTopo < n {
		return 0, e.raise(panicPtr, "Topology too small: need %d edges, got %d", n, numTopo)
	}
	if numOut < n {
		return 0, e.raise(panicPtr, "Normal indices too small: need %d, got %d", n, numOut)
	}
	var count uint32
	for i := uint32(0); i < n; i++ {
		edge, err := abi.ReadFrame(e.mem, topo+i*abi.TopoEdge.Size, abi.TopoEdge)
		if err != nil {
			return 0, err
		}
		v := i
		if smooth == 0 {
			v = edge.U32("face")
			if v >= uint32(len(m.faces)) {
				return 0, e.raise(panicPtr, "Face index (%d) out of bounds (%d)", v, len(m.faces))
			}
		}
		if err := e.mem.WriteU32(out+i*4, v); err != nil {
			return 0, err
		}
		count = max(count, v+1)
	}
	return count, nil
}

// catchComputeNormals accumulates the normal of each face's first corner
// triangle into the normals its indices map to, then normalizes.
func (e *Engine) catchComputeNormals(panicPtr, meshPtr, indices, numIndices, normals, numNormals uint32) error {
	if e.pending(panicPtr) {
		return nil
	}
	m, err := e.live(meshPtr, kindMesh)
	if err != nil {
		return err
	}
	if n := m.numIndices(); numIndices < n {
		return e.raise(panicPtr, "Normal indices too small: need %d, got %d", n, numIndices)
	}
	sum := make([][3]float64, numNormals)
	for _, fc := range m.faces {
		if fc.count < 3 {
			continue
		}
		a, b, c := m.positions[fc.begin], m.positions[fc.begin+1], m.positions[fc.begin+2]
		u := [3]float64{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
		v := [3]float64{c[0] - a[0], c[1] - a[1], c[2] - a[2]}
		nrm := [3]float64{u[1]*v[2] - u[2]*v[1], u[2]*v[0] - u[0]*v[2], u[0]*v[1] - u[1]*v[0]}
		for j := uint32(0); j < fc.count; j++ {
			ni, err := e.mem.ReadU32(indices + (fc.begin+j)*4)
			if err != nil {
				return err
			}
			if ni >= numNormals {
				return e.raise(panicPtr, "Normal index (%d) out of bounds (%d)", ni, numNormals)
			}
			for k := range nrm {
				sum[ni][k] += nrm[k]
			}
		}
	}
	out := abi.NewFrame(abi.Vec3)
	for i, n := range sum {
		if l := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2]); l > 0 {
			n = [3]float64{n[0] / l, n[1] / l, n[2] / l}
		}
		out.SetF64("x", n[0])
		out.SetF64("y", n[1])
		out.SetF64("z", n[2])
		if err := out.WriteTo(e.mem, normals+uint32(i)*abi.Vec3.Size); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) catchVertexPosition(panicPtr, meshPtr, index, out uint32) error {
	if e.pending(panicPtr) {
		return nil
	}
	m, err := e.live(meshPtr, kindMesh)
	if err != nil {
		return err
	}
	if index >= m.numIndices() {
		return e.raise(panicPtr, "index (%d) out of bounds (%d)", index, m.numIndices())
	}
	p := m.positions[index]
	v := abi.NewFrame(abi.Vec3)
	v.SetF64("x", p[0])
	v.SetF64("y", p[1])
	v.SetF64("z", p[2])
	return v.WriteTo(e.mem, out)
}
