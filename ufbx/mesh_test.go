package ufbx

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/callback"
	"github.com/wippyai/ufbx-bridge/config"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/internal/nativetest"
)

func cubeMesh(t *testing.T) (*Context, *nativetest.Engine, *Mesh) {
	t.Helper()
	ctx := context.Background()
	c, e := newContext(t, nativetest.Config{})
	s := loadCube(t, c)
	m, err := s.Mesh(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close(ctx) })
	return c, e, m
}

// expectEnginePanic checks that fn raises an engine panic mentioning want
// and that the call's memory was released on the way out.
func expectEnginePanic(t *testing.T, e *nativetest.Engine, want string, fn func()) {
	t.Helper()
	live := e.Mem().Live()
	r := mustPanic(t, fn)
	pe, ok := r.(*errors.PanicError)
	if !ok {
		t.Fatalf("panic value %T: %v", r, r)
	}
	if !strings.Contains(pe.Message, want) || !strings.Contains(panicText(r), want) {
		t.Errorf("panic %q does not contain %q", pe.Error(), want)
	}
	if got := e.Mem().Live(); got != live {
		t.Errorf("live allocations %d after panic, want %d", got, live)
	}
}

func TestMeshFace(t *testing.T) {
	ctx := context.Background()
	_, e, m := cubeMesh(t)

	f, err := m.Face(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if f != (Face{IndexBegin: 8, NumIndices: 4}) || f.Triangles() != 2 {
		t.Errorf("face = %+v", f)
	}

	expectEnginePanic(t, e, "Face index (6) out of bounds (6)", func() {
		_, _ = m.Face(ctx, 6)
	})
}

func TestTriangulateFace(t *testing.T) {
	ctx := context.Background()
	_, e, m := cubeMesh(t)
	face := Face{IndexBegin: 4, NumIndices: 4}

	indices := make([]uint32, 6)
	n, err := m.TriangulateFace(ctx, indices, face)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("triangles = %d", n)
	}
	if want := []uint32{4, 5, 6, 4, 6, 7}; !equalU32(indices, want) {
		t.Errorf("indices = %v, want %v", indices, want)
	}

	for _, size := range []int{0, 3, 5} {
		expectEnginePanic(t, e, "Face needs at least 6 indices", func() {
			_, _ = m.TriangulateFace(ctx, make([]uint32, size), face)
		})
	}

	n, err = m.TriangulateFace(ctx, nil, Face{NumIndices: 2})
	if err != nil || n != 0 {
		t.Errorf("degenerate face: %d, %v", n, err)
	}
}

func TestComputeTopology(t *testing.T) {
	ctx := context.Background()
	c, e, m := cubeMesh(t)
	info, err := m.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}

	topo := make([]TopoEdge, info.Indices)
	if err := m.ComputeTopology(ctx, topo); err != nil {
		t.Fatal(err)
	}
	want := TopoEdge{Index: 5, Next: 6, Prev: 4, Twin: abi.NoIndex, Face: 1, Edge: abi.NoIndex}
	if topo[5] != want {
		t.Errorf("topo[5] = %+v, want %+v", topo[5], want)
	}

	next, err := c.TopoNextVertexEdge(ctx, topo, 5)
	if err != nil {
		t.Fatal(err)
	}
	if next != abi.NoIndex {
		t.Errorf("next = %d, want boundary", next)
	}

	expectEnginePanic(t, e, "Topology output too small", func() {
		_ = m.ComputeTopology(ctx, make([]TopoEdge, info.Indices-1))
	})
	expectEnginePanic(t, e, "index (24) out of bounds (24)", func() {
		_, _ = c.TopoNextVertexEdge(ctx, topo, 24)
	})
}

func TestTopoPrevVertexEdge(t *testing.T) {
	ctx := context.Background()
	c, e, m := cubeMesh(t)
	topo := make([]TopoEdge, 24)
	if err := m.ComputeTopology(ctx, topo); err != nil {
		t.Fatal(err)
	}

	prev, err := c.TopoPrevVertexEdge(ctx, topo, 5)
	if err != nil {
		t.Fatal(err)
	}
	if prev != abi.NoIndex {
		t.Errorf("prev = %d, want boundary", prev)
	}

	topo[5].Twin = 10
	if prev, err = c.TopoPrevVertexEdge(ctx, topo, 5); err != nil {
		t.Fatal(err)
	}
	if prev != topo[10].Next {
		t.Errorf("prev = %d, want %d", prev, topo[10].Next)
	}

	expectEnginePanic(t, e, "index (24) out of bounds (24)", func() {
		_, _ = c.TopoPrevVertexEdge(ctx, topo, 24)
	})
	topo[5].Twin = 99
	expectEnginePanic(t, e, "index (99) out of bounds (24)", func() {
		_, _ = c.TopoPrevVertexEdge(ctx, topo, 5)
	})
}

func TestNormals(t *testing.T) {
	ctx := context.Background()
	_, e, m := cubeMesh(t)
	topo := make([]TopoEdge, 24)
	if err := m.ComputeTopology(ctx, topo); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		smooth bool
		count  uint32
		at5    uint32
	}{
		{"per face", false, 6, 1},
		{"smooth", true, 24, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := make([]uint32, 25)
			idx[24] = 77
			n, err := m.GenerateNormalMapping(ctx, topo, idx, tt.smooth)
			if err != nil {
				t.Fatal(err)
			}
			if n != tt.count || idx[5] != tt.at5 {
				t.Errorf("count %d, idx[5] %d; want %d, %d", n, idx[5], tt.count, tt.at5)
			}
			if idx[24] != 77 {
				t.Errorf("entry past the mesh indices overwritten: %d", idx[24])
			}

			normals := make([]fbxbridge.Vec3, n)
			if err := m.ComputeNormals(ctx, idx[:24], normals); err != nil {
				t.Fatal(err)
			}
			for i, v := range normals {
				if v != (fbxbridge.Vec3{Z: 1}) {
					t.Errorf("normal %d = %+v", i, v)
				}
			}
		})
	}

	expectEnginePanic(t, e, "Topology too small", func() {
		_, _ = m.GenerateNormalMapping(ctx, topo[:23], make([]uint32, 24), false)
	})
	expectEnginePanic(t, e, "Normal indices too small", func() {
		_, _ = m.GenerateNormalMapping(ctx, topo, make([]uint32, 23), false)
	})

	idx := make([]uint32, 24)
	if _, err := m.GenerateNormalMapping(ctx, topo, idx, false); err != nil {
		t.Fatal(err)
	}
	expectEnginePanic(t, e, "Normal index (3) out of bounds (3)", func() {
		_ = m.ComputeNormals(ctx, idx, make([]fbxbridge.Vec3, 3))
	})
	expectEnginePanic(t, e, "Normal indices too small", func() {
		_ = m.ComputeNormals(ctx, idx[:20], make([]fbxbridge.Vec3, 6))
	})
}

func TestVertexPosition(t *testing.T) {
	ctx := context.Background()
	_, e, m := cubeMesh(t)

	tests := []struct {
		index uint32
		want  fbxbridge.Vec3
	}{
		{0, fbxbridge.Vec3{}},
		{3, fbxbridge.Vec3{X: 1, Y: 1}},
		{9, fbxbridge.Vec3{X: 1, Z: 2}},
	}
	for _, tt := range tests {
		got, err := m.VertexPosition(ctx, tt.index)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("VertexPosition(%d) = %+v, want %+v", tt.index, got, tt.want)
		}
	}

	expectEnginePanic(t, e, "out of bounds", func() {
		_, _ = m.VertexPosition(ctx, 1000)
	})
}

func TestSubdivide(t *testing.T) {
	ctx := context.Background()
	c, e, m := cubeMesh(t)

	heap := callback.NewHeap(e.Memory(), e.Allocator())
	opts := &config.SubdivideOpts{
		ResultAllocator: config.AllocatorOpts{Allocator: callback.AllocatorOf(heap)},
		Boundary:        config.BoundarySharpCorners,
	}
	sub, err := m.Subdivide(ctx, 1, opts)
	if err != nil {
		t.Fatal(err)
	}
	info, err := sub.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Faces != 24 {
		t.Errorf("faces = %d, want 24", info.Faces)
	}
	if e.LiveObjects() != 2 {
		t.Errorf("%d objects alive, want scene and subdivided mesh", e.LiveObjects())
	}
	if c.Dispatcher().Registered() != 1 {
		t.Errorf("%d registrations, want the result allocator", c.Dispatcher().Registered())
	}

	if err := sub.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Dispatcher().Registered() != 0 {
		t.Errorf("%d registrations after close", c.Dispatcher().Registered())
	}
	if st := heap.Stats(); st.Allocs != 1 || st.Frees != 1 {
		t.Errorf("heap stats %+v", st)
	}

	_, err = m.Subdivide(ctx, 9, nil)
	var ne *errors.NativeError
	if !stderrors.As(err, &ne) || ne.Info != "9" {
		t.Errorf("err = %v", err)
	}
}

func TestMeshClone(t *testing.T) {
	ctx := context.Background()
	_, e, m := cubeMesh(t)
	cl, err := m.Clone(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := cl.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if !cl.Closed() || m.Closed() {
		t.Error("clone close affected the wrong handle")
	}
	if e.LiveObjects() != 1 {
		t.Errorf("scene freed while a mesh handle is open")
	}
	if _, err := m.Info(ctx); err != nil {
		t.Errorf("Info after clone close: %v", err)
	}
}
