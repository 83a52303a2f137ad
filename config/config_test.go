package config

import (
	"bytes"
	"context"
	stderrors "errors"
	"math"
	"testing"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/callback"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/internal/nativetest"
	"github.com/wippyai/ufbx-bridge/stream"
)

type fixture struct {
	engine *nativetest.Engine
	scope  *callback.Scope
	d      *callback.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	e := nativetest.New(nativetest.Config{})
	d := callback.NewDispatcher(e)
	a := arena.New(e.Memory(), e.Allocator())
	s := d.NewScope(a)
	t.Cleanup(func() {
		s.Close()
		a.Release(context.Background())
		_ = d.Close()
	})
	return &fixture{engine: e, scope: s, d: d}
}

func (f *fixture) read(t *testing.T, sp abi.Span) []byte {
	t.Helper()
	b, err := f.engine.Memory().Read(sp.Ptr, sp.Len)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestUnsetTranslatesToZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	frames := []struct {
		name string
		tr   func() (*abi.Frame, error)
	}{
		{"load", func() (*abi.Frame, error) { return (&LoadOpts{}).Translate(ctx, f.scope) }},
		{"load nil", func() (*abi.Frame, error) { return (*LoadOpts)(nil).Translate(ctx, f.scope) }},
		{"evaluate", func() (*abi.Frame, error) { return (&EvaluateOpts{}).Translate(ctx, f.scope) }},
		{"subdivide", func() (*abi.Frame, error) { return (*SubdivideOpts)(nil).Translate(ctx, f.scope) }},
		{"open memory", func() (*abi.Frame, error) { return (&OpenMemoryOpts{}).Translate(ctx, f.scope) }},
		{"tessellate", func() (*abi.Frame, error) { return (*TessellateOpts)(nil).Translate(ctx, f.scope) }},
		{"geometry cache", func() (*abi.Frame, error) { return (&GeometryCacheOpts{}).Translate(ctx, f.scope) }},
	}
	for _, tt := range frames {
		t.Run(tt.name, func(t *testing.T) {
			fr, err := tt.tr()
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(fr.Bytes(), make([]byte, len(fr.Bytes()))) {
				t.Error("unset options produced non-zero bytes")
			}
		})
	}
	if f.scope.Arena().Count() != 0 || f.d.Registered() != 0 {
		t.Errorf("unset options allocated %d and registered %d", f.scope.Arena().Count(), f.d.Registered())
	}
}

func TestOwnedFilename(t *testing.T) {
	f := newFixture(t)
	fr, err := (&LoadOpts{Filename: arena.StringOf("models/chair.fbx")}).Translate(context.Background(), f.scope)
	if err != nil {
		t.Fatal(err)
	}
	sp := fr.Span("filename")
	if sp.Len != 16 || !f.engine.Mem().Contains(sp.Ptr, sp.Len) {
		t.Fatalf("filename span %+v not in an arena allocation", sp)
	}
	if got := f.read(t, sp); string(got) != "models/chair.fbx" {
		t.Errorf("filename = %q", got)
	}
}

func TestBorrowedFilename(t *testing.T) {
	f := newFixture(t)
	ptr := f.engine.Mem().Put([]byte("shared.fbx"))
	buf := fbxbridge.Buffer{Ptr: ptr, Len: 10}

	fr, err := (&LoadOpts{RawFilename: arena.BorrowBlob(buf)}).Translate(context.Background(), f.scope)
	if err != nil {
		t.Fatal(err)
	}
	if sp := fr.Span("raw_filename"); sp.Ptr != ptr || sp.Len != 10 {
		t.Errorf("raw_filename = %+v, want the caller's buffer %d", sp, ptr)
	}
	if f.scope.Arena().Count() != 0 {
		t.Error("borrowed field was copied")
	}
}

func TestEmptyValuesAreNull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	fr, err := (&LoadOpts{Filename: arena.StringOf("")}).Translate(ctx, f.scope)
	if err != nil {
		t.Fatal(err)
	}
	if sp := fr.Span("filename"); sp != (abi.Span{}) {
		t.Errorf("empty filename = %+v", sp)
	}

	fr, err = (&LoadOpts{RawFilename: arena.BlobOf(nil)}).Translate(ctx, f.scope)
	if err != nil {
		t.Fatal(err)
	}
	if sp := fr.Span("raw_filename"); sp != (abi.Span{}) {
		t.Errorf("empty raw filename = %+v", sp)
	}

	fr, err = (&EvaluateOpts{PropOverrides: arena.ListOf[PropOverride]()}).Translate(ctx, f.scope)
	if err != nil {
		t.Fatal(err)
	}
	if sp := fr.Span("prop_overrides"); sp != (abi.Span{}) {
		t.Errorf("empty override list = %+v", sp)
	}
}

func TestExclusiveVariants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	invalid := &errors.Error{Phase: errors.PhaseTranslate, Kind: errors.KindInvalidVariant}
	raw := callback.RawCallback(arena.Unchecked{}, 0x300, 1)

	tests := []struct {
		name string
		opts *LoadOpts
		path string
	}{
		{
			name: "filename",
			opts: &LoadOpts{Filename: arena.StringOf("a"), RawFilename: arena.BlobOf([]byte("a"))},
			path: "filename",
		},
		{
			name: "progress",
			opts: &LoadOpts{Progress: callback.ProgressCb{
				Func: func(callback.ProgressInfo) callback.ProgressResult { return callback.Continue },
				Raw:  raw,
			}},
			path: "progress_cb",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.Translate(ctx, f.scope)
			if !stderrors.Is(err, invalid) {
				t.Fatalf("expected invalid variant, got %v", err)
			}
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("%T is not *errors.Error", err)
			}
			if len(e.Path) == 0 || e.Path[0] != tt.path {
				t.Errorf("error path = %v, want %s first", e.Path, tt.path)
			}
		})
	}
}

func TestPropOverridesInOrder(t *testing.T) {
	f := newFixture(t)
	opts := &EvaluateOpts{PropOverrides: arena.ListOf(
		OverrideNumber(1, "Lcl Translation", 1, 2, 3),
		OverrideString(2, "Name", "renamed"),
		OverrideNumber(3, "Visibility", 0),
	)}
	fr, err := opts.Translate(context.Background(), f.scope)
	if err != nil {
		t.Fatal(err)
	}
	list := fr.Span("prop_overrides")
	if list.Len != 3 {
		t.Fatalf("override count = %d", list.Len)
	}

	want := []struct {
		id   uint32
		name string
		x    float64
		str  string
	}{
		{1, "Lcl Translation", 1, ""},
		{2, "Name", 0, "renamed"},
		{3, "Visibility", 0, ""},
	}
	mem := f.engine.Memory()
	for i, w := range want {
		el, err := abi.ReadFrame(mem, list.Ptr+uint32(i)*abi.PropOverrideDesc.Size, abi.PropOverrideDesc)
		if err != nil {
			t.Fatal(err)
		}
		name, _ := abi.ReadString(mem, el.Span("prop_name"))
		str, _ := abi.ReadString(mem, el.Span("value_str"))
		if el.U32("element_id") != w.id || name != w.name || el.F64("value.x") != w.x || str != w.str {
			t.Errorf("override %d = id %d name %q x %v str %q", i, el.U32("element_id"), name, el.F64("value.x"), str)
		}
	}
	if el, _ := abi.ReadFrame(mem, list.Ptr, abi.PropOverrideDesc); el.F64("value.z") != 3 {
		t.Errorf("value.z = %v", el.F64("value.z"))
	}
}

func TestLoadOptsFields(t *testing.T) {
	f := newFixture(t)
	opts := &LoadOpts{
		IgnoreGeometry:   true,
		RetainDOM:        true,
		Strict:           true,
		FileFormat:       FormatFBX,
		FileSizeEstimate: 1 << 20,
		ReadBufferSize:   8192,
		TargetAxes:       AxesRightHandedZUp,
		TargetUnitMeters: 0.01,
		SpaceConversion:  ConvertModifyGeometry,
		UseRootTransform: true,
		RootTransform:    IdentityTransform(),
		ResultAllocator:  AllocatorOpts{MemoryLimit: 4096, AllocationLimit: 10},
		Threads:          ThreadOpts{Pool: callback.Serial(), NumTasks: 4},
	}
	fr, err := opts.Translate(context.Background(), f.scope)
	if err != nil {
		t.Fatal(err)
	}

	bools := []string{"ignore_geometry", "retain_dom", "strict", "use_root_transform"}
	for _, p := range bools {
		if !fr.Bool(p) {
			t.Errorf("%s not set", p)
		}
	}
	if fr.Bool("ignore_animation") {
		t.Error("ignore_animation set")
	}

	u32 := []struct {
		path string
		want uint32
	}{
		{"file_format", uint32(FormatFBX)},
		{"read_buffer_size", 8192},
		{"target_axes.up", uint32(AxisPositiveZ)},
		{"target_axes.front", uint32(AxisNegativeY)},
		{"space_conversion", uint32(ConvertModifyGeometry)},
		{"result_allocator.memory_limit", 4096},
		{"result_allocator.allocation_limit", 10},
		{"thread_opts.num_tasks", 4},
		{"thread_opts.pool.run_fn", f.engine.Trampoline(abi.TrampolinePoolRun)},
	}
	for _, tt := range u32 {
		if got := fr.U32(tt.path); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.path, got, tt.want)
		}
	}
	if fr.U64("file_size_estimate") != 1<<20 {
		t.Errorf("file_size_estimate = %d", fr.U64("file_size_estimate"))
	}
	if fr.F64("target_unit_meters") != 0.01 {
		t.Errorf("target_unit_meters = %v", fr.F64("target_unit_meters"))
	}
	if fr.F64("root_transform.rotation.w") != 1 || fr.F64("root_transform.scale.y") != 1 {
		t.Error("root transform is not the identity")
	}
	if fr.U32("_begin_zero") != 0 || fr.U32("_end_zero") != 0 {
		t.Error("zero guards written")
	}
}

func TestOpenMemoryOpts(t *testing.T) {
	f := newFixture(t)
	opts := &OpenMemoryOpts{
		NoCopy:    true,
		Close:     callback.CloseMemoryCb{Func: func(fbxbridge.Buffer) {}},
		Allocator: AllocatorOpts{Allocator: callback.SystemAllocator()},
	}
	fr, err := opts.Translate(context.Background(), f.scope)
	if err != nil {
		t.Fatal(err)
	}
	if !fr.Bool("no_copy") {
		t.Error("no_copy not set")
	}
	if cb := fr.Callback("close_cb"); cb.Fn != f.engine.Trampoline(abi.TrampolineCloseMemory) || cb.User == 0 {
		t.Errorf("close_cb = %+v", cb)
	}
	if fr.U32("allocator.allocator.alloc_fn") != f.engine.Trampoline(abi.TrampolineAlloc) {
		t.Error("system allocator not wired")
	}
}

func TestSubdivideOpts(t *testing.T) {
	f := newFixture(t)
	opts := &SubdivideOpts{
		Boundary:           BoundarySharpCorners,
		UVBoundary:         BoundarySharpBoundary,
		InterpolateNormals: true,
		MaxSourceVertices:  8,
	}
	fr, err := opts.Translate(context.Background(), f.scope)
	if err != nil {
		t.Fatal(err)
	}
	if fr.U32("boundary") != uint32(BoundarySharpCorners) || fr.U32("uv_boundary") != uint32(BoundarySharpBoundary) {
		t.Error("boundaries not written")
	}
	if !fr.Bool("interpolate_normals") || fr.Bool("ignore_normals") || fr.U32("max_source_vertices") != 8 {
		t.Error("flags not written")
	}
}

func TestTessellateOpts(t *testing.T) {
	f := newFixture(t)
	fr, err := (&TessellateOpts{SpanSubdivisionU: 3, SpanSubdivisionV: 5}).Translate(context.Background(), f.scope)
	if err != nil {
		t.Fatal(err)
	}
	if fr.U32("span_subdivision_u") != 3 || fr.U32("span_subdivision_v") != 5 {
		t.Error("span subdivision not written")
	}
}

func TestGeometryCacheOpts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	none := func(context.Context, string, callback.FileInfo) (stream.Stream, error) {
		return stream.Stream{}, nil
	}
	opts := &GeometryCacheOpts{OpenFile: callback.OpenFileCb{Func: none}, FramesPerSecond: 25}
	fr, err := opts.Translate(ctx, f.scope)
	if err != nil {
		t.Fatal(err)
	}
	if fr.F64("frames_per_second") != 25 {
		t.Errorf("frames_per_second = %v", fr.F64("frames_per_second"))
	}
	if cb := fr.Callback("open_file_cb"); cb.Fn != f.engine.Trampoline(abi.TrampolineOpenFile) || cb.User == 0 {
		t.Errorf("open_file_cb = %+v", cb)
	}

	tests := []struct {
		name string
		fps  float64
	}{
		{"negative", -24},
		{"nan", math.NaN()},
		{"infinite", math.Inf(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&GeometryCacheOpts{FramesPerSecond: tt.fps}).Translate(ctx, f.scope)
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidInput || len(e.Path) != 1 || e.Path[0] != "frames_per_second" {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestCoordinateAxes(t *testing.T) {
	tests := []struct {
		axes  CoordinateAxes
		valid bool
	}{
		{AxesRightHandedYUp, true},
		{AxesLeftHandedZUp, true},
		{CoordinateAxes{Right: AxisPositiveX, Up: AxisNegativeX, Front: AxisPositiveZ}, false},
		{CoordinateAxes{Right: AxisUnknown, Up: AxisPositiveY, Front: AxisPositiveZ}, false},
	}
	for _, tt := range tests {
		if tt.axes.Valid() != tt.valid {
			t.Errorf("%+v valid = %v", tt.axes, !tt.valid)
		}
	}

	for in, want := range map[string]CoordinateAxis{"+x": AxisPositiveX, "-Z": AxisNegativeZ, "y": AxisPositiveY} {
		if got, err := ParseAxis(in); err != nil || got != want {
			t.Errorf("ParseAxis(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseAxis("w"); err == nil {
		t.Error("ParseAxis accepted w")
	}
}
