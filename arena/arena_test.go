package arena

import (
	"context"
	stderrors "errors"
	"math"
	"testing"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/internal/nativetest"
)

type faceElem struct {
	begin uint32
	count uint32
}

func (faceElem) Layout() *abi.Struct { return abi.Face }

func (e faceElem) Encode(_ context.Context, _ *Arena, f *abi.Frame) error {
	f.SetU32("index_begin", e.begin)
	f.SetU32("num_indices", e.count)
	return nil
}

type overrideElem struct {
	name String
	id   uint32
}

func (overrideElem) Layout() *abi.Struct { return abi.PropOverrideDesc }

func (e overrideElem) Encode(ctx context.Context, a *Arena, f *abi.Frame) error {
	f.SetU32("element_id", e.id)
	sp, err := e.name.Translate(ctx, a)
	if err != nil {
		return err
	}
	f.SetSpan("prop_name", sp)
	return nil
}

func newArena(t *testing.T) (*Arena, *nativetest.Memory) {
	t.Helper()
	mem := nativetest.NewMemory(1 << 20)
	return New(mem, mem), mem
}

func TestUnsetTranslatesToZero(t *testing.T) {
	ctx := context.Background()
	a, mem := newArena(t)
	defer a.Release(ctx)

	cases := []struct {
		name string
		tr   func() (abi.Span, error)
	}{
		{"string", func() (abi.Span, error) { return String{}.Translate(ctx, a) }},
		{"blob", func() (abi.Span, error) { return Blob{}.Translate(ctx, a) }},
		{"list", func() (abi.Span, error) { return List[faceElem]{}.Translate(ctx, a) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sp, err := tc.tr()
			if err != nil {
				t.Fatalf("Translate: %v", err)
			}
			if sp != (abi.Span{}) {
				t.Errorf("got %+v, want null span", sp)
			}
		})
	}
	if a.Count() != 0 || mem.Live() != 0 {
		t.Errorf("unset fields allocated: arena=%d live=%d", a.Count(), mem.Live())
	}
}

func TestEmptyTranslatesToNull(t *testing.T) {
	ctx := context.Background()
	a, mem := newArena(t)
	defer a.Release(ctx)

	cases := []struct {
		name string
		tr   func() (abi.Span, error)
	}{
		{"owned string", func() (abi.Span, error) { return StringOf("").Translate(ctx, a) }},
		{"owned nil blob", func() (abi.Span, error) { return BlobOf(nil).Translate(ctx, a) }},
		{"owned empty blob", func() (abi.Span, error) { return BlobOf([]byte{}).Translate(ctx, a) }},
		{"owned list", func() (abi.Span, error) { return ListOf[faceElem]().Translate(ctx, a) }},
		{"borrowed string", func() (abi.Span, error) { return BorrowString(fbxbridge.Buffer{}).Translate(ctx, a) }},
		{"borrowed blob with pointer", func() (abi.Span, error) {
			return BorrowBlob(fbxbridge.Buffer{Ptr: 2048}).Translate(ctx, a)
		}},
		{"borrowed list", func() (abi.Span, error) { return BorrowList[faceElem](4096, 0).Translate(ctx, a) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sp, err := tc.tr()
			if err != nil {
				t.Fatalf("Translate: %v", err)
			}
			if !sp.IsNull() {
				t.Errorf("got %+v, want {0, 0}", sp)
			}
		})
	}
	if mem.Live() != 0 {
		t.Errorf("empty values allocated %d blocks", mem.Live())
	}
}

func TestOwnedLandsInArena(t *testing.T) {
	ctx := context.Background()
	a, mem := newArena(t)

	data := []byte{0x00, 0xff, 0x10, 0x20}
	cases := []struct {
		name string
		want []byte
		tr   func() (abi.Span, error)
	}{
		{"string", []byte("models/cube.fbx"), func() (abi.Span, error) {
			return StringOf("models/cube.fbx").Translate(ctx, a)
		}},
		{"blob", data, func() (abi.Span, error) { return BlobOf(data).Translate(ctx, a) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sp, err := tc.tr()
			if err != nil {
				t.Fatalf("Translate: %v", err)
			}
			if sp.Len != uint32(len(tc.want)) {
				t.Fatalf("length = %d, want %d", sp.Len, len(tc.want))
			}
			if !mem.Contains(sp.Ptr, sp.Len) {
				t.Fatalf("span %+v not inside an arena allocation", sp)
			}
			got, _ := mem.Read(sp.Ptr, sp.Len)
			if string(got) != string(tc.want) {
				t.Errorf("bytes = %q, want %q", got, tc.want)
			}
		})
	}

	if a.Count() != 2 {
		t.Errorf("Count = %d, want 2", a.Count())
	}
	a.Release(ctx)
	if mem.Live() != 0 {
		t.Errorf("%d allocations outlived Release", mem.Live())
	}
}

func TestBorrowedIsPointerIdentical(t *testing.T) {
	ctx := context.Background()
	a, mem := newArena(t)
	defer a.Release(ctx)

	ptr := mem.Put([]byte("borrowed bytes"))
	buf := fbxbridge.Buffer{Ptr: ptr, Len: 14}

	sp, err := BorrowString(buf).Translate(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if sp.Ptr != ptr || sp.Len != 14 {
		t.Errorf("string span = %+v, want {%d 14}", sp, ptr)
	}

	sp, err = BorrowBlob(buf).Translate(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if sp.Ptr != ptr {
		t.Errorf("blob ptr = %d, want %d", sp.Ptr, ptr)
	}

	sp, err = BorrowList[faceElem](ptr, 1).Translate(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if sp.Ptr != ptr || sp.Len != 1 {
		t.Errorf("list span = %+v", sp)
	}
	if a.Count() != 0 {
		t.Errorf("borrowing allocated %d blocks", a.Count())
	}
}

func TestBorrowedValidation(t *testing.T) {
	ctx := context.Background()
	a, mem := newArena(t)
	defer a.Release(ctx)

	cases := []struct {
		name string
		buf  fbxbridge.Buffer
		kind errors.Kind
	}{
		{"null with length", fbxbridge.Buffer{Len: 4}, errors.KindNilPointer},
		{"past end of memory", fbxbridge.Buffer{Ptr: mem.Size() - 2, Len: 4}, errors.KindOutOfBounds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BorrowBlob(tc.buf).Translate(ctx, a)
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("expected *errors.Error, got %v", err)
			}
			if e.Kind != tc.kind {
				t.Errorf("kind = %s, want %s", e.Kind, tc.kind)
			}
		})
	}
}

func TestListPreservesOrder(t *testing.T) {
	ctx := context.Background()
	a, mem := newArena(t)
	defer a.Release(ctx)

	items := []faceElem{{0, 4}, {4, 3}, {7, 5}}
	sp, err := ListOf(items...).Translate(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if sp.Len != 3 {
		t.Fatalf("count = %d, want 3", sp.Len)
	}
	for i, want := range items {
		f, err := abi.ReadFrame(mem, sp.Ptr+uint32(i)*abi.Face.Size, abi.Face)
		if err != nil {
			t.Fatal(err)
		}
		if f.U32("index_begin") != want.begin || f.U32("num_indices") != want.count {
			t.Errorf("element %d = {%d %d}, want %+v", i, f.U32("index_begin"), f.U32("num_indices"), want)
		}
	}
}

func TestNestedListStrings(t *testing.T) {
	ctx := context.Background()
	a, mem := newArena(t)

	sp, err := ListOf(
		overrideElem{id: 1, name: StringOf("Lcl Translation")},
		overrideElem{id: 2},
		overrideElem{id: 3, name: StringOf("Visibility")},
	).Translate(ctx, a)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"Lcl Translation", "", "Visibility"}
	for i, name := range want {
		f, err := abi.ReadFrame(mem, sp.Ptr+uint32(i)*abi.PropOverrideDesc.Size, abi.PropOverrideDesc)
		if err != nil {
			t.Fatal(err)
		}
		if f.U32("element_id") != uint32(i+1) {
			t.Errorf("element %d id = %d", i, f.U32("element_id"))
		}
		got, err := abi.ReadString(mem, f.Span("prop_name"))
		if err != nil {
			t.Fatal(err)
		}
		if got != name {
			t.Errorf("element %d name = %q, want %q", i, got, name)
		}
		if name == "" && !f.Span("prop_name").IsNull() {
			t.Errorf("element %d: empty name is not {0, 0}", i)
		}
	}

	if a.Count() != 3 {
		t.Errorf("Count = %d, want list + 2 strings", a.Count())
	}
	a.Release(ctx)
	if mem.Live() != 0 {
		t.Errorf("%d allocations outlived Release", mem.Live())
	}
}

func TestInvalidTag(t *testing.T) {
	ctx := context.Background()
	a, _ := newArena(t)
	defer a.Release(ctx)

	_, err := String{tag: Callback}.Translate(ctx, a)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseTranslate, Kind: errors.KindInvalidVariant}) {
		t.Errorf("expected invalid variant, got %v", err)
	}
	_, err = List[faceElem]{tag: RawEscape}.Translate(ctx, a)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseTranslate, Kind: errors.KindInvalidVariant}) {
		t.Errorf("expected invalid variant, got %v", err)
	}
}

func TestCheckLen(t *testing.T) {
	tests := []struct {
		n, reserve uint64
		ok         bool
	}{
		{0, 0, true},
		{math.MaxUint32, 0, true},
		{math.MaxUint32 + 1, 0, false},
		{math.MaxUint32 - 1, 1, true},
		// A string of MaxUint32 bytes leaves no room for its NUL.
		{math.MaxUint32, 1, false},
	}
	for _, tt := range tests {
		err := checkLen(tt.n, tt.reserve)
		if (err == nil) != tt.ok {
			t.Errorf("checkLen(%d, %d) = %v", tt.n, tt.reserve, err)
			continue
		}
		if err != nil {
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Kind != errors.KindOverflow {
				t.Errorf("checkLen(%d, %d) kind: %v", tt.n, tt.reserve, err)
			}
		}
	}
}

func TestReleasedArena(t *testing.T) {
	ctx := context.Background()
	a, _ := newArena(t)
	a.Release(ctx)
	a.Release(ctx)

	if _, err := a.Alloc(ctx, 8, 8); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseTranslate, Kind: errors.KindClosed}) {
		t.Errorf("Alloc after Release: %v", err)
	}
	if a.Count() != 0 {
		t.Errorf("Count after Release = %d", a.Count())
	}
}

func TestTagString(t *testing.T) {
	tests := map[Tag]string{
		Unset:     "unset",
		Borrowed:  "borrowed",
		Owned:     "owned",
		Callback:  "callback",
		RawEscape: "raw",
		Tag(42):   "tag(42)",
	}
	for tag, want := range tests {
		if got := tag.String(); got != want {
			t.Errorf("Tag(%d).String() = %q, want %q", tag, got, want)
		}
	}
}
