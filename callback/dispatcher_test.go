package callback

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/internal/nativetest"
	"github.com/wippyai/ufbx-bridge/stream"
)

type fixture struct {
	engine *nativetest.Engine
	d      *Dispatcher
	arena  *arena.Arena
	scope  *Scope
}

func newFixture(t *testing.T, cfg nativetest.Config) *fixture {
	t.Helper()
	e := nativetest.New(cfg)
	d := NewDispatcher(e)
	a := arena.New(e.Memory(), e.Allocator())
	s := d.NewScope(a)
	t.Cleanup(func() {
		s.Close()
		a.Release(context.Background())
		_ = d.Close()
	})
	return &fixture{engine: e, d: d, arena: a, scope: s}
}

func (f *fixture) progressFrame(t *testing.T, read, total uint64) uint32 {
	t.Helper()
	fr := abi.NewFrame(abi.Progress)
	fr.SetU64("bytes_read", read)
	fr.SetU64("bytes_total", total)
	ptr, err := f.arena.Frame(context.Background(), fr)
	if err != nil {
		t.Fatal(err)
	}
	return ptr
}

func TestProgressCancelStopsCallbacks(t *testing.T) {
	ctx := context.Background()
	for _, k := range []int{1, 3, 10} {
		f := newFixture(t, nativetest.Config{})
		calls := 0
		cb, err := ProgressCb{Func: func(p ProgressInfo) ProgressResult {
			calls++
			if calls == k {
				return Cancel
			}
			return Continue
		}}.Translate(f.scope)
		if err != nil {
			t.Fatal(err)
		}
		if cb.Fn != f.engine.Trampoline(abi.TrampolineProgress) || cb.User == 0 {
			t.Fatalf("callback = %+v", cb)
		}

		ptr := f.progressFrame(t, 10, 100)
		var results []uint32
		for i := 0; i < k+3; i++ {
			results = append(results, f.d.Progress(ctx, f.engine.Memory(), cb.User, ptr))
		}
		if calls != k {
			t.Errorf("k=%d: callback ran %d times", k, calls)
		}
		for i, r := range results {
			want := abi.ProgressContinue
			if i >= k-1 {
				want = abi.ProgressCancel
			}
			if r != want {
				t.Errorf("k=%d: result %d = %#x, want %#x", k, i, r, want)
			}
		}
	}
}

func TestProgressReceivesCounters(t *testing.T) {
	f := newFixture(t, nativetest.Config{})
	var got ProgressInfo
	cb, _ := ProgressCb{Func: func(p ProgressInfo) ProgressResult {
		got = p
		return Continue
	}}.Translate(f.scope)

	f.d.Progress(context.Background(), f.engine.Memory(), cb.User, f.progressFrame(t, 512, 4096))
	if got.BytesRead != 512 || got.BytesTotal != 4096 {
		t.Errorf("progress = %+v", got)
	}
}

func TestExclusiveVariants(t *testing.T) {
	f := newFixture(t, nativetest.Config{})
	raw := RawCallback(arena.Unchecked{}, 0x300, 7)
	invalid := &errors.Error{Phase: errors.PhaseTranslate, Kind: errors.KindInvalidVariant}

	tests := []struct {
		name string
		tr   func() (abi.Callback, error)
	}{
		{"progress", func() (abi.Callback, error) {
			return ProgressCb{Func: func(ProgressInfo) ProgressResult { return Continue }, Raw: raw}.Translate(f.scope)
		}},
		{"open file", func() (abi.Callback, error) {
			return OpenFileCb{Func: func(context.Context, string, FileInfo) (stream.Stream, error) {
				return stream.Stream{}, nil
			}, Raw: raw}.Translate(f.scope)
		}},
		{"close memory", func() (abi.Callback, error) {
			return CloseMemoryCb{Func: func(fbxbridge.Buffer) {}, Raw: raw}.Translate(f.scope)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.tr(); !stderrors.Is(err, invalid) {
				t.Errorf("expected invalid variant, got %v", err)
			}
		})
	}
	if f.d.Registered() != 0 {
		t.Errorf("rejected fields registered %d values", f.d.Registered())
	}
}

func TestRawAndUnsetCallbacks(t *testing.T) {
	f := newFixture(t, nativetest.Config{})

	cb, err := ProgressCb{Raw: RawCallback(arena.Unchecked{}, 0x300, 7)}.Translate(f.scope)
	if err != nil {
		t.Fatal(err)
	}
	if cb != (abi.Callback{Fn: 0x300, User: 7}) {
		t.Errorf("raw callback = %+v", cb)
	}

	cb, err = OpenFileCb{}.Translate(f.scope)
	if err != nil || cb != (abi.Callback{}) {
		t.Errorf("unset callback = %+v, %v", cb, err)
	}

	tags := []struct {
		got  arena.Tag
		want arena.Tag
	}{
		{ProgressCb{}.Tag(), arena.Unset},
		{ProgressCb{Raw: &Raw{}}.Tag(), arena.RawEscape},
		{CloseMemoryCb{Func: func(fbxbridge.Buffer) {}}.Tag(), arena.Callback},
	}
	for i, tt := range tags {
		if tt.got != tt.want {
			t.Errorf("tag %d = %s, want %s", i, tt.got, tt.want)
		}
	}
	if f.d.Registered() != 0 {
		t.Errorf("raw and unset fields registered %d values", f.d.Registered())
	}
}

func TestOpenFileNoStream(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nativetest.Config{})
	var seen string
	cb, err := OpenFileCb{Func: func(_ context.Context, path string, info FileInfo) (stream.Stream, error) {
		seen = path
		return stream.Stream{}, nil
	}}.Translate(f.scope)
	if err != nil {
		t.Fatal(err)
	}

	mem := f.engine.Mem()
	sentinel := bytes.Repeat([]byte{0xAA}, int(abi.Stream.Size))
	out := mem.Put(sentinel)
	path := mem.Put([]byte("textures/wood.png"))

	if f.d.OpenFile(ctx, mem, cb.User, out, path, 17, 0) {
		t.Fatal("OpenFile reported a stream")
	}
	if seen != "textures/wood.png" {
		t.Errorf("path = %q", seen)
	}
	got, _ := mem.Read(out, abi.Stream.Size)
	if !bytes.Equal(got, sentinel) {
		t.Error("output stream was written")
	}
}

func TestOpenFileError(t *testing.T) {
	f := newFixture(t, nativetest.Config{})
	cb, _ := OpenFileCb{Func: func(context.Context, string, FileInfo) (stream.Stream, error) {
		return stream.Stream{}, stderrors.New("denied")
	}}.Translate(f.scope)

	mem := f.engine.Mem()
	out := mem.Put(make([]byte, abi.Stream.Size))
	if f.d.OpenFile(context.Background(), mem, cb.User, out, 0, 0, 0) {
		t.Fatal("OpenFile succeeded despite error")
	}
}

func TestOpenFileStream(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nativetest.Config{})
	rc := &closeCount{Reader: strings.NewReader("hello engine")}

	var info FileInfo
	cb, _ := OpenFileCb{Func: func(_ context.Context, path string, fi FileInfo) (stream.Stream, error) {
		info = fi
		return stream.Reader(rc), nil
	}}.Translate(f.scope)

	mem := f.engine.Mem()
	out := mem.Put(make([]byte, abi.Stream.Size))
	path := mem.Put([]byte("a.fbx"))
	fi := abi.NewFrame(abi.OpenFileInfo)
	fi.SetU32("type", abi.OpenFileGeometryCache)
	fi.SetSpan("original_filename", abi.Span{Ptr: path, Len: 5})
	infoPtr := mem.Put(fi.Bytes())

	if !f.d.OpenFile(ctx, mem, cb.User, out, path, 5, infoPtr) {
		t.Fatal("OpenFile failed")
	}
	if info.Type != FileGeometryCache || info.OriginalName != "a.fbx" {
		t.Errorf("info = %+v", info)
	}

	sf, err := abi.ReadFrame(mem, out, abi.Stream)
	if err != nil {
		t.Fatal(err)
	}
	desc := stream.DescriptorOf(sf)
	if desc.Read != f.engine.Trampoline(abi.TrampolineRead) || desc.Close != f.engine.Trampoline(abi.TrampolineClose) {
		t.Fatalf("descriptor = %+v", desc)
	}

	buf := mem.Put(make([]byte, 64))
	if !f.d.StreamSkip(ctx, mem, desc.User, 6) {
		t.Fatal("skip failed")
	}
	n := f.d.StreamRead(ctx, mem, desc.User, buf, 64)
	got, _ := mem.Read(buf, n)
	if string(got) != "engine" {
		t.Errorf("read %q", got)
	}
	if n := f.d.StreamRead(ctx, mem, desc.User, buf, 64); n != 0 {
		t.Errorf("read at end = %d", n)
	}
	if n := f.d.StreamRead(ctx, mem, desc.User, mem.Size()-4, 64); n != abi.ReadError {
		t.Errorf("read into out-of-bounds buffer = %d", n)
	}

	f.d.StreamClose(ctx, mem, desc.User)
	f.scope.Close()
	if rc.closes != 1 {
		t.Errorf("stream closed %d times, want 1", rc.closes)
	}
	if f.d.Registered() != 0 {
		t.Errorf("%d registrations outlived the scope", f.d.Registered())
	}
}

type closeCount struct {
	*strings.Reader
	closes int
}

func (c *closeCount) Close() error {
	c.closes++
	return nil
}

func TestScopeClosesAbandonedStreams(t *testing.T) {
	f := newFixture(t, nativetest.Config{})
	rc := &closeCount{Reader: strings.NewReader("data")}
	if _, err := f.scope.Stream(stream.Reader(rc)); err != nil {
		t.Fatal(err)
	}
	f.scope.Close()
	f.scope.Close()
	if rc.closes != 1 {
		t.Errorf("closes = %d, want 1", rc.closes)
	}
}

func TestCloseMemoryAtMostOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nativetest.Config{})
	var got []fbxbridge.Buffer
	cb, err := CloseMemoryCb{Func: func(b fbxbridge.Buffer) { got = append(got, b) }}.Translate(f.scope)
	if err != nil {
		t.Fatal(err)
	}
	released := 0
	release := f.scope.Keep(func() { released++ })
	f.scope.Close()
	if f.d.Registered() != 1 {
		t.Fatalf("kept registration count = %d", f.d.Registered())
	}

	f.d.CloseMemory(ctx, f.engine.Memory(), cb.User, 0x800, 16)
	f.d.CloseMemory(ctx, f.engine.Memory(), cb.User, 0x800, 16)
	if len(got) != 1 || got[0] != (fbxbridge.Buffer{Ptr: 0x800, Len: 16}) {
		t.Errorf("calls = %+v", got)
	}
	if f.d.Registered() != 0 {
		t.Errorf("fired callback still registered")
	}
	if released != 1 {
		t.Errorf("released ran %d times, want 1", released)
	}
	release()
}

func TestKeep(t *testing.T) {
	ctx := context.Background()
	closeCb := CloseMemoryCb{Func: func(fbxbridge.Buffer) {}}

	t.Run("nothing owned", func(t *testing.T) {
		f := newFixture(t, nativetest.Config{})
		if _, err := (ProgressCb{Func: func(ProgressInfo) ProgressResult { return Continue }}).Translate(f.scope); err != nil {
			t.Fatal(err)
		}
		if f.scope.Keep(func() { t.Error("released ran") }) != nil {
			t.Error("Keep returned a release function for call-scoped registrations")
		}
	})

	t.Run("already ended", func(t *testing.T) {
		f := newFixture(t, nativetest.Config{})
		cb, err := closeCb.Translate(f.scope)
		if err != nil {
			t.Fatal(err)
		}
		f.d.CloseMemory(ctx, f.engine.Memory(), cb.User, 0x800, 4)
		released := 0
		if f.scope.Keep(func() { released++ }) != nil {
			t.Error("Keep returned a release function after the engine ended everything")
		}
		if released != 1 {
			t.Errorf("released ran %d times, want 1", released)
		}
	})

	t.Run("partly ended", func(t *testing.T) {
		f := newFixture(t, nativetest.Config{})
		first, err := closeCb.Translate(f.scope)
		if err != nil {
			t.Fatal(err)
		}
		second, err := closeCb.Translate(f.scope)
		if err != nil {
			t.Fatal(err)
		}
		released := 0
		release := f.scope.Keep(func() { released++ })
		f.scope.Close()
		f.d.CloseMemory(ctx, f.engine.Memory(), first.User, 0x800, 4)
		if released != 0 {
			t.Fatal("released ran with a registration outstanding")
		}
		f.d.CloseMemory(ctx, f.engine.Memory(), second.User, 0x900, 4)
		if released != 1 || f.d.Registered() != 0 {
			t.Errorf("released = %d, registered = %d", released, f.d.Registered())
		}
		release()
	})

	t.Run("released by caller", func(t *testing.T) {
		f := newFixture(t, nativetest.Config{})
		if _, err := closeCb.Translate(f.scope); err != nil {
			t.Fatal(err)
		}
		release := f.scope.Keep(nil)
		f.scope.Close()
		if f.d.Registered() != 1 {
			t.Fatalf("registered = %d, want 1", f.d.Registered())
		}
		release()
		if f.d.Registered() != 0 {
			t.Errorf("registered = %d after release", f.d.Registered())
		}
	})
}

func TestCloseMemoryUndeclared(t *testing.T) {
	f := newFixture(t, nativetest.Config{})
	cb, err := CloseMemoryCb{}.Translate(f.scope)
	if err != nil || cb != (abi.Callback{}) {
		t.Fatalf("undeclared callback = %+v, %v", cb, err)
	}
	if f.d.Registered() != 0 {
		t.Error("undeclared callback registered")
	}
}

func TestPanicIsRethrown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nativetest.Config{})
	cb, _ := ProgressCb{Func: func(ProgressInfo) ProgressResult {
		panic("progress exploded")
	}}.Translate(f.scope)

	ptr := f.progressFrame(t, 0, 0)
	if r := f.d.Progress(ctx, f.engine.Memory(), cb.User, ptr); r != abi.ProgressCancel {
		t.Errorf("panicking progress returned %#x", r)
	}
	op, v := f.scope.Fault()
	if op != "progress" || v != "progress exploded" {
		t.Errorf("fault = %s %v", op, v)
	}

	defer func() {
		if r := recover(); r != "progress exploded" {
			t.Errorf("Rethrow panicked with %v", r)
		}
	}()
	f.scope.Rethrow()
	t.Fatal("Rethrow returned")
}

func TestUnknownContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nativetest.Config{})
	mem := f.engine.Memory()

	if r := f.d.Progress(ctx, mem, 99, 0); r != abi.ProgressContinue {
		t.Errorf("Progress = %#x", r)
	}
	if n := f.d.StreamRead(ctx, mem, 99, 0, 0); n != abi.ReadError {
		t.Errorf("StreamRead = %d", n)
	}
	if f.d.OpenFile(ctx, mem, 99, 0, 0, 0, 0) {
		t.Error("OpenFile succeeded")
	}
	if p := f.d.Alloc(ctx, mem, 99, 16); p != 0 {
		t.Errorf("Alloc = %d", p)
	}

	// A progress context must not resolve as a stream.
	cb, _ := ProgressCb{Func: func(ProgressInfo) ProgressResult { return Continue }}.Translate(f.scope)
	if n := f.d.StreamRead(ctx, mem, cb.User, 0, 0); n != abi.ReadError {
		t.Errorf("StreamRead on progress context = %d", n)
	}
}

func TestMissingTrampolines(t *testing.T) {
	f := newFixture(t, nativetest.Config{NoTrampolines: true})
	unsupported := &errors.Error{Phase: errors.PhaseTranslate, Kind: errors.KindUnsupported}

	_, err := ProgressCb{Func: func(ProgressInfo) ProgressResult { return Continue }}.Translate(f.scope)
	if !stderrors.Is(err, unsupported) {
		t.Errorf("progress: %v", err)
	}
	_, err = f.scope.Stream(stream.Reader(strings.NewReader("x")))
	if !stderrors.Is(err, unsupported) {
		t.Errorf("stream: %v", err)
	}
}

func TestScopeReleasesRegistrations(t *testing.T) {
	f := newFixture(t, nativetest.Config{})
	for i := 0; i < 3; i++ {
		if _, err := (ProgressCb{Func: func(ProgressInfo) ProgressResult { return Continue }}).Translate(f.scope); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := AllocatorOf(NewHeap(f.engine.Memory(), f.engine.Allocator())).Translate(f.scope); err != nil {
		t.Fatal(err)
	}
	if f.d.Registered() != 4 {
		t.Fatalf("Registered = %d, want 4", f.d.Registered())
	}
	f.scope.Close()
	if f.d.Registered() != 0 {
		t.Errorf("Registered after Close = %d", f.d.Registered())
	}
}
