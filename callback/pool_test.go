package callback

import (
	"context"
	stderrors "errors"
	"slices"
	"testing"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/internal/nativetest"
)

func TestSerialPoolRunsInOrder(t *testing.T) {
	ctx := context.Background()
	var ran []uint32
	tasks := Tasks{
		Start: 4,
		Count: 3,
		run: func(_ context.Context, i uint32) error {
			ran = append(ran, i)
			return nil
		},
	}

	p := &SerialPool{}
	if err := p.Init(ctx, PoolInfo{MaxConcurrentTasks: 2}); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(ctx, tasks); err != nil {
		t.Fatal(err)
	}
	if len(ran) != 0 {
		t.Fatalf("Run executed %v before Wait", ran)
	}
	if err := p.Wait(ctx, 0, 7); err != nil {
		t.Fatal(err)
	}
	p.Free(ctx)

	if want := []uint32{4, 5, 6}; !slices.Equal(ran, want) || !slices.Equal(p.Executed(), want) {
		t.Errorf("ran %v, executed %v", ran, p.Executed())
	}
	if inited, freed := p.Lifecycle(); !inited || !freed {
		t.Errorf("lifecycle = %v, %v", inited, freed)
	}
}

func TestSerialPoolStopsOnError(t *testing.T) {
	boom := stderrors.New("task failed")
	tasks := Tasks{Count: 5, run: func(_ context.Context, i uint32) error {
		if i == 2 {
			return boom
		}
		return nil
	}}
	p := &SerialPool{}
	_ = p.Run(context.Background(), tasks)
	if err := p.Wait(context.Background(), 0, 5); !stderrors.Is(err, boom) {
		t.Fatalf("Wait = %v", err)
	}
	if got := p.Executed(); !slices.Equal(got, []uint32{0, 1}) {
		t.Errorf("executed %v", got)
	}
}

func TestSerialPoolWaitBound(t *testing.T) {
	ctx := context.Background()
	var ran []uint32
	run := func(_ context.Context, i uint32) error {
		ran = append(ran, i)
		return nil
	}
	p := &SerialPool{}
	_ = p.Run(ctx, Tasks{Group: 1, Count: 4, run: run})
	_ = p.Run(ctx, Tasks{Group: 2, Count: 1, run: run})

	if err := p.Wait(ctx, 1, 2); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ran, []uint32{0, 1}) {
		t.Fatalf("after first wait ran %v", ran)
	}
	if err := p.Wait(ctx, 1, 4); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ran, []uint32{0, 1, 2, 3}) {
		t.Fatalf("after second wait ran %v", ran)
	}
	if err := p.Wait(ctx, 2, 1); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ran, []uint32{0, 1, 2, 3, 0}) {
		t.Errorf("group 2 ran %v", ran)
	}
}

func TestTasksExecuteBounds(t *testing.T) {
	tasks := Tasks{Start: 10, Count: 2, run: func(context.Context, uint32) error { return nil }}
	for _, tt := range []struct {
		index uint32
		ok    bool
	}{{9, false}, {10, true}, {11, true}, {12, false}} {
		err := tasks.Execute(context.Background(), tt.index)
		if (err == nil) != tt.ok {
			t.Errorf("Execute(%d) = %v", tt.index, err)
		}
	}
}

func TestThreadPoolTranslate(t *testing.T) {
	f := newFixture(t, nativetest.Config{})
	e := f.engine

	fr, err := Serial().Translate(f.scope)
	if err != nil {
		t.Fatal(err)
	}
	if fr.U32("run_fn") != e.Trampoline(abi.TrampolinePoolRun) || fr.U32("init_fn") != e.Trampoline(abi.TrampolinePoolInit) {
		t.Errorf("pool frame run=%#x init=%#x", fr.U32("run_fn"), fr.U32("init_fn"))
	}
	if fr.U32("user") == 0 {
		t.Error("pool not registered")
	}

	fr, _ = NoThreadPool().Translate(f.scope)
	if fr.U32("run_fn") != 0 || fr.U32("user") != 0 {
		t.Error("unset pool produced a frame")
	}

	fr, _ = RawPool(arena.Unchecked{}, RawPoolFuncs{Run: 0x310, User: 3}).Translate(f.scope)
	if fr.U32("run_fn") != 0x310 || fr.U32("user") != 3 {
		t.Error("raw pool not passed through")
	}
}

type panicPool struct{ SerialPool }

func (*panicPool) Init(context.Context, PoolInfo) error { panic("no threads today") }

func TestPoolPanicIsRecorded(t *testing.T) {
	f := newFixture(t, nativetest.Config{})
	fr, err := PoolOf(&panicPool{}).Translate(f.scope)
	if err != nil {
		t.Fatal(err)
	}
	if f.d.PoolInit(context.Background(), f.engine.Memory(), fr.U32("user"), 0, 0) {
		t.Fatal("PoolInit succeeded")
	}
	if op, v := f.scope.Fault(); op != "pool_init" || v != "no threads today" {
		t.Errorf("fault = %s %v", op, v)
	}
}
