package resource

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	"github.com/wippyai/ufbx-bridge/errors"
)

type refStub struct {
	refs     map[uint32]int
	retains  int
	releases int
	frees    int
	fail     error
	mu       sync.Mutex
}

func newRefStub(ptrs ...uint32) *refStub {
	s := &refStub{refs: make(map[uint32]int)}
	for _, p := range ptrs {
		s.refs[p] = 1
	}
	return s
}

func (s *refStub) ops() *Ops {
	return &Ops{
		Kind: "scene",
		Retain: func(_ context.Context, ptr uint32) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.fail != nil {
				return s.fail
			}
			s.retains++
			s.refs[ptr]++
			return nil
		},
		Release: func(_ context.Context, ptr uint32) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.releases++
			s.refs[ptr]--
			if s.refs[ptr] == 0 {
				s.frees++
			}
			return nil
		},
	}
}

func TestRoot_ClonesAndCloses(t *testing.T) {
	ctx := context.Background()
	for _, n := range []int{0, 1, 5} {
		stub := newRefStub(0x100)
		finalized := 0
		root, err := Wrap(nil, stub.ops(), 0x100, func(context.Context) { finalized++ })
		if err != nil {
			t.Fatal(err)
		}

		roots := []*Root{root}
		for i := 0; i < n; i++ {
			c, err := roots[i].Clone(ctx)
			if err != nil {
				t.Fatal(err)
			}
			roots = append(roots, c)
		}
		for _, r := range roots {
			if err := r.Close(ctx); err != nil {
				t.Fatal(err)
			}
			_ = r.Close(ctx)
		}

		if stub.retains != n || stub.releases != n+1 || stub.frees != 1 {
			t.Errorf("n=%d: retains=%d releases=%d frees=%d", n, stub.retains, stub.releases, stub.frees)
		}
		if finalized != 1 {
			t.Errorf("n=%d: finalized %d times", n, finalized)
		}
	}
}

func TestRoot_NullPointer(t *testing.T) {
	_, err := Wrap(nil, newRefStub().ops(), 0, nil)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseResource, Kind: errors.KindNilPointer}) {
		t.Errorf("Wrap(0): %v", err)
	}
}

func TestRoot_UseAfterClose(t *testing.T) {
	ctx := context.Background()
	root, _ := Wrap(nil, newRefStub(0x40).ops(), 0x40, nil)
	if root.Ptr() != 0x40 {
		t.Fatalf("Ptr = %#x", root.Ptr())
	}
	_ = root.Close(ctx)

	if _, err := root.Borrow(); err == nil {
		t.Error("Borrow after Close succeeded")
	}
	if _, err := root.Clone(ctx); err == nil {
		t.Error("Clone after Close succeeded")
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Ptr after Close did not panic")
		}
		if !strings.Contains(r.(string), "closed scene root") {
			t.Errorf("panic = %v", r)
		}
	}()
	root.Ptr()
}

func TestRoot_CloneFailure(t *testing.T) {
	ctx := context.Background()
	stub := newRefStub(0x40)
	stub.fail = stderrors.New("retain trapped")
	hub := NewHub()
	root, _ := Wrap(hub, stub.ops(), 0x40, nil)

	if _, err := root.Clone(ctx); err == nil {
		t.Fatal("Clone succeeded despite retain failure")
	}
	if hub.Live() != 1 {
		t.Errorf("Live = %d, want 1", hub.Live())
	}
	_ = root.Close(ctx)
	if stub.frees != 1 {
		t.Errorf("frees = %d", stub.frees)
	}
}

func TestHub_Events(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()

	var events []EventType
	cancel := hub.Subscribe(ObserverFunc(func(e Event) {
		if e.Kind != "scene" || e.Ptr != 0x80 {
			t.Errorf("event %+v", e)
		}
		events = append(events, e.Type)
	}))

	root, _ := Wrap(hub, newRefStub(0x80).ops(), 0x80, nil)
	c, _ := root.Clone(ctx)
	if hub.Live() != 2 {
		t.Errorf("Live = %d, want 2", hub.Live())
	}
	_ = root.Close(ctx)
	_ = root.Close(ctx)
	cancel()
	_ = c.Close(ctx)

	want := []EventType{EventCreated, EventCloned, EventDropped}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, events[i], want[i])
		}
	}
	if hub.Live() != 0 {
		t.Errorf("Live = %d, want 0", hub.Live())
	}
}

func TestRoot_ConcurrentClose(t *testing.T) {
	ctx := context.Background()
	stub := newRefStub(0x10)
	root, _ := Wrap(nil, stub.ops(), 0x10, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = root.Close(ctx)
		}()
	}
	wg.Wait()
	if stub.releases != 1 {
		t.Errorf("releases = %d, want 1", stub.releases)
	}
}
