package callback

import (
	"context"
	"sync"

	"go.uber.org/zap"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
)

// Allocator serves engine allocations from Go. Pointers it returns must be
// engine memory; 0 reports failure.
type Allocator interface {
	Alloc(ctx context.Context, size uint32) uint32
	Realloc(ctx context.Context, ptr, oldSize, newSize uint32) uint32
	Free(ctx context.Context, ptr, size uint32)

	// FreeAllocator is called once when the engine is done with the
	// allocator.
	FreeAllocator(ctx context.Context)
}

type allocatorKind uint8

const (
	allocDefault allocatorKind = iota
	allocSystem
	allocInterface
	allocRaw
)

// RawAllocatorFuncs are engine function pointers of an ufbx_allocator.
type RawAllocatorFuncs struct {
	Alloc         uint32
	Realloc       uint32
	Free          uint32
	FreeAllocator uint32
	User          uint32
}

// AllocatorOpt selects the allocator of an engine call. The zero value is
// the engine's default allocator.
type AllocatorOpt struct {
	impl Allocator
	raw  RawAllocatorFuncs
	kind allocatorKind
}

// DefaultAllocator leaves allocation to the engine.
func DefaultAllocator() AllocatorOpt {
	return AllocatorOpt{}
}

// SystemAllocator routes allocations through Go onto the engine heap, so
// they are visible to the host.
func SystemAllocator() AllocatorOpt {
	return AllocatorOpt{kind: allocSystem}
}

// AllocatorOf uses a.
func AllocatorOf(a Allocator) AllocatorOpt {
	if a == nil {
		return AllocatorOpt{}
	}
	return AllocatorOpt{impl: a, kind: allocInterface}
}

// RawAllocator passes engine allocator functions through unchecked.
func RawAllocator(_ arena.Unchecked, fns RawAllocatorFuncs) AllocatorOpt {
	return AllocatorOpt{raw: fns, kind: allocRaw}
}

func (o AllocatorOpt) Tag() arena.Tag {
	switch o.kind {
	case allocSystem, allocInterface:
		return arena.Callback
	case allocRaw:
		return arena.RawEscape
	}
	return arena.Unset
}

type allocatorEntry struct {
	ownership
	impl Allocator
}

// Translate returns the ufbx_allocator image. Allocator registrations are
// owned: the engine ends them through free_allocator.
func (o AllocatorOpt) Translate(s *Scope) (*abi.Frame, error) {
	f := abi.NewFrame(abi.Allocator)
	var impl Allocator
	switch o.kind {
	case allocDefault:
		return f, nil
	case allocRaw:
		f.SetU32("alloc_fn", o.raw.Alloc)
		f.SetU32("realloc_fn", o.raw.Realloc)
		f.SetU32("free_fn", o.raw.Free)
		f.SetU32("free_allocator_fn", o.raw.FreeAllocator)
		f.SetU32("user", o.raw.User)
		return f, nil
	case allocSystem:
		n := s.d.native
		impl = NewHeap(n.Memory(), n.Allocator())
	case allocInterface:
		impl = o.impl
	}

	cb, err := s.register(abi.TrampolineAlloc, kindAllocator, &allocatorEntry{impl: impl}, true)
	if err != nil {
		return nil, err
	}
	n := s.d.native
	f.SetU32("alloc_fn", cb.Fn)
	f.SetU32("realloc_fn", n.Trampoline(abi.TrampolineRealloc))
	f.SetU32("free_fn", n.Trampoline(abi.TrampolineFree))
	f.SetU32("free_allocator_fn", n.Trampoline(abi.TrampolineFreeAllocator))
	f.SetU32("user", cb.User)
	return f, nil
}

// heapAlign is the alignment of Heap allocations, enough for any engine
// scalar.
const heapAlign = 8

// HeapStats counts Heap activity.
type HeapStats struct {
	Allocs    int
	Frees     int
	Reallocs  int
	LiveBytes uint64
	PeakBytes uint64
	Finished  bool
}

// Heap is an Allocator over the engine's own heap that keeps statistics.
type Heap struct {
	mem   fbxbridge.Memory
	alloc fbxbridge.Allocator
	stats HeapStats
	mu    sync.Mutex
}

// NewHeap returns a heap allocator backed by alloc.
func NewHeap(mem fbxbridge.Memory, alloc fbxbridge.Allocator) *Heap {
	return &Heap{mem: mem, alloc: alloc}
}

func (h *Heap) Alloc(ctx context.Context, size uint32) uint32 {
	ptr, err := h.alloc.Alloc(ctx, size, heapAlign)
	if err != nil {
		Logger().Debug("heap allocation failed", zap.Uint32("size", size), zap.Error(err))
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.Allocs++
	h.stats.LiveBytes += uint64(size)
	h.stats.PeakBytes = max(h.stats.PeakBytes, h.stats.LiveBytes)
	return ptr
}

func (h *Heap) Realloc(ctx context.Context, ptr, oldSize, newSize uint32) uint32 {
	next := h.Alloc(ctx, newSize)
	if next == 0 {
		return 0
	}
	if ptr != 0 {
		if n := min(oldSize, newSize); n > 0 {
			data, err := h.mem.Read(ptr, n)
			if err != nil || h.mem.Write(next, data) != nil {
				h.Free(ctx, next, newSize)
				return 0
			}
		}
		h.Free(ctx, ptr, oldSize)
	}
	h.mu.Lock()
	h.stats.Reallocs++
	h.mu.Unlock()
	return next
}

func (h *Heap) Free(ctx context.Context, ptr, size uint32) {
	if ptr == 0 {
		return
	}
	h.alloc.Free(ctx, ptr, size, heapAlign)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.Frees++
	h.stats.LiveBytes -= min(h.stats.LiveBytes, uint64(size))
}

func (h *Heap) FreeAllocator(context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.Finished = true
}

// Stats returns a snapshot of the counters.
func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

var _ Allocator = (*Heap)(nil)
