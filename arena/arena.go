package arena

import (
	"context"
	"math"
	"sync"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/errors"
)

type allocation struct {
	ptr   uint32
	size  uint32
	align uint32
}

type allocationList struct {
	allocations []allocation
}

var allocationListPool = sync.Pool{
	New: func() any {
		return &allocationList{allocations: make([]allocation, 0, 16)}
	},
}

const maxPooledAllocations = 256

// Arena owns the engine memory written while translating one options
// value. Everything it hands out is valid until Release, which must happen
// after the engine call the options were built for has returned.
type Arena struct {
	mem      fbxbridge.Memory
	alloc    fbxbridge.Allocator
	list     *allocationList
	bytes    uint64
	released bool
}

// New returns an empty arena over mem and alloc.
func New(mem fbxbridge.Memory, alloc fbxbridge.Allocator) *Arena {
	return &Arena{
		mem:   mem,
		alloc: alloc,
		list:  allocationListPool.Get().(*allocationList),
	}
}

func (a *Arena) Memory() fbxbridge.Memory {
	return a.mem
}

// Alloc reserves zeroed engine memory owned by the arena.
func (a *Arena) Alloc(ctx context.Context, size, align uint32) (uint32, error) {
	if a.released {
		return 0, errors.Closed(errors.PhaseTranslate, "arena")
	}
	ptr, err := a.alloc.Alloc(ctx, size, align)
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseTranslate, size, align)
	}
	a.list.allocations = append(a.list.allocations, allocation{ptr: ptr, size: size, align: align})
	a.bytes += uint64(size)
	return ptr, a.zero(ptr, size)
}

func (a *Arena) zero(ptr, size uint32) error {
	if size == 0 {
		return nil
	}
	if err := a.mem.Write(ptr, make([]byte, size)); err != nil {
		return errors.Wrap(errors.PhaseTranslate, errors.KindOutOfBounds, err, "zero arena allocation")
	}
	return nil
}

// Bytes copies data into the arena. Empty data yields the null span and
// allocates nothing.
func (a *Arena) Bytes(ctx context.Context, data []byte) (abi.Span, error) {
	if len(data) == 0 {
		return abi.Span{}, nil
	}
	if err := checkLen(uint64(len(data)), 0); err != nil {
		return abi.Span{}, err
	}
	size := uint32(len(data))
	ptr, err := a.Alloc(ctx, size, 1)
	if err != nil {
		return abi.Span{}, err
	}
	if err := a.mem.Write(ptr, data); err != nil {
		return abi.Span{}, errors.Wrap(errors.PhaseTranslate, errors.KindOutOfBounds, err, "write arena bytes")
	}
	return abi.Span{Ptr: ptr, Len: size}, nil
}

// checkLen fails when n bytes plus reserve do not fit an engine size_t.
func checkLen(n, reserve uint64) error {
	if n > math.MaxUint32-reserve {
		return errors.Overflow(errors.PhaseTranslate, nil, n, "size_t")
	}
	return nil
}

// String copies s into the arena with a trailing NUL that is not counted
// in the span length.
func (a *Arena) String(ctx context.Context, s string) (abi.Span, error) {
	if s == "" {
		return abi.Span{}, nil
	}
	if err := checkLen(uint64(len(s)), 1); err != nil {
		return abi.Span{}, err
	}
	n := uint32(len(s))
	ptr, err := a.Alloc(ctx, n+1, 1)
	if err != nil {
		return abi.Span{}, err
	}
	if err := a.mem.Write(ptr, []byte(s)); err != nil {
		return abi.Span{}, errors.Wrap(errors.PhaseTranslate, errors.KindOutOfBounds, err, "write arena string")
	}
	return abi.Span{Ptr: ptr, Len: n}, nil
}

// Frame copies a struct image into the arena and returns its address.
func (a *Arena) Frame(ctx context.Context, f *abi.Frame) (uint32, error) {
	s := f.Struct()
	ptr, err := a.Alloc(ctx, s.Size, s.Align)
	if err != nil {
		return 0, err
	}
	if err := f.WriteTo(a.mem, ptr); err != nil {
		return 0, errors.Wrap(errors.PhaseTranslate, errors.KindOutOfBounds, err, "write arena struct")
	}
	return ptr, nil
}

// Count returns the number of live allocations.
func (a *Arena) Count() int {
	if a.released {
		return 0
	}
	return len(a.list.allocations)
}

// Size returns the total bytes allocated.
func (a *Arena) Size() uint64 {
	return a.bytes
}

// Release frees every allocation. Calling it again is a no-op.
func (a *Arena) Release(ctx context.Context) {
	if a.released {
		return
	}
	a.released = true
	for i := len(a.list.allocations) - 1; i >= 0; i-- {
		al := a.list.allocations[i]
		a.alloc.Free(ctx, al.ptr, al.size, al.align)
	}
	if cap(a.list.allocations) <= maxPooledAllocations {
		a.list.allocations = a.list.allocations[:0]
		allocationListPool.Put(a.list)
	}
	a.list = nil
}
