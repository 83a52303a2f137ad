package engine

import (
	"context"

	"go.uber.org/zap"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
)

// Native is the flat call contract of the scene engine. Pointers are
// linear-memory offsets and every argument and result is a raw wasm value.
type Native interface {
	// Memory returns the engine's linear memory.
	Memory() fbxbridge.Memory

	// Allocator returns the engine heap.
	Allocator() fbxbridge.Allocator

	// Call invokes an engine export.
	Call(ctx context.Context, fn string, args ...uint64) ([]uint64, error)

	// Trampoline returns the function pointer of a trampoline kind, or 0
	// when the engine build has none.
	Trampoline(kind abi.Trampoline) uint32

	// Bind routes trampoline invocations to h.
	Bind(h Host)

	Close(ctx context.Context) error
}

// Host receives engine calls made through trampolines. user is the context
// pointer stored next to the function pointer in the engine struct.
type Host interface {
	StreamRead(ctx context.Context, mem fbxbridge.Memory, user, buf, size uint32) uint32
	StreamSkip(ctx context.Context, mem fbxbridge.Memory, user, size uint32) bool
	StreamClose(ctx context.Context, mem fbxbridge.Memory, user uint32)

	OpenFile(ctx context.Context, mem fbxbridge.Memory, user, stream, path, pathLen, info uint32) bool
	Progress(ctx context.Context, mem fbxbridge.Memory, user, progress uint32) uint32
	CloseMemory(ctx context.Context, mem fbxbridge.Memory, user, data, size uint32)

	Alloc(ctx context.Context, mem fbxbridge.Memory, user, size uint32) uint32
	Realloc(ctx context.Context, mem fbxbridge.Memory, user, ptr, oldSize, newSize uint32) uint32
	Free(ctx context.Context, mem fbxbridge.Memory, user, ptr, size uint32)
	FreeAllocator(ctx context.Context, mem fbxbridge.Memory, user uint32)

	PoolInit(ctx context.Context, mem fbxbridge.Memory, user, pool, info uint32) bool
	PoolRun(ctx context.Context, mem fbxbridge.Memory, user, pool, group, start, count uint32) bool
	PoolWait(ctx context.Context, mem fbxbridge.Memory, user, pool, group, maxIndex uint32) bool
	PoolFree(ctx context.Context, mem fbxbridge.Memory, user, pool uint32)
}

// Capabilities are engine properties queried once per engine.
type Capabilities struct {
	ThreadSafe bool
}

// QueryCapabilities runs the one-time capability queries against n.
func QueryCapabilities(ctx context.Context, n Native) (Capabilities, error) {
	res, err := n.Call(ctx, abi.FnIsThreadSafe)
	if err != nil {
		return Capabilities{}, err
	}
	caps := Capabilities{}
	if len(res) > 0 {
		caps.ThreadSafe = uint32(res[0]) != 0
	}
	Logger().Debug("engine capabilities", zap.Bool("thread_safe", caps.ThreadSafe))
	return caps, nil
}
