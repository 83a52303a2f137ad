package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
)

// hostImport describes one function of the ufbx_host module. Every
// parameter and result is an i32.
type hostImport struct {
	call    func(ctx context.Context, h Host, mem fbxbridge.Memory, stack []uint64)
	kind    abi.Trampoline
	params  int
	results int
}

func u32(v uint64) uint32 { return uint32(v) }

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

var hostImports = []hostImport{
	{kind: abi.TrampolineRead, params: 3, results: 1, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		s[0] = uint64(h.StreamRead(ctx, mem, u32(s[0]), u32(s[1]), u32(s[2])))
	}},
	{kind: abi.TrampolineSkip, params: 2, results: 1, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		s[0] = b2u(h.StreamSkip(ctx, mem, u32(s[0]), u32(s[1])))
	}},
	{kind: abi.TrampolineClose, params: 1, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		h.StreamClose(ctx, mem, u32(s[0]))
	}},
	{kind: abi.TrampolineOpenFile, params: 5, results: 1, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		s[0] = b2u(h.OpenFile(ctx, mem, u32(s[0]), u32(s[1]), u32(s[2]), u32(s[3]), u32(s[4])))
	}},
	{kind: abi.TrampolineProgress, params: 2, results: 1, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		s[0] = uint64(h.Progress(ctx, mem, u32(s[0]), u32(s[1])))
	}},
	{kind: abi.TrampolineCloseMemory, params: 3, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		h.CloseMemory(ctx, mem, u32(s[0]), u32(s[1]), u32(s[2]))
	}},
	{kind: abi.TrampolineAlloc, params: 2, results: 1, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		s[0] = uint64(h.Alloc(ctx, mem, u32(s[0]), u32(s[1])))
	}},
	{kind: abi.TrampolineRealloc, params: 4, results: 1, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		s[0] = uint64(h.Realloc(ctx, mem, u32(s[0]), u32(s[1]), u32(s[2]), u32(s[3])))
	}},
	{kind: abi.TrampolineFree, params: 3, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		h.Free(ctx, mem, u32(s[0]), u32(s[1]), u32(s[2]))
	}},
	{kind: abi.TrampolineFreeAllocator, params: 1, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		h.FreeAllocator(ctx, mem, u32(s[0]))
	}},
	{kind: abi.TrampolinePoolInit, params: 3, results: 1, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		s[0] = b2u(h.PoolInit(ctx, mem, u32(s[0]), u32(s[1]), u32(s[2])))
	}},
	{kind: abi.TrampolinePoolRun, params: 5, results: 1, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		s[0] = b2u(h.PoolRun(ctx, mem, u32(s[0]), u32(s[1]), u32(s[2]), u32(s[3]), u32(s[4])))
	}},
	{kind: abi.TrampolinePoolWait, params: 4, results: 1, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		s[0] = b2u(h.PoolWait(ctx, mem, u32(s[0]), u32(s[1]), u32(s[2]), u32(s[3])))
	}},
	{kind: abi.TrampolinePoolFree, params: 2, call: func(ctx context.Context, h Host, mem fbxbridge.Memory, s []uint64) {
		h.PoolFree(ctx, mem, u32(s[0]), u32(s[1]))
	}},
}

func i32s(n int) []api.ValueType {
	if n == 0 {
		return nil
	}
	types := make([]api.ValueType, n)
	for i := range types {
		types[i] = api.ValueTypeI32
	}
	return types
}

// instantiateHost registers the ufbx_host module whose functions the guest
// trampolines import. Each forwards to the currently bound Host.
func (e *Wazero) instantiateHost(ctx context.Context) error {
	builder := e.runtime.NewHostModuleBuilder(HostModule)
	for _, imp := range hostImports {
		imp := imp
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
				imp.call(ctx, e.boundHost(), e.memory, stack)
			}), i32s(imp.params), i32s(imp.results)).
			Export(imp.kind.String())
	}
	_, err := builder.Instantiate(ctx)
	return err
}

// nopHost answers every trampoline with failure. It is bound until a
// callback registry takes over.
type nopHost struct{}

func (nopHost) StreamRead(context.Context, fbxbridge.Memory, uint32, uint32, uint32) uint32 {
	return abi.ReadError
}

func (nopHost) StreamSkip(context.Context, fbxbridge.Memory, uint32, uint32) bool {
	return false
}

func (nopHost) StreamClose(context.Context, fbxbridge.Memory, uint32) {}

func (nopHost) OpenFile(context.Context, fbxbridge.Memory, uint32, uint32, uint32, uint32, uint32) bool {
	return false
}

func (nopHost) Progress(context.Context, fbxbridge.Memory, uint32, uint32) uint32 {
	return abi.ProgressContinue
}

func (nopHost) CloseMemory(context.Context, fbxbridge.Memory, uint32, uint32, uint32) {}

func (nopHost) Alloc(context.Context, fbxbridge.Memory, uint32, uint32) uint32 {
	return 0
}

func (nopHost) Realloc(context.Context, fbxbridge.Memory, uint32, uint32, uint32, uint32) uint32 {
	return 0
}

func (nopHost) Free(context.Context, fbxbridge.Memory, uint32, uint32, uint32) {}

func (nopHost) FreeAllocator(context.Context, fbxbridge.Memory, uint32) {}

func (nopHost) PoolInit(context.Context, fbxbridge.Memory, uint32, uint32, uint32) bool {
	return false
}

func (nopHost) PoolRun(context.Context, fbxbridge.Memory, uint32, uint32, uint32, uint32, uint32) bool {
	return false
}

func (nopHost) PoolWait(context.Context, fbxbridge.Memory, uint32, uint32, uint32, uint32) bool {
	return false
}

func (nopHost) PoolFree(context.Context, fbxbridge.Memory, uint32, uint32) {}

var _ Host = nopHost{}
