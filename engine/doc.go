// Package engine runs the ufbx scene engine and defines its call contract.
//
// The engine is a wasm32 build of ufbx plus a small shim. Native is the
// contract the rest of the module codes against:
//
//	Memory()      linear memory; pointers are uint32 offsets, 0 is null
//	Allocator()   the guest heap (malloc/free exports)
//	Call()        flat call of an export with raw wasm values
//	Trampoline()  function table index of a guest trampoline
//	Bind()        routes trampoline invocations to a Host
//
// # Trampolines
//
// Engine structs hold C function pointers. The shim compiles one guest
// function per callback shape (stream read, progress, allocator, ...) that
// forwards its arguments to an import of the "ufbx_host" module. At
// instantiation the engine asks the shim for each trampoline's table index
// via ufbxw_trampoline; callback descriptors are built from those indices
// plus a context pointer that the bound Host resolves.
//
// # Serialization
//
// A wasm instance has a single stack, so Wazero serializes calls with one
// mutex. Trampolines run inside a call; engine calls they make (guest
// allocation, thread pool tasks) carry the caller's context and re-enter
// without taking the lock again.
//
// # Capabilities
//
// QueryCapabilities runs the one-time queries (ufbx_is_thread_safe) that
// decide whether handles may be shared across goroutines.
package engine
