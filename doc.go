// Package fbxbridge is a safety and marshalling layer around the ufbx scene
// loader compiled to WebAssembly.
//
// The engine itself does all parsing and geometry work. This module turns Go
// configuration into the engine's flat option structs, bridges engine
// callbacks back into Go closures, owns reference-counted scene handles and
// converts the engine's two failure channels into Go errors and panics.
//
// # Architecture Overview
//
//	fbxbridge/           Root package with Memory, Allocator, Buffer and vectors
//	├── ufbx/            High-level API: Context, Scene, Mesh, loaders
//	├── engine/          Native interface and the wazero backend
//	├── config/          Load/evaluate/subdivide options and their translation
//	├── arena/           Per-call allocation arena and option nodes
//	├── callback/        Callback registry, trampolines, allocators, pools
//	├── stream/          Stream sources: files, readers, memory, raw
//	├── resource/        Reference-counted handle ownership
//	├── abi/             Struct layouts shared with the engine
//	└── errors/          Structured, native and panic error types
//
// # Quick Start
//
//	fbx, err := ufbx.NewWazero(ctx, wasmBytes, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fbx.Close(ctx)
//
//	scene, err := fbx.LoadFile(ctx, "model.fbx", nil)
//	if errors.Is(err, fbxerrors.ErrFileNotFound) {
//	    ...
//	}
//	defer scene.Close(ctx)
//
// # Pointers
//
// Engine pointers are uint32 offsets into linear memory, with 0 as null.
// Function pointers are indices into the engine's function table and
// context pointers are ids in a host-side registry.
//
// # Thread Safety
//
// Scene and Mesh handles may be shared between goroutines only when
// Context.ThreadSafe reports true. Calls into one engine are serialized.
package fbxbridge
