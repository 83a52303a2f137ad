// Package ufbx is the high-level API of the bridge.
//
// A Context owns one engine and the dispatcher its trampolines call into.
// Loaders translate options into a per-call arena, run one engine entry
// point and wrap the returned scene in a reference-counted handle:
//
//	fbx, err := ufbx.NewWazero(ctx, wasmBytes, nil)
//	if err != nil {
//	    return err
//	}
//	defer fbx.Close(ctx)
//
//	scene, err := fbx.LoadFile(ctx, "cube.fbx", &config.LoadOpts{
//	    Progress: callback.ProgressCb{Func: report},
//	})
//	if err != nil {
//	    return err
//	}
//	defer scene.Close(ctx)
//
// # Failures
//
// Recoverable engine failures are returned as *errors.NativeError and
// match the sentinels in package errors with errors.Is. Operations that
// check preconditions through the engine's panic record (Mesh.Face,
// Mesh.TriangulateFace and the other panic-channel helpers) raise a Go
// panic with *errors.PanicError instead: those are caller bugs.
//
// A panic inside a user callback is recovered at the trampoline, the
// engine call is unwound through its normal failure path and the panic
// is raised again once the call has returned and its resources are freed.
//
// # Handles
//
// Scene, Mesh and GeometryCache have explicit lifetimes. Clone takes
// another engine reference, Close gives one back. There are no finalizers.
package ufbx
