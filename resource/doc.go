// Package resource manages the two kinds of identity that cross the engine
// boundary.
//
// # Registry
//
// Go values the engine calls back into (progress closures, stream
// adapters, allocators) are stored in a Registry. The returned Handle is
// passed as the engine's context pointer; handle 0 stays reserved as null.
//
//	reg := resource.NewRegistry()
//	h, _ := reg.Register(kind, value)
//	v, ok := reg.Lookup(h, kind)
//	reg.Release(h)
//
// # Roots
//
// A Root owns one reference to a refcounted engine object such as a scene.
// Clone calls the engine's retain and returns an independent root; Close
// calls release once, no matter how often it is called. N clones followed
// by N+1 closes free the object exactly once.
//
//	root, _ := resource.Wrap(hub, ops, ptr, nil)
//	defer root.Close(ctx)
//
// Roots carry no finalizers. A Hub counts live roots and reports created,
// cloned and dropped events to observers, which is how leaks are found.
package resource
