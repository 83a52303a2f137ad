// Package arena builds engine option structs out of Go values.
//
// An Arena is created per engine call. Option fields are small tagged
// values (String, Blob, List) whose Translate method resolves them into
// the {pointer, length} spans the engine reads: Unset fields become the
// null span, Owned fields are copied into arena memory, and Borrowed
// fields pass through pointer-identical. Empty values of any tag become
// {0, 0}; the engine relies on that.
//
// Releasing the arena frees every allocation, so it must outlive the call:
//
//	a := arena.New(native.Memory(), native.Allocator())
//	defer a.Release(ctx)
//	name, err := arena.StringOf("scene.fbx").Translate(ctx, a)
package arena
