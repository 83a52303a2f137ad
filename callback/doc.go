// Package callback connects engine callbacks to Go code.
//
// The engine calls back through trampolines: fixed guest functions that
// forward to the host with the context pointer stored next to the function
// pointer. A Dispatcher implements engine.Host and resolves each context
// pointer to the Go value registered for it. Registrations are made by a
// Scope, one per engine call:
//
//	scope := dispatcher.NewScope(a)
//	defer scope.Close()
//	cb, err := callback.ProgressCb{Func: onProgress}.Translate(scope)
//	// ... engine call ...
//	scope.Rethrow()
//
// A context pointer is valid for the call it was made for and is never
// reused afterwards. The exceptions are allocators and close-memory
// callbacks, which the engine holds past the call and releases through
// free_allocator or by firing the callback.
//
// Panics in user callbacks are recovered inside the trampoline, reported
// to the engine as failure, and re-raised by Rethrow once the engine call
// has unwound. Callback fields with a Go function and a raw variant reject
// having both set when translated.
package callback
