package ufbx

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/callback"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/resource"
)

// call is one invocation of an engine entry point: the arena holding its
// translated arguments, the scope of its callback registrations and its
// error record.
type call struct {
	c      *Context
	arena  *arena.Arena
	scope  *callback.Scope
	fn     string
	errPtr uint32
}

func (c *Context) begin(fn string) (*call, error) {
	if c.closed.Load() {
		return nil, errors.Closed(errors.PhaseCall, "ufbx context")
	}
	a := arena.New(c.native.Memory(), c.native.Allocator())
	return &call{c: c, arena: a, scope: c.d.NewScope(a), fn: fn}, nil
}

// end frees the call's arena and registrations, then re-raises a panic
// recovered from a user callback.
func (k *call) end(ctx context.Context) {
	k.scope.Close()
	k.arena.Release(ctx)
	k.scope.Rethrow()
}

// place copies f into the arena. A nil frame is the null pointer.
func (k *call) place(ctx context.Context, f *abi.Frame) (uint32, error) {
	if f == nil {
		return 0, nil
	}
	return k.arena.Frame(ctx, f)
}

// errorRecord allocates the zeroed error out-parameter.
func (k *call) errorRecord(ctx context.Context) (uint32, error) {
	ptr, err := k.arena.Alloc(ctx, abi.Error.Size, abi.Error.Align)
	if err != nil {
		return 0, err
	}
	k.errPtr = ptr
	return ptr, nil
}

func (k *call) invoke(ctx context.Context, args ...uint64) (uint32, error) {
	res, err := k.c.call(ctx, k.fn, args...)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	return uint32(res[0]), nil
}

// outcome classifies the result of a fallible call. A filled error record
// is a native error whatever the result; a null result with an empty
// record is reported as an unknown native error.
func (k *call) outcome(result uint32) error {
	ne, err := abi.DecodeError(k.c.native.Memory(), k.errPtr)
	if err != nil {
		return errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "read error record of "+k.fn)
	}
	switch {
	case ne != nil:
		Logger().Debug("engine error",
			zap.String("fn", k.fn),
			zap.Stringer("type", ne.Type),
			zap.String("description", ne.Description))
		return ne
	case result == 0:
		return &errors.NativeError{Type: errors.ErrorUnknown, Description: k.fn + " failed without an error record"}
	}
	return nil
}

// adopt wraps the reference returned by a constructor. Owned callback
// registrations of the call move to the handle and are dropped after its
// last root closes. On failure a non-null result is released.
func (k *call) adopt(ctx context.Context, ptr uint32, ops *resource.Ops) (*resource.Root, error) {
	if err := k.outcome(ptr); err != nil {
		if ptr != 0 {
			_ = ops.Release(ctx, ptr)
		}
		return nil, err
	}
	if op, fault := k.scope.Fault(); fault != nil {
		// end re-raises the panic; the object never reaches the caller.
		Logger().Debug("dropping result of call with panicking callback",
			zap.String("fn", k.fn), zap.String("op", op))
		_ = ops.Release(ctx, ptr)
		return nil, errors.New(errors.PhaseCallback, errors.KindTrap).Detail("callback %s panicked", op).Build()
	}

	if k.c.closed.Load() {
		_ = ops.Release(ctx, ptr)
		return nil, errors.Closed(errors.PhaseCall, "ufbx context")
	}
	drop, err := k.c.keep(k.scope)
	if err != nil {
		_ = ops.Release(ctx, ptr)
		return nil, err
	}
	root, err := resource.Wrap(k.c.hub, ops, ptr, func(context.Context) { drop() })
	if err != nil {
		drop()
		return nil, err
	}
	Logger().Debug("handle created", zap.String("fn", k.fn), zap.String("kind", ops.Kind), zap.Uint32("ptr", ptr))
	return root, nil
}

// catch runs a panic-channel export with a fresh panic record as its first
// argument. A raised record becomes a Go panic carrying the engine's
// message; the deferred end still frees the call's memory.
func (k *call) catch(ctx context.Context, args ...uint64) (uint32, error) {
	p, err := k.arena.Alloc(ctx, abi.Panic.Size, abi.Panic.Align)
	if err != nil {
		return 0, err
	}
	res, err := k.invoke(ctx, append([]uint64{uint64(p)}, args...)...)
	if err != nil {
		return 0, err
	}
	did, msg, err := abi.DecodePanic(k.c.native.Memory(), p)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "read panic record of "+k.fn)
	}
	if did {
		Logger().Debug("engine panic", zap.String("fn", k.fn), zap.String("message", msg))
		panic(&errors.PanicError{Op: k.fn, Message: msg})
	}
	return res, nil
}
