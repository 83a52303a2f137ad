package ufbx

import (
	"context"
	"os"

	"go.uber.org/zap"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/config"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/stream"
)

// source returns the arguments that precede the options pointer of a load
// entry point.
type source func(ctx context.Context, k *call) ([]uint64, error)

func (c *Context) load(ctx context.Context, fn string, opts *config.LoadOpts, src source) (*Scene, error) {
	k, err := c.begin(fn)
	if err != nil {
		return nil, err
	}
	defer k.end(ctx)

	of, err := opts.Translate(ctx, k.scope)
	if err != nil {
		return nil, err
	}
	args, err := src(ctx, k)
	if err != nil {
		return nil, err
	}
	optsPtr, err := k.place(ctx, of)
	if err != nil {
		return nil, err
	}
	errPtr, err := k.errorRecord(ctx)
	if err != nil {
		return nil, err
	}

	ptr, err := k.invoke(ctx, append(args, uint64(optsPtr), uint64(errPtr))...)
	if err != nil {
		return nil, err
	}
	root, err := k.adopt(ctx, ptr, c.sceneOps)
	if err != nil {
		return nil, err
	}
	return &Scene{c: c, root: root}, nil
}

// LoadMemory loads a scene from data. The bytes are copied into engine
// memory for the duration of the call.
func (c *Context) LoadMemory(ctx context.Context, data []byte, opts *config.LoadOpts) (*Scene, error) {
	return c.load(ctx, abi.FnLoadMemory, opts, func(ctx context.Context, k *call) ([]uint64, error) {
		sp, err := k.arena.Bytes(ctx, data)
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(sp.Ptr), uint64(sp.Len)}, nil
	})
}

// LoadBuffer loads a scene from engine memory the caller already owns.
// Nothing is copied.
func (c *Context) LoadBuffer(ctx context.Context, buf fbxbridge.Buffer, opts *config.LoadOpts) (*Scene, error) {
	return c.load(ctx, abi.FnLoadMemory, opts, func(ctx context.Context, k *call) ([]uint64, error) {
		sp, err := arena.BorrowBlob(buf).Translate(ctx, k.arena)
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(sp.Ptr), uint64(sp.Len)}, nil
	})
}

// LoadFile loads the file at path. The engine opens it through the
// open-file callback of opts, or its own default when none is set. The
// path is passed with an explicit length and may contain any bytes.
func (c *Context) LoadFile(ctx context.Context, path string, opts *config.LoadOpts) (*Scene, error) {
	return c.load(ctx, abi.FnLoadFileLen, opts, func(ctx context.Context, k *call) ([]uint64, error) {
		sp, err := k.arena.String(ctx, path)
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(sp.Ptr), uint64(sp.Len)}, nil
	})
}

// LoadFileHandle loads from f starting at its current offset. f stays open.
func (c *Context) LoadFileHandle(ctx context.Context, f *os.File, opts *config.LoadOpts) (*Scene, error) {
	return c.LoadFileHandlePrefix(ctx, f, nil, opts)
}

// LoadFileHandlePrefix is LoadFileHandle for a file whose first bytes were
// already read into prefix.
func (c *Context) LoadFileHandlePrefix(ctx context.Context, f *os.File, prefix []byte, opts *config.LoadOpts) (*Scene, error) {
	if f == nil {
		return nil, errors.NilPointer(errors.PhaseTranslate, []string{"file"}, "*os.File")
	}
	return c.LoadStreamPrefix(ctx, stream.Handle(f), prefix, opts)
}

// LoadStream loads from s. The stream is consumed whether or not the load
// succeeds; the engine closes it, or the bridge does if the call fails
// before the engine sees it.
func (c *Context) LoadStream(ctx context.Context, s stream.Stream, opts *config.LoadOpts) (*Scene, error) {
	scene, err := c.load(ctx, abi.FnLoadStream, opts, func(ctx context.Context, k *call) ([]uint64, error) {
		ptr, err := k.stream(ctx, s)
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(ptr)}, nil
	})
	if err != nil {
		discard(s)
	}
	return scene, err
}

// LoadStreamPrefix loads from prefix followed by the contents of s.
func (c *Context) LoadStreamPrefix(ctx context.Context, s stream.Stream, prefix []byte, opts *config.LoadOpts) (*Scene, error) {
	scene, err := c.load(ctx, abi.FnLoadStreamPrefix, opts, func(ctx context.Context, k *call) ([]uint64, error) {
		ptr, err := k.stream(ctx, s)
		if err != nil {
			return nil, err
		}
		sp, err := k.arena.Bytes(ctx, prefix)
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(ptr), uint64(sp.Ptr), uint64(sp.Len)}, nil
	})
	if err != nil {
		discard(s)
	}
	return scene, err
}

// stream registers s with the call and places its descriptor.
func (k *call) stream(ctx context.Context, s stream.Stream) (uint32, error) {
	f, err := k.scope.Stream(s)
	if err != nil {
		return 0, err
	}
	return k.place(ctx, f)
}

// discard releases a stream the engine never took.
func discard(s stream.Stream) {
	if err := s.Discard(); err != nil {
		Logger().Warn("discard stream", zap.Stringer("kind", s.Kind()), zap.Error(err))
	}
}
