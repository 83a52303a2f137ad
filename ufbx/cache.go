package ufbx

import (
	"context"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/config"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/resource"
)

// GeometryCache is a handle to a loaded vertex cache.
type GeometryCache struct {
	c    *Context
	root *resource.Root
}

type GeometryCacheInfo struct {
	Channels        uint32
	Frames          uint32
	FramesPerSecond float64
}

// LoadGeometryCache loads the cache whose header is at path. Data files
// named by the header are opened through the open-file callback of opts.
func (c *Context) LoadGeometryCache(ctx context.Context, path string, opts *config.GeometryCacheOpts) (*GeometryCache, error) {
	k, err := c.begin(abi.FnLoadGeometryCache)
	if err != nil {
		return nil, err
	}
	defer k.end(ctx)

	of, err := opts.Translate(ctx, k.scope)
	if err != nil {
		return nil, err
	}
	name, err := k.arena.String(ctx, path)
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

	ptr, err := k.invoke(ctx, uint64(name.Ptr), uint64(name.Len), uint64(optsPtr), uint64(errPtr))
	if err != nil {
		return nil, err
	}
	root, err := k.adopt(ctx, ptr, c.cacheOps)
	if err != nil {
		return nil, err
	}
	return &GeometryCache{c: c, root: root}, nil
}

func (g *GeometryCache) Ptr() uint32 {
	return g.root.Ptr()
}

func (g *GeometryCache) Closed() bool {
	return g.root.Closed()
}

func (g *GeometryCache) Clone(ctx context.Context) (*GeometryCache, error) {
	r, err := g.root.Clone(ctx)
	if err != nil {
		return nil, err
	}
	return &GeometryCache{c: g.c, root: r}, nil
}

// Close releases this handle. The cache is freed with its last handle.
func (g *GeometryCache) Close(ctx context.Context) error {
	return g.root.Close(ctx)
}

func (g *GeometryCache) Info(ctx context.Context) (GeometryCacheInfo, error) {
	ptr, err := g.root.Borrow()
	if err != nil {
		return GeometryCacheInfo{}, err
	}
	k, err := g.c.begin(abi.FnGeometryCacheInfo)
	if err != nil {
		return GeometryCacheInfo{}, err
	}
	defer k.end(ctx)

	out, err := k.arena.Alloc(ctx, abi.GeometryCacheInfo.Size, abi.GeometryCacheInfo.Align)
	if err != nil {
		return GeometryCacheInfo{}, err
	}
	if _, err := k.invoke(ctx, uint64(ptr), uint64(out)); err != nil {
		return GeometryCacheInfo{}, err
	}
	f, err := abi.ReadFrame(g.c.native.Memory(), out, abi.GeometryCacheInfo)
	if err != nil {
		return GeometryCacheInfo{}, errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "read geometry cache info")
	}
	return GeometryCacheInfo{
		Channels:        f.U32("num_channels"),
		Frames:          f.U32("num_frames"),
		FramesPerSecond: f.F64("frames_per_second"),
	}, nil
}
