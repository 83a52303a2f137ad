package config

import (
	"context"
	"math"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/callback"
	"github.com/wippyai/ufbx-bridge/errors"
)

// GeometryCacheOpts are the options of Context.LoadGeometryCache.
type GeometryCacheOpts struct {
	TempAllocator   AllocatorOpts
	ResultAllocator AllocatorOpts

	// OpenFile opens the cache header and the data files it names. Unset
	// uses the engine's own file access.
	OpenFile callback.OpenFileCb

	// FramesPerSecond is the frame rate of caches that do not record one.
	// 0 uses the engine default.
	FramesPerSecond float64
}

// Translate resolves o into an ufbx_geometry_cache_opts image.
func (o *GeometryCacheOpts) Translate(_ context.Context, s *callback.Scope) (*abi.Frame, error) {
	if o == nil {
		o = &GeometryCacheOpts{}
	}
	if math.IsNaN(o.FramesPerSecond) || math.IsInf(o.FramesPerSecond, 0) || o.FramesPerSecond < 0 {
		return nil, errors.New(errors.PhaseTranslate, errors.KindInvalidInput).
			Path("frames_per_second").
			Value(o.FramesPerSecond).
			Detail("frame rate must be finite and non-negative").
			Build()
	}
	f := abi.NewFrame(abi.GeometryCacheOpts)
	if err := o.TempAllocator.translate(s, f, "temp_allocator"); err != nil {
		return nil, err
	}
	if err := o.ResultAllocator.translate(s, f, "result_allocator"); err != nil {
		return nil, err
	}
	open, err := o.OpenFile.Translate(s)
	if err != nil {
		return nil, at("open_file_cb", err)
	}
	f.SetCallback("open_file_cb", open)
	f.SetF64("frames_per_second", o.FramesPerSecond)
	return f, nil
}
