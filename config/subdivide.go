package config

import (
	"context"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/callback"
)

// SubdivideOpts are the options of Mesh.Subdivide.
type SubdivideOpts struct {
	TempAllocator   AllocatorOpts
	ResultAllocator AllocatorOpts

	Boundary   SubdivisionBoundary
	UVBoundary SubdivisionBoundary

	IgnoreNormals          bool
	InterpolateNormals     bool
	InterpolateTangents    bool
	EvaluateSourceVertices bool
	MaxSourceVertices      uint32
}

// Translate resolves o into an ufbx_subdivide_opts image.
func (o *SubdivideOpts) Translate(_ context.Context, s *callback.Scope) (*abi.Frame, error) {
	if o == nil {
		o = &SubdivideOpts{}
	}
	f := abi.NewFrame(abi.SubdivideOpts)
	if err := o.TempAllocator.translate(s, f, "temp_allocator"); err != nil {
		return nil, err
	}
	if err := o.ResultAllocator.translate(s, f, "result_allocator"); err != nil {
		return nil, err
	}
	f.SetU32("boundary", uint32(o.Boundary))
	f.SetU32("uv_boundary", uint32(o.UVBoundary))
	setFlags(f, []flag{
		{"ignore_normals", o.IgnoreNormals},
		{"interpolate_normals", o.InterpolateNormals},
		{"interpolate_tangents", o.InterpolateTangents},
		{"evaluate_source_vertices", o.EvaluateSourceVertices},
	})
	f.SetU32("max_source_vertices", o.MaxSourceVertices)
	return f, nil
}

// TessellateOpts are the options of Scene.TessellateNurbsSurface.
type TessellateOpts struct {
	TempAllocator   AllocatorOpts
	ResultAllocator AllocatorOpts

	// SpanSubdivisionU and SpanSubdivisionV are the segments per knot
	// span. 0 uses the engine default.
	SpanSubdivisionU uint32
	SpanSubdivisionV uint32
}

// Translate resolves o into an ufbx_tessellate_opts image.
func (o *TessellateOpts) Translate(_ context.Context, s *callback.Scope) (*abi.Frame, error) {
	if o == nil {
		o = &TessellateOpts{}
	}
	f := abi.NewFrame(abi.TessellateOpts)
	if err := o.TempAllocator.translate(s, f, "temp_allocator"); err != nil {
		return nil, err
	}
	if err := o.ResultAllocator.translate(s, f, "result_allocator"); err != nil {
		return nil, err
	}
	f.SetU32("span_subdivision_u", o.SpanSubdivisionU)
	f.SetU32("span_subdivision_v", o.SpanSubdivisionV)
	return f, nil
}

// OpenMemoryOpts are the options of Context.OpenMemory.
type OpenMemoryOpts struct {
	Allocator AllocatorOpts

	// NoCopy reads the caller's buffer in place instead of copying it. The
	// buffer must stay valid until Close fires.
	NoCopy bool
	Close  callback.CloseMemoryCb
}

// Translate resolves o into an ufbx_open_memory_opts image.
func (o *OpenMemoryOpts) Translate(_ context.Context, s *callback.Scope) (*abi.Frame, error) {
	if o == nil {
		o = &OpenMemoryOpts{}
	}
	f := abi.NewFrame(abi.OpenMemoryOpts)
	if err := o.Allocator.translate(s, f, "allocator"); err != nil {
		return nil, err
	}
	f.SetBool("no_copy", o.NoCopy)
	cb, err := o.Close.Translate(s)
	if err != nil {
		return nil, at("close_cb", err)
	}
	f.SetCallback("close_cb", cb)
	return f, nil
}
