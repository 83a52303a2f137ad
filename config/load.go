package config

import (
	"context"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/callback"
	"github.com/wippyai/ufbx-bridge/errors"
)

// LoadOpts are the options of every load entry point. A nil *LoadOpts is
// the same as the zero value.
type LoadOpts struct {
	TempAllocator   AllocatorOpts
	ResultAllocator AllocatorOpts
	Threads         ThreadOpts

	IgnoreGeometry             bool
	IgnoreAnimation            bool
	IgnoreEmbedded             bool
	IgnoreAllContent           bool
	EvaluateSkinning           bool
	EvaluateCaches             bool
	LoadExternalFiles          bool
	IgnoreMissingExternalFiles bool
	SkipSkinVertices           bool
	CleanSkinWeights           bool
	DisableQuirks              bool
	Strict                     bool
	AllowUnsafe                bool
	ConnectBrokenElements      bool
	AllowNodesOutOfRoot        bool
	AllowMissingVertexPosition bool
	AllowEmptyFaces            bool
	GenerateMissingNormals     bool
	OpenMainFileWithDefault    bool

	// RetainDOM keeps the raw document tree alive with the scene.
	RetainDOM bool

	FileFormat       FileFormat
	FileSizeEstimate uint64
	ReadBufferSize   uint32

	// Filename names the loaded file for resolving relative paths of
	// external files. RawFilename is the byte-exact alternative; at most
	// one of the two may be set.
	Filename    arena.String
	RawFilename arena.Blob

	Progress             callback.ProgressCb
	ProgressIntervalHint uint64
	OpenFile             callback.OpenFileCb

	SpaceConversion        SpaceConversion
	TargetAxes             CoordinateAxes
	TargetUnitMeters       float64
	TargetCameraAxes       CoordinateAxes
	TargetLightAxes        CoordinateAxes
	NoPropUnitScaling      bool
	NoAnimCurveUnitScaling bool
	NormalizeNormals       bool
	NormalizeTangents      bool

	UseRootTransform bool
	RootTransform    Transform
}

func (o *LoadOpts) flags() []flag {
	return []flag{
		{"ignore_geometry", o.IgnoreGeometry},
		{"ignore_animation", o.IgnoreAnimation},
		{"ignore_embedded", o.IgnoreEmbedded},
		{"ignore_all_content", o.IgnoreAllContent},
		{"evaluate_skinning", o.EvaluateSkinning},
		{"evaluate_caches", o.EvaluateCaches},
		{"load_external_files", o.LoadExternalFiles},
		{"ignore_missing_external_files", o.IgnoreMissingExternalFiles},
		{"skip_skin_vertices", o.SkipSkinVertices},
		{"clean_skin_weights", o.CleanSkinWeights},
		{"disable_quirks", o.DisableQuirks},
		{"strict", o.Strict},
		{"allow_unsafe", o.AllowUnsafe},
		{"connect_broken_elements", o.ConnectBrokenElements},
		{"allow_nodes_out_of_root", o.AllowNodesOutOfRoot},
		{"allow_missing_vertex_position", o.AllowMissingVertexPosition},
		{"allow_empty_faces", o.AllowEmptyFaces},
		{"generate_missing_normals", o.GenerateMissingNormals},
		{"open_main_file_with_default", o.OpenMainFileWithDefault},
		{"retain_dom", o.RetainDOM},
		{"no_prop_unit_scaling", o.NoPropUnitScaling},
		{"no_anim_curve_unit_scaling", o.NoAnimCurveUnitScaling},
		{"normalize_normals", o.NormalizeNormals},
		{"normalize_tangents", o.NormalizeTangents},
		{"use_root_transform", o.UseRootTransform},
	}
}

type flag struct {
	path  string
	value bool
}

func setFlags(f *abi.Frame, flags []flag) {
	for _, fl := range flags {
		f.SetBool(fl.path, fl.value)
	}
}

// Translate resolves o into an ufbx_load_opts image. Owned data goes to
// the scope's arena and callbacks are registered with the scope.
func (o *LoadOpts) Translate(ctx context.Context, s *callback.Scope) (*abi.Frame, error) {
	if o == nil {
		o = &LoadOpts{}
	}
	if o.Filename.Tag() != arena.Unset && o.RawFilename.Tag() != arena.Unset {
		return nil, errors.InvalidVariant(errors.PhaseTranslate, []string{"filename"},
			"filename and raw_filename are exclusive")
	}

	f := abi.NewFrame(abi.LoadOpts)
	if err := o.TempAllocator.translate(s, f, "temp_allocator"); err != nil {
		return nil, err
	}
	if err := o.ResultAllocator.translate(s, f, "result_allocator"); err != nil {
		return nil, err
	}
	if err := o.Threads.translate(s, f, "thread_opts"); err != nil {
		return nil, err
	}
	setFlags(f, o.flags())

	f.SetU32("file_format", uint32(o.FileFormat))
	f.SetU64("file_size_estimate", o.FileSizeEstimate)
	f.SetU32("read_buffer_size", o.ReadBufferSize)

	a := s.Arena()
	name, err := o.Filename.Translate(ctx, a)
	if err != nil {
		return nil, at("filename", err)
	}
	f.SetSpan("filename", name)
	raw, err := o.RawFilename.Translate(ctx, a)
	if err != nil {
		return nil, at("raw_filename", err)
	}
	f.SetSpan("raw_filename", raw)

	progress, err := o.Progress.Translate(s)
	if err != nil {
		return nil, at("progress_cb", err)
	}
	f.SetCallback("progress_cb", progress)
	f.SetU64("progress_interval_hint", o.ProgressIntervalHint)
	open, err := o.OpenFile.Translate(s)
	if err != nil {
		return nil, at("open_file_cb", err)
	}
	f.SetCallback("open_file_cb", open)

	f.SetU32("space_conversion", uint32(o.SpaceConversion))
	o.TargetAxes.put(f, "target_axes")
	f.SetF64("target_unit_meters", o.TargetUnitMeters)
	o.TargetCameraAxes.put(f, "target_camera_axes")
	o.TargetLightAxes.put(f, "target_light_axes")
	o.RootTransform.put(f, "root_transform")
	return f, nil
}
