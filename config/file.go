package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/callback"
	"github.com/wippyai/ufbx-bridge/errors"
)

// Format is the encoding of an option file.
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
)

// File is the part of LoadOpts that can be written down in an option file.
type File struct {
	IgnoreGeometry         bool `yaml:"ignore_geometry" json:"ignore_geometry"`
	IgnoreAnimation        bool `yaml:"ignore_animation" json:"ignore_animation"`
	IgnoreEmbedded         bool `yaml:"ignore_embedded" json:"ignore_embedded"`
	IgnoreAllContent       bool `yaml:"ignore_all_content" json:"ignore_all_content"`
	EvaluateSkinning       bool `yaml:"evaluate_skinning" json:"evaluate_skinning"`
	EvaluateCaches         bool `yaml:"evaluate_caches" json:"evaluate_caches"`
	LoadExternalFiles      bool `yaml:"load_external_files" json:"load_external_files"`
	IgnoreMissingExternal  bool `yaml:"ignore_missing_external_files" json:"ignore_missing_external_files"`
	Strict                 bool `yaml:"strict" json:"strict"`
	AllowUnsafe            bool `yaml:"allow_unsafe" json:"allow_unsafe"`
	DisableQuirks          bool `yaml:"disable_quirks" json:"disable_quirks"`
	GenerateMissingNormals bool `yaml:"generate_missing_normals" json:"generate_missing_normals"`
	RetainDOM              bool `yaml:"retain_dom" json:"retain_dom"`

	FileFormat     string `yaml:"file_format" json:"file_format"`
	ReadBufferSize uint32 `yaml:"read_buffer_size" json:"read_buffer_size"`

	SpaceConversion  string    `yaml:"space_conversion" json:"space_conversion"`
	TargetAxes       *AxesFile `yaml:"target_axes" json:"target_axes"`
	TargetUnitMeters float64   `yaml:"target_unit_meters" json:"target_unit_meters"`

	Memory  MemoryFile  `yaml:"memory" json:"memory"`
	Threads ThreadsFile `yaml:"threads" json:"threads"`
}

// AxesFile names a basis, either by preset or by its three axes.
type AxesFile struct {
	Preset string `yaml:"preset" json:"preset"`
	Right  string `yaml:"right" json:"right"`
	Up     string `yaml:"up" json:"up"`
	Front  string `yaml:"front" json:"front"`
}

// MemoryFile limits the result allocator.
type MemoryFile struct {
	Limit           uint32 `yaml:"limit" json:"limit"`
	AllocationLimit uint32 `yaml:"allocation_limit" json:"allocation_limit"`
	// System routes allocations through the Go heap allocator.
	System          bool   `yaml:"system" json:"system"`
}

// ThreadsFile enables the serial task pool.
type ThreadsFile struct {
	Serial   bool   `yaml:"serial" json:"serial"`
	NumTasks uint32 `yaml:"num_tasks" json:"num_tasks"`
}

var axesPresets = map[string]CoordinateAxes{
	"right_handed_y_up": AxesRightHandedYUp,
	"right_handed_z_up": AxesRightHandedZUp,
	"left_handed_y_up":  AxesLeftHandedYUp,
	"left_handed_z_up":  AxesLeftHandedZUp,
}

// ParseFile reads an option file. Files ending in .json are JSON, anything
// else is YAML.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read option file")
	}
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	return Parse(data, format)
}

// Parse decodes an option file. Unknown keys are rejected.
func Parse(data []byte, format Format) (*File, error) {
	f := &File{}
	var err error
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(f)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(f)
		if err != nil && len(bytes.TrimSpace(data)) == 0 {
			err = nil
		}
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode option file")
	}
	return f, nil
}

// ToLoadOpts converts the file into load options.
func (f *File) ToLoadOpts() (*LoadOpts, error) {
	o := &LoadOpts{
		IgnoreGeometry:             f.IgnoreGeometry,
		IgnoreAnimation:            f.IgnoreAnimation,
		IgnoreEmbedded:             f.IgnoreEmbedded,
		IgnoreAllContent:           f.IgnoreAllContent,
		EvaluateSkinning:           f.EvaluateSkinning,
		EvaluateCaches:             f.EvaluateCaches,
		LoadExternalFiles:          f.LoadExternalFiles,
		IgnoreMissingExternalFiles: f.IgnoreMissingExternal,
		Strict:                     f.Strict,
		AllowUnsafe:                f.AllowUnsafe,
		DisableQuirks:              f.DisableQuirks,
		GenerateMissingNormals:     f.GenerateMissingNormals,
		RetainDOM:                  f.RetainDOM,
		ReadBufferSize:             f.ReadBufferSize,
		TargetUnitMeters:           f.TargetUnitMeters,
	}

	switch strings.ToLower(f.FileFormat) {
	case "", "auto":
	case "fbx":
		o.FileFormat = FormatFBX
	case "obj":
		o.FileFormat = FormatOBJ
	case "mtl":
		o.FileFormat = FormatMTL
	default:
		return nil, invalidField("file_format", f.FileFormat)
	}

	switch strings.ToLower(f.SpaceConversion) {
	case "", "transform_root":
	case "adjust_transforms":
		o.SpaceConversion = ConvertAdjustTransforms
	case "modify_geometry":
		o.SpaceConversion = ConvertModifyGeometry
	default:
		return nil, invalidField("space_conversion", f.SpaceConversion)
	}

	if f.TargetAxes != nil {
		axes, err := f.TargetAxes.axes()
		if err != nil {
			return nil, err
		}
		o.TargetAxes = axes
	}

	o.ResultAllocator.MemoryLimit = f.Memory.Limit
	o.ResultAllocator.AllocationLimit = f.Memory.AllocationLimit
	if f.Memory.System {
		o.ResultAllocator.Allocator = callback.SystemAllocator()
	}
	if f.Threads.Serial {
		o.Threads = ThreadOpts{Pool: callback.Serial(), NumTasks: f.Threads.NumTasks}
	}
	return o, nil
}

// WithFilename returns a copy of o that reports name as the loaded file.
func (o *LoadOpts) WithFilename(name string) *LoadOpts {
	c := LoadOpts{}
	if o != nil {
		c = *o
	}
	c.Filename = arena.StringOf(name)
	c.RawFilename = arena.Blob{}
	return &c
}

func (a *AxesFile) axes() (CoordinateAxes, error) {
	if a.Preset != "" {
		if a.Right != "" || a.Up != "" || a.Front != "" {
			return CoordinateAxes{}, errors.InvalidVariant(errors.PhaseConfig, []string{"target_axes"},
				"preset and explicit axes are exclusive")
		}
		c, ok := axesPresets[strings.ToLower(a.Preset)]
		if !ok {
			return CoordinateAxes{}, invalidField("target_axes.preset", a.Preset)
		}
		return c, nil
	}
	var c CoordinateAxes
	for _, p := range []struct {
		name string
		in   string
		out  *CoordinateAxis
	}{
		{"right", a.Right, &c.Right},
		{"up", a.Up, &c.Up},
		{"front", a.Front, &c.Front},
	} {
		axis, err := ParseAxis(p.in)
		if err != nil {
			return CoordinateAxes{}, invalidField("target_axes."+p.name, p.in)
		}
		*p.out = axis
	}
	if !c.Valid() {
		return CoordinateAxes{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("target_axes").
			Detail("axes %s %s %s are not orthogonal", c.Right, c.Up, c.Front).
			Build()
	}
	return c, nil
}

func invalidField(path, value string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidEnum).
		Path(path).
		Value(value).
		Detail("unknown value %q", value).
		Build()
}
