package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/errors"
)

func TestParseYAML(t *testing.T) {
	data := []byte(`
ignore_animation: true
retain_dom: true
file_format: fbx
space_conversion: adjust_transforms
target_unit_meters: 1
target_axes:
  preset: right_handed_z_up
memory:
  limit: 65536
  system: true
threads:
  serial: true
  num_tasks: 2
`)
	f, err := Parse(data, FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	o, err := f.ToLoadOpts()
	if err != nil {
		t.Fatal(err)
	}
	if !o.IgnoreAnimation || !o.RetainDOM || o.IgnoreGeometry {
		t.Errorf("flags = %+v", o)
	}
	if o.FileFormat != FormatFBX || o.SpaceConversion != ConvertAdjustTransforms {
		t.Errorf("enums = %s %s", o.FileFormat, o.SpaceConversion)
	}
	if o.TargetAxes != AxesRightHandedZUp || o.TargetUnitMeters != 1 {
		t.Errorf("axes = %+v unit %v", o.TargetAxes, o.TargetUnitMeters)
	}
	if o.ResultAllocator.MemoryLimit != 65536 || o.ResultAllocator.Allocator.Tag() != arena.Callback {
		t.Errorf("allocator = %+v", o.ResultAllocator)
	}
	if o.Threads.Pool.Tag() != arena.Callback || o.Threads.NumTasks != 2 {
		t.Errorf("threads = %+v", o.Threads)
	}
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{"strict": true, "target_axes": {"right": "+x", "up": "+y", "front": "-z"}}`)
	f, err := Parse(data, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	o, err := f.ToLoadOpts()
	if err != nil {
		t.Fatal(err)
	}
	if !o.Strict || o.TargetAxes != AxesLeftHandedYUp {
		t.Errorf("opts = strict %v axes %+v", o.Strict, o.TargetAxes)
	}
	if o.Threads.Pool.Tag() != arena.Unset || o.ResultAllocator.Allocator.Tag() != arena.Unset {
		t.Error("defaults not kept")
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
		kind   errors.Kind
	}{
		{"unknown yaml key", "ignore_everything: true\n", FormatYAML, errors.KindInvalidData},
		{"unknown json key", `{"ignore_everything": true}`, FormatJSON, errors.KindInvalidData},
		{"bad json", `{"strict": }`, FormatJSON, errors.KindInvalidData},
		{"bad format", "file_format: gltf\n", FormatYAML, errors.KindInvalidEnum},
		{"bad conversion", "space_conversion: sideways\n", FormatYAML, errors.KindInvalidEnum},
		{"bad preset", "target_axes: {preset: upside_down}\n", FormatYAML, errors.KindInvalidEnum},
		{"bad axis", "target_axes: {right: +q, up: +y, front: +z}\n", FormatYAML, errors.KindInvalidEnum},
		{"skewed axes", "target_axes: {right: +x, up: -x, front: +z}\n", FormatYAML, errors.KindInvalidInput},
		{"preset and axes", "target_axes: {preset: left_handed_y_up, up: +y}\n", FormatYAML, errors.KindInvalidVariant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.data), tt.format)
			if err == nil {
				_, err = f.ToLoadOpts()
			}
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: tt.kind}) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestParseEmptyYAML(t *testing.T) {
	f, err := Parse([]byte("\n"), FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	if *f != (File{}) {
		t.Errorf("empty file decoded to %+v", f)
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "opts.JSON")
	if err := os.WriteFile(jsonPath, []byte(`{"ignore_geometry": true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := ParseFile(jsonPath)
	if err != nil || !f.IgnoreGeometry {
		t.Fatalf("ParseFile(json) = %+v, %v", f, err)
	}

	yamlPath := filepath.Join(dir, "opts.yml")
	if err := os.WriteFile(yamlPath, []byte("ignore_embedded: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err = ParseFile(yamlPath)
	if err != nil || !f.IgnoreEmbedded {
		t.Fatalf("ParseFile(yaml) = %+v, %v", f, err)
	}

	_, err = ParseFile(filepath.Join(dir, "missing.yaml"))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindNotFound}) {
		t.Errorf("missing file: %v", err)
	}
}

func TestWithFilename(t *testing.T) {
	var o *LoadOpts
	c := o.WithFilename("scene.fbx")
	if c.Filename.Tag() != arena.Owned {
		t.Fatal("filename not set")
	}
	base := &LoadOpts{Strict: true, RawFilename: arena.BlobOf([]byte("x"))}
	c = base.WithFilename("scene.fbx")
	if !c.Strict || c.RawFilename.Tag() != arena.Unset || base.Filename.Tag() != arena.Unset {
		t.Errorf("WithFilename = %+v, base %+v", c, base)
	}
}
