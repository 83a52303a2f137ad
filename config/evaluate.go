package config

import (
	"context"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/callback"
)

// PropOverride replaces one property of one element during evaluation.
type PropOverride struct {
	ElementID uint32
	PropName  arena.String
	Value     fbxbridge.Vec4
	ValueStr  arena.String
	ValueInt  int64
}

// OverrideNumber overrides a numeric property. Missing components are
// zero.
func OverrideNumber(elementID uint32, name string, v ...float64) PropOverride {
	var c [4]float64
	copy(c[:], v)
	return PropOverride{
		ElementID: elementID,
		PropName:  arena.StringOf(name),
		Value:     fbxbridge.Vec4{X: c[0], Y: c[1], Z: c[2], W: c[3]},
		ValueInt:  int64(c[0]),
	}
}

// OverrideString overrides a string property.
func OverrideString(elementID uint32, name, value string) PropOverride {
	return PropOverride{
		ElementID: elementID,
		PropName:  arena.StringOf(name),
		ValueStr:  arena.StringOf(value),
	}
}

func (PropOverride) Layout() *abi.Struct { return abi.PropOverrideDesc }

func (p PropOverride) Encode(ctx context.Context, a *arena.Arena, f *abi.Frame) error {
	name, err := p.PropName.Translate(ctx, a)
	if err != nil {
		return at("prop_name", err)
	}
	str, err := p.ValueStr.Translate(ctx, a)
	if err != nil {
		return at("value_str", err)
	}
	f.SetU32("element_id", p.ElementID)
	f.SetSpan("prop_name", name)
	f.SetF64("value.x", p.Value.X)
	f.SetF64("value.y", p.Value.Y)
	f.SetF64("value.z", p.Value.Z)
	f.SetF64("value.w", p.Value.W)
	f.SetSpan("value_str", str)
	f.SetS64("value_int", p.ValueInt)
	return nil
}

// EvaluateOpts are the options of Scene.Evaluate.
type EvaluateOpts struct {
	TempAllocator   AllocatorOpts
	ResultAllocator AllocatorOpts

	EvaluateSkinning  bool
	EvaluateCaches    bool
	LoadExternalFiles bool
	OpenFile          callback.OpenFileCb

	PropOverrides arena.List[PropOverride]
}

// Translate resolves o into an ufbx_evaluate_opts image.
func (o *EvaluateOpts) Translate(ctx context.Context, s *callback.Scope) (*abi.Frame, error) {
	if o == nil {
		o = &EvaluateOpts{}
	}
	f := abi.NewFrame(abi.EvaluateOpts)
	if err := o.TempAllocator.translate(s, f, "temp_allocator"); err != nil {
		return nil, err
	}
	if err := o.ResultAllocator.translate(s, f, "result_allocator"); err != nil {
		return nil, err
	}
	setFlags(f, []flag{
		{"evaluate_skinning", o.EvaluateSkinning},
		{"evaluate_caches", o.EvaluateCaches},
		{"load_external_files", o.LoadExternalFiles},
	})
	open, err := o.OpenFile.Translate(s)
	if err != nil {
		return nil, at("open_file_cb", err)
	}
	f.SetCallback("open_file_cb", open)

	list, err := o.PropOverrides.Translate(ctx, s.Arena())
	if err != nil {
		return nil, at("prop_overrides", err)
	}
	f.SetSpan("prop_overrides", list)
	return f, nil
}
