package config

import (
	stderrors "errors"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/callback"
	"github.com/wippyai/ufbx-bridge/errors"
)

// AllocatorOpts configures one engine allocator. Zero limits are
// unlimited.
type AllocatorOpts struct {
	Allocator       callback.AllocatorOpt
	MemoryLimit     uint32
	AllocationLimit uint32
	HugeThreshold   uint32
	MaxChunkSize    uint32
}

func (o AllocatorOpts) translate(s *callback.Scope, f *abi.Frame, path string) error {
	af, err := o.Allocator.Translate(s)
	if err != nil {
		return at(path+".allocator", err)
	}
	f.Put(path+".allocator", af)
	f.SetU32(path+".memory_limit", o.MemoryLimit)
	f.SetU32(path+".allocation_limit", o.AllocationLimit)
	f.SetU32(path+".huge_threshold", o.HugeThreshold)
	f.SetU32(path+".max_chunk_size", o.MaxChunkSize)
	return nil
}

// ThreadOpts configures task offloading. A zero Pool loads single-threaded.
type ThreadOpts struct {
	Pool        callback.ThreadPool
	NumTasks    uint32
	MemoryLimit uint32
}

func (o ThreadOpts) translate(s *callback.Scope, f *abi.Frame, path string) error {
	pf, err := o.Pool.Translate(s)
	if err != nil {
		return at(path+".pool", err)
	}
	f.Put(path+".pool", pf)
	f.SetU32(path+".num_tasks", o.NumTasks)
	f.SetU32(path+".memory_limit", o.MemoryLimit)
	return nil
}

// Transform is a translation, rotation and scale applied in that order.
type Transform struct {
	Translation fbxbridge.Vec3
	Rotation    fbxbridge.Quat
	Scale       fbxbridge.Vec3
}

// IdentityTransform returns the transform that changes nothing.
func IdentityTransform() Transform {
	return Transform{Rotation: fbxbridge.IdentityQuat, Scale: fbxbridge.Vec3{X: 1, Y: 1, Z: 1}}
}

func (t Transform) put(f *abi.Frame, path string) {
	setVec3(f, path+".translation", t.Translation)
	f.SetF64(path+".rotation.x", t.Rotation.X)
	f.SetF64(path+".rotation.y", t.Rotation.Y)
	f.SetF64(path+".rotation.z", t.Rotation.Z)
	f.SetF64(path+".rotation.w", t.Rotation.W)
	setVec3(f, path+".scale", t.Scale)
}

func (c CoordinateAxes) put(f *abi.Frame, path string) {
	f.SetU32(path+".right", uint32(c.Right))
	f.SetU32(path+".up", uint32(c.Up))
	f.SetU32(path+".front", uint32(c.Front))
}

func setVec3(f *abi.Frame, path string, v fbxbridge.Vec3) {
	f.SetF64(path+".x", v.X)
	f.SetF64(path+".y", v.Y)
	f.SetF64(path+".z", v.Z)
}

// at prefixes the field path of a translation error with field.
func at(field string, err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		if len(e.Path) == 0 || e.Path[0] != field {
			e.Path = append([]string{field}, e.Path...)
		}
		return e
	}
	return errors.New(errors.PhaseTranslate, errors.KindInvalidData).
		Path(field).
		Cause(err).
		Build()
}
