package ufbx

import (
	"context"
	"math"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/config"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/resource"
)

// Scene is a handle to a loaded or evaluated scene.
type Scene struct {
	c    *Context
	root *resource.Root
}

// SceneInfo is a summary of a scene's contents.
type SceneInfo struct {
	Elements    uint32
	Nodes       uint32
	Meshes      uint32
	Materials   uint32
	AnimStacks  uint32
	Version     uint32
	Format      config.FileFormat
	ASCII       bool
	RetainedDOM bool
}

// Ptr returns the engine address of the scene. It panics after Close.
func (s *Scene) Ptr() uint32 {
	return s.root.Ptr()
}

func (s *Scene) Closed() bool {
	return s.root.Closed()
}

// Clone returns another handle to the same scene.
func (s *Scene) Clone(ctx context.Context) (*Scene, error) {
	r, err := s.root.Clone(ctx)
	if err != nil {
		return nil, err
	}
	return &Scene{c: s.c, root: r}, nil
}

// Close releases this handle. The scene is freed when its last handle,
// including those of meshes taken from it, is closed.
func (s *Scene) Close(ctx context.Context) error {
	return s.root.Close(ctx)
}

func (s *Scene) Info(ctx context.Context) (SceneInfo, error) {
	ptr, err := s.root.Borrow()
	if err != nil {
		return SceneInfo{}, err
	}
	k, err := s.c.begin(abi.FnSceneInfo)
	if err != nil {
		return SceneInfo{}, err
	}
	defer k.end(ctx)

	out, err := k.arena.Alloc(ctx, abi.SceneInfo.Size, abi.SceneInfo.Align)
	if err != nil {
		return SceneInfo{}, err
	}
	if _, err := k.invoke(ctx, uint64(ptr), uint64(out)); err != nil {
		return SceneInfo{}, err
	}
	f, err := abi.ReadFrame(s.c.native.Memory(), out, abi.SceneInfo)
	if err != nil {
		return SceneInfo{}, errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "read scene info")
	}
	return SceneInfo{
		Elements:    f.U32("num_elements"),
		Nodes:       f.U32("num_nodes"),
		Meshes:      f.U32("num_meshes"),
		Materials:   f.U32("num_materials"),
		AnimStacks:  f.U32("num_anim_stacks"),
		Version:     f.U32("version"),
		Format:      config.FileFormat(f.U32("file_format")),
		ASCII:       f.Bool("ascii"),
		RetainedDOM: f.Bool("retained_dom"),
	}, nil
}

// Mesh returns mesh i of the scene. The mesh handle keeps the scene alive.
func (s *Scene) Mesh(ctx context.Context, i int) (*Mesh, error) {
	ptr, err := s.root.Borrow()
	if err != nil {
		return nil, err
	}
	if i < 0 || i > math.MaxInt32 {
		return nil, errors.New(errors.PhaseCall, errors.KindOutOfBounds).
			Path("meshes").
			Detail("mesh index %d out of range", i).
			Build()
	}
	res, err := s.c.call(ctx, abi.FnSceneMesh, uint64(ptr), uint64(i))
	if err != nil {
		return nil, err
	}
	var mp uint32
	if len(res) > 0 {
		mp = uint32(res[0])
	}
	if mp == 0 {
		return nil, errors.New(errors.PhaseCall, errors.KindOutOfBounds).
			Path("meshes").
			Detail("scene has no mesh %d", i).
			Build()
	}

	if err := s.c.meshOps.Retain(ctx, mp); err != nil {
		return nil, err
	}
	root, err := resource.Wrap(s.c.hub, s.c.meshOps, mp, nil)
	if err != nil {
		_ = s.c.meshOps.Release(ctx, mp)
		return nil, err
	}
	return &Mesh{c: s.c, root: root}, nil
}

// Evaluate returns a new scene with animation evaluated at time seconds.
// The receiver is unchanged.
func (s *Scene) Evaluate(ctx context.Context, time float64, opts *config.EvaluateOpts) (*Scene, error) {
	ptr, err := s.root.Borrow()
	if err != nil {
		return nil, err
	}
	k, err := s.c.begin(abi.FnEvaluateScene)
	if err != nil {
		return nil, err
	}
	defer k.end(ctx)

	of, err := opts.Translate(ctx, k.scope)
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

	res, err := k.invoke(ctx, uint64(ptr), math.Float64bits(time), uint64(optsPtr), uint64(errPtr))
	if err != nil {
		return nil, err
	}
	root, err := k.adopt(ctx, res, s.c.sceneOps)
	if err != nil {
		return nil, err
	}
	return &Scene{c: s.c, root: root}, nil
}

// TessellateNurbsSurface returns a new standalone mesh approximating NURBS
// surface i of the scene.
func (s *Scene) TessellateNurbsSurface(ctx context.Context, i int, opts *config.TessellateOpts) (*Mesh, error) {
	ptr, err := s.root.Borrow()
	if err != nil {
		return nil, err
	}
	if i < 0 || i > math.MaxInt32 {
		return nil, errors.New(errors.PhaseCall, errors.KindOutOfBounds).
			Path("nurbs_surfaces").
			Detail("surface index %d out of range", i).
			Build()
	}
	res, err := s.c.call(ctx, abi.FnSceneNurbsSurface, uint64(ptr), uint64(i))
	if err != nil {
		return nil, err
	}
	var sp uint32
	if len(res) > 0 {
		sp = uint32(res[0])
	}
	if sp == 0 {
		return nil, errors.New(errors.PhaseCall, errors.KindOutOfBounds).
			Path("nurbs_surfaces").
			Detail("scene has no NURBS surface %d", i).
			Build()
	}

	k, err := s.c.begin(abi.FnTessellateNurbsSurface)
	if err != nil {
		return nil, err
	}
	defer k.end(ctx)

	of, err := opts.Translate(ctx, k.scope)
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

	mp, err := k.invoke(ctx, uint64(sp), uint64(optsPtr), uint64(errPtr))
	if err != nil {
		return nil, err
	}
	root, err := k.adopt(ctx, mp, s.c.meshOps)
	if err != nil {
		return nil, err
	}
	return &Mesh{c: s.c, root: root}, nil
}
