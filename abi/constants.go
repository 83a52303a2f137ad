package abi

// Record sizes fixed by the engine headers.
const (
	ErrorStackMax      = 8
	ErrorInfoLength    = 256
	PanicMessageLength = 128
)

const (
	// ReadError is the stream read result that signals failure: SIZE_MAX on
	// wasm32, never a valid byte count.
	ReadError uint32 = 0xFFFFFFFF

	// NoIndex marks a missing index in engine arrays.
	NoIndex uint32 = 0xFFFFFFFF
)

// Progress callback results.
const (
	ProgressContinue uint32 = 0x100
	ProgressCancel   uint32 = 0x200
)

// Open file types reported in OpenFileInfo.type.
const (
	OpenFileMainModel uint32 = iota
	OpenFileGeometryCache
	OpenFileObjMtl
)

// Trampoline identifies one guest trampoline shape. The engine maps each
// kind to a function table index; the trampoline forwards to the matching
// host import.
type Trampoline uint32

const (
	TrampolineRead Trampoline = iota + 1
	TrampolineSkip
	TrampolineClose
	TrampolineOpenFile
	TrampolineProgress
	TrampolineCloseMemory
	TrampolineAlloc
	TrampolineRealloc
	TrampolineFree
	TrampolineFreeAllocator
	TrampolinePoolInit
	TrampolinePoolRun
	TrampolinePoolWait
	TrampolinePoolFree

	TrampolineCount = int(TrampolinePoolFree)
)

var trampolineNames = [...]string{
	TrampolineRead:          "stream_read",
	TrampolineSkip:          "stream_skip",
	TrampolineClose:         "stream_close",
	TrampolineOpenFile:      "open_file",
	TrampolineProgress:      "progress",
	TrampolineCloseMemory:   "close_memory",
	TrampolineAlloc:         "alloc",
	TrampolineRealloc:       "realloc",
	TrampolineFree:          "free",
	TrampolineFreeAllocator: "free_allocator",
	TrampolinePoolInit:      "pool_init",
	TrampolinePoolRun:       "pool_run",
	TrampolinePoolWait:      "pool_wait",
	TrampolinePoolFree:      "pool_free",
}

// String returns the host import name of the trampoline.
func (t Trampoline) String() string {
	if t >= 1 && int(t) <= TrampolineCount {
		return trampolineNames[t]
	}
	return "invalid"
}

// Engine exports.
const (
	FnIsThreadSafe      = "ufbx_is_thread_safe"
	FnLoadMemory        = "ufbx_load_memory"
	FnLoadFileLen       = "ufbx_load_file_len"
	FnLoadStream        = "ufbx_load_stream"
	FnLoadStreamPrefix  = "ufbx_load_stream_prefix"
	FnRetainScene       = "ufbx_retain_scene"
	FnFreeScene         = "ufbx_free_scene"
	FnRetainMesh        = "ufbx_retain_mesh"
	FnFreeMesh          = "ufbx_free_mesh"
	FnFormatError       = "ufbx_format_error"
	FnOpenMemory        = "ufbx_open_memory"
	FnSubdivideMesh     = "ufbx_subdivide_mesh"
	FnThreadPoolRunTask = "ufbx_thread_pool_run_task"

	FnLoadGeometryCache      = "ufbx_load_geometry_cache_len"
	FnRetainGeometryCache    = "ufbx_retain_geometry_cache"
	FnFreeGeometryCache      = "ufbx_free_geometry_cache"
	FnTessellateNurbsSurface = "ufbx_tessellate_nurbs_surface"

	FnCatchTriangulateFace       = "ufbx_catch_triangulate_face"
	FnCatchComputeTopology       = "ufbx_catch_compute_topology"
	FnCatchTopoNextVertexEdge    = "ufbx_catch_topo_next_vertex_edge"
	FnCatchTopoPrevVertexEdge    = "ufbx_catch_topo_prev_vertex_edge"
	FnCatchGenerateNormalMapping = "ufbx_catch_generate_normal_mapping"
)

// Shim exports that flatten engine data the bridge reads directly.
const (
	FnTrampoline          = "ufbxw_trampoline"
	FnEvaluateScene       = "ufbxw_evaluate_scene"
	FnSceneInfo           = "ufbxw_scene_info"
	FnSceneMesh           = "ufbxw_scene_mesh"
	FnSceneNurbsSurface   = "ufbxw_scene_nurbs_surface"
	FnMeshInfo            = "ufbxw_mesh_info"
	FnGeometryCacheInfo   = "ufbxw_geometry_cache_info"
	FnCatchMeshFace       = "ufbxw_catch_mesh_face"
	FnCatchVertexPosition = "ufbxw_catch_vertex_position"
	FnCatchComputeNormals = "ufbxw_catch_compute_normals"
	FnCloseStream         = "ufbxw_close_stream"
)
