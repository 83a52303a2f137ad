package abi

import "go.bytecodealliance.org/wit"

// Scalar shapes of the wasm32 engine ABI. Pointers and size_t are 32 bits.
var (
	tU8   wit.Type = wit.U8{}
	tU32  wit.Type = wit.U32{}
	tU64  wit.Type = wit.U64{}
	tS64  wit.Type = wit.S64{}
	tF64  wit.Type = wit.F64{}
	tBool wit.Type = wit.Bool{}
	tStr  wit.Type = wit.String{}
	tPtr           = tU32
	tSize          = tU32
	tFn            = tU32
	tEnum          = tU32
)

func field(name string, t wit.Type) wit.Field {
	return wit.Field{Name: name, Type: t}
}

// Engine struct declarations, newest option schema.
var (
	Blob = Record("ufbx_blob",
		field("data", tPtr),
		field("size", tSize),
	)

	List = Record("ufbx_list",
		field("data", tPtr),
		field("count", tSize),
	)

	Vec3 = Record("ufbx_vec3",
		field("x", tF64),
		field("y", tF64),
		field("z", tF64),
	)

	Vec4 = Record("ufbx_vec4",
		field("x", tF64),
		field("y", tF64),
		field("z", tF64),
		field("w", tF64),
	)

	Quat = Record("ufbx_quat",
		field("x", tF64),
		field("y", tF64),
		field("z", tF64),
		field("w", tF64),
	)

	Transform = Record("ufbx_transform",
		field("translation", Vec3.Type()),
		field("rotation", Quat.Type()),
		field("scale", Vec3.Type()),
	)

	CoordinateAxes = Record("ufbx_coordinate_axes",
		field("right", tEnum),
		field("up", tEnum),
		field("front", tEnum),
	)

	Allocator = Record("ufbx_allocator",
		field("alloc_fn", tFn),
		field("realloc_fn", tFn),
		field("free_fn", tFn),
		field("free_allocator_fn", tFn),
		field("user", tPtr),
	)

	AllocatorOpts = Record("ufbx_allocator_opts",
		field("allocator", Allocator.Type()),
		field("memory_limit", tSize),
		field("allocation_limit", tSize),
		field("huge_threshold", tSize),
		field("max_chunk_size", tSize),
	)

	Stream = Record("ufbx_stream",
		field("read_fn", tFn),
		field("skip_fn", tFn),
		field("close_fn", tFn),
		field("user", tPtr),
	)

	OpenFileCb = Record("ufbx_open_file_cb",
		field("fn", tFn),
		field("user", tPtr),
	)

	ProgressCb = Record("ufbx_progress_cb",
		field("fn", tFn),
		field("user", tPtr),
	)

	CloseMemoryCb = Record("ufbx_close_memory_cb",
		field("fn", tFn),
		field("user", tPtr),
	)

	ThreadPool = Record("ufbx_thread_pool",
		field("init_fn", tFn),
		field("run_fn", tFn),
		field("wait_fn", tFn),
		field("free_fn", tFn),
		field("user", tPtr),
	)

	ThreadOpts = Record("ufbx_thread_opts",
		field("pool", ThreadPool.Type()),
		field("num_tasks", tSize),
		field("memory_limit", tSize),
	)

	OpenMemoryOpts = Record("ufbx_open_memory_opts",
		field("_begin_zero", tU32),
		field("allocator", AllocatorOpts.Type()),
		field("no_copy", tBool),
		field("close_cb", CloseMemoryCb.Type()),
		field("_end_zero", tU32),
	)

	LoadOpts = Record("ufbx_load_opts",
		field("_begin_zero", tU32),
		field("temp_allocator", AllocatorOpts.Type()),
		field("result_allocator", AllocatorOpts.Type()),
		field("thread_opts", ThreadOpts.Type()),
		field("ignore_geometry", tBool),
		field("ignore_animation", tBool),
		field("ignore_embedded", tBool),
		field("ignore_all_content", tBool),
		field("evaluate_skinning", tBool),
		field("evaluate_caches", tBool),
		field("load_external_files", tBool),
		field("ignore_missing_external_files", tBool),
		field("skip_skin_vertices", tBool),
		field("clean_skin_weights", tBool),
		field("disable_quirks", tBool),
		field("strict", tBool),
		field("allow_unsafe", tBool),
		field("connect_broken_elements", tBool),
		field("allow_nodes_out_of_root", tBool),
		field("allow_missing_vertex_position", tBool),
		field("allow_empty_faces", tBool),
		field("generate_missing_normals", tBool),
		field("open_main_file_with_default", tBool),
		field("retain_dom", tBool),
		field("file_format", tEnum),
		field("file_size_estimate", tU64),
		field("read_buffer_size", tSize),
		field("filename", tStr),
		field("raw_filename", Blob.Type()),
		field("progress_cb", ProgressCb.Type()),
		field("progress_interval_hint", tU64),
		field("open_file_cb", OpenFileCb.Type()),
		field("space_conversion", tEnum),
		field("target_axes", CoordinateAxes.Type()),
		field("target_unit_meters", tF64),
		field("target_camera_axes", CoordinateAxes.Type()),
		field("target_light_axes", CoordinateAxes.Type()),
		field("no_prop_unit_scaling", tBool),
		field("no_anim_curve_unit_scaling", tBool),
		field("normalize_normals", tBool),
		field("normalize_tangents", tBool),
		field("use_root_transform", tBool),
		field("root_transform", Transform.Type()),
		field("_end_zero", tU32),
	)

	PropOverrideDesc = Record("ufbx_prop_override_desc",
		field("element_id", tU32),
		field("prop_name", tStr),
		field("value", Vec4.Type()),
		field("value_str", tStr),
		field("value_int", tS64),
	)

	EvaluateOpts = Record("ufbx_evaluate_opts",
		field("_begin_zero", tU32),
		field("temp_allocator", AllocatorOpts.Type()),
		field("result_allocator", AllocatorOpts.Type()),
		field("evaluate_skinning", tBool),
		field("evaluate_caches", tBool),
		field("load_external_files", tBool),
		field("open_file_cb", OpenFileCb.Type()),
		field("prop_overrides", List.Type()),
		field("_end_zero", tU32),
	)

	SubdivideOpts = Record("ufbx_subdivide_opts",
		field("_begin_zero", tU32),
		field("temp_allocator", AllocatorOpts.Type()),
		field("result_allocator", AllocatorOpts.Type()),
		field("boundary", tEnum),
		field("uv_boundary", tEnum),
		field("ignore_normals", tBool),
		field("interpolate_normals", tBool),
		field("interpolate_tangents", tBool),
		field("evaluate_source_vertices", tBool),
		field("max_source_vertices", tSize),
		field("_end_zero", tU32),
	)

	TessellateOpts = Record("ufbx_tessellate_opts",
		field("_begin_zero", tU32),
		field("temp_allocator", AllocatorOpts.Type()),
		field("result_allocator", AllocatorOpts.Type()),
		field("span_subdivision_u", tU32),
		field("span_subdivision_v", tU32),
		field("_end_zero", tU32),
	)

	GeometryCacheOpts = Record("ufbx_geometry_cache_opts",
		field("_begin_zero", tU32),
		field("temp_allocator", AllocatorOpts.Type()),
		field("result_allocator", AllocatorOpts.Type()),
		field("open_file_cb", OpenFileCb.Type()),
		field("frames_per_second", tF64),
		field("_end_zero", tU32),
	)

	ErrorFrame = Record("ufbx_error_frame",
		field("source_line", tU32),
		field("function", tStr),
		field("description", tStr),
	)

	Error = Record("ufbx_error",
		field("type", tEnum),
		field("description", tStr),
		field("stack_size", tU32),
		field("stack", Array(ErrorFrame.Type(), ErrorStackMax)),
		field("info_length", tSize),
		field("info", Array(tU8, ErrorInfoLength)),
	)

	Panic = Record("ufbx_panic",
		field("did_panic", tBool),
		field("message_length", tSize),
		field("message", Array(tU8, PanicMessageLength)),
	)

	Progress = Record("ufbx_progress",
		field("bytes_read", tU64),
		field("bytes_total", tU64),
	)

	OpenFileInfo = Record("ufbx_open_file_info",
		field("context", tPtr),
		field("type", tEnum),
		field("original_filename", Blob.Type()),
	)

	ThreadPoolInfo = Record("ufbx_thread_pool_info",
		field("max_concurrent_tasks", tU32),
	)

	Face = Record("ufbx_face",
		field("index_begin", tU32),
		field("num_indices", tU32),
	)

	TopoEdge = Record("ufbx_topo_edge",
		field("index", tU32),
		field("next", tU32),
		field("prev", tU32),
		field("twin", tU32),
		field("face", tU32),
		field("edge", tU32),
		field("flags", tU32),
	)

	SceneInfo = Record("ufbxw_scene_info",
		field("num_elements", tU32),
		field("num_nodes", tU32),
		field("num_meshes", tU32),
		field("num_materials", tU32),
		field("num_anim_stacks", tU32),
		field("version", tU32),
		field("file_format", tEnum),
		field("ascii", tBool),
		field("retained_dom", tBool),
	)

	MeshInfo = Record("ufbxw_mesh_info",
		field("num_vertices", tU32),
		field("num_indices", tU32),
		field("num_faces", tU32),
		field("num_triangles", tU32),
		field("max_face_triangles", tU32),
		field("num_edges", tU32),
	)

	GeometryCacheInfo = Record("ufbxw_geometry_cache_info",
		field("num_channels", tU32),
		field("num_frames", tU32),
		field("frames_per_second", tF64),
	)
)
