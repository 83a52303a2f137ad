package engine

// Guest exports the engine looks up at instantiation.
const (
	ExportMemory     = "memory"
	ExportInitialize = "_initialize"

	Malloc = "malloc"
	Free   = "free"

	// Fallbacks for builds that route the heap through the canonical ABI.
	CabiRealloc = "cabi_realloc"
	CabiFree    = "cabi_free"
)

// HostModule is the import module the guest trampolines call into.
const HostModule = "ufbx_host"
