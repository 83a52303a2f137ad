package fbxbridge

import "context"

// Memory represents the engine's linear memory.
// Read returns a view into memory that is only valid until the next call
// into the engine, which may grow and relocate it.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates memory in linear memory using the engine's heap.
type Allocator interface {
	Alloc(ctx context.Context, size, align uint32) (uint32, error)
	Free(ctx context.Context, ptr, size, align uint32)
}

// Buffer is a caller-owned region of linear memory.
// Passing a Buffer where an option accepts a borrowed reference hands the
// engine this exact pointer; the caller keeps it alive across the call.
type Buffer struct {
	Ptr uint32
	Len uint32
}

// IsNull reports whether the buffer points nowhere.
func (b Buffer) IsNull() bool {
	return b.Ptr == 0
}
