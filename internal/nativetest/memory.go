package nativetest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
)

// heapBase keeps low addresses unused so stray null-relative writes fail.
const heapBase = 1024

// Memory is a fixed-size linear memory with a bump allocator that tracks
// live allocations. Read returns views, like wazero.
type Memory struct {
	buf      []byte
	live     map[uint32]uint32
	next     uint32
	top      uint32
	failures []string
	allocs   int
	frees    int
	mu       sync.Mutex
}

// NewMemory returns a memory of size bytes.
func NewMemory(size uint32) *Memory {
	return &Memory{
		buf:  make([]byte, size),
		live: make(map[uint32]uint32),
		next: heapBase,
		top:  size,
	}
}

func (m *Memory) Alloc(_ context.Context, size, align uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alloc(size, align)
}

func (m *Memory) alloc(size, align uint32) (uint32, error) {
	if align < 8 {
		align = 8
	}
	if size == 0 {
		size = 1
	}
	ptr := abi.AlignTo(m.next, align)
	end, ok := abi.SafeAddU32(ptr, size)
	if !ok || end > m.top {
		return 0, fmt.Errorf("nativetest: out of memory allocating %d bytes", size)
	}
	clear(m.buf[ptr:end])
	m.next = end
	m.live[ptr] = size
	m.allocs++
	return ptr, nil
}

func (m *Memory) Free(_ context.Context, ptr, _, _ uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free(ptr)
}

func (m *Memory) free(ptr uint32) {
	if ptr == 0 {
		return
	}
	if _, ok := m.live[ptr]; !ok {
		m.failures = append(m.failures, fmt.Sprintf("free of unallocated pointer %d", ptr))
		return
	}
	delete(m.live, ptr)
	m.frees++
}

// Live returns the number of outstanding allocations.
func (m *Memory) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Allocated reports whether ptr is the start of a live allocation.
func (m *Memory) Allocated(ptr uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[ptr]
	return ok
}

// Contains reports whether [ptr, ptr+size) lies inside one live allocation.
func (m *Memory) Contains(ptr, size uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for base, n := range m.live {
		if ptr >= base && ptr+size <= base+n {
			return true
		}
	}
	return false
}

// Failures returns misuse detected by the allocator, such as double frees.
func (m *Memory) Failures() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.failures...)
}

// Counts returns the number of allocations and frees so far.
func (m *Memory) Counts() (allocs, frees int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocs, m.frees
}

// Put allocates and writes data, returning its pointer. Empty data yields 0.
func (m *Memory) Put(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ptr, err := m.alloc(uint32(len(data)), 1)
	if err != nil {
		panic(err)
	}
	copy(m.buf[ptr:], data)
	return ptr
}

// putStatic stores data in an untracked region at the top of memory, for
// engine-owned constants such as error descriptions.
func (m *Memory) putStatic(data []byte) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	size := uint32(len(data))
	if size == 0 || m.top-m.next < size+8 {
		return 0
	}
	m.top = (m.top - size) &^ 7
	copy(m.buf[m.top:], data)
	return m.top
}

func (m *Memory) bounds(offset, length uint32) error {
	end, ok := abi.SafeAddU32(offset, length)
	if !ok || end > uint32(len(m.buf)) {
		return fmt.Errorf("out of bounds: offset=%d, length=%d", offset, length)
	}
	return nil
}

func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	if err := m.bounds(offset, length); err != nil {
		return nil, err
	}
	return m.buf[offset : offset+length : offset+length], nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if err := m.bounds(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.buf[offset:], data)
	return nil
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	if err := m.bounds(offset, 1); err != nil {
		return 0, err
	}
	return m.buf[offset], nil
}

func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	if err := m.bounds(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.buf[offset:]), nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	if err := m.bounds(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.buf[offset:]), nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	if err := m.bounds(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.buf[offset:]), nil
}

func (m *Memory) WriteU8(offset uint32, value uint8) error {
	if err := m.bounds(offset, 1); err != nil {
		return err
	}
	m.buf[offset] = value
	return nil
}

func (m *Memory) WriteU16(offset uint32, value uint16) error {
	if err := m.bounds(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.buf[offset:], value)
	return nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if err := m.bounds(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], value)
	return nil
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	if err := m.bounds(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.buf[offset:], value)
	return nil
}

func (m *Memory) Size() uint32 {
	return uint32(len(m.buf))
}

var (
	_ fbxbridge.Memory      = (*Memory)(nil)
	_ fbxbridge.MemorySizer = (*Memory)(nil)
	_ fbxbridge.Allocator   = (*Memory)(nil)
)
