package abi

import (
	"encoding/binary"
	"fmt"
	"math"

	"go.bytecodealliance.org/wit"

	fbxbridge "github.com/wippyai/ufbx-bridge"
)

var calc = NewCalculator()

// Struct is the layout of one engine struct. Fields are addressed by dotted
// path, so "temp_allocator.allocator.alloc_fn" reaches into nested records.
type Struct struct {
	def    *wit.TypeDef
	fields map[string]slot
	Name   string
	Size   uint32
	Align  uint32
}

type slot struct {
	typ    wit.Type
	offset uint32
	size   uint32
}

// Record declares a struct from its fields in declaration order.
func Record(name string, fields ...wit.Field) *Struct {
	def := &wit.TypeDef{Name: &name, Kind: &wit.Record{Fields: fields}}
	info := calc.Calculate(def)

	s := &Struct{
		def:    def,
		fields: make(map[string]slot),
		Name:   name,
		Size:   info.Size,
		Align:  info.Align,
	}
	s.index("", 0, def)
	return s
}

func (s *Struct) index(prefix string, base uint32, def *wit.TypeDef) {
	rec, ok := def.Kind.(*wit.Record)
	if !ok {
		return
	}
	offs := calc.Calculate(def).FieldOffs
	for _, f := range rec.Fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		off := base + offs[f.Name]
		s.fields[path] = slot{typ: f.Type, offset: off, size: calc.Calculate(f.Type).Size}
		if nested, ok := f.Type.(*wit.TypeDef); ok {
			s.index(path, off, nested)
		}
	}
}

// Type returns the struct as a WIT type for nesting in other records.
func (s *Struct) Type() wit.Type {
	return s.def
}

// Offset returns the byte offset of a field. Unknown paths are programming
// errors in the declarations and panic.
func (s *Struct) Offset(path string) uint32 {
	return s.lookup(path).offset
}

// FieldSize returns the byte size of a field.
func (s *Struct) FieldSize(path string) uint32 {
	return s.lookup(path).size
}

func (s *Struct) lookup(path string) slot {
	sl, ok := s.fields[path]
	if !ok {
		panic(fmt.Sprintf("abi: %s has no field %q", s.Name, path))
	}
	return sl
}

// Array returns a fixed-size array type of n elements.
func Array(elem wit.Type, n int) wit.Type {
	types := make([]wit.Type, n)
	for i := range types {
		types[i] = elem
	}
	return &wit.TypeDef{Kind: &wit.Tuple{Types: types}}
}

// Sizeof returns the size of a WIT type under the engine layout.
func Sizeof(t wit.Type) uint32 {
	return calc.Calculate(t).Size
}

// Span is a pointer and element count pair: the shape shared by the
// engine's string, blob and list structs.
type Span struct {
	Ptr uint32
	Len uint32
}

// IsNull reports whether the span is the {null, 0} representation.
func (s Span) IsNull() bool {
	return s.Ptr == 0 && s.Len == 0
}

// Callback is a {function pointer, context pointer} pair.
type Callback struct {
	Fn   uint32
	User uint32
}

// Frame is a Go-side byte image of one engine struct.
type Frame struct {
	s   *Struct
	buf []byte
}

// NewFrame returns a zeroed frame for s.
func NewFrame(s *Struct) *Frame {
	return &Frame{s: s, buf: make([]byte, s.Size)}
}

// ReadFrame copies a struct out of linear memory.
func ReadFrame(mem fbxbridge.Memory, ptr uint32, s *Struct) (*Frame, error) {
	if ptr == 0 {
		return nil, fmt.Errorf("read %s: null pointer", s.Name)
	}
	data, err := mem.Read(ptr, s.Size)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Name, err)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Frame{s: s, buf: buf}, nil
}

// WriteTo copies the frame into linear memory at ptr.
func (f *Frame) WriteTo(mem fbxbridge.Memory, ptr uint32) error {
	if err := mem.Write(ptr, f.buf); err != nil {
		return fmt.Errorf("write %s: %w", f.s.Name, err)
	}
	return nil
}

func (f *Frame) Struct() *Struct { return f.s }
func (f *Frame) Bytes() []byte   { return f.buf }

// Sub returns a frame over the nested struct at path. It shares storage
// with f.
func (f *Frame) Sub(path string, s *Struct) *Frame {
	off := f.s.Offset(path)
	return &Frame{s: s, buf: f.buf[off : off+s.Size]}
}

// Put copies src into the nested struct at path.
func (f *Frame) Put(path string, src *Frame) {
	copy(f.buf[f.s.Offset(path):], src.buf)
}

// Field returns the raw bytes of a field.
func (f *Frame) Field(path string) []byte {
	sl := f.s.lookup(path)
	return f.buf[sl.offset : sl.offset+sl.size]
}

func (f *Frame) SetU8(path string, v uint8) {
	f.buf[f.s.Offset(path)] = v
}

func (f *Frame) SetBool(path string, v bool) {
	var b uint8
	if v {
		b = 1
	}
	f.SetU8(path, b)
}

func (f *Frame) SetU32(path string, v uint32) {
	binary.LittleEndian.PutUint32(f.buf[f.s.Offset(path):], v)
}

func (f *Frame) SetU64(path string, v uint64) {
	binary.LittleEndian.PutUint64(f.buf[f.s.Offset(path):], v)
}

func (f *Frame) SetS64(path string, v int64) {
	f.SetU64(path, uint64(v))
}

func (f *Frame) SetF64(path string, v float64) {
	f.SetU64(path, math.Float64bits(v))
}

// SetSpan writes a {pointer, length} pair at path.
func (f *Frame) SetSpan(path string, sp Span) {
	off := f.s.Offset(path)
	binary.LittleEndian.PutUint32(f.buf[off:], sp.Ptr)
	binary.LittleEndian.PutUint32(f.buf[off+4:], sp.Len)
}

// SetCallback writes a {fn, user} pair at path.
func (f *Frame) SetCallback(path string, cb Callback) {
	off := f.s.Offset(path)
	binary.LittleEndian.PutUint32(f.buf[off:], cb.Fn)
	binary.LittleEndian.PutUint32(f.buf[off+4:], cb.User)
}

func (f *Frame) U8(path string) uint8 {
	return f.buf[f.s.Offset(path)]
}

func (f *Frame) Bool(path string) bool {
	return f.U8(path) != 0
}

func (f *Frame) U32(path string) uint32 {
	return binary.LittleEndian.Uint32(f.buf[f.s.Offset(path):])
}

func (f *Frame) U64(path string) uint64 {
	return binary.LittleEndian.Uint64(f.buf[f.s.Offset(path):])
}

func (f *Frame) S64(path string) int64 {
	return int64(f.U64(path))
}

func (f *Frame) F64(path string) float64 {
	return math.Float64frombits(f.U64(path))
}

func (f *Frame) Span(path string) Span {
	off := f.s.Offset(path)
	return Span{
		Ptr: binary.LittleEndian.Uint32(f.buf[off:]),
		Len: binary.LittleEndian.Uint32(f.buf[off+4:]),
	}
}

func (f *Frame) Callback(path string) Callback {
	off := f.s.Offset(path)
	return Callback{
		Fn:   binary.LittleEndian.Uint32(f.buf[off:]),
		User: binary.LittleEndian.Uint32(f.buf[off+4:]),
	}
}
