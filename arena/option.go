package arena

import (
	"context"
	"fmt"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/errors"
)

// Tag says how an option field reaches the engine struct.
type Tag uint8

const (
	// Unset fields translate to the zero representation.
	Unset Tag = iota
	// Borrowed fields alias memory the caller keeps alive across the call.
	Borrowed
	// Owned fields are copied into the arena.
	Owned
	// Callback fields become a trampoline and a registered context.
	Callback
	// RawEscape fields are engine-shaped values passed through unchecked.
	RawEscape
)

var tagNames = [...]string{
	Unset:     "unset",
	Borrowed:  "borrowed",
	Owned:     "owned",
	Callback:  "callback",
	RawEscape: "raw",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", t)
}

// Unchecked must be passed to every constructor of a RawEscape value. It
// marks the call site as taking responsibility for pointers the bridge
// cannot validate.
type Unchecked struct{}

// String is a string option field.
type String struct {
	value  string
	borrow fbxbridge.Buffer
	tag    Tag
}

// StringOf returns an owned string field.
func StringOf(s string) String {
	return String{value: s, tag: Owned}
}

// BorrowString returns a field that aliases bytes already in engine memory.
func BorrowString(buf fbxbridge.Buffer) String {
	return String{borrow: buf, tag: Borrowed}
}

func (s String) Tag() Tag { return s.tag }

// Translate resolves the field to a {data, length} span.
func (s String) Translate(ctx context.Context, a *Arena) (abi.Span, error) {
	switch s.tag {
	case Unset:
		return abi.Span{}, nil
	case Owned:
		return a.String(ctx, s.value)
	case Borrowed:
		return borrowed(a, s.borrow)
	}
	return abi.Span{}, errors.InvalidVariant(errors.PhaseTranslate, nil, "string field tagged "+s.tag.String())
}

// Blob is a byte-slice option field.
type Blob struct {
	value  []byte
	borrow fbxbridge.Buffer
	tag    Tag
}

// BlobOf returns an owned blob field. data is copied at translate time.
func BlobOf(data []byte) Blob {
	return Blob{value: data, tag: Owned}
}

// BorrowBlob returns a field that aliases bytes already in engine memory.
func BorrowBlob(buf fbxbridge.Buffer) Blob {
	return Blob{borrow: buf, tag: Borrowed}
}

func (b Blob) Tag() Tag { return b.tag }

func (b Blob) Translate(ctx context.Context, a *Arena) (abi.Span, error) {
	switch b.tag {
	case Unset:
		return abi.Span{}, nil
	case Owned:
		return a.Bytes(ctx, b.value)
	case Borrowed:
		return borrowed(a, b.borrow)
	}
	return abi.Span{}, errors.InvalidVariant(errors.PhaseTranslate, nil, "blob field tagged "+b.tag.String())
}

// borrowed checks that buf lies in engine memory and returns it verbatim.
func borrowed(a *Arena, buf fbxbridge.Buffer) (abi.Span, error) {
	if buf.Len == 0 {
		return abi.Span{}, nil
	}
	if buf.Ptr == 0 {
		return abi.Span{}, errors.NilPointer(errors.PhaseTranslate, nil, "fbxbridge.Buffer")
	}
	if _, err := a.Memory().Read(buf.Ptr, buf.Len); err != nil {
		return abi.Span{}, errors.Wrap(errors.PhaseTranslate, errors.KindOutOfBounds, err, "borrowed buffer")
	}
	return abi.Span{Ptr: buf.Ptr, Len: buf.Len}, nil
}

// Encoder is an element of a list field.
type Encoder interface {
	// Layout returns the engine struct the element encodes to.
	Layout() *abi.Struct

	// Encode fills f, placing any referenced data in a.
	Encode(ctx context.Context, a *Arena, f *abi.Frame) error
}

// List is a list-of-structs option field.
type List[T Encoder] struct {
	items  []T
	borrow abi.Span
	tag    Tag
}

// ListOf returns an owned list field.
func ListOf[T Encoder](items ...T) List[T] {
	return List[T]{items: items, tag: Owned}
}

// BorrowList returns a field over count elements already laid out in
// engine memory at ptr.
func BorrowList[T Encoder](ptr, count uint32) List[T] {
	return List[T]{borrow: abi.Span{Ptr: ptr, Len: count}, tag: Borrowed}
}

func (l List[T]) Tag() Tag { return l.tag }

// Len returns the element count.
func (l List[T]) Len() int {
	if l.tag == Borrowed {
		return int(l.borrow.Len)
	}
	return len(l.items)
}

// Translate lays the elements out contiguously in the arena, in order.
func (l List[T]) Translate(ctx context.Context, a *Arena) (abi.Span, error) {
	switch l.tag {
	case Unset:
		return abi.Span{}, nil
	case Borrowed:
		if l.borrow.Len == 0 {
			return abi.Span{}, nil
		}
		if l.borrow.Ptr == 0 {
			return abi.Span{}, errors.NilPointer(errors.PhaseTranslate, nil, "list")
		}
		return l.borrow, nil
	case Owned:
	default:
		return abi.Span{}, errors.InvalidVariant(errors.PhaseTranslate, nil, "list field tagged "+l.tag.String())
	}
	if len(l.items) == 0 {
		return abi.Span{}, nil
	}

	s := l.items[0].Layout()
	total, ok := abi.SafeMulU32(s.Size, uint32(len(l.items)))
	if !ok {
		return abi.Span{}, errors.Overflow(errors.PhaseTranslate, nil, len(l.items), s.Name)
	}
	base, err := a.Alloc(ctx, total, s.Align)
	if err != nil {
		return abi.Span{}, err
	}
	for i, item := range l.items {
		if item.Layout() != s {
			return abi.Span{}, errors.InvalidData(errors.PhaseTranslate, []string{fmt.Sprint(i)}, "mixed element layouts")
		}
		f := abi.NewFrame(s)
		if err := item.Encode(ctx, a, f); err != nil {
			return abi.Span{}, errors.New(errors.PhaseTranslate, errors.KindInvalidData).
				Path(fmt.Sprint(i)).
				Cause(err).
				Detail("encode %s", s.Name).
				Build()
		}
		if err := f.WriteTo(a.Memory(), base+uint32(i)*s.Size); err != nil {
			return abi.Span{}, errors.Wrap(errors.PhaseTranslate, errors.KindOutOfBounds, err, "write list element")
		}
	}
	return abi.Span{Ptr: base, Len: uint32(len(l.items))}, nil
}
