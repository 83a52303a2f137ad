package abi

import (
	"fmt"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/errors"
)

// maxRecordString bounds strings read out of error records.
const maxRecordString = 1 << 16

// ReadString copies a {data, length} span out of linear memory.
func ReadString(mem fbxbridge.Memory, sp Span) (string, error) {
	if sp.Len == 0 {
		return "", nil
	}
	if sp.Ptr == 0 {
		return "", fmt.Errorf("read string: null data with length %d", sp.Len)
	}
	data, err := mem.Read(sp.Ptr, sp.Len)
	if err != nil {
		return "", fmt.Errorf("read string: %w", err)
	}
	return string(data), nil
}

func boundedString(mem fbxbridge.Memory, sp Span) string {
	if sp.Len > maxRecordString {
		sp.Len = maxRecordString
	}
	s, err := ReadString(mem, sp)
	if err != nil {
		return ""
	}
	return s
}

// DecodeError reads the error record at ptr. It returns nil when the record
// reports no error.
func DecodeError(mem fbxbridge.Memory, ptr uint32) (*errors.NativeError, error) {
	f, err := ReadFrame(mem, ptr, Error)
	if err != nil {
		return nil, err
	}

	typ := errors.ErrorType(f.U32("type"))
	if typ == errors.ErrorNone {
		return nil, nil
	}

	ne := &errors.NativeError{
		Type:        typ,
		Description: boundedString(mem, f.Span("description")),
		Record:      f.Bytes(),
	}

	n := int(min(f.U32("stack_size"), ErrorStackMax))
	for i := 0; i < n; i++ {
		ef := ErrorFrameAt(f, i)
		ne.Stack = append(ne.Stack, errors.Frame{
			SourceLine:  ef.U32("source_line"),
			Function:    boundedString(mem, ef.Span("function")),
			Description: boundedString(mem, ef.Span("description")),
		})
	}

	info := f.Field("info")
	infoLen := min(f.U32("info_length"), ErrorInfoLength)
	ne.Info = string(info[:infoLen])

	return ne, nil
}

// DecodePanic reads the panic record at ptr and returns its message when
// the flag is set.
func DecodePanic(mem fbxbridge.Memory, ptr uint32) (bool, string, error) {
	f, err := ReadFrame(mem, ptr, Panic)
	if err != nil {
		return false, "", err
	}
	if !f.Bool("did_panic") {
		return false, "", nil
	}
	msg := f.Field("message")
	n := min(f.U32("message_length"), PanicMessageLength)
	return true, string(msg[:n]), nil
}

// EncodePanic fills a panic record. The message is truncated to fit the
// fixed buffer with room for a terminator.
func EncodePanic(message string) *Frame {
	f := NewFrame(Panic)
	f.SetBool("did_panic", true)
	n := copy(f.Field("message")[:PanicMessageLength-1], message)
	f.SetU32("message_length", uint32(n))
	return f
}

// ErrorFrameAt returns a frame over stack entry i of an error record frame.
func ErrorFrameAt(f *Frame, i int) *Frame {
	size := ErrorFrame.Size
	stack := f.Field("stack")
	return &Frame{s: ErrorFrame, buf: stack[uint32(i)*size : uint32(i+1)*size]}
}
