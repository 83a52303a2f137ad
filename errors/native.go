package errors

import (
	"fmt"
	"strings"
)

// ErrorType is the kind field of the engine's error record.
// Values match the engine's enumeration and must not be reordered.
type ErrorType uint32

const (
	ErrorNone ErrorType = iota
	ErrorUnknown
	ErrorFileNotFound
	ErrorEmptyFile
	ErrorExternalFileNotFound
	ErrorOutOfMemory
	ErrorMemoryLimit
	ErrorAllocationLimit
	ErrorTruncatedFile
	ErrorIO
	ErrorCancelled
	ErrorUnrecognizedFileFormat
	ErrorUninitializedOptions
	ErrorZeroVertexSize
	ErrorTruncatedVertexStream
	ErrorInvalidUTF8
	ErrorFeatureDisabled
	ErrorBadNurbs
	ErrorBadIndex
	ErrorNodeDepthLimit
	ErrorThreadedASCIIParse
	ErrorUnsafeOptions
	ErrorDuplicateOverride
	ErrorUnsupportedVersion

	errorTypeCount
)

var errorTypeNames = [...]string{
	ErrorNone:                   "none",
	ErrorUnknown:                "unknown",
	ErrorFileNotFound:           "file_not_found",
	ErrorEmptyFile:              "empty_file",
	ErrorExternalFileNotFound:   "external_file_not_found",
	ErrorOutOfMemory:            "out_of_memory",
	ErrorMemoryLimit:            "memory_limit",
	ErrorAllocationLimit:        "allocation_limit",
	ErrorTruncatedFile:          "truncated_file",
	ErrorIO:                     "io",
	ErrorCancelled:              "cancelled",
	ErrorUnrecognizedFileFormat: "unrecognized_file_format",
	ErrorUninitializedOptions:   "uninitialized_options",
	ErrorZeroVertexSize:         "zero_vertex_size",
	ErrorTruncatedVertexStream:  "truncated_vertex_stream",
	ErrorInvalidUTF8:            "invalid_utf8",
	ErrorFeatureDisabled:        "feature_disabled",
	ErrorBadNurbs:               "bad_nurbs",
	ErrorBadIndex:               "bad_index",
	ErrorNodeDepthLimit:         "node_depth_limit",
	ErrorThreadedASCIIParse:     "threaded_ascii_parse",
	ErrorUnsafeOptions:          "unsafe_options",
	ErrorDuplicateOverride:      "duplicate_override",
	ErrorUnsupportedVersion:     "unsupported_version",
}

func (t ErrorType) String() string {
	if t < errorTypeCount {
		return errorTypeNames[t]
	}
	return fmt.Sprintf("error_type(%d)", uint32(t))
}

// Valid reports whether t is a known engine error type.
func (t ErrorType) Valid() bool {
	return t < errorTypeCount
}

// Category groups engine error types for callers that branch coarsely.
type Category uint8

const (
	CategoryNone Category = iota
	CategoryAllocation
	CategoryIO
	CategoryFormat
	CategoryCancellation
	CategoryMisuse
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryAllocation:
		return "allocation"
	case CategoryIO:
		return "io"
	case CategoryFormat:
		return "format"
	case CategoryCancellation:
		return "cancellation"
	case CategoryMisuse:
		return "misuse"
	default:
		return "unknown"
	}
}

// Category returns the failure group of t.
func (t ErrorType) Category() Category {
	switch t {
	case ErrorNone:
		return CategoryNone
	case ErrorOutOfMemory, ErrorMemoryLimit, ErrorAllocationLimit:
		return CategoryAllocation
	case ErrorFileNotFound, ErrorExternalFileNotFound, ErrorIO:
		return CategoryIO
	case ErrorEmptyFile, ErrorTruncatedFile, ErrorUnrecognizedFileFormat,
		ErrorZeroVertexSize, ErrorTruncatedVertexStream, ErrorInvalidUTF8,
		ErrorBadNurbs, ErrorBadIndex, ErrorNodeDepthLimit, ErrorUnsupportedVersion:
		return CategoryFormat
	case ErrorCancelled:
		return CategoryCancellation
	case ErrorUninitializedOptions, ErrorFeatureDisabled, ErrorThreadedASCIIParse,
		ErrorUnsafeOptions, ErrorDuplicateOverride:
		return CategoryMisuse
	default:
		return CategoryUnknown
	}
}

// Frame is one entry of the engine's internal call stack at the failure.
type Frame struct {
	Function    string
	Description string
	SourceLine  uint32
}

// NativeError is a decoded engine error record.
type NativeError struct {
	Description string
	Info        string
	Stack       []Frame
	Record      []byte // raw record bytes, kept for engine-side formatting
	Type        ErrorType
}

// Error implements the error interface
func (e *NativeError) Error() string {
	var b strings.Builder
	b.WriteString("ufbx: ")
	if e.Description != "" {
		b.WriteString(e.Description)
	} else {
		b.WriteString(e.Type.String())
	}
	b.WriteString(" (")
	b.WriteString(e.Type.String())
	b.WriteByte(')')
	if e.Info != "" {
		b.WriteString(": ")
		b.WriteString(e.Info)
	}
	return b.String()
}

// Is matches another NativeError with the same type, so the sentinels below
// work with errors.Is.
func (e *NativeError) Is(target error) bool {
	if t, ok := target.(*NativeError); ok {
		return e.Type == t.Type
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrUnknown                = &NativeError{Type: ErrorUnknown}
	ErrFileNotFound           = &NativeError{Type: ErrorFileNotFound}
	ErrEmptyFile              = &NativeError{Type: ErrorEmptyFile}
	ErrExternalFileNotFound   = &NativeError{Type: ErrorExternalFileNotFound}
	ErrOutOfMemory            = &NativeError{Type: ErrorOutOfMemory}
	ErrMemoryLimit            = &NativeError{Type: ErrorMemoryLimit}
	ErrAllocationLimit        = &NativeError{Type: ErrorAllocationLimit}
	ErrTruncatedFile          = &NativeError{Type: ErrorTruncatedFile}
	ErrIO                     = &NativeError{Type: ErrorIO}
	ErrCancelled              = &NativeError{Type: ErrorCancelled}
	ErrUnrecognizedFileFormat = &NativeError{Type: ErrorUnrecognizedFileFormat}
	ErrUninitializedOptions   = &NativeError{Type: ErrorUninitializedOptions}
	ErrUnsafeOptions          = &NativeError{Type: ErrorUnsafeOptions}
	ErrDuplicateOverride      = &NativeError{Type: ErrorDuplicateOverride}
	ErrUnsupportedVersion     = &NativeError{Type: ErrorUnsupportedVersion}
)

// PanicError is raised with panic() when the engine reports a violated
// precondition through its panic record.
type PanicError struct {
	Op      string
	Message string
}

func (e *PanicError) Error() string {
	if e.Op == "" {
		return "ufbx panic: " + e.Message
	}
	return fmt.Sprintf("ufbx panic in %s: %s", e.Op, e.Message)
}
