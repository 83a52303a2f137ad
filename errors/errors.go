package errors

import (
	"fmt"
	"strings"
)

// Phase is the stage of an engine call an error was raised in.
type Phase string

const (
	PhaseTranslate Phase = "translate" // Go options to engine structs
	PhaseCall      Phase = "call"      // engine entry points
	PhaseCallback  Phase = "callback"  // engine to Go trampolines
	PhaseResource  Phase = "resource"  // handle ownership
	PhaseLoad      Phase = "load"      // engine module loading
	PhaseConfig    Phase = "config"    // option files
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInvalidData    Kind = "invalid_data"
	KindUnsupported    Kind = "unsupported"
	KindAllocation     Kind = "allocation"
	KindOverflow       Kind = "overflow"
	KindNilPointer     Kind = "nil_pointer"
	KindInvalidEnum    Kind = "invalid_enum"
	KindInvalidVariant Kind = "invalid_variant"
	KindConsumed       Kind = "consumed"
	KindClosed         Kind = "closed"
	KindNotFound       Kind = "not_found"
	KindNotInitialized Kind = "not_initialized"
	KindInvalidInput   Kind = "invalid_input"
	KindInstantiation  Kind = "instantiation"
	KindTrap           Kind = "trap"
)

// Error is the structured error type for failures on the Go side of the
// boundary. Failures reported by the engine use NativeError instead.
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	// Struct names the engine type involved, such as ufbx_string or size_t.
	Struct string
	Detail string
	// Path locates the offending option field, outermost first.
	Path   []string
}

// Error renders as "[phase] kind at a.b (GoType -> Struct): detail".
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	switch {
	case e.GoType != "" && e.Struct != "":
		fmt.Fprintf(&b, " (%s -> %s)", e.GoType, e.Struct)
	case e.GoType != "":
		fmt.Fprintf(&b, " (%s)", e.GoType)
	case e.Struct != "":
		fmt.Fprintf(&b, " (%s)", e.Struct)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches a target *Error by kind, and by phase unless the target
// leaves it empty.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e.Kind != t.Kind {
		return false
	}
	return t.Phase == "" || e.Phase == t.Phase
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

func (b *Builder) Struct(name string) *Builder {
	b.err.Struct = name
	return b
}

// Value records the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the message, formatting it when args are given.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// AllocationFailed reports an engine heap or arena allocation that
// returned null.
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// InvalidVariant reports an option whose selected variant conflicts with
// another setting of the same slot.
func InvalidVariant(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidVariant,
		Path:   path,
		Detail: detail,
	}
}

// Consumed reports a single-use value that was already handed to the engine.
func Consumed(phase Phase, path []string, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindConsumed,
		Path:   path,
		Detail: fmt.Sprintf("%s already consumed", what),
	}
}

// Closed reports use of a handle or context after Close.
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// Unsupported reports a feature the engine build lacks.
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// NilPointer reports a required Go value that was nil.
func NilPointer(phase Phase, path []string, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilPointer,
		Path:   path,
		GoType: goType,
		Detail: "nil pointer",
	}
}

// Overflow reports a Go value that does not fit the engine's field.
func Overflow(phase Phase, path []string, value any, engineType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Struct: engineType,
		Detail: fmt.Sprintf("value %v overflows %s", value, engineType),
		Value:  value,
	}
}

func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound reports a missing export, file or entry.
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Instantiation reports a failure to instantiate the engine module or
// its host imports.
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate engine module",
		Cause:  cause,
	}
}

// Compile reports engine module bytes that wazero rejected.
func Compile(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: "compile engine module",
		Cause:  cause,
	}
}

// Trap wraps a failure of the engine call itself, such as a wasm trap.
func Trap(fn string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindTrap,
		Detail: fmt.Sprintf("call %s", fn),
		Cause:  cause,
	}
}
