package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseTranslate,
				Kind:   KindOverflow,
				Path:   []string{"load_opts", "filename"},
				GoType: "string",
				Struct: "ufbx_string",
				Detail: "too long",
			},
			contains: []string{"[translate] overflow at load_opts.filename (string -> ufbx_string): too long"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseCall,
				Kind:  KindTrap,
			},
			contains: []string{"[call]", "trap"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseCall,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[call]", "allocation", "memory full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseCall, KindTrap, cause, "call ufbx_load_memory")

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not reach cause")
	}
	if !errors.Is(err, &Error{Phase: PhaseCall, Kind: KindTrap}) {
		t.Error("expected phase/kind match")
	}
	if errors.Is(err, &Error{Phase: PhaseCall, Kind: KindClosed}) {
		t.Error("kind mismatch should not match")
	}
	if errors.Is(err, &Error{Phase: PhaseLoad, Kind: KindTrap}) {
		t.Error("phase mismatch should not match")
	}
	if !errors.Is(err, &Error{Kind: KindTrap}) {
		t.Error("kind-only target should match any phase")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseTranslate, KindInvalidVariant).
		Path("thread_opts", "pool").
		GoType("callback.ThreadPool").
		Struct("ufbx_thread_pool").
		Value(3).
		Detail("pool %s", "conflict").
		Build()

	if err.Phase != PhaseTranslate || err.Kind != KindInvalidVariant {
		t.Fatalf("unexpected phase/kind: %s/%s", err.Phase, err.Kind)
	}
	if strings.Join(err.Path, ".") != "thread_opts.pool" {
		t.Errorf("path: got %v", err.Path)
	}
	if err.Detail != "pool conflict" {
		t.Errorf("detail: got %q", err.Detail)
	}
	if !strings.Contains(err.Error(), "(callback.ThreadPool -> ufbx_thread_pool)") {
		t.Errorf("message: %q", err.Error())
	}
	if err.Value != 3 {
		t.Errorf("value: got %v", err.Value)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		err  *Error
		name string
		kind Kind
		want string
	}{
		{AllocationFailed(PhaseTranslate, 1024, 8), "allocation", KindAllocation, "1024"},
		{Consumed(PhaseTranslate, nil, "stream"), "consumed", KindConsumed, "stream already consumed"},
		{Closed(PhaseResource, "scene"), "closed", KindClosed, "scene is closed"},
		{Overflow(PhaseTranslate, []string{"indices"}, 1<<33, "size_t"), "overflow", KindOverflow, "overflows size_t"},
		{NilPointer(PhaseTranslate, []string{"stream"}, "stream.Stream"), "nil", KindNilPointer, "(stream.Stream)"},
		{Compile(errors.New("bad magic")), "compile", KindInvalidData, "bad magic"},
		{NotFound(PhaseLoad, "export", "malloc"), "not found", KindNotFound, `"malloc"`},
		{Trap("ufbx_load_memory", errors.New("unreachable")), "trap", KindTrap, "ufbx_load_memory"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Kind != tc.kind {
				t.Errorf("kind: got %s, want %s", tc.err.Kind, tc.kind)
			}
			if !strings.Contains(tc.err.Error(), tc.want) {
				t.Errorf("%q does not contain %q", tc.err.Error(), tc.want)
			}
		})
	}
}

func TestErrorType_Category(t *testing.T) {
	tests := []struct {
		typ  ErrorType
		want Category
	}{
		{ErrorNone, CategoryNone},
		{ErrorOutOfMemory, CategoryAllocation},
		{ErrorMemoryLimit, CategoryAllocation},
		{ErrorAllocationLimit, CategoryAllocation},
		{ErrorFileNotFound, CategoryIO},
		{ErrorExternalFileNotFound, CategoryIO},
		{ErrorIO, CategoryIO},
		{ErrorTruncatedFile, CategoryFormat},
		{ErrorUnrecognizedFileFormat, CategoryFormat},
		{ErrorCancelled, CategoryCancellation},
		{ErrorUninitializedOptions, CategoryMisuse},
		{ErrorDuplicateOverride, CategoryMisuse},
		{ErrorUnsafeOptions, CategoryMisuse},
		{ErrorUnknown, CategoryUnknown},
		{ErrorType(999), CategoryUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.typ.String(), func(t *testing.T) {
			if got := tc.typ.Category(); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestErrorType_Values(t *testing.T) {
	// Values are fixed by the engine's enumeration.
	if ErrorTruncatedFile != 8 || ErrorCancelled != 10 || ErrorUnsupportedVersion != 23 {
		t.Fatalf("enumeration drifted: truncated=%d cancelled=%d unsupported=%d",
			ErrorTruncatedFile, ErrorCancelled, ErrorUnsupportedVersion)
	}
	if ErrorType(24).Valid() {
		t.Error("24 should be out of range")
	}
	if got := ErrorType(24).String(); got != "error_type(24)" {
		t.Errorf("got %q", got)
	}
}

func TestNativeError_Is(t *testing.T) {
	err := error(&NativeError{
		Type:        ErrorCancelled,
		Description: "Cancelled",
	})

	if !errors.Is(err, ErrCancelled) {
		t.Error("expected match with ErrCancelled")
	}
	if errors.Is(err, ErrFileNotFound) {
		t.Error("unexpected match with ErrFileNotFound")
	}

	var ne *NativeError
	if !errors.As(err, &ne) || ne.Type.Category() != CategoryCancellation {
		t.Error("errors.As failed")
	}
}

func TestNativeError_Error(t *testing.T) {
	err := &NativeError{
		Type:        ErrorFileNotFound,
		Description: "File not found",
		Info:        "missing.fbx",
	}
	msg := err.Error()
	for _, s := range []string{"File not found", "file_not_found", "missing.fbx"} {
		if !strings.Contains(msg, s) {
			t.Errorf("%q does not contain %q", msg, s)
		}
	}

	bare := &NativeError{Type: ErrorIO}
	if !strings.Contains(bare.Error(), "io") {
		t.Errorf("bare error: %q", bare.Error())
	}
}

func TestPanicError(t *testing.T) {
	err := &PanicError{Op: "triangulate_face", Message: "Face needs at least 3 indices"}
	if !strings.Contains(err.Error(), "triangulate_face") || !strings.Contains(err.Error(), "3 indices") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
