package callback

import (
	"context"
	"sync/atomic"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/stream"
)

// Raw is an engine callback pair passed through unchecked.
type Raw struct {
	cb abi.Callback
}

// RawCallback wraps an engine function pointer and context pointer.
func RawCallback(_ arena.Unchecked, fn, user uint32) *Raw {
	return &Raw{cb: abi.Callback{Fn: fn, User: user}}
}

// exclusive resolves the tag of a callback field that has a Go function
// variant and a raw variant.
func exclusive(path string, hasFunc bool, raw *Raw) (arena.Tag, error) {
	switch {
	case hasFunc && raw != nil:
		return 0, errors.InvalidVariant(errors.PhaseTranslate, []string{path}, "both Func and Raw are set")
	case hasFunc:
		return arena.Callback, nil
	case raw != nil:
		return arena.RawEscape, nil
	}
	return arena.Unset, nil
}

// ProgressResult tells the engine whether to keep going.
type ProgressResult uint32

const (
	Continue ProgressResult = ProgressResult(abi.ProgressContinue)
	Cancel   ProgressResult = ProgressResult(abi.ProgressCancel)
)

// ProgressInfo is the engine's progress report.
type ProgressInfo struct {
	BytesRead  uint64
	BytesTotal uint64
}

// ProgressFunc receives progress reports. Returning Cancel fails the call
// with a cancellation error; the function is not invoked again.
type ProgressFunc func(ProgressInfo) ProgressResult

// ProgressCb is the progress callback field. At most one of Func and Raw
// may be set.
type ProgressCb struct {
	Func ProgressFunc
	Raw  *Raw
}

func (c ProgressCb) Tag() arena.Tag {
	tag, _ := exclusive("progress_cb", c.Func != nil, c.Raw)
	return tag
}

type progressEntry struct {
	fn        ProgressFunc
	scope     *Scope
	cancelled bool
}

// Translate registers the callback in s.
func (c ProgressCb) Translate(s *Scope) (abi.Callback, error) {
	tag, err := exclusive("progress_cb", c.Func != nil, c.Raw)
	if err != nil {
		return abi.Callback{}, err
	}
	switch tag {
	case arena.Callback:
		return s.register(abi.TrampolineProgress, kindProgress, &progressEntry{fn: c.Func, scope: s}, false)
	case arena.RawEscape:
		return c.Raw.cb, nil
	}
	return abi.Callback{}, nil
}

// FileType is the reason the engine opens a file.
type FileType uint32

const (
	FileMainModel     = FileType(abi.OpenFileMainModel)
	FileGeometryCache = FileType(abi.OpenFileGeometryCache)
	FileObjMtl        = FileType(abi.OpenFileObjMtl)
)

func (t FileType) String() string {
	switch t {
	case FileMainModel:
		return "main_model"
	case FileGeometryCache:
		return "geometry_cache"
	case FileObjMtl:
		return "obj_mtl"
	}
	return "unknown"
}

// FileInfo describes a file the engine wants opened.
type FileInfo struct {
	OriginalName string
	Type         FileType
}

// OpenFileFunc opens path for the engine. Returning the zero Stream or an
// error tells the engine the file does not exist.
type OpenFileFunc func(ctx context.Context, path string, info FileInfo) (stream.Stream, error)

// OpenFileCb is the open-file callback field. At most one of Func and Raw
// may be set.
type OpenFileCb struct {
	Func OpenFileFunc
	Raw  *Raw
}

func (c OpenFileCb) Tag() arena.Tag {
	tag, _ := exclusive("open_file_cb", c.Func != nil, c.Raw)
	return tag
}

type openFileEntry struct {
	fn    OpenFileFunc
	scope *Scope
}

func (c OpenFileCb) Translate(s *Scope) (abi.Callback, error) {
	tag, err := exclusive("open_file_cb", c.Func != nil, c.Raw)
	if err != nil {
		return abi.Callback{}, err
	}
	switch tag {
	case arena.Callback:
		return s.register(abi.TrampolineOpenFile, kindOpenFile, &openFileEntry{fn: c.Func, scope: s}, false)
	case arena.RawEscape:
		return c.Raw.cb, nil
	}
	return abi.Callback{}, nil
}

// CloseMemoryFunc is told when the engine no longer needs memory it was
// given without copying.
type CloseMemoryFunc func(data fbxbridge.Buffer)

// CloseMemoryCb is the close-memory callback field. At most one of Func
// and Raw may be set. The function runs at most once.
type CloseMemoryCb struct {
	Func CloseMemoryFunc
	Raw  *Raw
}

func (c CloseMemoryCb) Tag() arena.Tag {
	tag, _ := exclusive("close_cb", c.Func != nil, c.Raw)
	return tag
}

type closeMemoryEntry struct {
	ownership
	fn    CloseMemoryFunc
	fired atomic.Bool
}

// Translate registers the callback as owned by s: it outlives the call and
// is released when it fires.
func (c CloseMemoryCb) Translate(s *Scope) (abi.Callback, error) {
	tag, err := exclusive("close_cb", c.Func != nil, c.Raw)
	if err != nil {
		return abi.Callback{}, err
	}
	switch tag {
	case arena.Callback:
		return s.register(abi.TrampolineCloseMemory, kindCloseMemory, &closeMemoryEntry{fn: c.Func}, true)
	case arena.RawEscape:
		return c.Raw.cb, nil
	}
	return abi.Callback{}, nil
}
