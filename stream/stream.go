package stream

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/errors"
)

// SkipBufferSize is the staging buffer used when skipping is emulated by
// reading.
const SkipBufferSize = 512

// Source is a user-defined byte source. Read follows io.Reader. Close is
// called exactly once, after the engine is done with the stream.
//
// A Source that also implements Skipper skips natively; otherwise skips
// read through a SkipBufferSize staging buffer.
type Source interface {
	io.ReadCloser
}

// Skipper discards exactly n bytes and reports false if fewer were
// available.
type Skipper interface {
	Skip(n uint64) bool
}

// Kind names the variant a Stream was built from.
type Kind uint8

const (
	KindNone Kind = iota
	KindFile
	KindReader
	KindSource
	KindMemory
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindReader:
		return "reader"
	case KindSource:
		return "source"
	case KindMemory:
		return "memory"
	case KindRaw:
		return "raw"
	}
	return "none"
}

// Descriptor is an engine-shaped stream: three function pointers and a
// context pointer, all engine addresses.
type Descriptor struct {
	Read  uint32
	Skip  uint32
	Close uint32
	User  uint32
}

// Frame returns the descriptor as an ufbx_stream image.
func (d Descriptor) Frame() *abi.Frame {
	f := abi.NewFrame(abi.Stream)
	f.SetU32("read_fn", d.Read)
	f.SetU32("skip_fn", d.Skip)
	f.SetU32("close_fn", d.Close)
	f.SetU32("user", d.User)
	return f
}

// DescriptorOf reads a descriptor out of an ufbx_stream image.
func DescriptorOf(f *abi.Frame) Descriptor {
	return Descriptor{
		Read:  f.U32("read_fn"),
		Skip:  f.U32("skip_fn"),
		Close: f.U32("close_fn"),
		User:  f.U32("user"),
	}
}

type state struct {
	src     Source
	discard func() error
	name    string
	raw     Descriptor
	kind    Kind
	used    atomic.Bool
}

// Stream is a single-use byte stream handed to the engine. Copies share
// the same state, so a stream is consumed once no matter how many copies
// exist.
type Stream struct {
	st *state
}

// File streams f. Skips seek. The engine's close closes f.
func File(f *os.File) Stream {
	return Stream{st: &state{kind: KindFile, src: &fileSource{f: f}, name: f.Name()}}
}

// Handle streams f without taking ownership: the engine's close leaves f
// open. Reading starts at the current offset.
func Handle(f *os.File) Stream {
	return Stream{st: &state{kind: KindFile, src: &fileSource{f: f, borrowed: true}, name: f.Name()}}
}

// Open opens path for streaming.
func Open(path string) (Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stream{}, err
	}
	return File(f), nil
}

// Reader streams r. Skips are emulated by reading. If r is an io.Closer it
// is closed when the engine closes the stream.
func Reader(r io.Reader) Stream {
	src := &readerSource{r: r}
	if c, ok := r.(io.Closer); ok {
		src.c = c
	}
	return Stream{st: &state{kind: KindReader, src: src}}
}

// Interface streams a user-defined source.
func Interface(s Source) Stream {
	return Stream{st: &state{kind: KindSource, src: s}}
}

// Raw passes an engine stream descriptor through verbatim.
func Raw(_ arena.Unchecked, d Descriptor) Stream {
	return Stream{st: &state{kind: KindRaw, raw: d}}
}

// Memory wraps an engine memory stream. release frees the engine side if
// the stream is discarded instead of loaded.
func Memory(d Descriptor, release func() error) Stream {
	return Stream{st: &state{kind: KindMemory, raw: d, discard: release}}
}

// OnDiscard sets a function run by Discard on a stream that was never
// handed to the engine. Raw streams use it to release engine-side state.
func (s Stream) OnDiscard(fn func() error) Stream {
	if s.st != nil {
		s.st.discard = fn
	}
	return s
}

func (s Stream) Kind() Kind {
	if s.st == nil {
		return KindNone
	}
	return s.st.kind
}

func (s Stream) IsZero() bool {
	return s.st == nil
}

// Name returns the file name for file streams.
func (s Stream) Name() string {
	if s.st == nil {
		return ""
	}
	return s.st.name
}

// Consumed reports whether the stream was taken or discarded.
func (s Stream) Consumed() bool {
	return s.st != nil && s.st.used.Load()
}

func (s Stream) take() error {
	if s.st == nil {
		return errors.NilPointer(errors.PhaseTranslate, []string{"stream"}, "stream.Stream")
	}
	if !s.st.used.CompareAndSwap(false, true) {
		return errors.Consumed(errors.PhaseTranslate, []string{"stream"}, s.st.kind.String()+" stream")
	}
	return nil
}

// Take consumes a Go-backed stream and returns its adapter.
func (s Stream) Take() (*Adapter, error) {
	if k := s.Kind(); k == KindRaw || k == KindMemory {
		return nil, errors.InvalidVariant(errors.PhaseTranslate, []string{"stream"}, k.String()+" stream has no Go source")
	}
	if err := s.take(); err != nil {
		return nil, err
	}
	return NewAdapter(s.st.src), nil
}

// TakeRaw consumes a raw or memory stream and returns its descriptor.
func (s Stream) TakeRaw() (Descriptor, error) {
	if k := s.Kind(); k != KindRaw && k != KindMemory && k != KindNone {
		return Descriptor{}, errors.InvalidVariant(errors.PhaseTranslate, []string{"stream"}, k.String()+" stream is not raw")
	}
	if err := s.take(); err != nil {
		return Descriptor{}, err
	}
	return s.st.raw, nil
}

// Discard releases a stream that will not be handed to the engine. It is a
// no-op on consumed streams.
func (s Stream) Discard() error {
	if s.st == nil || !s.st.used.CompareAndSwap(false, true) {
		return nil
	}
	if s.st.discard != nil {
		return s.st.discard()
	}
	if s.st.src != nil {
		return s.st.src.Close()
	}
	return nil
}

// readerSource adapts an io.Reader.
type readerSource struct {
	r io.Reader
	c io.Closer
}

func (s *readerSource) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *readerSource) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}

// fileSource skips by seeking, bounded by the file size so that a skip
// past the end fails like a short read.
type fileSource struct {
	f        *os.File
	borrowed bool
}

func (s *fileSource) Read(p []byte) (int, error) {
	return s.f.Read(p)
}

func (s *fileSource) Skip(n uint64) bool {
	pos, err := s.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return Discard(s.f, n)
	}
	fi, err := s.f.Stat()
	if err != nil || !fi.Mode().IsRegular() {
		return Discard(s.f, n)
	}
	if n > uint64(fi.Size()-min(pos, fi.Size())) {
		return false
	}
	_, err = s.f.Seek(int64(n), io.SeekCurrent)
	return err == nil
}

func (s *fileSource) Close() error {
	if s.borrowed {
		return nil
	}
	return s.f.Close()
}

var skipBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, SkipBufferSize)
		return &b
	},
}

// Discard reads and drops n bytes from r through a SkipBufferSize staging
// buffer. A short read fails the skip.
func Discard(r io.Reader, n uint64) bool {
	bp := skipBuffers.Get().(*[]byte)
	defer skipBuffers.Put(bp)
	buf := *bp
	for n > 0 {
		step := min(n, uint64(len(buf)))
		if _, err := io.ReadFull(r, buf[:step]); err != nil {
			return false
		}
		n -= step
	}
	return true
}
