package stream

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/wippyai/ufbx-bridge/abi"
)

// maxEmptyReads bounds retries of reads returning neither data nor error.
const maxEmptyReads = 100

// Adapter presents a Source with the engine's stream semantics: reads
// return a byte count or abi.ReadError, and close happens once.
type Adapter struct {
	src    Source
	err    error
	close  sync.Once
	read   atomic.Uint64
	closed atomic.Bool
}

// NewAdapter wraps src.
func NewAdapter(src Source) *Adapter {
	return &Adapter{src: src}
}

// Read fills p. It returns 0 at end of stream and abi.ReadError on
// failure. An error reported together with data is returned on the next
// call.
func (a *Adapter) Read(p []byte) uint32 {
	if a.closed.Load() || a.err != nil {
		return abi.ReadError
	}
	if len(p) == 0 {
		return 0
	}
	var (
		n   int
		err error
	)
	for i := 0; i < maxEmptyReads && n == 0 && err == nil; i++ {
		n, err = a.src.Read(p)
	}
	if n > len(p) {
		a.err = io.ErrShortBuffer
		return abi.ReadError
	}
	if n > 0 {
		if err != nil && err != io.EOF {
			a.err = err
		}
		a.read.Add(uint64(n))
		return uint32(n)
	}
	if err == io.EOF {
		return 0
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	a.err = err
	return abi.ReadError
}

// Skip discards n bytes, natively when the source is a Skipper.
func (a *Adapter) Skip(n uint64) bool {
	if a.closed.Load() || a.err != nil {
		return false
	}
	ok := false
	if sk, native := a.src.(Skipper); native {
		ok = sk.Skip(n)
	} else {
		ok = Discard(a.src, n)
	}
	if !ok {
		return false
	}
	a.read.Add(n)
	return true
}

// Close closes the source on the first call and returns its error. Later
// calls return nil.
func (a *Adapter) Close() error {
	var err error
	a.close.Do(func() {
		a.closed.Store(true)
		err = a.src.Close()
	})
	return err
}

func (a *Adapter) Closed() bool {
	return a.closed.Load()
}

// Err returns the read error that failed the stream, if any.
func (a *Adapter) Err() error {
	return a.err
}

// Consumed returns the bytes read or skipped so far.
func (a *Adapter) Consumed() uint64 {
	return a.read.Load()
}
