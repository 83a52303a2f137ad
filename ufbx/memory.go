package ufbx

import (
	"context"
	stderrors "errors"
	"math"

	fbxbridge "github.com/wippyai/ufbx-bridge"
	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
	"github.com/wippyai/ufbx-bridge/config"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/stream"
)

// OpenMemory creates an engine memory stream over buf. Without NoCopy the
// engine copies buf and the caller may free it right away; with NoCopy
// buf must stay valid until the stream is closed, which opts.Close
// reports.
//
// The stream is single-use like any other. Discarding it instead of
// loading from it closes the engine side.
func (c *Context) OpenMemory(ctx context.Context, buf fbxbridge.Buffer, opts *config.OpenMemoryOpts) (stream.Stream, error) {
	k, err := c.begin(abi.FnOpenMemory)
	if err != nil {
		return stream.Stream{}, err
	}
	defer k.end(ctx)

	of, err := opts.Translate(ctx, k.scope)
	if err != nil {
		return stream.Stream{}, err
	}
	optsPtr, err := k.place(ctx, of)
	if err != nil {
		return stream.Stream{}, err
	}
	data, err := arena.BorrowBlob(buf).Translate(ctx, k.arena)
	if err != nil {
		return stream.Stream{}, err
	}
	streamPtr, err := k.arena.Alloc(ctx, abi.Stream.Size, abi.Stream.Align)
	if err != nil {
		return stream.Stream{}, err
	}
	errPtr, err := k.errorRecord(ctx)
	if err != nil {
		return stream.Stream{}, err
	}

	ok, err := k.invoke(ctx, uint64(streamPtr), uint64(data.Ptr), uint64(data.Len), uint64(optsPtr), uint64(errPtr))
	if err != nil {
		return stream.Stream{}, err
	}
	if err := k.outcome(ok); err != nil {
		return stream.Stream{}, err
	}
	sf, err := abi.ReadFrame(c.native.Memory(), streamPtr, abi.Stream)
	if err != nil {
		return stream.Stream{}, errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "read memory stream")
	}

	desc := stream.DescriptorOf(sf)
	drop, err := c.keep(k.scope)
	if err != nil {
		return stream.Stream{}, err
	}
	return stream.Memory(desc, func() error {
		defer drop()
		return c.closeStream(context.Background(), desc)
	}), nil
}

// closeStream runs the close function of an engine stream that was never
// loaded from.
func (c *Context) closeStream(ctx context.Context, desc stream.Descriptor) error {
	k, err := c.begin(abi.FnCloseStream)
	if err != nil {
		return err
	}
	defer k.end(ctx)

	ptr, err := k.place(ctx, desc.Frame())
	if err != nil {
		return err
	}
	_, err = k.invoke(ctx, uint64(ptr))
	return err
}

// FormatError renders err through the engine's formatter into at most
// size-1 bytes. err must be or wrap an *errors.NativeError.
func (c *Context) FormatError(ctx context.Context, err error, size int) (string, error) {
	var ne *errors.NativeError
	if !stderrors.As(err, &ne) {
		return "", errors.InvalidInput(errors.PhaseCall, "FormatError needs a native error")
	}
	if size <= 0 {
		return "", nil
	}
	if size > math.MaxInt32 {
		size = math.MaxInt32
	}

	k, err := c.begin(abi.FnFormatError)
	if err != nil {
		return "", err
	}
	defer k.end(ctx)

	rec := abi.NewFrame(abi.Error)
	if uint32(len(ne.Record)) == abi.Error.Size {
		copy(rec.Bytes(), ne.Record)
	} else {
		rec.SetU32("type", uint32(ne.Type))
	}
	recPtr, err := k.place(ctx, rec)
	if err != nil {
		return "", err
	}
	dst, err := k.arena.Alloc(ctx, uint32(size), 1)
	if err != nil {
		return "", err
	}

	n, err := k.invoke(ctx, uint64(dst), uint64(size), uint64(recPtr))
	if err != nil {
		return "", err
	}
	n = min(n, uint32(size-1))
	if n == 0 {
		return "", nil
	}
	text, err := c.native.Memory().Read(dst, n)
	if err != nil {
		return "", errors.Wrap(errors.PhaseCall, errors.KindOutOfBounds, err, "read formatted error")
	}
	return string(text), nil
}
