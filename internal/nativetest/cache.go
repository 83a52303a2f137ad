package nativetest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/errors"
)

const (
	defaultCacheFPS = 30
	maxCacheSize    = 1 << 20
)

// CacheChannel is one channel of a stub geometry cache file.
type CacheChannel struct {
	Name   string
	Frames uint32
}

// CacheFile encodes a stub geometry cache: one "name frames" line per
// channel.
func CacheFile(channels ...CacheChannel) []byte {
	var b bytes.Buffer
	for _, c := range channels {
		fmt.Fprintf(&b, "%s %d\n", c.Name, c.Frames)
	}
	return b.Bytes()
}

func parseCache(data []byte) ([]cacheChannel, *failure) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fail(errors.ErrorEmptyFile, "Empty file")
	}
	var out []cacheChannel
	for _, line := range bytes.Split(data, []byte("\n")) {
		fields := bytes.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fail(errors.ErrorUnknown, "Bad cache channel").withInfo(string(line))
		}
		n, err := strconv.ParseUint(string(fields[1]), 10, 32)
		if err != nil {
			return nil, fail(errors.ErrorUnknown, "Bad cache frame count").withInfo(string(fields[1]))
		}
		out = append(out, cacheChannel{name: string(fields[0]), frames: uint32(n)})
	}
	return out, nil
}

func (e *Engine) loadGeometryCache(ctx context.Context, path, pathLen, optsPtr, errPtr uint32) uint32 {
	opts, f := e.readOpts(optsPtr, abi.GeometryCacheOpts)
	if f != nil {
		e.writeError(errPtr, f)
		return 0
	}
	temp := newAllocator(opts.Sub("temp_allocator", abi.AllocatorOpts))
	result := newAllocator(opts.Sub("result_allocator", abi.AllocatorOpts))

	ptr, f := e.buildCache(ctx, opts, path, pathLen, result)
	e.releaseAllocator(ctx, temp)
	if f != nil {
		e.releaseAllocator(ctx, result)
		e.writeError(errPtr, f)
		return 0
	}
	e.clearError(errPtr)
	return ptr
}

func (e *Engine) buildCache(ctx context.Context, opts *abi.Frame, path, pathLen uint32, result *allocator) (uint32, *failure) {
	s, f := e.openFile(ctx, opts.Callback("open_file_cb"), path, pathLen, abi.OpenFileGeometryCache, 0)
	if f != nil {
		return 0, f
	}
	defer s.close(ctx)

	data, f := s.rest(ctx, maxCacheSize)
	if f != nil {
		return 0, f
	}
	channels, f := parseCache(data)
	if f != nil {
		return 0, f
	}
	fps := opts.F64("frames_per_second")
	if fps == 0 {
		fps = defaultCacheFPS
	}
	c := &object{kind: kindCache, refs: 1, alloc: result, channels: channels, fps: fps}
	return e.place(ctx, c, 16+16*uint32(len(channels)))
}

func (e *Engine) geometryCacheInfo(ptr, out uint32) error {
	o, err := e.live(ptr, kindCache)
	if err != nil {
		return err
	}
	var frames uint32
	for _, c := range o.channels {
		frames = max(frames, c.frames)
	}
	f := abi.NewFrame(abi.GeometryCacheInfo)
	f.SetU32("num_channels", uint32(len(o.channels)))
	f.SetU32("num_frames", frames)
	f.SetF64("frames_per_second", o.fps)
	return f.WriteTo(e.mem, out)
}
