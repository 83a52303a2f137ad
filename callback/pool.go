package callback

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/ufbx-bridge/abi"
	"github.com/wippyai/ufbx-bridge/arena"
)

// PoolInfo is passed to Pool.Init.
type PoolInfo struct {
	MaxConcurrentTasks uint32
}

// Tasks is a batch of engine tasks. Each index in [Start, Start+Count) must
// be executed once before Wait for the group returns.
type Tasks struct {
	run   func(ctx context.Context, index uint32) error
	Group uint32
	Start uint32
	Count uint32
}

// Execute runs task index on the calling goroutine.
func (t Tasks) Execute(ctx context.Context, index uint32) error {
	if index < t.Start || index-t.Start >= t.Count {
		return fmt.Errorf("task %d outside batch [%d, %d)", index, t.Start, t.Start+t.Count)
	}
	return t.run(ctx, index)
}

// Pool runs engine tasks.
type Pool interface {
	Init(ctx context.Context, info PoolInfo) error
	Run(ctx context.Context, tasks Tasks) error
	Wait(ctx context.Context, group, maxIndex uint32) error
	Free(ctx context.Context)
}

// SerialPool queues tasks in Run and executes them in Wait, on the
// engine's own call stack.
type SerialPool struct {
	pending  []Tasks
	executed []uint32
	inited   bool
	freed    bool
	mu       sync.Mutex
}

func (p *SerialPool) Init(context.Context, PoolInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inited = true
	return nil
}

func (p *SerialPool) Run(_ context.Context, tasks Tasks) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, tasks)
	return nil
}

// Wait executes the queued tasks of group with indices below maxIndex.
func (p *SerialPool) Wait(ctx context.Context, group, maxIndex uint32) error {
	p.mu.Lock()
	var due []Tasks
	rest := p.pending[:0]
	for _, t := range p.pending {
		if t.Group == group && t.Start < maxIndex {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	p.pending = rest
	p.mu.Unlock()

	for _, t := range due {
		end := min(t.Start+t.Count, maxIndex)
		for i := t.Start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := t.Execute(ctx, i); err != nil {
				return err
			}
			p.mu.Lock()
			p.executed = append(p.executed, i)
			p.mu.Unlock()
		}
		if end < t.Start+t.Count {
			t.Count -= end - t.Start
			t.Start = end
			p.mu.Lock()
			p.pending = append(p.pending, t)
			p.mu.Unlock()
		}
	}
	return nil
}

func (p *SerialPool) Free(context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freed = true
}

// Executed returns the task indices run so far, in order.
func (p *SerialPool) Executed() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.executed...)
}

// Lifecycle reports whether Init and Free were called.
func (p *SerialPool) Lifecycle() (inited, freed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inited, p.freed
}

// RawPoolFuncs are engine function pointers of an ufbx_thread_pool.
type RawPoolFuncs struct {
	Init uint32
	Run  uint32
	Wait uint32
	Free uint32
	User uint32
}

// ThreadPool selects the thread pool of a load. The zero value runs the
// engine single-threaded.
type ThreadPool struct {
	impl Pool
	raw  *RawPoolFuncs
}

// NoThreadPool disables task offloading.
func NoThreadPool() ThreadPool {
	return ThreadPool{}
}

// Serial returns a pool that runs tasks synchronously.
func Serial() ThreadPool {
	return ThreadPool{impl: &SerialPool{}}
}

// PoolOf uses p.
func PoolOf(p Pool) ThreadPool {
	return ThreadPool{impl: p}
}

// RawPool passes engine pool functions through unchecked.
func RawPool(_ arena.Unchecked, fns RawPoolFuncs) ThreadPool {
	return ThreadPool{raw: &fns}
}

func (p ThreadPool) Tag() arena.Tag {
	switch {
	case p.impl != nil:
		return arena.Callback
	case p.raw != nil:
		return arena.RawEscape
	}
	return arena.Unset
}

type poolEntry struct {
	impl  Pool
	scope *Scope
}

// Translate returns the ufbx_thread_pool image.
func (p ThreadPool) Translate(s *Scope) (*abi.Frame, error) {
	f := abi.NewFrame(abi.ThreadPool)
	switch p.Tag() {
	case arena.RawEscape:
		f.SetU32("init_fn", p.raw.Init)
		f.SetU32("run_fn", p.raw.Run)
		f.SetU32("wait_fn", p.raw.Wait)
		f.SetU32("free_fn", p.raw.Free)
		f.SetU32("user", p.raw.User)
	case arena.Callback:
		cb, err := s.register(abi.TrampolinePoolRun, kindPool, &poolEntry{impl: p.impl, scope: s}, false)
		if err != nil {
			return nil, err
		}
		n := s.d.native
		f.SetU32("init_fn", n.Trampoline(abi.TrampolinePoolInit))
		f.SetU32("run_fn", cb.Fn)
		f.SetU32("wait_fn", n.Trampoline(abi.TrampolinePoolWait))
		f.SetU32("free_fn", n.Trampoline(abi.TrampolinePoolFree))
		f.SetU32("user", cb.User)
	}
	return f, nil
}

var _ Pool = (*SerialPool)(nil)
