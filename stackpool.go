package fibersched

import (
	"sync"
	"sync/atomic"
)

// stackPool hands out fiber execution slots: a descriptor plus its parked
// trampoline goroutine, the Go analogue of a pre-allocated user stack. The
// free list is owner-only; a miss allocates a batch of slots at once so spawn
// cost stays close to a function call. Fibers freed by a different worker
// land on a remote list the owner drains lazily.
type stackPool struct {
	rt    *Runtime
	home  int
	batch int

	free []*Fiber // owner-only LIFO free list

	remote struct {
		mu   sync.Mutex
		list []*Fiber
	}
	remoteCount atomic.Int32
}

func newStackPool(rt *Runtime, home, batch int) *stackPool {
	return &stackPool{rt: rt, home: home, batch: batch}
}

// get returns a free execution slot, refilling the local list if needed.
// Owner-only.
func (p *stackPool) get() *Fiber {
	if len(p.free) == 0 && p.remoteCount.Load() > 0 {
		p.drainRemote()
	}
	if len(p.free) == 0 {
		p.allocBatch()
	}
	f := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return f
}

// put returns a slot to the local free list. Owner-only.
func (p *stackPool) put(f *Fiber) {
	f.status.Store(int32(StatusFree))
	p.free = append(p.free, f)
}

// putRemote returns a slot from a worker that does not own this pool, or
// from outside the runtime. Safe for concurrent use.
func (p *stackPool) putRemote(f *Fiber) {
	f.status.Store(int32(StatusFree))
	p.remote.mu.Lock()
	p.remote.list = append(p.remote.list, f)
	p.remote.mu.Unlock()
	p.remoteCount.Add(1)
}

func (p *stackPool) drainRemote() {
	p.remote.mu.Lock()
	list := p.remote.list
	p.remote.list = nil
	p.remote.mu.Unlock()
	p.remoteCount.Add(int32(-len(list)))
	p.free = append(p.free, list...)
}

func (p *stackPool) allocBatch() {
	for i := 0; i < p.batch; i++ {
		f := &Fiber{
			rt:     p.rt,
			home:   p.home,
			resume: make(chan struct{}),
		}
		f.status.Store(int32(StatusFree))
		go f.trampoline()
		p.free = append(p.free, f)
	}
}
