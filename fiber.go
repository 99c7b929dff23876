package fibersched

import (
	"fmt"
	"sync/atomic"
)

// Status describes where a fiber is in its lifecycle.
type Status int32

const (
	// StatusFree marks a descriptor sitting in a pool, not owning any work.
	StatusFree Status = iota
	// StatusReady marks a runnable fiber sitting in a deque or inbox.
	StatusReady
	// StatusRunning marks the fiber currently executing on a worker.
	StatusRunning
	// StatusBlocked marks a fiber parked on a completion cell or external event.
	StatusBlocked
	// StatusZombie marks a terminated fiber whose result has not been collected.
	StatusZombie
)

// String returns the human-readable status name
func (s Status) String() string {
	switch s {
	case StatusFree:
		return "free"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusBlocked:
		return "blocked"
	case StatusZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Entry is a fiber body. It receives its own fiber so it can spawn, join and
// yield; the returned value and error are delivered to whoever joins it.
type Entry func(self *Fiber) (any, error)

// Completion cell states.
const (
	cellPending uint32 = iota
	cellDone
)

// waiterClaimed marks a waiter slot whose fiber has been taken over by the
// terminating worker, or a cell that completed with no waiter installed.
var waiterClaimed = new(Fiber)

// Fiber is a cooperatively scheduled unit of execution. It runs on a pooled
// trampoline goroutine; handing the worker to a fiber and back is a pair of
// unbuffered channel operations, the runtime's single context-switch point.
//
// A fiber is in exactly one place at a time: one worker's deque or inbox
// (ready), a completion cell's waiter slot (blocked), executing on a worker
// (running), or terminated (zombie, then free).
type Fiber struct {
	id    uint64
	name  string
	home  int // rank of the worker whose pool owns this descriptor
	rt    *Runtime
	entry Entry

	status atomic.Int32
	worker *worker       // worker currently dispatching/running this fiber
	resume chan struct{} // dispatch signal; received by the trampoline

	// Completion cell: one-shot result plus at most one waiter.
	cell   atomic.Uint32
	waiter atomic.Pointer[Fiber]
	result any
	err    error

	// extDone is non-nil for fibers created by Submit; it signals completion
	// to a waiter outside the runtime.
	extDone chan struct{}
}

// ID returns the fiber's unique id.
func (f *Fiber) ID() uint64 { return f.id }

// Name returns the fiber's annotation, if any.
func (f *Fiber) Name() string { return f.name }

// Status returns the fiber's current lifecycle state.
func (f *Fiber) Status() Status { return Status(f.status.Load()) }

// reset prepares a pooled descriptor for a new life.
func (f *Fiber) reset(id uint64, name string, home int, entry Entry) {
	f.id = id
	f.name = name
	f.home = home
	f.entry = entry
	f.result = nil
	f.err = nil
	f.extDone = nil
	f.waiter.Store(nil)
	f.cell.Store(cellPending)
	f.status.Store(int32(StatusReady))
}

// trampoline runs on the descriptor's dedicated goroutine for the lifetime of
// the process. Each iteration is one fiber life: wait for the first dispatch,
// run the entry, terminate. The descriptor is reused via the pools.
func (f *Fiber) trampoline() {
	for {
		<-f.resume
		res, err := f.invoke()
		f.finish(res, err)
	}
}

// invoke calls the entry function, converting an escaped panic into the
// fiber's error result.
func (f *Fiber) invoke() (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fiber %d: panic: %v", f.id, r)
			f.rt.log.Error().Uint64("fiber", f.id).Str("name", f.name).
				Interface("panic", r).Msg("fiber body panicked")
		}
	}()
	f.rt.probe.TaskStart(f.id)
	return f.entry(f)
}

// finish terminates the fiber: fire the completion cell, wake the waiter if
// one is installed, and hand the worker back. Runs as the last act of the
// fiber's life; it must relinquish control exactly once.
func (f *Fiber) finish(res any, err error) {
	w := f.worker
	f.result = res
	f.err = err
	f.status.Store(int32(StatusZombie))
	f.rt.probe.TaskEnd(f.id)
	f.rt.completed.Add(1)

	f.cell.Store(cellDone)
	wtr := f.waiter.Swap(waiterClaimed)

	if f.extDone != nil {
		close(f.extDone)
	}
	if wtr != nil {
		if f.rt.cfg.SwitchAfterExit {
			// Hand the worker straight to the waiter, skipping the deque.
			wtr.worker = w
			wtr.status.Store(int32(StatusRunning))
			wtr.resume <- struct{}{}
			return
		}
		wtr.status.Store(int32(StatusReady))
		w.deque.pushBottom(wtr)
	}
	w.parked <- struct{}{}
}

// parkOn hands control from the running fiber back to w's scheduler loop and
// blocks until the next dispatch. The caller must capture its worker before
// making itself visible to thieves or terminators; after parkOn returns,
// f.worker names the (possibly different) worker now running the fiber.
func (f *Fiber) parkOn(w *worker) {
	w.parked <- struct{}{}
	<-f.resume
}

// Spawn creates a child fiber and runs it immediately; the caller becomes a
// stealable continuation on its worker's deque (the work-first policy). On a
// single worker this yields depth-first execution; idle workers pick up the
// continuation from the top of the deque.
func (f *Fiber) Spawn(entry Entry) *Fiber {
	return f.SpawnNamed("", entry)
}

// SpawnNamed is Spawn with an annotation carried on the child for logging
// and profiling.
func (f *Fiber) SpawnNamed(name string, entry Entry) *Fiber {
	w := f.worker
	child := w.pool.get()
	child.reset(f.rt.nextID.Add(1), name, w.rank, entry)
	w.counters.spawned.Add(1)
	f.rt.created.Add(1)
	f.rt.probe.TaskCreate(f.id, child.id)

	// Switch-after-create: publish our continuation, then switch directly
	// into the child without returning to the scheduler loop.
	f.status.Store(int32(StatusReady))
	w.deque.pushBottom(f)
	child.worker = w
	child.status.Store(int32(StatusRunning))
	child.resume <- struct{}{}
	<-f.resume
	return child
}

// Yield re-enqueues the fiber on its worker and relinquishes control. The
// fiber resumes when a worker (possibly another one) dispatches it again.
func (f *Fiber) Yield() {
	w := f.worker
	f.status.Store(int32(StatusReady))
	w.deque.pushBottom(f)
	f.parkOn(w)
}

// Block parks the fiber until an external collaborator (an I/O multiplexer,
// a timer wheel) re-enqueues it with Runtime.Resume. The worker keeps
// running other fibers in the meantime.
func (f *Fiber) Block() {
	w := f.worker
	f.status.Store(int32(StatusBlocked))
	f.parkOn(w)
}

// Join blocks until target terminates and returns its result. The target's
// descriptor is freed; at most one fiber may ever join a given target.
func (f *Fiber) Join(target *Fiber) (any, error) {
	if target == f {
		f.rt.fatalf("fiber %d: join on self", f.id)
	}
	if target.cell.Load() == cellDone {
		return f.collect(target)
	}
	w := f.worker
	f.status.Store(int32(StatusBlocked))
	if !target.waiter.CompareAndSwap(nil, f) {
		// The slot is taken: either the cell completed concurrently
		// (slot == waiterClaimed) or a second fiber joined the same target.
		if target.cell.Load() != cellDone {
			f.rt.fatalf("fiber %d: second waiter %d on completion cell", target.id, f.id)
		}
		f.status.Store(int32(StatusRunning))
		return f.collect(target)
	}
	if target.cell.Load() == cellDone {
		if target.waiter.CompareAndSwap(f, nil) {
			// Completed before the terminator saw us; no wakeup coming.
			f.status.Store(int32(StatusRunning))
			return f.collect(target)
		}
		// The terminator claimed us and will resume us; park for it.
	}
	f.parkOn(w)
	return f.collect(target)
}

// collect reads a terminated fiber's result and recycles its descriptor.
func (f *Fiber) collect(target *Fiber) (any, error) {
	res, err := target.result, target.err
	f.rt.free(f.worker, target)
	return res, err
}

// Wait blocks the calling goroutine (not a fiber) until a fiber created by
// Submit terminates, then returns its result and recycles the descriptor.
func (f *Fiber) Wait() (any, error) {
	if f.extDone == nil {
		return nil, ErrNotExternal
	}
	<-f.extDone
	res, err := f.result, f.err
	f.rt.free(nil, f)
	return res, err
}
