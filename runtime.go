// Package fibersched is a user-space M:N threading runtime with a
// work-stealing scheduler for fine-grained task parallelism.
//
// The runtime multiplexes a large population of lightweight fibers over a
// fixed set of workers, one per CPU. Fibers are scheduled cooperatively:
// spawning a child runs it immediately and leaves the parent's continuation
// stealable (the work-first policy), which gives depth-first execution on one
// worker and breadth for idle workers to take. Victim selection is pluggable,
// with a uniform default and a topology-weighted probabilistic policy.
//
// The fork/join programming surface is TaskGroup:
//
//	rt, _ := fibersched.Start(fibersched.DefaultConfig())
//	defer rt.Shutdown()
//	result, _ := rt.Run(func(self *fibersched.Fiber) (any, error) {
//		g := fibersched.NewTaskGroup(self)
//		g.Run(leftChild)
//		g.Run(rightChild)
//		return nil, g.Wait()
//	})
package fibersched

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-foundations/fibersched/topology"
	"github.com/rs/zerolog"
)

// Runtime is the global scheduler state: the worker array, the victim
// probability table, and the pluggable steal hook. Construct one with Start;
// it is valid until Shutdown returns.
type Runtime struct {
	cfg   Config
	log   zerolog.Logger
	probe Probe

	workers []*worker
	table   *topology.Table
	stealFn atomic.Pointer[StealFunc]

	started  sync.WaitGroup // barrier to operational state
	stopping atomic.Bool
	wg       sync.WaitGroup

	nextID    atomic.Uint64
	created   atomic.Uint64
	completed atomic.Uint64
	submitRR  atomic.Uint64
}

// Start initializes the runtime: it resolves configuration and environment,
// precomputes the victim probability table, and launches the workers, each
// on its own locked OS thread. It returns once every worker is operational.
func Start(cfg Config) (*Runtime, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:   cfg,
		log:   newRuntimeLogger(cfg.Logger),
		probe: cfg.Probe,
	}

	policy := "first-busy"
	switch {
	case cfg.Topology != "":
		rt.table, err = topology.FromHierarchy(cfg.Topology, cfg.Workers)
		policy = "probability"
	case cfg.ProbFile != "":
		rt.table, err = topology.FromFile(cfg.ProbFile, cfg.Workers)
		policy = "probability"
	default:
		rt.table, err = topology.Uniform(cfg.Workers)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}

	fn := StealFunc(rt.stealFirstBusy)
	if policy == "probability" {
		fn = rt.stealByProbability
	}
	rt.stealFn.Store(&fn)

	rt.workers = make([]*worker, cfg.Workers)
	for rank := range rt.workers {
		rt.workers[rank] = newWorker(rt, rank)
	}
	rt.started.Add(cfg.Workers)
	rt.wg.Add(cfg.Workers)
	for _, w := range rt.workers {
		go w.run()
	}
	rt.started.Wait()

	rt.log.Info().Int("workers", cfg.Workers).Str("steal", policy).
		Bool("pinned", cfg.PinWorkers).Msg("runtime started")
	return rt, nil
}

// Workers returns the number of workers.
func (rt *Runtime) Workers() int { return len(rt.workers) }

// Table returns the victim probability table built at Start. Read-only.
func (rt *Runtime) Table() *topology.Table { return rt.table }

// Submit spawns a fiber from outside the runtime and returns its handle; the
// caller collects the result with Fiber.Wait. The fiber lands in a worker's
// inbox and competes with stolen work from there.
func (rt *Runtime) Submit(entry Entry) *Fiber {
	return rt.SubmitNamed("", entry)
}

// SubmitNamed is Submit with an annotation on the fiber.
func (rt *Runtime) SubmitNamed(name string, entry Entry) *Fiber {
	target := int(rt.submitRR.Add(1)-1) % len(rt.workers)
	f := &Fiber{
		rt:     rt,
		resume: make(chan struct{}),
	}
	f.reset(rt.nextID.Add(1), name, target, entry)
	f.extDone = make(chan struct{})
	go f.trampoline()
	rt.created.Add(1)
	rt.probe.TaskCreate(0, f.id)
	rt.workers[target].putInbox(f)
	return f
}

// Run submits entry as a root fiber and blocks until it completes, returning
// its result. This is the usual entry point of a fork/join program.
func (rt *Runtime) Run(entry Entry) (any, error) {
	return rt.Submit(entry).Wait()
}

// Resume re-enqueues a blocked fiber, typically on behalf of an external
// collaborator (an I/O multiplexer parking fibers on file descriptors). Safe
// to call from any goroutine.
func (rt *Runtime) Resume(f *Fiber) {
	if Status(f.status.Load()) != StatusBlocked {
		rt.fatalf("resume of fiber %d in state %v", f.id, f.Status())
	}
	f.status.Store(int32(StatusReady))
	rt.workers[f.home].putInbox(f)
}

// free returns a terminated fiber's descriptor to its home pool. w is the
// worker doing the freeing, or nil when freeing from outside the runtime.
func (rt *Runtime) free(w *worker, f *Fiber) {
	if Status(f.status.Load()) != StatusZombie {
		rt.fatalf("freeing fiber %d in state %v", f.id, f.Status())
	}
	home := rt.workers[f.home]
	if w == home {
		home.pool.put(f)
		return
	}
	home.pool.putRemote(f)
}

// Shutdown stops the workers and waits for them to exit. Every worker leaves
// its loop once the flag is set and it has no runnable fibers left; fibers
// still blocked at that point are abandoned, so callers should join all
// outstanding work first.
func (rt *Runtime) Shutdown() {
	if !rt.stopping.CompareAndSwap(false, true) {
		return
	}
	rt.wg.Wait()
	rt.log.Info().
		Uint64("created", rt.created.Load()).
		Uint64("completed", rt.completed.Load()).
		Msg("runtime stopped")
}
