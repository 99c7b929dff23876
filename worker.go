package fibersched

import (
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Idle workers spin with Gosched for a bounded number of misses before
// falling back to a short sleep.
const (
	idleSpinLimit = 64
	idlePause     = time.Millisecond
)

// worker is one scheduling context: it owns a runnable deque, an execution
// slot pool, RNG state for victim selection, and an inbox for fibers handed
// in from outside the runtime. Its loop runs on a goroutine locked to an OS
// thread for the runtime's lifetime.
type worker struct {
	rank int
	rt   *Runtime
	log  zerolog.Logger

	deque *deque
	pool  *stackPool
	rng   *rand.Rand

	// parked receives control whenever the current fiber suspends or exits.
	parked chan struct{}

	// inbox takes ready fibers from non-worker goroutines (Submit, Resume);
	// the owner moves them onto its deque at the top of the loop.
	inbox struct {
		mu sync.Mutex
		q  []*Fiber
	}
	inboxCount atomic.Int32

	counters counters
}

func newWorker(rt *Runtime, rank int) *worker {
	w := &worker{
		rank:   rank,
		rt:     rt,
		log:    rt.log.With().Int("worker", rank).Logger(),
		rng:    rand.New(rand.NewSource(int64(rank) + 1)),
		parked: make(chan struct{}),
	}
	w.deque = newDeque(rt.cfg.DequeCapacity, func(format string, args ...any) {
		rt.fatalf(format, args...)
	})
	w.pool = newStackPool(rt, rank, rt.cfg.AllocBatch)
	return w
}

// run is the scheduler loop: pop locally, else steal, else back off. It
// executes on the worker's dedicated thread; fibers borrow the worker via
// dispatch and hand it back at every suspension point.
func (w *worker) run() {
	defer w.rt.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.rt.cfg.PinWorkers {
		if err := pinThread(w.rank); err != nil {
			w.log.Warn().Err(err).Msg("could not pin worker thread")
		}
	}
	w.log.Debug().Msg("worker running")
	w.rt.started.Done()

	spins := 0
	for {
		w.drainInbox()
		f := w.deque.popBottom()
		if f == nil {
			f = w.rt.trySteal(w)
		}
		if f == nil {
			if w.rt.stopping.Load() && w.deque.size() == 0 && w.inboxCount.Load() == 0 {
				break
			}
			w.backoff(&spins)
			continue
		}
		spins = 0
		w.dispatch(f)
	}
	w.log.Debug().Msg("worker stopped")
}

// dispatch hands the worker to f and blocks until control comes back. By the
// time parked is signaled the worker may have run a whole chain of fibers:
// direct switches (spawn, exit-to-waiter) move control fiber to fiber
// without re-entering this loop.
func (w *worker) dispatch(f *Fiber) {
	w.counters.dispatched.Add(1)
	f.worker = w
	f.status.Store(int32(StatusRunning))
	f.resume <- struct{}{}
	<-w.parked
}

// putInbox enqueues a ready fiber from outside the worker. Safe for
// concurrent use.
func (w *worker) putInbox(f *Fiber) {
	w.inbox.mu.Lock()
	w.inbox.q = append(w.inbox.q, f)
	w.inbox.mu.Unlock()
	w.inboxCount.Add(1)
}

// drainInbox moves externally enqueued fibers onto the owner's deque.
func (w *worker) drainInbox() {
	if w.inboxCount.Load() == 0 {
		return
	}
	w.inbox.mu.Lock()
	q := w.inbox.q
	w.inbox.q = nil
	w.inbox.mu.Unlock()
	w.inboxCount.Add(int32(-len(q)))
	for _, f := range q {
		w.deque.pushBottom(f)
	}
}

// backoff pauses an idle worker: yield the thread for a while, then sleep.
func (w *worker) backoff(spins *int) {
	*spins++
	if *spins < idleSpinLimit {
		runtime.Gosched()
		return
	}
	time.Sleep(idlePause)
}
