package fibersched

import "sync/atomic"

// counters are bumped on the dispatch path, so they are atomics rather than
// a mutex-guarded struct; reads take a snapshot.
type counters struct {
	spawned     atomic.Uint64
	dispatched  atomic.Uint64
	stealHits   atomic.Uint64
	stealMisses atomic.Uint64
	inlineRuns  atomic.Uint64
}

// WorkerMetrics is a snapshot of one worker's scheduling activity.
type WorkerMetrics struct {
	Rank        int
	Spawned     uint64 // fibers created by this worker
	Dispatched  uint64 // scheduler-loop dispatches (direct switches excluded)
	StealHits   uint64 // successful steals by this worker
	StealMisses uint64 // steal attempts that came back empty
	InlineRuns  uint64 // RunIf bodies executed without spawning
}

// Metrics is an aggregate snapshot across the runtime.
type Metrics struct {
	Created   uint64 // fibers created, including external submissions
	Completed uint64 // fibers that ran to termination
	Spawned   uint64
	StealHits uint64
	Workers   []WorkerMetrics
}

// Metrics returns a point-in-time snapshot of the scheduling counters.
func (rt *Runtime) Metrics() Metrics {
	m := Metrics{
		Created:   rt.created.Load(),
		Completed: rt.completed.Load(),
		Workers:   make([]WorkerMetrics, len(rt.workers)),
	}
	for i, w := range rt.workers {
		wm := WorkerMetrics{
			Rank:        i,
			Spawned:     w.counters.spawned.Load(),
			Dispatched:  w.counters.dispatched.Load(),
			StealHits:   w.counters.stealHits.Load(),
			StealMisses: w.counters.stealMisses.Load(),
			InlineRuns:  w.counters.inlineRuns.Load(),
		}
		m.Workers[i] = wm
		m.Spawned += wm.Spawned
		m.StealHits += wm.StealHits
	}
	return m
}
