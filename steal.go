package fibersched

// StealFunc picks a victim for the worker with the given rank and takes one
// fiber from the top of its deque. It must not choose rank itself, must not
// block, and returns nil on a miss (empty victim or lost race).
type StealFunc func(rank int) *Fiber

// SetStealFunc atomically installs a replacement steal policy and returns
// the previous one. Workers may observe the swap between any two steals.
func (rt *Runtime) SetStealFunc(fn StealFunc) StealFunc {
	prev := rt.stealFn.Swap(&fn)
	return *prev
}

// trySteal invokes the current steal policy for w and accounts the outcome.
func (rt *Runtime) trySteal(w *worker) *Fiber {
	if len(rt.workers) == 1 {
		return nil
	}
	f := (*rt.stealFn.Load())(w.rank)
	if f == nil {
		w.counters.stealMisses.Add(1)
		return nil
	}
	if Status(f.status.Load()) != StatusReady {
		rt.fatalf("stole fiber %d in state %v", f.id, f.Status())
	}
	w.counters.stealHits.Add(1)
	return f
}

// stealFirstBusy is the default policy: scan the other workers from a random
// offset and take from the first one whose deque is non-empty.
func (rt *Runtime) stealFirstBusy(rank int) *Fiber {
	n := len(rt.workers)
	w := rt.workers[rank]
	start := w.rng.Intn(n - 1)
	for i := 0; i < n-1; i++ {
		offset := (start+i)%(n-1) + 1 // 1..n-1, never self
		victim := rt.workers[(rank+offset)%n]
		if victim.deque.size() == 0 {
			continue
		}
		if f := victim.deque.takeTop(); f != nil {
			return f
		}
	}
	return nil
}

// stealByProbability draws a victim from the topology-weighted distribution:
// 31 random bits binary-searched against the worker's cumulative row.
func (rt *Runtime) stealByProbability(rank int) *Fiber {
	w := rt.workers[rank]
	j := rt.table.Victim(rank, int64(w.rng.Int31()))
	if j < 0 {
		return nil
	}
	victim := rt.workers[j]
	if victim.deque.size() == 0 {
		return nil
	}
	return victim.deque.takeTop()
}
