package fibersched

import (
	"testing"

	"github.com/go-foundations/fibersched/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stoppedRuntime builds a runtime with workers that are never started, so
// steal policies can be driven deterministically from the test.
func stoppedRuntime(t *testing.T, workers int, desc string) *Runtime {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = workers
	cfg, err := cfg.withDefaults()
	require.NoError(t, err)

	rt := &Runtime{cfg: cfg, log: newRuntimeLogger(cfg.Logger), probe: cfg.Probe}
	if desc != "" {
		rt.table, err = topology.FromHierarchy(desc, workers)
	} else {
		rt.table, err = topology.Uniform(workers)
	}
	require.NoError(t, err)
	fn := StealFunc(rt.stealFirstBusy)
	rt.stealFn.Store(&fn)
	rt.workers = make([]*worker, workers)
	for rank := range rt.workers {
		rt.workers[rank] = newWorker(rt, rank)
	}
	return rt
}

func readyFiber(id uint64) *Fiber {
	f := &Fiber{id: id}
	f.status.Store(int32(StatusReady))
	return f
}

func TestSetStealFuncSwaps(t *testing.T) {
	rt := stoppedRuntime(t, 2, "")

	var called int
	custom := StealFunc(func(rank int) *Fiber {
		called++
		return nil
	})
	prev := rt.SetStealFunc(custom)
	require.NotNil(t, prev)

	rt.trySteal(rt.workers[0])
	assert.Equal(t, 1, called)
	assert.Equal(t, uint64(1), rt.workers[0].counters.stealMisses.Load())

	rt.SetStealFunc(prev)
	rt.trySteal(rt.workers[0])
	assert.Equal(t, 1, called, "previous policy should be back in place")
}

func TestStealSingleWorkerMissesImmediately(t *testing.T) {
	rt := stoppedRuntime(t, 1, "")
	assert.Nil(t, rt.trySteal(rt.workers[0]))
}

func TestFirstBusyFindsTheOneBusyVictim(t *testing.T) {
	rt := stoppedRuntime(t, 4, "")

	f := readyFiber(99)
	rt.workers[2].deque.pushBottom(f)

	got := rt.stealFirstBusy(0)
	require.Same(t, f, got, "the scan must reach the only busy worker")
	assert.Zero(t, rt.workers[2].deque.size())
}

func TestFirstBusyNeverPicksSelf(t *testing.T) {
	rt := stoppedRuntime(t, 4, "")

	// Work only in the thief's own deque: a steal must still miss.
	rt.workers[1].deque.pushBottom(readyFiber(7))
	for i := 0; i < 100; i++ {
		assert.Nil(t, rt.stealFirstBusy(1))
	}
	assert.Equal(t, 1, rt.workers[1].deque.size())
}

func TestTryStealAccountsHit(t *testing.T) {
	rt := stoppedRuntime(t, 2, "")
	rt.workers[1].deque.pushBottom(readyFiber(5))

	f := rt.trySteal(rt.workers[0])
	require.NotNil(t, f)
	assert.Equal(t, uint64(1), rt.workers[0].counters.stealHits.Load())
	assert.Zero(t, rt.workers[0].counters.stealMisses.Load())
}

func TestProbabilityStealMissesOnEmptyPool(t *testing.T) {
	rt := stoppedRuntime(t, 4, "2,1.0x2,5.0")
	for i := 0; i < 100; i++ {
		assert.Nil(t, rt.stealByProbability(1))
	}
}

func TestProbabilityStealTakesFromDrawnVictim(t *testing.T) {
	rt := stoppedRuntime(t, 2, "")
	// With two workers the draw can only land on the other rank.
	f := readyFiber(11)
	rt.workers[0].deque.pushBottom(f)
	assert.Same(t, f, rt.stealByProbability(1))
}

func TestVictimDrawsCoverAllOtherWorkers(t *testing.T) {
	rt := stoppedRuntime(t, 4, "")

	seen := map[int]bool{}
	w := rt.workers[1]
	for i := 0; i < 1000; i++ {
		j := rt.table.Victim(1, int64(w.rng.Int31()))
		require.NotEqual(t, 1, j)
		require.GreaterOrEqual(t, j, 0)
		require.Less(t, j, 4)
		seen[j] = true
	}
	assert.Len(t, seen, 3, "all other workers should be drawn eventually")
}
