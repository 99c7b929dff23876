package fibersched

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestRuntime(t *testing.T, workers int) *Runtime {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = workers
	rt, err := Start(cfg)
	require.NoError(t, err)
	t.Cleanup(rt.Shutdown)
	return rt
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "free", StatusFree.String())
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "blocked", StatusBlocked.String())
	assert.Equal(t, "zombie", StatusZombie.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestJoinReturnsResult(t *testing.T) {
	rt := startTestRuntime(t, 2)

	res, err := rt.Run(func(self *Fiber) (any, error) {
		child := self.Spawn(func(*Fiber) (any, error) {
			return 42, nil
		})
		return self.Join(child)
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res)
}

// TestJoinHappensBefore: writes made by a child before it returns must be
// visible to the joiner. Run with -race to make violations loud.
func TestJoinHappensBefore(t *testing.T) {
	rt := startTestRuntime(t, 4)

	_, err := rt.Run(func(self *Fiber) (any, error) {
		for i := 0; i < 100; i++ {
			var payload int // plain, unsynchronized write in the child
			child := self.Spawn(func(*Fiber) (any, error) {
				payload = i + 1
				return nil, nil
			})
			if _, err := self.Join(child); err != nil {
				return nil, err
			}
			if payload != i+1 {
				t.Errorf("iteration %d: joiner read %d", i, payload)
			}
		}
		return nil, nil
	})
	require.NoError(t, err)
}

// TestSerializedChain: a chain of fibers where each joins the previous one
// completes in order, once each.
func TestSerializedChain(t *testing.T) {
	const chain = 10000
	rt := startTestRuntime(t, 4)

	var counter atomic.Int64
	_, err := rt.Run(func(self *Fiber) (any, error) {
		var prev *Fiber
		for i := 0; i < chain; i++ {
			p := prev
			prev = self.Spawn(func(child *Fiber) (any, error) {
				if p != nil {
					if _, err := child.Join(p); err != nil {
						return nil, err
					}
				}
				counter.Add(1)
				return nil, nil
			})
		}
		return self.Join(prev)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(chain), counter.Load())
}

// TestAtMostOneRunner asserts a fiber is never running on two workers at
// once: a CAS-guarded flag around each body must never double-set.
func TestAtMostOneRunner(t *testing.T) {
	rt := startTestRuntime(t, 4)

	var running atomic.Int32
	var violations atomic.Int32
	body := func(self *Fiber) (any, error) {
		if !running.CompareAndSwap(0, 1) {
			violations.Add(1)
		}
		self.Yield() // suspend mid-body so another worker could dispatch us
		if !running.CompareAndSwap(1, 0) {
			violations.Add(1)
		}
		return nil, nil
	}

	_, err := rt.Run(func(self *Fiber) (any, error) {
		// One fiber, re-dispatched many times across the pool.
		f := self.Spawn(func(child *Fiber) (any, error) {
			for i := 0; i < 1000; i++ {
				if _, err := body(child); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		return self.Join(f)
	})
	require.NoError(t, err)
	assert.Zero(t, violations.Load())
}

func TestYieldComesBack(t *testing.T) {
	rt := startTestRuntime(t, 1)

	res, err := rt.Run(func(self *Fiber) (any, error) {
		sum := 0
		for i := 1; i <= 5; i++ {
			sum += i
			self.Yield()
		}
		return sum, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 15, res)
}

func TestPanicPropagatesThroughJoin(t *testing.T) {
	rt := startTestRuntime(t, 2)

	_, err := rt.Run(func(self *Fiber) (any, error) {
		child := self.Spawn(func(*Fiber) (any, error) {
			panic("boom")
		})
		return self.Join(child)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: boom")
}

func TestBlockAndResume(t *testing.T) {
	rt := startTestRuntime(t, 2)

	gate := make(chan *Fiber, 1)
	// A stand-in for the I/O collaborator: resume whoever parks on the gate,
	// once it has actually parked.
	go func() {
		f := <-gate
		for f.Status() != StatusBlocked {
			runtime.Gosched()
		}
		rt.Resume(f)
	}()

	res, err := rt.Run(func(self *Fiber) (any, error) {
		gate <- self
		self.Block()
		return "resumed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "resumed", res)
}

func TestSpawnNamed(t *testing.T) {
	rt := startTestRuntime(t, 1)

	_, err := rt.Run(func(self *Fiber) (any, error) {
		child := self.SpawnNamed("leaf", func(c *Fiber) (any, error) {
			assert.Equal(t, "leaf", c.Name())
			assert.NotZero(t, c.ID())
			return nil, nil
		})
		return self.Join(child)
	})
	require.NoError(t, err)
}

func TestWaitOnNonExternalFiber(t *testing.T) {
	f := &Fiber{}
	_, err := f.Wait()
	assert.ErrorIs(t, err, ErrNotExternal)
}
