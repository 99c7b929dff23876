package fibersched

// Probe receives lifecycle callbacks for every fiber, in the worker that
// performs the transition. Implementations must be safe for concurrent use
// and must not block: callbacks run on the scheduling fast path.
//
// A DAG recorder or tracer plugs in here via Config.Probe.
type Probe interface {
	// TaskCreate fires when parent spawns child, before the child runs.
	TaskCreate(parent, child uint64)
	// TaskStart fires when a fiber's entry function begins executing.
	TaskStart(id uint64)
	// WaitEnter and WaitExit bracket a task group's Wait.
	WaitEnter(id uint64)
	WaitExit(id uint64)
	// TaskEnd fires after a fiber's entry function returns.
	TaskEnd(id uint64)
}

type nopProbe struct{}

func (nopProbe) TaskCreate(parent, child uint64) {}
func (nopProbe) TaskStart(id uint64)             {}
func (nopProbe) WaitEnter(id uint64)             {}
func (nopProbe) WaitExit(id uint64)              {}
func (nopProbe) TaskEnd(id uint64)               {}
