package fibersched

import "errors"

// taskChunk is one node of the group's pending-task list: a fixed-size array
// of fiber handles, linked so a group of any fan-out costs one small
// allocation per groupChunkSize children.
type taskChunk struct {
	next   *taskChunk
	n      int
	fibers [groupChunkSize]*Fiber
}

// TaskGroup is the fork/join scope: spawn any number of children with Run,
// then join them all with Wait. A group belongs to the fiber that created it
// and must not be shared across fibers; after Wait it is empty and may be
// reused.
type TaskGroup struct {
	self       *Fiber
	head, tail *taskChunk
	spare      *taskChunk // one recycled chunk kept across Wait cycles
	inlineErrs []error
}

// NewTaskGroup creates a fork/join scope owned by self.
func NewTaskGroup(self *Fiber) *TaskGroup {
	return &TaskGroup{self: self}
}

// Run spawns entry as a child of the group's owner. The child starts
// immediately; the owner resumes when its continuation is next dispatched.
func (g *TaskGroup) Run(entry Entry) {
	g.add(g.self.Spawn(entry))
}

// RunNamed is Run with an annotation on the child fiber.
func (g *TaskGroup) RunNamed(name string, entry Entry) {
	g.add(g.self.SpawnNamed(name, entry))
}

// RunIf spawns entry when cond is true; otherwise it executes the body
// inline on the owner's stack, with no fiber created. Inline errors are
// reported by Wait alongside the children's.
func (g *TaskGroup) RunIf(cond bool, entry Entry) {
	if cond {
		g.Run(entry)
		return
	}
	g.self.worker.counters.inlineRuns.Add(1)
	if _, err := entry(g.self); err != nil {
		g.inlineErrs = append(g.inlineErrs, err)
	}
}

// Wait joins every child spawned since the group's construction or the
// previous Wait, in insertion order, then resets the group for reuse. It
// returns the children's errors (and any inline errors) joined together.
// While the owner is blocked its worker keeps running other fibers,
// including the children themselves.
func (g *TaskGroup) Wait() error {
	g.self.rt.probe.WaitEnter(g.self.id)
	errs := g.inlineErrs
	g.inlineErrs = nil
	for c := g.head; c != nil; c = c.next {
		for i := 0; i < c.n; i++ {
			if _, err := g.self.Join(c.fibers[i]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	g.reset()
	g.self.rt.probe.WaitExit(g.self.id)
	return errors.Join(errs...)
}

func (g *TaskGroup) add(f *Fiber) {
	if g.tail == nil || g.tail.n == groupChunkSize {
		c := g.spare
		if c != nil {
			g.spare = nil
		} else {
			c = new(taskChunk)
		}
		if g.tail == nil {
			g.head = c
		} else {
			g.tail.next = c
		}
		g.tail = c
	}
	g.tail.fibers[g.tail.n] = f
	g.tail.n++
}

// reset empties the list, keeping one chunk for the next cycle.
func (g *TaskGroup) reset() {
	if g.head != nil {
		g.spare = g.head
		g.spare.next = nil
		g.spare.n = 0
		for i := range g.spare.fibers {
			g.spare.fibers[i] = nil
		}
	}
	g.head = nil
	g.tail = nil
}
