//go:build linux

package fibersched

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinThread binds the calling thread to one CPU. Ranks beyond the online CPU
// count wrap around. The caller must hold runtime.LockOSThread.
func pinThread(rank int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(rank % runtime.NumCPU())
	return unix.SchedSetaffinity(0, &set)
}
