package fibersched

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

// Environment variables honored by Start. They override zero-valued Config
// fields, so explicit configuration always wins.
const (
	// EnvWorkers selects the number of workers (default: online CPU count).
	EnvWorkers = "MYTH_WORKERS"
	// EnvCPUHierarchy holds a topology descriptor like "2,1.0x4,5.0" used to
	// build the victim probability table.
	EnvCPUHierarchy = "MYTH_CPU_HIERARCHY"
	// EnvProbFile names a file containing an explicit victim weight matrix.
	EnvProbFile = "MYTH_PROB_FILE"
)

// Tunable defaults.
const (
	// DefaultDequeCapacity caps the per-worker runnable queue. Exceeding it
	// is a fatal error: fork/join programs should recurse, not iterate, over
	// large task sets.
	DefaultDequeCapacity = 65536 * 2

	// DefaultAllocBatch is how many execution slots a worker-local pool
	// allocates at once on a free-list miss.
	DefaultAllocBatch = 128

	// groupChunkSize is the number of fiber handles per task-group list node.
	groupChunkSize = 8
)

// Config holds configuration for the runtime
type Config struct {
	Workers       int  // Number of workers; 0 means one per online CPU
	DequeCapacity int  // Max runnable fibers per worker; overflow is fatal
	AllocBatch    int  // Pool refill batch for fiber execution slots
	PinWorkers    bool // Pin each worker's scheduler thread to a CPU (Linux)

	// SwitchAfterExit lets a terminating fiber hand its worker directly to
	// the fiber waiting on it, skipping the scheduler loop.
	SwitchAfterExit bool

	// Topology is a hierarchy descriptor ("n,p x n,p x ...") selecting the
	// probability-weighted steal policy. Takes precedence over ProbFile.
	Topology string
	// ProbFile is the path of an explicit victim weight matrix file.
	ProbFile string

	Logger zerolog.Logger // Runtime logger; zerolog.Nop() by default
	Probe  Probe          // Profiling callbacks; nil means none
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Workers:         0, // resolved to runtime.NumCPU() at Start
		DequeCapacity:   DefaultDequeCapacity,
		AllocBatch:      DefaultAllocBatch,
		SwitchAfterExit: true,
		Logger:          zerolog.Nop(),
	}
}

// withDefaults resolves environment overrides and validates the result.
func (c Config) withDefaults() (Config, error) {
	if c.Workers == 0 {
		if s := os.Getenv(EnvWorkers); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return c, fmt.Errorf("%w: %s=%q: %v", ErrBadConfig, EnvWorkers, s, err)
			}
			c.Workers = n
		}
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Workers < 0 {
		return c, fmt.Errorf("%w: worker count %d", ErrBadConfig, c.Workers)
	}
	if c.Topology == "" {
		c.Topology = os.Getenv(EnvCPUHierarchy)
	}
	if c.ProbFile == "" {
		c.ProbFile = os.Getenv(EnvProbFile)
	}
	if c.DequeCapacity <= 0 {
		c.DequeCapacity = DefaultDequeCapacity
	}
	if c.AllocBatch <= 0 {
		c.AllocBatch = DefaultAllocBatch
	}
	if c.Probe == nil {
		c.Probe = nopProbe{}
	}
	return c, nil
}
