package fibersched

import (
	"errors"
	"os"
)

// ErrBadConfig reports an invalid runtime configuration.
var ErrBadConfig = errors.New("fibersched: invalid configuration")

// ErrNotExternal reports a Wait call on a fiber that was not created by
// Submit; only externally submitted fibers carry an external completion
// signal.
var ErrNotExternal = errors.New("fibersched: fiber was not submitted externally")

// osExit is a variable so that the process exit in fatalf can be replaced.
var osExit = os.Exit

// fatalf reports an invariant violation. These indicate a runtime bug or
// misconfiguration and are never surfaced as recoverable errors.
func (rt *Runtime) fatalf(format string, args ...any) {
	rt.log.Error().Msgf(format, args...)
	osExit(1)
}
