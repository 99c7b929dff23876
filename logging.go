package fibersched

import "github.com/rs/zerolog"

// newRuntimeLogger tags the configured logger for this component. The
// default configuration uses zerolog.Nop(), so the scheduler stays silent
// unless the embedding program wires a real logger in.
func newRuntimeLogger(base zerolog.Logger) zerolog.Logger {
	return base.With().Str("component", "fibersched").Logger()
}
