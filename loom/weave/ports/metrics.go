package weaveports

import "time"

// Metrics records turn-level counters for observability backends.
type Metrics interface {
	ObserveTurn(outcome string, compacted bool, elapsed time.Duration)
	ObserveTokens(kind string, tokens int)
}
