package ebr

import "time"

// Metrics receives collector events.
//
// Implementations must be safe for concurrent use and cheap: methods are
// called on the pin and retire paths. A nil Metrics disables collection
// with no overhead. See package ebr/prometheus for a Prometheus
// implementation.
type Metrics interface {
	// ObserveRetire records one retired action.
	ObserveRetire()

	// ObserveAdvance records an advancement attempt and the generation
	// after it.
	ObserveAdvance(advanced bool, generation uint64)

	// ObserveDrain records a drained batch.
	ObserveDrain(executed int, duration time.Duration)
}
