package ebr

import "log/slog"

// DefaultAdvanceRate is the default number of first-level pins per
// piggy-backed advancement attempt.
const DefaultAdvanceRate = 1

// Option configures a Collector.
type Option func(*options)

type options struct {
	metrics     Metrics
	logger      *slog.Logger
	advanceRate uint64
	trackPins   bool
}

func defaultOptions() options {
	return options{
		logger:      slog.New(slog.DiscardHandler),
		advanceRate: DefaultAdvanceRate,
	}
}

// WithMetrics installs a metrics sink. A nil Metrics disables collection.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger sets the logger used for debug events. nil keeps the default,
// which discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAdvanceRate makes only one in every n first-level pins attempt an
// advancement when reclamation work is pending. Collect is not affected.
//
// Rates above 1 trade reclamation latency for cheaper pins under heavy
// contention. 0 is treated as 1.
func WithAdvanceRate(n uint64) Option {
	return func(o *options) {
		o.advanceRate = n
	}
}

// WithPinTracking records the call site of every first-level pin so
// Laggards can report where a stalled goroutine pinned. It costs a stack
// capture per pin.
func WithPinTracking(enabled bool) Option {
	return func(o *options) {
		o.trackPins = enabled
	}
}
