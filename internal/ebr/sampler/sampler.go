// Package sampler decides which pin events piggy-back an advancement attempt.
//
// Every first-level pin may try to advance the global epoch and drain a
// reclamation batch. Under heavy pin traffic most of those attempts fail on
// contention, so the collector can be configured to try on only one pin in
// Rate.
//
// Uses TSAN's trace_pos approach: an atomic counter incremented per pin with
// modulo selection. No RNG, uniform selection, ~1ns when disabled.
package sampler

import "sync/atomic"

// Sampler selects one event in every Rate.
//
// Thread Safety: All methods are safe for concurrent calls.
type Sampler struct {
	rate uint64
	pos  atomic.Uint64

	sampled atomic.Uint64
	skipped atomic.Uint64
}

// Stats counts sampling decisions.
type Stats struct {
	Sampled uint64
	Skipped uint64
}

// New creates a Sampler selecting one event in rate.
//
// A rate of 0 or 1 selects every event.
func New(rate uint64) *Sampler {
	if rate == 0 {
		rate = 1
	}
	return &Sampler{rate: rate}
}

// ShouldSample reports whether the current event is selected.
func (s *Sampler) ShouldSample() bool {
	if s.rate <= 1 {
		s.sampled.Add(1)
		return true
	}
	if s.pos.Add(1)%s.rate == 0 {
		s.sampled.Add(1)
		return true
	}
	s.skipped.Add(1)
	return false
}

// Rate returns the effective sampling rate (1 means every event).
func (s *Sampler) Rate() uint64 {
	return s.rate
}

// Stats returns a snapshot of the sampling counters.
func (s *Sampler) Stats() Stats {
	return Stats{
		Sampled: s.sampled.Load(),
		Skipped: s.skipped.Load(),
	}
}
