// Package epoch implements the generation counter used by epoch-based reclamation.
//
// Epoch is a single 64-bit word combining a generation counter with a pinned
// marker, so a goroutine's pin record can be published and observed with one
// atomic store/load and is never seen half written:
//   - Top 63 bits: Generation (monotonically increasing)
//   - Bottom bit:  Pinned marker
//
// Each generation maps onto one of exactly three reclamation slots
// (generation mod 3). Slot values only come from Epoch.Slot, so indexing a
// [Slots]T array with them is in bounds by construction.
package epoch

import (
	"strconv"
	"sync/atomic"
)

// Epoch is a packed (generation, pinned) pair.
// Layout: [Generation:63][Pinned:1]
//
// Example: 0x0B represents generation 5, pinned.
type Epoch uint64

const (
	// Slots is the number of reclamation slots a generation can map onto.
	Slots = 3

	// pinnedBit marks an epoch recorded by a pinned goroutine.
	pinnedBit Epoch = 1

	// generationShift is the number of low bits reserved for markers.
	generationShift = 1
)

// Zero is generation 0, unpinned. It is the zero value of Epoch.
const Zero Epoch = 0

// New creates an unpinned epoch for the given generation.
//
// Generations beyond 63 bits are truncated (wraps after 2^63 advances).
func New(generation uint64) Epoch {
	return Epoch(generation << generationShift)
}

// Generation returns the generation counter, ignoring the pinned marker.
//
//go:nosplit
func (e Epoch) Generation() uint64 {
	return uint64(e >> generationShift)
}

// IsPinned reports whether the pinned marker is set.
//
//go:nosplit
func (e Epoch) IsPinned() bool {
	return e&pinnedBit != 0
}

// Pinned returns e with the pinned marker set.
//
//go:nosplit
func (e Epoch) Pinned() Epoch {
	return e | pinnedBit
}

// Unpinned returns e with the pinned marker cleared, so two epochs can be
// compared by generation alone.
//
//go:nosplit
func (e Epoch) Unpinned() Epoch {
	return e &^ pinnedBit
}

// Next returns the successor generation with the pinned marker cleared.
//
//go:nosplit
func (e Epoch) Next() Epoch {
	return e.Unpinned() + 1<<generationShift
}

// Slot returns the reclamation slot this generation maps onto.
//
//go:nosplit
func (e Epoch) Slot() Slot {
	return Slot(e.Generation() % Slots)
}

// String returns a human-readable representation of the epoch.
//
// Format: "5" for an unpinned epoch, "5*" for a pinned one.
func (e Epoch) String() string {
	s := strconv.FormatUint(e.Generation(), 10)
	if e.IsPinned() {
		s += "*"
	}
	return s
}

// Slot identifies one of the three reclamation queues.
type Slot uint8

// Index returns the slot as an array index in [0, Slots).
//
// Slots are only produced by Epoch.Slot; an out-of-range value is a
// programming error and panics.
func (s Slot) Index() int {
	if s >= Slots {
		panic("epoch: slot " + strconv.Itoa(int(s)) + " out of range")
	}
	return int(s)
}

// AtomicEpoch is an Epoch that can be shared between goroutines.
//
// The zero value holds Zero and is ready to use.
type AtomicEpoch struct {
	v atomic.Uint64
}

// NewAtomic returns an AtomicEpoch initialized to e.
func NewAtomic(e Epoch) *AtomicEpoch {
	a := &AtomicEpoch{}
	a.v.Store(uint64(e))
	return a
}

// Load atomically reads the epoch.
func (a *AtomicEpoch) Load() Epoch {
	return Epoch(a.v.Load())
}

// Store atomically replaces the epoch.
func (a *AtomicEpoch) Store(e Epoch) {
	a.v.Store(uint64(e))
}

// TryAdvance moves the epoch from current to current.Next() with a single
// compare-and-swap. It reports false, leaving the epoch untouched, if another
// goroutine changed it first; the caller is expected to give up rather than
// retry.
func (a *AtomicEpoch) TryAdvance(current Epoch) (Epoch, bool) {
	next := current.Next()
	if !a.v.CompareAndSwap(uint64(current), uint64(next)) {
		return current, false
	}
	return next, true
}
