package ebr

import (
	"sync/atomic"

	"github.com/isgasho/flize/internal/ebr/epoch"
)

// ebrState is the coordinator a threadState pins against.
//
// *Collector is the only implementation; the interface keeps the pin
// protocol independent of how advancement and draining are carried out.
type ebrState interface {
	// loadEpochRelaxed returns the current global epoch.
	loadEpochRelaxed() epoch.Epoch

	// shouldAdvance reports whether a pin should piggy-back an advancement
	// attempt.
	shouldAdvance() bool

	// tryCycle attempts one advancement and, on success, drains the batch
	// that became safe.
	tryCycle()
}

// threadState is the pin record of one goroutine.
//
// It is owned by exactly one goroutine, which alone calls enter and exit,
// but lives in the collector's registry so scanning goroutines can read the
// marker at any time.
//
// States:
//   - Unpinned:          marker unpinned, depth == 0
//   - Pinned(g, depth):  marker == g.Pinned(), depth >= 1
type threadState struct {
	// marker is the published pin record. A single 64-bit word, so a
	// scanner sees either the old or the new state, never a torn one.
	marker epoch.AtomicEpoch

	// depth counts nested pins (cloned shields). Owner goroutine only.
	depth uint32

	// site is the pinsite hash of the outermost pin, 0 when untracked.
	site atomic.Uint64
}

func newThreadState() *threadState {
	return &threadState{}
}

// enter pins the goroutine, or deepens an existing pin.
//
// It reports whether this call moved the goroutine from unpinned to pinned.
// A nested enter keeps the recorded generation, so cloning a shield never
// lets the goroutine fall behind silently or jump ahead of a reference it
// already holds.
func (ts *threadState) enter(state ebrState) bool {
	if ts.depth > 0 {
		ts.depth++
		return false
	}

	ts.marker.Store(state.loadEpochRelaxed().Pinned())
	// depth must be set before tryCycle: drained actions may pin again on
	// this goroutine.
	ts.depth = 1

	if state.shouldAdvance() {
		state.tryCycle()
	}
	return true
}

// exit releases one level of pinning.
//
// Calling exit more often than enter is a programming error and panics.
func (ts *threadState) exit() {
	switch ts.depth {
	case 0:
		panic("ebr: unbalanced unpin")
	case 1:
		ts.depth = 0
		ts.site.Store(0)
		ts.marker.Store(epoch.Zero)
	default:
		ts.depth--
	}
}

// load returns the published marker.
func (ts *threadState) load() epoch.Epoch {
	return ts.marker.Load()
}
