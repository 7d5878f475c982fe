package ebr

import "github.com/isgasho/flize/internal/ebr/deferred"

// Shield is proof that the goroutine holding it is pinned to a Collector.
//
// While any Shield is live, nothing retired after the goroutine observed its
// current generation can be finalized, so references loaded from a shared
// structure stay valid until the Shield is released.
//
// A Shield is goroutine-affine: every method, Release included, must be
// called on the goroutine that created it. Always pair creation with
// release:
//
//	s := c.Shield()
//	defer s.Release()
type Shield struct {
	collector *Collector
	state     *threadState
	released  bool
}

// Release unpins one level. Releasing the same Shield twice panics.
func (s *Shield) Release() {
	if s.released {
		panic("ebr: shield released twice")
	}
	s.released = true
	s.state.exit()
}

// Collector returns the Collector this Shield pins.
func (s *Shield) Collector() *Collector {
	return s.collector
}

// Repin unpins and immediately pins again, picking up the current global
// generation.
//
// Repin lets a long-lived reader stop holding back advancement between
// operations. References loaded before Repin must not be used after it.
// If the goroutine holds other shields (clones), the pin is only deepened
// and released again, and the recorded generation does not change.
func (s *Shield) Repin() {
	s.checkLive()
	s.state.exit()
	s.collector.pin(s.state, 1)
}

// RepinAfter unpins, runs fn, and pins again before returning.
//
// fn may block for an unbounded time; the goroutine does not hold back
// reclamation while it runs. The Shield is pinned again even if fn panics.
func (s *Shield) RepinAfter(fn func()) {
	s.checkLive()
	s.state.exit()
	defer s.collector.pin(s.state, 1)
	fn()
}

// RepinAfterValue is RepinAfter for an action that produces a result.
func RepinAfterValue[R any](s *Shield, fn func() R) R {
	var r R
	s.RepinAfter(func() { r = fn() })
	return r
}

// Retire schedules fn to run once no goroutine can still hold a reference
// that was reachable when Retire was called.
//
// fn runs exactly once, on whichever goroutine performs the drain, at some
// unspecified later time. A panic in fn propagates to that goroutine.
// Retire panics if fn is nil.
func (s *Shield) Retire(fn func()) {
	s.checkLive()
	s.collector.retire(deferred.New(fn))
}

// Clone returns a second Shield on the same goroutine.
//
// Both shields must be released before the goroutine is considered
// unpinned.
func (s *Shield) Clone() *Shield {
	s.checkLive()
	s.collector.pin(s.state, 1)
	return &Shield{collector: s.collector, state: s.state}
}

func (s *Shield) checkLive() {
	if s.released {
		panic("ebr: use of released shield")
	}
}
