// Package deferred implements single-invocation cleanup actions.
//
// A Deferred wraps whatever a retiring goroutine needs to finalize a removed
// object (return a node to a pool, poison a buffer, close a handle) behind an
// opaque handle that runs at most once. The goroutine that eventually calls it
// is whichever one drains the batch holding it, not necessarily the one that
// created it.
package deferred

import "sync/atomic"

// Deferred is a type-erased action that may be invoked exactly once.
//
// After invocation the captured closure is dropped so its environment can be
// collected even if the Deferred itself stays reachable.
type Deferred struct {
	fn     func()
	called atomic.Bool
}

// New wraps fn as a Deferred.
//
// A nil fn panics, so the mistake surfaces at the retiring call site.
func New(fn func()) *Deferred {
	if fn == nil {
		panic("deferred: nil action")
	}
	return &Deferred{fn: fn}
}

// Call runs the action.
//
// Calling a Deferred twice is a contract violation and panics; the action is
// not run again. A panic raised by the action itself propagates unchanged.
func (d *Deferred) Call() {
	if !d.called.CompareAndSwap(false, true) {
		panic("deferred: action invoked more than once")
	}
	fn := d.fn
	d.fn = nil
	fn()
}

// Called reports whether Call has been invoked.
func (d *Deferred) Called() bool {
	return d.called.Load()
}
