// Package threadlocal implements a registry of per-goroutine slots.
//
// Each goroutine that calls Get is bound to one slot for as long as it runs.
// All slots ever created are linked into an append-only list so any goroutine
// can iterate over every slot without locks:
//
//   - Lookup: sync.Map keyed by goroutine id (lock-free for existing keys)
//   - Registration: CAS push onto the list head; published slots never move
//   - Iteration: walks from a head snapshot; slots registered during the walk
//     may or may not be visited
//
// Slots of exited goroutines can be handed back with Release and are then
// claimed by new goroutines instead of allocating, so the list length tracks
// the peak number of concurrent goroutines rather than the total ever seen.
package threadlocal

import (
	"sync"
	"sync/atomic"

	"github.com/isgasho/flize/internal/goid"
)

// free marks a slot not bound to any goroutine. Goroutine ids start at 1.
const free = 0

type slot[T any] struct {
	owner atomic.Int64
	value *T
	next  *slot[T] // immutable once published
}

// Registry maps goroutines to slots holding a *T.
//
// The zero value is an empty registry ready to use.
type Registry[T any] struct {
	head    atomic.Pointer[slot[T]]
	byOwner sync.Map // int64 (goroutine id) -> *slot[T]
	slots   atomic.Int64
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Get returns the value bound to the calling goroutine.
//
// On first use by a goroutine it claims a released slot if one exists, and
// otherwise registers a new slot holding create(). The returned pointer stays
// valid for the rest of the goroutine's life. created reports whether a new
// slot was allocated.
func (r *Registry[T]) Get(create func() *T) (value *T, created bool) {
	id := goid.Current()
	if s, ok := r.byOwner.Load(id); ok {
		return s.(*slot[T]).value, false
	}

	for s := r.head.Load(); s != nil; s = s.next {
		if s.owner.Load() == free && s.owner.CompareAndSwap(free, id) {
			r.byOwner.Store(id, s)
			return s.value, false
		}
	}

	s := &slot[T]{value: create()}
	s.owner.Store(id)
	for {
		old := r.head.Load()
		s.next = old
		if r.head.CompareAndSwap(old, s) {
			break
		}
	}
	r.slots.Add(1)
	r.byOwner.Store(id, s)
	return s.value, true
}

// Range calls fn for each registered slot until fn returns false.
//
// owner is the goroutine id currently bound to the slot, or 0 for a released
// slot. Range tolerates concurrent registration.
func (r *Registry[T]) Range(fn func(owner int64, value *T) bool) {
	for s := r.head.Load(); s != nil; s = s.next {
		if !fn(s.owner.Load(), s.value) {
			return
		}
	}
}

// Len returns the number of slots ever allocated, bound or released.
func (r *Registry[T]) Len() int {
	return int(r.slots.Load())
}

// Owners returns the goroutine ids currently bound to a slot.
func (r *Registry[T]) Owners() []int64 {
	var ids []int64
	r.byOwner.Range(func(key, _ any) bool {
		ids = append(ids, key.(int64))
		return true
	})
	return ids
}

// Release unbinds the slots of the goroutines in dead for which releasable
// reports true, making them available to future Get calls. It returns the
// number of slots released.
//
// Every id in dead must belong to a goroutine that has exited: take Owners
// first, then a live snapshot (goid.Live), and pass the owners missing from
// it. Goroutine ids are never reused, so an owner registered before the
// snapshot and absent from it cannot touch its slot again.
func (r *Registry[T]) Release(dead []int64, releasable func(*T) bool) int {
	released := 0
	for _, id := range dead {
		v, ok := r.byOwner.Load(id)
		if !ok {
			continue
		}
		s := v.(*slot[T])
		if !releasable(s.value) {
			continue
		}
		r.byOwner.Delete(id)
		if s.owner.CompareAndSwap(id, free) {
			released++
		}
	}
	return released
}
