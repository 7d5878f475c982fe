// Package drainqueue implements a multi-producer queue drained in whole batches.
//
// Producers push items from any goroutine without blocking. A single call to
// SwapOut atomically detaches everything queued so far into a Batch owned by
// the caller, leaving the queue empty and immediately usable by concurrent
// producers. Items pushed during or after the swap never appear in the
// detached batch.
//
// Design:
//   - Push: CAS onto the head of a singly linked list (Treiber push)
//   - SwapOut: one atomic swap of the head with nil
//   - No pop from the shared list, so the ABA problem of Treiber pop never
//     arises
//
// Len is advisory. It is maintained with a separate counter that trails the
// list by at most the number of in-flight pushes and swaps.
package drainqueue

import "sync/atomic"

type node[T any] struct {
	value T
	next  *node[T]
}

// Queue is a lock-free multi-producer queue drained by SwapOut.
//
// The zero value is an empty queue ready to use.
type Queue[T any] struct {
	head   atomic.Pointer[node[T]]
	length atomic.Int64
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends value. It never blocks; under contention it retries its CAS.
func (q *Queue[T]) Push(value T) {
	n := &node[T]{value: value}
	for {
		old := q.head.Load()
		n.next = old
		if q.head.CompareAndSwap(old, n) {
			break
		}
	}
	q.length.Add(1)
}

// SwapOut detaches every queued item into a Batch owned by the caller.
//
// The returned batch yields items in push order. It is never nil; an empty
// queue yields an empty batch.
func (q *Queue[T]) SwapOut() *Batch[T] {
	top := q.head.Swap(nil)

	// Reverse the LIFO chain so the batch drains oldest first.
	var first *node[T]
	n := 0
	for top != nil {
		next := top.next
		top.next = first
		first = top
		top = next
		n++
	}
	if n > 0 {
		q.length.Add(int64(-n))
	}
	return &Batch[T]{first: first, n: n}
}

// Len returns the approximate number of queued items.
//
// The count may lag concurrent pushes and swaps; use it only to decide
// whether a drain is worth attempting.
func (q *Queue[T]) Len() int {
	if n := q.length.Load(); n > 0 {
		return int(n)
	}
	return 0
}

// Batch is an exclusively owned set of items detached from a Queue.
//
// A Batch is not safe for concurrent use; it belongs to the goroutine that
// called SwapOut.
type Batch[T any] struct {
	first *node[T]
	n     int
}

// Pop removes and returns the oldest remaining item.
func (b *Batch[T]) Pop() (T, bool) {
	if b.first == nil {
		var zero T
		return zero, false
	}
	n := b.first
	b.first = n.next
	b.n--
	return n.value, true
}

// Len returns the number of items left in the batch.
func (b *Batch[T]) Len() int {
	return b.n
}
