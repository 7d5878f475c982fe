// Package ebr provides epoch-based memory reclamation for lock-free data
// structures.
//
// Lock-free structures unlink nodes while other goroutines may still be
// reading them. Go's garbage collector keeps the memory itself alive, but a
// node that is recycled (returned to a pool, reused as a buffer, closed,
// poisoned) before every reader is done with it is a use-after-free all the
// same. This package defers such finalization until no goroutine can still
// hold a reference.
//
// # Quick Start
//
//	c := ebr.New()
//
//	// Reader
//	s := c.Shield()
//	n := head.Load()
//	use(n)
//	s.Release()
//
//	// Writer
//	s := c.Shield()
//	defer s.Release()
//	old := head.Swap(newNode)
//	s.Retire(func() { pool.Put(old) })
//
// # API Overview
//
//   - Pinning: [Collector.Shield], [Collector.Protect], [Shield.Release]
//   - Refreshing a pin: [Shield.Repin], [Shield.RepinAfter], [RepinAfterValue]
//   - Deferred finalization: [Shield.Retire], [Collector.Collect]
//   - Maybe-pinned callers: [CowShield]
//   - Diagnostics: [Collector.Stats], [Collector.Laggards], [Metrics]
//   - Version information: [GetInfo], [Version], [Compatible]
//
// # How It Works
//
// The collector keeps a global generation and three reclamation queues. An
// action retired during generation G goes into queue G mod 3. A pinned
// goroutine publishes the generation it observed when it pinned.
//
// The generation advances from G to G+1 only when every pinned goroutine has
// published G and no drain is running. A goroutine that observed G may hold
// references retired during G-1 or G, but nothing retired earlier, so after
// that advancement the queue of G-1 (which is also the queue G+2 will fill)
// is detached and every action in it runs. Advancement is attempted by
// Collect and, when work is pending, by pins selected by the advance rate.
// The goroutine that wins the advancement pays for the drain; there is no
// background goroutine.
//
// # Goroutine Affinity
//
// Pins are recorded per goroutine. A Shield, and every clone of it, must be
// used and released on the goroutine that created it. Pins nest: each
// Collector.Shield or Shield.Clone adds a level and the goroutine stays
// pinned until every level is released.
//
// # Limitations
//
// A goroutine that pins and never unpins blocks all reclamation for its
// collector. Nothing masks this; [Collector.Laggards] reports which
// goroutines are responsible and, with [WithPinTracking], where they pinned.
//
// Retired actions run on whichever goroutine performs the drain. A panic
// inside one propagates to that goroutine and the rest of its batch is not
// run.
package ebr
