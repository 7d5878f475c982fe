package ebr

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/isgasho/flize/internal/ebr/deferred"
	"github.com/isgasho/flize/internal/ebr/drainqueue"
	"github.com/isgasho/flize/internal/ebr/epoch"
	"github.com/isgasho/flize/internal/ebr/pinsite"
	"github.com/isgasho/flize/internal/ebr/sampler"
	"github.com/isgasho/flize/internal/ebr/threadlocal"
	"github.com/isgasho/flize/internal/goid"
)

// releaseInterval is the number of new goroutine registrations between
// background sweeps for slots of exited goroutines.
const releaseInterval = 1024

// Collector coordinates epoch-based reclamation for the data structures
// that share it.
//
// A Collector owns the global epoch, one reclamation queue per slot, the
// registry of per-goroutine pin records and a guard held while an
// advancement or drain runs. All of them are mutated with atomic operations only.
//
// Construct one Collector per protected structure (or per process) and pass
// it explicitly to everything that pins against it. A Collector must outlive
// every Shield created from it.
type Collector struct {
	globalEpoch epoch.AtomicEpoch
	collecting  atomic.Int32 // 1 while an advancement or drain runs
	threads     *threadlocal.Registry[threadState]
	deferred    [epoch.Slots]*drainqueue.Queue[*deferred.Deferred]

	sampler   *sampler.Sampler
	sites     *pinsite.Depot // nil unless pin tracking is enabled
	metrics   Metrics
	logger    *slog.Logger
	releasing atomic.Bool
}

// New creates a Collector at generation 0 with no registered goroutines and
// empty reclamation queues.
func New(opts ...Option) *Collector {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Collector{
		threads: threadlocal.New[threadState](),
		sampler: sampler.New(o.advanceRate),
		metrics: o.metrics,
		logger:  o.logger,
	}
	for i := range c.deferred {
		c.deferred[i] = drainqueue.New[*deferred.Deferred]()
	}
	if o.trackPins {
		c.sites = &pinsite.Depot{}
	}
	return c
}

// Shield pins the calling goroutine and returns the proof of pinning.
//
// The shield must be released on the same goroutine, typically with
// defer s.Release().
func (c *Collector) Shield() *Shield {
	ts := c.threadState()
	c.pin(ts, 1)
	return &Shield{collector: c, state: ts}
}

// Protect pins the calling goroutine for the duration of fn.
//
// The pin is released on every exit path, including a panic in fn.
func (c *Collector) Protect(fn func(s *Shield)) {
	s := c.Shield()
	defer s.Release()
	fn(s)
}

// Collect attempts one advancement of the global epoch and, if it succeeds,
// runs every action that became safe.
//
// It is a no-op when some pinned goroutine has not yet observed the current
// generation or another drain is in progress.
func (c *Collector) Collect() {
	c.tryCycle()
}

// retire schedules d to run once no goroutine can still observe what it
// finalizes. It never blocks.
func (c *Collector) retire(d *deferred.Deferred) {
	e := c.globalEpoch.Load()
	c.queue(e.Slot()).Push(d)
	if c.metrics != nil {
		c.metrics.ObserveRetire()
	}
}

func (c *Collector) queue(s epoch.Slot) *drainqueue.Queue[*deferred.Deferred] {
	return c.deferred[s.Index()]
}

func (c *Collector) threadState() *threadState {
	ts, created := c.threads.Get(newThreadState)
	if created && c.threads.Len()%releaseInterval == 0 {
		go c.releaseInBackground()
	}
	return ts
}

// pin enters ts and, for an outermost pin with tracking enabled, records the
// pin site. skip counts the ebr frames above pin to hide from the site.
func (c *Collector) pin(ts *threadState, skip int) {
	if ts.enter(c) && c.sites != nil {
		ts.site.Store(c.sites.Capture(skip + 1))
	}
}

// tryAdvance moves the global epoch forward by one generation if every
// pinned goroutine has observed the current generation. The caller must
// hold the drain guard. Losing the compare-and-swap is not retried.
func (c *Collector) tryAdvance() (epoch.Epoch, bool) {
	global := c.globalEpoch.Load()

	quiescent := true
	c.threads.Range(func(_ int64, ts *threadState) bool {
		e := ts.load()
		if e.IsPinned() && e.Unpinned() != global {
			quiescent = false
		}
		return quiescent
	})
	if !quiescent {
		return global, false
	}

	return c.globalEpoch.TryAdvance(global)
}

// drain runs every action in the batch of slot s.
func (c *Collector) drain(s epoch.Slot, current epoch.Epoch) {
	start := time.Now()
	batch := c.queue(s).SwapOut()
	executed := batch.Len()
	for d, ok := batch.Pop(); ok; d, ok = batch.Pop() {
		d.Call()
	}
	elapsed := time.Since(start)

	if c.metrics != nil {
		c.metrics.ObserveDrain(executed, elapsed)
	}
	if executed > 0 {
		c.logger.Debug("epoch advanced",
			slog.Uint64("generation", current.Generation()),
			slog.Int("executed", executed),
			slog.Duration("duration", elapsed))
	}
}

// pending returns the approximate number of retired actions not yet run.
func (c *Collector) pending() int {
	n := 0
	for _, q := range c.deferred {
		n += q.Len()
	}
	return n
}

func (c *Collector) loadEpochRelaxed() epoch.Epoch {
	return c.globalEpoch.Load()
}

func (c *Collector) shouldAdvance() bool {
	return c.pending() != 0 && c.sampler.ShouldSample()
}

// tryCycle attempts one advancement and drains the slot it made safe.
//
// Advancing and draining happen under a single guard: a second advancement
// while a drain is still swapping out its slot could otherwise let the
// retiring generation wrap onto that slot. Contending callers give up.
func (c *Collector) tryCycle() {
	if !c.collecting.CompareAndSwap(0, 1) {
		if c.metrics != nil {
			c.metrics.ObserveAdvance(false, c.globalEpoch.Load().Generation())
		}
		return
	}
	defer c.collecting.Store(0)

	current, ok := c.tryAdvance()
	if c.metrics != nil {
		c.metrics.ObserveAdvance(ok, current.Generation())
	}
	if !ok {
		return
	}

	// The slot two generations behind current was filled strictly before
	// every pinned goroutine observed the generation now closing.
	c.drain(current.Next().Slot(), current)
}

// ReleaseDeadGoroutines hands the pin records of exited, unpinned goroutines
// back to the registry for reuse and returns how many were released.
//
// It is run in the background every few thousand goroutine registrations;
// long-running programs that spawn many short-lived pinning goroutines may
// also call it directly. It stops the world briefly (see goid.Live).
func (c *Collector) ReleaseDeadGoroutines() int {
	owners := c.threads.Owners()
	if len(owners) == 0 {
		return 0
	}

	live := make(map[int64]struct{})
	for _, id := range goid.Live() {
		live[id] = struct{}{}
	}
	var dead []int64
	for _, id := range owners {
		if _, ok := live[id]; !ok {
			dead = append(dead, id)
		}
	}

	released := c.threads.Release(dead, func(ts *threadState) bool {
		return !ts.load().IsPinned()
	})
	if released > 0 {
		c.logger.Debug("released pin records of exited goroutines",
			slog.Int("released", released),
			slog.Int("registered", c.threads.Len()))
	}
	return released
}

func (c *Collector) releaseInBackground() {
	if !c.releasing.CompareAndSwap(false, true) {
		return
	}
	defer c.releasing.Store(false)
	c.ReleaseDeadGoroutines()
}

// Stats returns a snapshot of the collector state.
//
// The snapshot is not atomic across fields; concurrent pins and retires may
// be partially reflected.
func (c *Collector) Stats() Stats {
	st := Stats{
		Generation: c.globalEpoch.Load().Generation(),
		Collecting: int(c.collecting.Load()),
	}
	for i, q := range c.deferred {
		st.Pending[i] = q.Len()
	}
	c.threads.Range(func(owner int64, ts *threadState) bool {
		if owner != 0 {
			st.Goroutines++
		}
		if ts.load().IsPinned() {
			st.Pinned++
		}
		return true
	})
	sampled := c.sampler.Stats()
	st.Sampled = sampled.Sampled
	st.Skipped = sampled.Skipped
	st.AdvanceRate = c.sampler.Rate()
	if c.sites != nil {
		st.PinSites = c.sites.Len()
	}
	return st
}

// Laggards returns the pinned goroutines whose generation is behind the
// global one, i.e. those currently preventing advancement.
//
// PinSite is only populated when the collector was created with
// WithPinTracking(true).
func (c *Collector) Laggards() []Laggard {
	global := c.globalEpoch.Load()

	var out []Laggard
	c.threads.Range(func(owner int64, ts *threadState) bool {
		e := ts.load()
		// A goroutine may pin at a newer generation than the one loaded
		// above while the scan runs.
		if !e.IsPinned() || e.Generation() >= global.Generation() {
			return true
		}
		l := Laggard{
			GoroutineID: owner,
			Generation:  e.Generation(),
			Behind:      global.Generation() - e.Generation(),
		}
		if c.sites != nil {
			if st := c.sites.Lookup(ts.site.Load()); st != nil {
				l.PinSite = st.Format()
			}
		}
		out = append(out, l)
		return true
	})

	if len(out) > 0 && c.logger.Enabled(context.Background(), slog.LevelDebug) {
		for _, l := range out {
			c.logger.Debug("goroutine holding back reclamation",
				slog.Int64("goroutine", l.GoroutineID),
				slog.Uint64("generation", l.Generation),
				slog.Uint64("behind", l.Behind))
		}
	}
	return out
}
