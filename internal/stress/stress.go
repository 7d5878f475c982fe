// Package stress hammers an ebr.Collector with concurrent readers and
// writers and checks that no reader ever observes a recycled node.
//
// Writers replace a shared node and retire the old one with an action that
// poisons it and returns it to a pool. Readers pin, load the node, and check
// repeatedly that it is neither poisoned nor rewritten while they hold it.
// Any such observation is a use-after-retire and is counted as a violation.
package stress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/isgasho/flize/ebr"
)

type node struct {
	value    atomic.Int64
	poisoned atomic.Bool
}

// Report summarizes a stress run.
type Report struct {
	Elapsed    time.Duration
	Reads      int64
	Writes     int64
	Executed   int64
	Violations int64
	Generation uint64
	Pending    int
	Laggards   []ebr.Laggard
}

// OK reports whether the run observed no violation and reclaimed every
// retired node.
func (r *Report) OK() bool {
	return r.Violations == 0 && r.Executed == r.Writes && r.Pending == 0
}

func (r *Report) String() string {
	return fmt.Sprintf("reads=%d writes=%d executed=%d violations=%d generation=%d pending=%d elapsed=%s",
		r.Reads, r.Writes, r.Executed, r.Violations, r.Generation, r.Pending, r.Elapsed.Round(time.Millisecond))
}

// Runner executes stress runs against one collector.
type Runner struct {
	cfg       Config
	collector *ebr.Collector
	logger    *slog.Logger

	head  atomic.Pointer[node]
	pool  sync.Pool
	stats struct {
		reads, writes, executed, violations atomic.Int64
	}
}

// NewRunner validates cfg and creates a runner. opts are applied to the
// collector after the ones derived from cfg.
func NewRunner(cfg Config, logger *slog.Logger, opts ...ebr.Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	base := []ebr.Option{
		ebr.WithAdvanceRate(cfg.AdvanceRate),
		ebr.WithPinTracking(cfg.TrackPins),
		ebr.WithLogger(logger),
	}

	r := &Runner{
		cfg:       cfg,
		collector: ebr.New(append(base, opts...)...),
		logger:    logger,
	}
	r.pool.New = func() any { return new(node) }
	r.head.Store(r.fresh(0))
	return r, nil
}

// Collector returns the collector under test.
func (r *Runner) Collector() *ebr.Collector {
	return r.collector
}

// Run drives the workers for the configured duration or until ctx is done,
// then drains the collector and reports.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	r.logger.Info("stress run starting",
		slog.Int("readers", r.cfg.Readers),
		slog.Int("writers", r.cfg.Writers),
		slog.Duration("duration", r.cfg.Duration))

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < r.cfg.Readers; i++ {
		g.Go(func() error { return r.read(gctx) })
	}
	for i := 0; i < r.cfg.Writers; i++ {
		g.Go(func() error { return r.write(gctx) })
	}
	if r.cfg.CollectInterval > 0 {
		g.Go(func() error { return r.collect(gctx) })
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("stress workers: %w", err)
	}

	// Surface any goroutine still holding the epoch before draining.
	laggards := r.collector.Laggards()

	// Every worker has unpinned; the last node is never retired.
	for i := 0; i < 3; i++ {
		r.collector.Collect()
	}

	st := r.collector.Stats()
	rep := &Report{
		Elapsed:    time.Since(start),
		Reads:      r.stats.reads.Load(),
		Writes:     r.stats.writes.Load(),
		Executed:   r.stats.executed.Load(),
		Violations: r.stats.violations.Load(),
		Generation: st.Generation,
		Pending:    st.TotalPending(),
		Laggards:   laggards,
	}

	if rep.Violations > 0 {
		r.logger.Error("use after retire detected", slog.Int64("violations", rep.Violations))
	}
	r.logger.Info("stress run finished",
		slog.Int64("reads", rep.Reads),
		slog.Int64("writes", rep.Writes),
		slog.Int64("executed", rep.Executed),
		slog.Uint64("generation", rep.Generation))

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

func (r *Runner) fresh(v int64) *node {
	n := r.pool.Get().(*node)
	n.value.Store(v)
	n.poisoned.Store(false)
	return n
}

func (r *Runner) check(n *node) {
	want := n.value.Load()
	for i := 0; i < r.cfg.ReadHold; i++ {
		if n.poisoned.Load() || n.value.Load() != want {
			r.stats.violations.Add(1)
			return
		}
	}
}

func (r *Runner) read(ctx context.Context) error {
	if r.cfg.RepinEvery > 0 {
		return r.readRepin(ctx)
	}
	for ctx.Err() == nil {
		r.collector.Protect(func(*ebr.Shield) {
			r.check(r.head.Load())
		})
		r.stats.reads.Add(1)
	}
	return nil
}

// readRepin keeps a single pin and refreshes it periodically.
func (r *Runner) readRepin(ctx context.Context) error {
	s := r.collector.Shield()
	defer s.Release()

	for n := 1; ctx.Err() == nil; n++ {
		r.check(r.head.Load())
		r.stats.reads.Add(1)
		if n%r.cfg.RepinEvery == 0 {
			s.Repin()
		}
	}
	return nil
}

func (r *Runner) write(ctx context.Context) error {
	for v := int64(1); ctx.Err() == nil; v++ {
		r.collector.Protect(func(s *ebr.Shield) {
			old := r.head.Swap(r.fresh(v))
			s.Retire(func() {
				old.poisoned.Store(true)
				old.value.Store(-1)
				r.pool.Put(old)
				r.stats.executed.Add(1)
			})
		})
		r.stats.writes.Add(1)
	}
	return nil
}

func (r *Runner) collect(ctx context.Context) error {
	t := time.NewTicker(r.cfg.CollectInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.collector.Collect()
		}
	}
}
