package ebr

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/isgasho/flize/internal/ebr/epoch"
	"github.com/isgasho/flize/internal/goid"
)

const (
	timeout = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// pinnedElsewhere pins c on a new goroutine and keeps it pinned until the
// returned release function is called. The retire callback, if set, runs
// on that goroutine while pinned.
func pinnedElsewhere(t *testing.T, c *Collector, retire func(*Shield)) (id int64, release func()) {
	t.Helper()

	ready := make(chan int64)
	unpin := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s := c.Shield()
		if retire != nil {
			retire(s)
		}
		ready <- goid.Current()
		<-unpin
		s.Release()
	}()

	id = <-ready
	return id, func() {
		close(unpin)
		<-done
	}
}

// ============================================================================
// Construction
// ============================================================================

func TestNewCollector(t *testing.T) {
	c := New()

	st := c.Stats()
	assert.Equal(t, uint64(0), st.Generation)
	assert.Equal(t, 0, st.TotalPending())
	assert.Equal(t, 0, st.Goroutines)
	assert.Equal(t, 0, st.Pinned)
	assert.Equal(t, 0, st.Collecting)
}

func TestCollectAdvancesWhenQuiescent(t *testing.T) {
	c := New()

	for i := 1; i <= 5; i++ {
		c.Collect()
		assert.Equal(t, uint64(i), c.Stats().Generation)
	}
}

// ============================================================================
// Scenarios
// ============================================================================

// A goroutine that stays pinned after retiring blocks the action forever.
func TestRetireBlockedByPinnedGoroutine(t *testing.T) {
	c := New()
	var executed atomic.Int32

	_, release := pinnedElsewhere(t, c, func(s *Shield) {
		s.Retire(func() { executed.Add(1) })
	})

	for i := 0; i < 10; i++ {
		c.Collect()
	}
	assert.Zero(t, executed.Load(), "action ran while its retirer was pinned")
	assert.Equal(t, uint64(1), c.Stats().Generation, "only the first advancement is allowed")

	release()

	c.Collect()
	c.Collect()
	assert.Equal(t, int32(1), executed.Load())
}

// Two advancements after the retirer unpins run the action exactly once.
func TestRetireRunsAfterTwoAdvances(t *testing.T) {
	c := New()
	var executed atomic.Int32

	_, release := pinnedElsewhere(t, c, func(s *Shield) {
		s.Retire(func() { executed.Add(1) })
	})
	release()

	c.Collect()
	assert.Zero(t, executed.Load(), "one advancement is not enough")

	c.Collect()
	assert.Equal(t, int32(1), executed.Load())

	for i := 0; i < 10; i++ {
		c.Collect()
	}
	assert.Equal(t, int32(1), executed.Load(), "action ran more than once")
}

func TestConcurrentRetireExactlyOnce(t *testing.T) {
	const perWriter = 1000
	c := New()

	var counts [2 * perWriter]atomic.Int32
	var stop atomic.Bool

	var writers errgroup.Group
	for w := 0; w < 2; w++ {
		base := w * perWriter
		writers.Go(func() error {
			for i := 0; i < perWriter; i++ {
				idx := base + i
				s := c.Shield()
				s.Retire(func() { counts[idx].Add(1) })
				s.Release()
			}
			return nil
		})
	}

	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for !stop.Load() {
			s := c.Shield()
			s.Release()
			c.Collect()
		}
	}()

	require.NoError(t, writers.Wait())
	stop.Store(true)
	<-collectorDone

	for i := 0; i < 3; i++ {
		c.Collect()
	}

	total := 0
	for i := range counts {
		n := counts[i].Load()
		require.Equalf(t, int32(1), n, "action %d executed %d times", i, n)
		total += int(n)
	}
	assert.Equal(t, 2*perWriter, total)
	assert.Equal(t, 0, c.Stats().TotalPending())
}

func TestRepinAfterDoesNotStallCollect(t *testing.T) {
	c := New()

	inside := make(chan struct{})
	var finished atomic.Bool

	var g errgroup.Group
	g.Go(func() error {
		s := c.Shield()
		defer s.Release()
		s.RepinAfter(func() {
			close(inside)
			time.Sleep(200 * time.Millisecond)
		})
		finished.Store(true)
		return nil
	})

	<-inside
	before := c.Stats().Generation
	for i := 0; i < 3; i++ {
		c.Collect()
	}
	assert.False(t, finished.Load(), "collect waited for the sleeping goroutine")
	assert.Equal(t, before+3, c.Stats().Generation)

	require.NoError(t, g.Wait())
}

// ============================================================================
// Properties
// ============================================================================

type node struct {
	value    int64
	poisoned atomic.Bool
}

// Readers never observe a node poisoned by its retire action while pinned.
func TestSafetyUnderContention(t *testing.T) {
	c := New()

	var head atomic.Pointer[node]
	head.Store(&node{})

	var (
		violations atomic.Int64
		reads      atomic.Int64
		stop       atomic.Bool
	)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for r := 0; r < 4; r++ {
		g.Go(func() error {
			for !stop.Load() {
				c.Protect(func(*Shield) {
					n := head.Load()
					for i := 0; i < 8; i++ {
						if n.poisoned.Load() {
							violations.Add(1)
						}
					}
					reads.Add(1)
				})
			}
			return nil
		})
	}
	for w := 0; w < 2; w++ {
		g.Go(func() error {
			for v := int64(1); !stop.Load(); v++ {
				c.Protect(func(s *Shield) {
					old := head.Swap(&node{value: v})
					s.Retire(func() { old.poisoned.Store(true) })
				})
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		stop.Store(true)
		return nil
	})
	require.NoError(t, g.Wait())

	assert.Zero(t, violations.Load())
	assert.Positive(t, reads.Load())
}

func TestGenerationMonotonic(t *testing.T) {
	c := New()

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			var last uint64
			for j := 0; j < 2000; j++ {
				if j%2 == 0 {
					c.Collect()
				} else {
					c.Protect(func(*Shield) {})
				}
				gen := c.Stats().Generation
				if gen < last {
					t.Errorf("generation went backwards: %d after %d", gen, last)
					return nil
				}
				last = gen
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestPinsDriveReclamation(t *testing.T) {
	c := New()
	var executed atomic.Int32

	s := c.Shield()
	s.Retire(func() { executed.Add(1) })
	s.Release()

	// Each first-level pin with pending work advances once.
	c.Protect(func(*Shield) {})
	assert.Zero(t, executed.Load())
	c.Protect(func(*Shield) {})
	assert.Equal(t, int32(1), executed.Load())
	assert.Equal(t, uint64(2), c.Stats().Generation)
}

func TestAdvanceRate(t *testing.T) {
	c := New(WithAdvanceRate(3))

	s := c.Shield()
	s.Retire(func() {})
	s.Release()
	require.Equal(t, uint64(0), c.Stats().Generation, "pin before retire had no pending work")

	c.Protect(func(*Shield) {})
	c.Protect(func(*Shield) {})
	assert.Equal(t, uint64(0), c.Stats().Generation, "only every third pin may advance")

	c.Protect(func(*Shield) {})
	st := c.Stats()
	assert.Equal(t, uint64(1), st.Generation)
	assert.Equal(t, uint64(1), st.Sampled)
	assert.Equal(t, uint64(2), st.Skipped, "pins without pending work are not counted")
	assert.Equal(t, uint64(3), st.AdvanceRate)
}

func TestDrainedActionMayPin(t *testing.T) {
	c := New()
	var inner atomic.Int32

	s := c.Shield()
	s.Retire(func() {
		c.Protect(func(s *Shield) {
			s.Retire(func() { inner.Add(1) })
		})
	})
	s.Release()

	for i := 0; i < 5; i++ {
		c.Collect()
	}
	assert.Equal(t, int32(1), inner.Load())
	assert.Equal(t, 0, c.Stats().Collecting)
}

func TestPanickingActionReleasesGuard(t *testing.T) {
	c := New()

	s := c.Shield()
	s.Retire(func() { panic("finalizer failed") })
	s.Release()

	c.Collect()
	assert.PanicsWithValue(t, "finalizer failed", c.Collect)
	assert.Equal(t, 0, c.Stats().Collecting)

	c.Collect()
	assert.Equal(t, uint64(3), c.Stats().Generation, "collector keeps advancing")
}

// ============================================================================
// Protect
// ============================================================================

func TestProtectReleasesOnPanic(t *testing.T) {
	c := New()

	assert.Panics(t, func() {
		c.Protect(func(*Shield) { panic("boom") })
	})
	assert.Equal(t, 0, c.Stats().Pinned)
}

func TestProtectPinsDuringCall(t *testing.T) {
	c := New()

	c.Protect(func(s *Shield) {
		assert.Same(t, c, s.Collector())
		assert.Equal(t, 1, c.Stats().Pinned)
	})
	assert.Equal(t, 0, c.Stats().Pinned)
	assert.Equal(t, 1, c.Stats().Goroutines)
}

// ============================================================================
// Diagnostics
// ============================================================================

func TestLaggards(t *testing.T) {
	c := New(WithPinTracking(true))

	id, release := pinnedElsewhere(t, c, nil)
	defer release()

	assert.Empty(t, c.Laggards(), "goroutine at the current generation is not lagging")

	c.Collect()
	laggards := c.Laggards()
	require.Len(t, laggards, 1)

	l := laggards[0]
	assert.Equal(t, id, l.GoroutineID)
	assert.Equal(t, uint64(0), l.Generation)
	assert.Equal(t, uint64(1), l.Behind)
	assert.Contains(t, l.PinSite, "pinnedElsewhere")
	assert.NotContains(t, l.PinSite, "ebr.(*Collector).Shield")
	assert.True(t, strings.HasPrefix(l.String(), "goroutine "))
	assert.GreaterOrEqual(t, c.Stats().PinSites, 1)
}

func TestLaggardsWithoutTracking(t *testing.T) {
	c := New()

	_, release := pinnedElsewhere(t, c, nil)
	defer release()

	c.Collect()
	laggards := c.Laggards()
	require.Len(t, laggards, 1)
	assert.Empty(t, laggards[0].PinSite)
	assert.Zero(t, c.Stats().PinSites)
}

func TestLaggardsIgnoresNewerPin(t *testing.T) {
	c := New()

	// Simulates a goroutine that pinned after Laggards loaded the global
	// generation.
	ts := c.threadState()
	ts.marker.Store(epoch.New(5).Pinned())
	defer ts.marker.Store(epoch.Zero)

	assert.Empty(t, c.Laggards())
}

func TestReleaseDeadGoroutines(t *testing.T) {
	c := New()

	ids := make(chan int64, 1)
	go func() {
		c.Protect(func(*Shield) {})
		ids <- goid.Current()
	}()
	dead := <-ids

	require.Eventually(t, func() bool {
		for _, id := range goid.Live() {
			if id == dead {
				return false
			}
		}
		return true
	}, timeout, tick)

	assert.Equal(t, 1, c.ReleaseDeadGoroutines())
	assert.Equal(t, 0, c.Stats().Goroutines)

	// The released record is reused.
	c.Protect(func(*Shield) {})
	assert.Equal(t, 1, c.threads.Len())
	assert.Equal(t, 1, c.Stats().Goroutines)
}

func TestReleaseDeadGoroutinesKeepsLeakedPin(t *testing.T) {
	c := New()

	ids := make(chan int64, 1)
	go func() {
		c.Shield() // never released
		ids <- goid.Current()
	}()
	dead := <-ids

	require.Eventually(t, func() bool {
		for _, id := range goid.Live() {
			if id == dead {
				return false
			}
		}
		return true
	}, timeout, tick)

	assert.Zero(t, c.ReleaseDeadGoroutines())
	assert.Equal(t, 1, c.Stats().Pinned)
}

func TestReleaseDeadGoroutinesKeepsParkedGoroutines(t *testing.T) {
	const parked = 6000
	c := New()

	started := make(chan struct{}, parked)
	park := make(chan struct{})
	defer close(park)
	for i := 0; i < parked; i++ {
		go func() {
			c.Protect(func(*Shield) {})
			started <- struct{}{}
			<-park
		}()
	}
	for i := 0; i < parked; i++ {
		<-started
	}

	assert.Zero(t, c.ReleaseDeadGoroutines())
	assert.Equal(t, parked, c.Stats().Goroutines)
}

// ============================================================================
// Options
// ============================================================================

type recordingMetrics struct {
	mu        sync.Mutex
	retired   int
	attempts  int
	advanced  int
	executed  int
	lastGen   uint64
	drainRuns int
}

func (m *recordingMetrics) ObserveRetire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retired++
}

func (m *recordingMetrics) ObserveAdvance(advanced bool, generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if advanced {
		m.advanced++
	}
	m.lastGen = generation
}

func (m *recordingMetrics) ObserveDrain(executed int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainRuns++
	m.executed += executed
}

func TestWithMetrics(t *testing.T) {
	m := &recordingMetrics{}
	c := New(WithMetrics(m))

	_, release := pinnedElsewhere(t, c, func(s *Shield) {
		s.Retire(func() {})
		s.Retire(func() {})
	})
	c.Collect() // advances to 1
	c.Collect() // blocked
	release()
	c.Collect() // advances to 2, drains both

	assert.Equal(t, 2, m.retired)
	assert.Equal(t, 3, m.attempts)
	assert.Equal(t, 2, m.advanced)
	assert.Equal(t, uint64(2), m.lastGen)
	assert.Equal(t, 2, m.drainRuns)
	assert.Equal(t, 2, m.executed)
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := New(WithLogger(logger))

	s := c.Shield()
	s.Retire(func() {})
	s.Release()
	c.Collect()
	c.Collect()

	out := buf.String()
	assert.Contains(t, out, "epoch advanced")
	assert.Contains(t, out, "executed=1")
	assert.Contains(t, out, "generation=2")
}

func TestWithLoggerNilKeepsDefault(t *testing.T) {
	c := New(WithLogger(nil))
	require.NotNil(t, c.logger)
	assert.NotPanics(t, c.Collect)
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkShield(b *testing.B) {
	c := New()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s := c.Shield()
		s.Release()
	}
}

func BenchmarkShieldParallel(b *testing.B) {
	c := New()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.Protect(func(*Shield) {})
		}
	})
}

func BenchmarkRetire(b *testing.B) {
	c := New()
	s := c.Shield()
	defer s.Release()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s.Retire(func() {})
	}
}
