package ebr

import (
	"fmt"
	"strings"

	"github.com/isgasho/flize/internal/ebr/epoch"
)

// Stats is a point-in-time view of a Collector.
type Stats struct {
	// Generation is the global generation.
	Generation uint64

	// Pending is the number of retired actions waiting in each slot.
	Pending [epoch.Slots]int

	// Goroutines is the number of goroutines holding a pin record.
	Goroutines int

	// Pinned is the number of goroutines currently pinned.
	Pinned int

	// Collecting is 1 while an advancement or drain is running, 0 otherwise.
	Collecting int

	// Sampled is the number of pins that attempted an advancement.
	Sampled uint64

	// Skipped is the number of pins with pending work that the advance rate
	// passed over.
	Skipped uint64

	// AdvanceRate is the configured pins per advancement attempt.
	AdvanceRate uint64

	// PinSites is the number of distinct pin stacks recorded. Always 0
	// without pin tracking.
	PinSites int
}

// TotalPending returns the number of retired actions not yet run.
func (s Stats) TotalPending() int {
	n := 0
	for _, p := range s.Pending {
		n += p
	}
	return n
}

// Laggard describes a pinned goroutine that prevents the global epoch from
// advancing.
type Laggard struct {
	GoroutineID int64
	Generation  uint64
	Behind      uint64

	// PinSite is the formatted stack of the outermost pin, empty unless pin
	// tracking is enabled.
	PinSite string
}

func (l Laggard) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "goroutine %d pinned at generation %d (%d behind)", l.GoroutineID, l.Generation, l.Behind)
	if l.PinSite != "" {
		b.WriteString(":\n")
		b.WriteString(l.PinSite)
	}
	return b.String()
}
