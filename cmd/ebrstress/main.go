// Package main implements ebrstress, a stress tester for the ebr
// reclamation engine.
//
// ebrstress runs concurrent readers and writers over a shared node that is
// replaced and recycled through an ebr.Collector, and fails if any reader
// observes a node after it was reclaimed.
//
// Usage:
//
//	ebrstress run --readers 8 --writers 4 --duration 30s
//	ebrstress run --config stress.yaml --metrics-listen :9090
//	ebrstress version --require v0.1.0
package main

import (
	"fmt"
	"os"

	"github.com/isgasho/flize/cmd/ebrstress/commands"
)

// Build-time variables injected via ldflags
var (
	commit = "none"
	date   = "unknown"
)

func main() {
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
