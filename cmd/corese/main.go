// corese is the graph-and-governance engine for engineering artifacts:
// a typed weighted graph store with shortest-path traversal, a consistency
// rule engine, an event-sourced change ledger, and a governed task workflow,
// all reachable through a tool-call surface and a read-only query API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
