// Package scheduler provides the scheduling logic for determining which nodes
// in the job graph are ready to run based on dependency satisfaction.
//
// # Why Scheduler Exists
//
// The scheduler is the core engine that enables parallel execution in
// pipegrid. It analyzes the dependency graph and node execution state to
// determine which jobs can run next, enabling maximum parallelization while
// respecting `requires` edges.
//
// This provides several key benefits:
//   - **Automatic Parallelization:** Independent jobs run concurrently without explicit threading
//   - **Dependency Safety:** A job only runs after every job it requires finished successfully
//   - **Decoupled Logic:** Separates "what can run" (scheduler) from "how to run it" (executor)
//
// # How It Works
//
// The scheduler follows an event-driven cycle:
//  1. Scan every pending node and its dependencies
//  2. Emit nodes whose dependencies are all Completed, or Failed with allowed failure
//  3. Mark nodes Skipped whose dependency failed without allowed failure or was skipped
//  4. Wait for the executor to Notify that a node finished
//  5. Repeat until every node is terminal
//
// # Relationship with Other Components
//
//   - **Graph:** Scheduler queries the graph to check node status and dependencies
//   - **Executor:** Consumes ReadyNodes() and calls Notify() after each node finishes
package scheduler

import (
	"context"

	"github.com/vk/pipegrid/internal/node"
)

// Scheduler analyzes the dependency graph and node execution state to determine
// which nodes are ready for execution.
//
// # Usage Pattern
//
// The executor consumes the ReadyNodes() channel and reports back:
//
//	for n := range scheduler.ReadyNodes(ctx) {
//	    run(n)              // marks the node Completed or Failed
//	    scheduler.Notify()  // lets the scheduler re-evaluate
//	}
//
// # Terminal States
//
// The scheduler closes the ReadyNodes() channel once every node is Completed,
// Failed or Skipped. When ctx is cancelled it marks every still pending node
// Skipped, waits for running nodes to finish and then closes the channel.
//
// # Thread-Safety
//
// Notify may be called from any goroutine. ReadyNodes must be called once.
type Scheduler interface {
	// ReadyNodes returns a channel that streams nodes as they become ready.
	// Each node is emitted exactly once.
	ReadyNodes(ctx context.Context) <-chan *node.Node
	// Notify tells the scheduler that a node changed state.
	Notify()
}
