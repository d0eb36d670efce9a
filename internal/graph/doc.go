// Package graph provides a unified facade for managing a run's job graph,
// combining static topology (instances and `requires` edges) and dynamic state
// (execution status, job results, errors).
//
// # Architecture: The Facade Pattern
//
// The Graph is a thin facade over two specialized stores:
//
//	┌─────────────────────────────────────┐
//	│           Graph Facade              │
//	│  (Unified API for executor/         │
//	│   scheduler to query & update)      │
//	└──────────┬────────────┬─────────────┘
//	           │            │
//	           ▼            ▼
//	  ┌────────────┐  ┌────────────┐
//	  │  Topology  │  │ Node State │
//	  │   Store    │  │   Store    │
//	  │ (Structure)│  │  (Status)  │
//	  └────────────┘  └────────────┘
//
// Every status transition made through the facade is published to an
// events.Sink, which is how the debug log, the status server and the
// socket.io stream observe a run.
//
// # Lifecycle
//
//  1. **Creation:** the session creates the graph with both stores injected
//  2. **Population:** Build adds nodes and edges to the topology store
//  3. **Execution:** the executor and scheduler query and update through Graph
//  4. **Disposal:** the graph is discarded once the run report is written
package graph
