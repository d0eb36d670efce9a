// Package topologystore defines the interface for storing and retrieving the
// static structure of a run's job graph.
//
// # Why Topology Store Exists
//
// The topology store isolates the **immutable graph structure** (job instances
// and their `requires` edges) from the **mutable execution state** (status,
// results, errors) managed by nodestore.
//
// Keeping them apart means the scheduler's read-heavy dependency queries can
// use read locks without contending with the executor's frequent state writes,
// and the graph can be validated before a single job runs.
//
// # Lifecycle and Usage
//
// The topology store is:
//  1. **Created** once per run (ephemeral, not persistent across runs)
//  2. **Populated** by graph.Build from the expanded job instances
//  3. **Read-only** while jobs execute
//  4. **Discarded** when the run ends
package topologystore

import (
	"context"

	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
)

// Store is the interface for managing the static topology of a job graph.
//
// Implementations MUST be safe for concurrent use. See internal/inmemorytopology
// for the in-memory implementation.
type Store interface {
	// AddNode registers a node. Adding the same node twice (by ID) is a no-op.
	AddNode(ctx context.Context, n *node.Node) error

	// AddDependency records that 'to' requires 'from', i.e. 'from' must reach
	// a passing terminal state before 'to' can start. Both nodes must already
	// have been added.
	AddDependency(ctx context.Context, from, to nodeid.Address) error

	// GetNode retrieves a single node by its address.
	GetNode(ctx context.Context, id nodeid.Address) (*node.Node, bool)

	// AllNodes returns a snapshot of every node, ordered by address.
	AllNodes(ctx context.Context) []*node.Node

	// DependenciesOf returns the addresses 'id' directly requires, ordered by
	// address. It returns an error if 'id' is unknown.
	DependenciesOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error)

	// DependentsOf returns the addresses that directly require 'id', ordered
	// by address. It returns an error if 'id' is unknown.
	DependentsOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error)
}
