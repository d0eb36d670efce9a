// Package nodestore defines the interface for storing and retrieving the
// dynamic, mutable execution state of nodes during a run.
//
// # Why Node Store Exists
//
// The node store isolates **mutable execution state** (status, job results,
// errors) from the **immutable graph structure** managed by topologystore.
//
// # Lifecycle and Usage
//
// The node store is:
//  1. **Created** once per run
//  2. **Mutated** continuously as job instances transition through states
//  3. **Queried** by the scheduler (via graph) to find ready nodes, and by the
//     builder to locate upstream workspaces
//  4. **Discarded** when the run ends, after the report has been written
//
// # State Transitions
//
// Nodes follow this lifecycle:
//
//	Pending → Running → Completed (with result) OR Failed (with error)
//	Pending → Skipped (upstream failed, or the run was cancelled)
package nodestore

import (
	"context"

	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
)

// Store is the interface for managing the mutable execution state of nodes.
//
// Implementations MUST be safe for concurrent reads and writes, as several
// workers execute jobs in parallel. See internal/inmemorystore for the
// in-memory implementation.
type Store interface {
	// SetStatus records the node's current status.
	SetStatus(ctx context.Context, id nodeid.Address, status node.Status) error

	// GetStatus returns the node's status, StatusPending if none was set.
	GetStatus(ctx context.Context, id nodeid.Address) (node.Status, error)

	// SetOutput records the node's result (usually an *executor.JobResult).
	SetOutput(ctx context.Context, id nodeid.Address, output any) error

	// GetOutput returns the recorded result, or nil.
	GetOutput(ctx context.Context, id nodeid.Address) (any, error)

	// SetError records why a node failed or was skipped.
	SetError(ctx context.Context, id nodeid.Address, nodeErr error) error

	// GetError returns the recorded error, or nil.
	GetError(ctx context.Context, id nodeid.Address) (error, error)
}
