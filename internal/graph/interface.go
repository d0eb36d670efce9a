package graph

import (
	"context"

	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
)

// Graph is the interface the scheduler, executor and builder use to read and
// update a run's job graph.
type Graph interface {
	// Node returns the node with the given address.
	Node(ctx context.Context, id nodeid.Address) (*node.Node, bool)
	// DependenciesOf returns the nodes 'id' directly requires.
	DependenciesOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error)
	// DependentsOf returns the nodes that directly require 'id'.
	DependentsOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error)
	// NodeStatus returns the node's current status; false if the node is unknown.
	NodeStatus(ctx context.Context, id nodeid.Address) (node.Status, bool)
	// NodeOutput returns the job result recorded for a finished node.
	NodeOutput(ctx context.Context, id nodeid.Address) (any, error)
	// NodeError returns the error recorded for a failed or skipped node.
	NodeError(ctx context.Context, id nodeid.Address) (error, error)
	// AllNodes returns every node ordered by address.
	AllNodes(ctx context.Context) []*node.Node

	// MarkRunning moves a pending node to running.
	MarkRunning(ctx context.Context, id nodeid.Address) error
	// MarkCompleted moves a running node to completed and records its output.
	MarkCompleted(ctx context.Context, id nodeid.Address, output any) error
	// MarkFailed moves a running node to failed, recording its output (which
	// may be nil) and the failure.
	MarkFailed(ctx context.Context, id nodeid.Address, output any, nodeErr error) error
	// MarkSkipped moves a pending node to skipped with the given reason.
	MarkSkipped(ctx context.Context, id nodeid.Address, reason error) error

	// Snapshot returns the state of every node, ordered by address.
	Snapshot(ctx context.Context) []NodeState
}

// NodeState is a point-in-time view of a node, used by the status server and
// the run report.
type NodeState struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Status node.Status `json:"status"`
	Error  string      `json:"error,omitempty"`
	Output any         `json:"-"`
}
