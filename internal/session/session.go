// Package session defines the core interfaces for creating and managing an
// execution session. It abstracts away the details of local vs. remote execution.
package session

import (
	"context"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/executor"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/nodeid"
)

// SessionFactory creates an execution Session. Different implementations can
// support various backends, such as local or distributed execution.
type SessionFactory interface {
	NewSession(ctx context.Context, instances []*config.JobInstance) (Session, error)
}

// Session represents a single execution run and manages its lifecycle.
type Session interface {
	GetExecutor() (executor.Executor, error)
	// Graph exposes live node state, e.g. for the status server.
	Graph() graph.Graph
	// Order is the topological order of the session's nodes.
	Order() []nodeid.Address
	// Close releases any resources held by the session. It accepts a context
	// to allow for graceful cleanup operations.
	Close(ctx context.Context) error
}
