package node

import (
	"fmt"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/nodeid"
)

// Node is a single vertex in the execution graph: one concrete job instance
// produced by matrix expansion.
type Node struct {
	// ID is the unique, structured identifier for the node.
	ID nodeid.Address
	// Name is the human-readable instance name, e.g. "test-debian-11".
	Name string
	// AllowFailure marks a job whose failure does not block its dependents
	// nor fail the run.
	AllowFailure bool
	// Instance holds the fully expanded job this node runs.
	Instance *config.JobInstance
}

// New creates a node for an expanded job instance.
func New(inst *config.JobInstance) *Node {
	id := nodeid.New(inst.Workflow, inst.Name)
	if inst.Index >= 0 {
		id = nodeid.NewWithIndex(inst.Workflow, inst.Name, inst.Index)
	}
	allowFailure := false
	if inst.Job != nil {
		allowFailure = inst.Job.AllowFailure
	}
	return &Node{
		ID:           id,
		Name:         inst.Name,
		AllowFailure: allowFailure,
		Instance:     inst,
	}
}

// Status represents the execution state of a node in the graph.
type Status int32

const (
	// StatusPending indicates the node is waiting for its dependencies to complete.
	StatusPending Status = iota
	// StatusRunning indicates the node is currently being executed by a worker.
	StatusRunning
	// StatusCompleted indicates the node has completed execution successfully.
	StatusCompleted
	// StatusFailed indicates the node's job failed.
	StatusFailed
	// StatusSkipped indicates the node never ran because an upstream job
	// failed or the run was cancelled.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// MarshalText renders the status by name in JSON reports and events.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for st := StatusPending; st <= StatusSkipped; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown node status %q", text)
}
