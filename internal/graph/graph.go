package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/events"
	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
	"github.com/vk/pipegrid/internal/nodestore"
	"github.com/vk/pipegrid/internal/topologystore"
)

// ErrInvalidTransition is returned when a Mark* call does not match the
// node's current status, e.g. completing a node that never started.
var ErrInvalidTransition = errors.New("invalid status transition")

// Manager implements Graph on top of a topology store and a node store.
type Manager struct {
	topology topologystore.Store
	state    nodestore.Store
	sink     events.Sink
	runID    string

	// mu serializes transitions so the status check and the write are atomic.
	mu sync.Mutex
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSink publishes every transition to s.
func WithSink(s events.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithRunID stamps every published event with the run's ID.
func WithRunID(id string) Option {
	return func(m *Manager) { m.runID = id }
}

// New creates a graph facade over the given stores.
func New(ts topologystore.Store, ns nodestore.Store, opts ...Option) Graph {
	m := &Manager{topology: ts, state: ns, sink: events.LogSink{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Node(ctx context.Context, id nodeid.Address) (*node.Node, bool) {
	return m.topology.GetNode(ctx, id)
}

func (m *Manager) DependenciesOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error) {
	addrs, err := m.topology.DependenciesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, addrs)
}

func (m *Manager) DependentsOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error) {
	addrs, err := m.topology.DependentsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, addrs)
}

func (m *Manager) resolve(ctx context.Context, addrs []nodeid.Address) ([]*node.Node, error) {
	nodes := make([]*node.Node, 0, len(addrs))
	for _, addr := range addrs {
		n, ok := m.topology.GetNode(ctx, addr)
		if !ok {
			return nil, fmt.Errorf("internal inconsistency: edge points at unknown node '%s'", addr)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (m *Manager) NodeStatus(ctx context.Context, id nodeid.Address) (node.Status, bool) {
	if _, ok := m.topology.GetNode(ctx, id); !ok {
		return node.StatusPending, false
	}
	status, err := m.state.GetStatus(ctx, id)
	if err != nil {
		ctxlog.FromContext(ctx).Error("Failed to read node status.", "node", id.String(), "error", err)
		return node.StatusPending, false
	}
	return status, true
}

func (m *Manager) NodeOutput(ctx context.Context, id nodeid.Address) (any, error) {
	return m.state.GetOutput(ctx, id)
}

func (m *Manager) NodeError(ctx context.Context, id nodeid.Address) (error, error) {
	return m.state.GetError(ctx, id)
}

func (m *Manager) AllNodes(ctx context.Context) []*node.Node {
	return m.topology.AllNodes(ctx)
}

func (m *Manager) MarkRunning(ctx context.Context, id nodeid.Address) error {
	return m.transition(ctx, id, node.StatusPending, node.StatusRunning, nil, nil)
}

func (m *Manager) MarkCompleted(ctx context.Context, id nodeid.Address, output any) error {
	return m.transition(ctx, id, node.StatusRunning, node.StatusCompleted, output, nil)
}

func (m *Manager) MarkFailed(ctx context.Context, id nodeid.Address, output any, nodeErr error) error {
	return m.transition(ctx, id, node.StatusRunning, node.StatusFailed, output, nodeErr)
}

func (m *Manager) MarkSkipped(ctx context.Context, id nodeid.Address, reason error) error {
	return m.transition(ctx, id, node.StatusPending, node.StatusSkipped, nil, reason)
}

func (m *Manager) transition(ctx context.Context, id nodeid.Address, from, to node.Status, output any, nodeErr error) error {
	n, ok := m.topology.GetNode(ctx, id)
	if !ok {
		return fmt.Errorf("node '%s' not found in graph", id)
	}

	m.mu.Lock()
	current, err := m.state.GetStatus(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if current != from {
		m.mu.Unlock()
		return fmt.Errorf("%w: node '%s' is %s, cannot become %s", ErrInvalidTransition, id, current, to)
	}
	if output != nil {
		if err := m.state.SetOutput(ctx, id, output); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	if nodeErr != nil {
		if err := m.state.SetError(ctx, id, nodeErr); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	if err := m.state.SetStatus(ctx, id, to); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	ev := events.Event{
		RunID:    m.runID,
		Node:     id.String(),
		Workflow: id.Workflow,
		Job:      n.Name,
		Status:   to,
		Time:     time.Now(),
	}
	if nodeErr != nil {
		ev.Error = nodeErr.Error()
	}
	m.sink.Publish(ctx, ev)
	return nil
}

func (m *Manager) Snapshot(ctx context.Context) []NodeState {
	nodes := m.topology.AllNodes(ctx)
	out := make([]NodeState, 0, len(nodes))
	for _, n := range nodes {
		st := NodeState{ID: n.ID.String(), Name: n.Name}
		st.Status, _ = m.NodeStatus(ctx, n.ID)
		if nodeErr, _ := m.state.GetError(ctx, n.ID); nodeErr != nil {
			st.Error = nodeErr.Error()
		}
		st.Output, _ = m.state.GetOutput(ctx, n.ID)
		out = append(out, st)
	}
	return out
}
