package inmemorytopology

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
	"github.com/vk/pipegrid/internal/topologystore"
)

// Store implements the topologystore.Store interface using maps and a mutex
// for thread-safe concurrent access.
type Store struct {
	mu         sync.RWMutex
	nodes      map[nodeid.Address]*node.Node
	deps       map[nodeid.Address]map[nodeid.Address]struct{} // Key: node, Value: set of dependencies
	dependents map[nodeid.Address]map[nodeid.Address]struct{} // Key: node, Value: set of dependents
}

// New creates a new, empty in-memory topology store.
func New() topologystore.Store {
	return &Store{
		nodes:      make(map[nodeid.Address]*node.Node),
		deps:       make(map[nodeid.Address]map[nodeid.Address]struct{}),
		dependents: make(map[nodeid.Address]map[nodeid.Address]struct{}),
	}
}

// AddNode adds a new node to the store.
func (s *Store) AddNode(ctx context.Context, n *node.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[n.ID]; exists {
		// Adding the same node twice is not an error, it's idempotent.
		return nil
	}
	s.nodes[n.ID] = n
	return nil
}

// AddDependency creates a dependency link from one node to another.
func (s *Store) AddDependency(ctx context.Context, from, to nodeid.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[from]; !exists {
		return fmt.Errorf("dependency source node '%s' not found in topology", from)
	}
	if _, exists := s.nodes[to]; !exists {
		return fmt.Errorf("dependency target node '%s' not found in topology", to)
	}

	if s.deps[to] == nil {
		s.deps[to] = make(map[nodeid.Address]struct{})
	}
	s.deps[to][from] = struct{}{}

	if s.dependents[from] == nil {
		s.dependents[from] = make(map[nodeid.Address]struct{})
	}
	s.dependents[from][to] = struct{}{}
	return nil
}

// GetNode retrieves a single node by its address.
func (s *Store) GetNode(ctx context.Context, id nodeid.Address) (*node.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	return n, ok
}

// AllNodes returns a slice of all nodes in the topology.
func (s *Store) AllNodes(ctx context.Context) []*node.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*node.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID.String() < nodes[j].ID.String() })
	return nodes
}

// DependenciesOf returns the addresses of all nodes that the given node depends on.
func (s *Store) DependenciesOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error) {
	return s.edges(id, s.deps)
}

// DependentsOf returns the addresses of all nodes that depend on the given node.
func (s *Store) DependentsOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error) {
	return s.edges(id, s.dependents)
}

func (s *Store) edges(id nodeid.Address, index map[nodeid.Address]map[nodeid.Address]struct{}) ([]nodeid.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.nodes[id]; !exists {
		return nil, fmt.Errorf("node '%s' not found in topology", id)
	}

	set := index[id]
	out := make([]nodeid.Address, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
