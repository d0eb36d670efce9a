package inmemorystore

import (
	"context"
	"sync"

	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
	"github.com/vk/pipegrid/internal/nodestore"
)

// Store is an in-memory implementation of nodestore.Store using sync.Map
// for fine-grained concurrent access without global lock contention.
//
// The key space is fixed once the graph is built while values change with
// every transition, which is the access pattern sync.Map is tuned for.
type Store struct {
	states  sync.Map // Key: nodeid.Address, Value: node.Status
	outputs sync.Map // Key: nodeid.Address, Value: any (usually *executor.JobResult)
	errors  sync.Map // Key: nodeid.Address, Value: error
}

// New creates a new, empty in-memory node state store.
func New() nodestore.Store {
	return &Store{}
}

// SetStatus updates the execution status of a specific node.
func (s *Store) SetStatus(ctx context.Context, id nodeid.Address, status node.Status) error {
	s.states.Store(id, status)
	return nil
}

// GetStatus retrieves the execution status of a specific node.
// If a status has not been set, it returns StatusPending.
func (s *Store) GetStatus(ctx context.Context, id nodeid.Address) (node.Status, error) {
	status, ok := s.states.Load(id)
	if !ok {
		return node.StatusPending, nil
	}
	return status.(node.Status), nil
}

// SetOutput records the successful output of a node.
func (s *Store) SetOutput(ctx context.Context, id nodeid.Address, output any) error {
	s.outputs.Store(id, output)
	return nil
}

// GetOutput retrieves the recorded output of a completed node.
func (s *Store) GetOutput(ctx context.Context, id nodeid.Address) (any, error) {
	output, ok := s.outputs.Load(id)
	if !ok {
		return nil, nil // If not found, the output is nil.
	}
	return output, nil
}

// SetError records the failure error of a node.
func (s *Store) SetError(ctx context.Context, id nodeid.Address, nodeErr error) error {
	s.errors.Store(id, nodeErr)
	return nil
}

// GetError retrieves the recorded error of a failed node.
func (s *Store) GetError(ctx context.Context, id nodeid.Address) (error, error) {
	err, ok := s.errors.Load(id)
	if !ok {
		return nil, nil // If not found, there is no error.
	}
	return err.(error), nil
}
