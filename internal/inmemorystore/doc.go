// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the nodestore.Store interface.
//
// It holds the mutable state of a single run (status, job results, errors)
// in sync.Maps. Unlike inmemorytopology, which uses an RWMutex, state writes
// happen constantly during execution and each node's entry is independent,
// so fine-grained concurrent access pays off here.
package inmemorystore
