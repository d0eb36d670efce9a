package dag

import "sync"

// Graph holds job nodes and the `requires` edges between them. It is safe for
// concurrent use.
type Graph struct {
	mutex sync.RWMutex
	// nodes is keyed by node address, e.g. "ci/test[1]".
	nodes map[string]*node
}

// node is one job instance. Callers only ever see its address.
type node struct {
	id string
	// deps are the jobs this one requires; they must finish first.
	deps map[string]*node
	// dependents are the jobs that list this one in their `requires`.
	dependents map[string]*node
}
