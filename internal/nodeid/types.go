// internal/nodeid/types.go
package nodeid

// Address identifies one job instance within a workflow.
type Address struct {
	Workflow string
	Job      string
	Index    int // -1 indicates no index is present.
}

// New creates an address for a plain, non-matrix job instance.
func New(workflow, job string) Address {
	return Address{Workflow: workflow, Job: job, Index: -1}
}

// NewWithIndex creates an address for a matrix job instance.
func NewWithIndex(workflow, job string, index int) Address {
	return Address{Workflow: workflow, Job: job, Index: index}
}

// HasIndex returns true if the address carries a matrix index.
func (a Address) HasIndex() bool {
	return a.Index >= 0
}
