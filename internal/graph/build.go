package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/dag"
	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
	"github.com/vk/pipegrid/internal/topologystore"
)

// ErrUndefinedDependency is returned when a job requires a name that matches
// no job in its workflow.
var ErrUndefinedDependency = errors.New("undefined dependency")

// Build populates ts with one node per job instance and one edge per resolved
// `requires` entry, then validates the result. It returns the node addresses
// in topological order.
//
// A requires entry names either a concrete instance (e.g. "test-debian-11")
// or a workflow job as declared (e.g. "test"), in which case the dependent
// waits for every matrix instance of that job. Entries must resolve within
// the instance's own workflow.
func Build(ctx context.Context, ts topologystore.Store, instances []*config.JobInstance) ([]nodeid.Address, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: Starting graph construction.", "instance_count", len(instances))

	d := dag.New()
	byName := make(map[string]map[string]*node.Node)     // workflow -> instance name -> node
	byDeclared := make(map[string]map[string][]*node.Node) // workflow -> declared name -> nodes
	nodes := make([]*node.Node, 0, len(instances))

	// First pass: create all nodes.
	for _, inst := range instances {
		n := node.New(inst)
		if byName[inst.Workflow] == nil {
			byName[inst.Workflow] = make(map[string]*node.Node)
			byDeclared[inst.Workflow] = make(map[string][]*node.Node)
		}
		if _, dup := byName[inst.Workflow][inst.Name]; dup {
			return nil, fmt.Errorf("workflow %q: duplicate job instance %q", inst.Workflow, inst.Name)
		}
		byName[inst.Workflow][inst.Name] = n
		declared := inst.DeclaredName
		if declared == "" {
			declared = inst.Name
		}
		byDeclared[inst.Workflow][declared] = append(byDeclared[inst.Workflow][declared], n)

		if err := ts.AddNode(ctx, n); err != nil {
			return nil, err
		}
		d.AddNode(n.ID.String())
		nodes = append(nodes, n)
	}
	logger.Debug("Build: Node creation complete.", "node_count", len(nodes))

	// Second pass: link dependencies.
	var errs []error
	for _, n := range nodes {
		inst := n.Instance
		for _, req := range inst.Requires {
			targets := resolveRequirement(byName[inst.Workflow], byDeclared[inst.Workflow], req)
			if len(targets) == 0 {
				errs = append(errs, fmt.Errorf("%w: job %q in workflow %q requires %q, which is not defined in that workflow", ErrUndefinedDependency, inst.Name, inst.Workflow, req))
				continue
			}
			for _, dep := range targets {
				logger.Debug("Linking dependency.", "from", dep.ID.String(), "to", n.ID.String())
				if err := d.AddEdge(dep.ID.String(), n.ID.String()); err != nil {
					errs = append(errs, fmt.Errorf("job %q in workflow %q: %w", inst.Name, inst.Workflow, err))
					continue
				}
				if err := ts.AddDependency(ctx, dep.ID, n.ID); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	logger.Debug("Build: Node linking complete.")

	if err := d.DetectCycles(); err != nil {
		return nil, fmt.Errorf("error validating dependency graph: %w", err)
	}
	logger.Debug("Build: Cycle detection passed.")

	ordered, err := d.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("error ordering dependency graph: %w", err)
	}
	order := make([]nodeid.Address, 0, len(ordered))
	for _, raw := range ordered {
		addr, err := nodeid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("internal inconsistency: %w", err)
		}
		order = append(order, addr)
	}

	logger.Debug("Build: Graph construction successful.")
	return order, nil
}

func resolveRequirement(byName map[string]*node.Node, byDeclared map[string][]*node.Node, req string) []*node.Node {
	if n, ok := byName[req]; ok {
		return []*node.Node{n}
	}
	return byDeclared[req]
}
