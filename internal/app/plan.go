package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"sort"
	"strings"

	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/inmemorystore"
	"github.com/vk/pipegrid/internal/inmemorytopology"
)

// Plan is what a run would execute, in topological order.
type Plan struct {
	Event     string       `json:"event"`
	Branch    string       `json:"branch"`
	Workflows []string     `json:"workflows"`
	Jobs      []PlannedJob `json:"jobs"`
	Filtered  []string     `json:"filtered,omitempty"`
}

// PlannedJob is one expanded job instance.
type PlannedJob struct {
	ID           string            `json:"id"`
	Workflow     string            `json:"workflow"`
	Name         string            `json:"name"`
	Template     string            `json:"template"`
	Image        string            `json:"image,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Requires     []string          `json:"requires,omitempty"`
	Steps        []string          `json:"steps"`
	AllowFailure bool              `json:"allow_failure,omitempty"`
}

// Plan loads the pipeline and resolves the job graph for the configured
// event without running anything.
func (a *App) Plan(ctx context.Context) (*Plan, error) {
	ctx = a.withLogger(ctx)
	p, err := a.Load(ctx)
	if err != nil {
		return nil, err
	}
	sel, err := a.Select(ctx, p)
	if err != nil {
		return nil, err
	}

	topo := inmemorytopology.New()
	order, err := graph.Build(ctx, topo, sel.Instances)
	if err != nil {
		return nil, err
	}
	g := graph.New(topo, inmemorystore.New())

	plan := &Plan{
		Event:     string(sel.Event.Kind),
		Branch:    sel.Event.Branch,
		Workflows: sel.Workflows,
		Jobs:      make([]PlannedJob, 0, len(order)),
		Filtered:  sel.Filtered,
	}
	for _, id := range order {
		n, _ := g.Node(ctx, id)
		deps, err := g.DependenciesOf(ctx, id)
		if err != nil {
			return nil, err
		}
		pj := PlannedJob{
			ID:           id.String(),
			Workflow:     n.Instance.Workflow,
			Name:         n.Name,
			Template:     n.Instance.Template,
			Image:        n.Instance.Job.Image,
			AllowFailure: n.AllowFailure,
		}
		if len(n.Instance.Parameters) > 0 {
			pj.Parameters = maps.Clone(n.Instance.Parameters)
		}
		for _, d := range deps {
			pj.Requires = append(pj.Requires, d.ID.String())
		}
		sort.Strings(pj.Requires)
		for _, s := range n.Instance.Job.Steps {
			pj.Steps = append(pj.Steps, s.DisplayName())
		}
		plan.Jobs = append(plan.Jobs, pj)
	}
	return plan, nil
}

// WritePlan renders plan as "text" or "json".
func WritePlan(w io.Writer, plan *Plan, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s on %s\n", plan.Event, plan.Branch)
	if len(plan.Jobs) == 0 {
		b.WriteString("No jobs to run.\n")
	} else {
		fmt.Fprintf(&b, "Workflows: %s\n\n", strings.Join(plan.Workflows, ", "))
	}
	for i, j := range plan.Jobs {
		fmt.Fprintf(&b, "%3d. %s", i+1, j.ID)
		if j.Template != j.Name {
			fmt.Fprintf(&b, " (%s)", j.Template)
		}
		if j.AllowFailure {
			b.WriteString(" [allow failure]")
		}
		b.WriteString("\n")
		if j.Image != "" {
			fmt.Fprintf(&b, "     image:    %s\n", j.Image)
		}
		if len(j.Requires) > 0 {
			fmt.Fprintf(&b, "     requires: %s\n", strings.Join(j.Requires, ", "))
		}
		fmt.Fprintf(&b, "     steps:    %s\n", strings.Join(j.Steps, ", "))
	}
	if len(plan.Filtered) > 0 {
		fmt.Fprintf(&b, "\nFiltered by branch: %s\n", strings.Join(plan.Filtered, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
