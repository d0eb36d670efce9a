// Package trigger decides which workflows an event starts and which of their
// jobs survive branch filtering.
package trigger

import (
	"fmt"
	"regexp"
	"time"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/cron"
)

// Event is what caused a run.
type Event struct {
	Kind     config.TriggerEvent
	Branch   string
	Revision string
	Time     time.Time
}

// Select returns, in name order, the workflows that should run for ev.
// Workflows without triggers run on every commit.
func Select(p *config.Pipeline, ev Event) ([]string, error) {
	var selected []string
	for _, name := range p.WorkflowNames() {
		ok, err := Matches(p.Workflows[name], ev)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: %w", name, err)
		}
		if ok {
			selected = append(selected, name)
		}
	}
	return selected, nil
}

// Matches reports whether any of the workflow's triggers fires for ev.
func Matches(w *config.Workflow, ev Event) (bool, error) {
	if len(w.Triggers) == 0 {
		return ev.Kind == config.EventCommit, nil
	}
	for _, t := range w.Triggers {
		if t.Event != ev.Kind {
			continue
		}
		if t.Event == config.EventSchedule {
			s, err := cron.Parse(t.Cron)
			if err != nil {
				return false, err
			}
			if !s.Matches(ev.Time) {
				continue
			}
		}
		ok, err := BranchAllowed(t.Filters, ev.Branch)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// BranchAllowed applies a branch filter. Patterns are anchored: "main"
// matches only "main", while "release/.*" matches every release branch.
// With Only set the branch must match one of its patterns; matching any
// Ignore pattern rejects it.
func BranchAllowed(f config.Filter, branch string) (bool, error) {
	if len(f.Only) > 0 {
		ok, err := anyMatch(f.Only, branch)
		if err != nil || !ok {
			return false, err
		}
	}
	ignored, err := anyMatch(f.Ignore, branch)
	if err != nil {
		return false, err
	}
	return !ignored, nil
}

func anyMatch(patterns []string, s string) (bool, error) {
	for _, p := range patterns {
		re, err := regexp.Compile(`^(?:` + p + `)$`)
		if err != nil {
			return false, fmt.Errorf("invalid branch filter %q: %w", p, err)
		}
		if re.MatchString(s) {
			return true, nil
		}
	}
	return false, nil
}

// FilterJobs drops the instances whose branch filters reject branch, along
// with every instance that transitively requires a dropped one. It returns
// the kept instances and the names of the dropped ones, both in input order.
func FilterJobs(instances []*config.JobInstance, branch string) ([]*config.JobInstance, []string, error) {
	dropped := make(map[*config.JobInstance]bool)
	for _, inst := range instances {
		ok, err := BranchAllowed(inst.Filters, branch)
		if err != nil {
			return nil, nil, fmt.Errorf("job %q: %w", inst.Name, err)
		}
		if !ok {
			dropped[inst] = true
		}
	}

	// Propagate to dependents until nothing changes.
	for changed := len(dropped) > 0; changed; {
		changed = false
		for _, inst := range instances {
			if dropped[inst] {
				continue
			}
			for _, req := range inst.Requires {
				if requiresDropped(instances, inst.Workflow, req, dropped) {
					dropped[inst] = true
					changed = true
					break
				}
			}
		}
	}

	kept := make([]*config.JobInstance, 0, len(instances)-len(dropped))
	var names []string
	for _, inst := range instances {
		if dropped[inst] {
			names = append(names, inst.Workflow+"/"+inst.Name)
			continue
		}
		kept = append(kept, inst)
	}
	return kept, names, nil
}

// requiresDropped resolves req the same way the graph does: an exact
// instance name first, otherwise every instance of a declared job name.
func requiresDropped(instances []*config.JobInstance, workflow, req string, dropped map[*config.JobInstance]bool) bool {
	for _, other := range instances {
		if other.Workflow == workflow && other.Name == req {
			return dropped[other]
		}
	}
	for _, other := range instances {
		if other.Workflow == workflow && other.DeclaredName == req && dropped[other] {
			return true
		}
	}
	return false
}
