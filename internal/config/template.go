package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrTemplateCycle is returned when an `extends` chain loops back on itself.
var ErrTemplateCycle = errors.New("extends cycle")

// ResolveTemplates flattens every `extends` chain in place. A child inherits
// each field of its parent that it leaves unset; any field the child sets
// replaces the parent's value wholesale, maps and step lists included.
// AllowFailure can only be switched on by a child, never off.
func ResolveTemplates(p *Pipeline) error {
	resolved := make(map[string]bool, len(p.Jobs))
	visiting := make(map[string]bool)

	var resolve func(name string, chain []string) error
	resolve = func(name string, chain []string) error {
		if resolved[name] {
			return nil
		}
		job, ok := p.Jobs[name]
		if !ok {
			return fmt.Errorf("job %q extends unknown job %q", chain[len(chain)-1], name)
		}
		chain = append(chain, name)
		if visiting[name] {
			return fmt.Errorf("%w: %s", ErrTemplateCycle, strings.Join(chain, " -> "))
		}
		if job.Extends == "" {
			resolved[name] = true
			return nil
		}

		visiting[name] = true
		if err := resolve(job.Extends, chain); err != nil {
			return err
		}
		delete(visiting, name)

		p.Jobs[name] = mergeJob(p.Jobs[job.Extends], job)
		resolved[name] = true
		return nil
	}

	names := make([]string, 0, len(p.Jobs))
	for name := range p.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := resolve(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// mergeJob overlays child on a copy of parent.
func mergeJob(parent, child *Job) *Job {
	out := parent.Clone()
	out.Name = child.Name
	out.Extends = ""

	if child.Image != "" {
		out.Image = child.Image
	}
	if child.ImageAuth != nil {
		out.ImageAuth = child.ImageAuth.clone()
	}
	if child.Environment != nil {
		out.Environment = child.Clone().Environment
	}
	if child.WorkingDirectory != "" {
		out.WorkingDirectory = child.WorkingDirectory
	}
	if child.Shell != "" {
		out.Shell = child.Shell
	}
	if child.Parameters != nil {
		out.Parameters = child.Clone().Parameters
	}
	if child.Steps != nil {
		out.Steps = child.Clone().Steps
	}
	if child.AllowFailure {
		out.AllowFailure = true
	}
	return out
}
