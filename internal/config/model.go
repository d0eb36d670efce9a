// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the Pipeline structure, which is the root container for
// every job and workflow loaded from a user's configuration files.
//
// A user may split a pipeline across many files (one per distribution family,
// one for image builds, and so on). Loaders merge everything they find into a
// single Pipeline so that `requires` edges and `extends` chains can span files.
package config

import (
	"fmt"
	"sort"
)

// Pipeline is the unified, format-agnostic representation of a loaded
// pipeline definition.
type Pipeline struct {
	Jobs      map[string]*Job
	Workflows map[string]*Workflow
	// Sources lists the files the pipeline was assembled from.
	Sources []string
}

// NewPipeline returns an empty, initialized Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		Jobs:      make(map[string]*Job),
		Workflows: make(map[string]*Workflow),
	}
}

// AddJob registers a job, rejecting duplicate names.
func (p *Pipeline) AddJob(j *Job) error {
	if j.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if _, exists := p.Jobs[j.Name]; exists {
		return fmt.Errorf("job %q is defined more than once", j.Name)
	}
	p.Jobs[j.Name] = j
	return nil
}

// AddWorkflow registers a workflow, rejecting duplicate names.
func (p *Pipeline) AddWorkflow(w *Workflow) error {
	if w.Name == "" {
		return fmt.Errorf("workflow name cannot be empty")
	}
	if _, exists := p.Workflows[w.Name]; exists {
		return fmt.Errorf("workflow %q is defined more than once", w.Name)
	}
	p.Workflows[w.Name] = w
	return nil
}

// WorkflowNames returns the workflow names in sorted order.
func (p *Pipeline) WorkflowNames() []string {
	names := make([]string, 0, len(p.Workflows))
	for name := range p.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Job is a named unit of CI work with its own execution environment.
type Job struct {
	Name string
	// Image is the container image the job runs in. Empty means the job runs
	// directly on the host.
	Image            string
	ImageAuth        *Credentials
	Environment      map[string]EnvValue
	WorkingDirectory string
	Shell            string
	Parameters       map[string]ParameterSpec
	Steps            []Step
	AllowFailure     bool
	// Extends names another job whose fields this one inherits. Any field
	// set here replaces the parent's value wholesale.
	Extends string
}

// Credentials holds registry credentials. Both halves are usually secrets.
type Credentials struct {
	Username EnvValue
	Password EnvValue
}

// ParameterSpec declares a job parameter that can be referenced as
// `<< parameters.NAME >>` anywhere in the job body.
type ParameterSpec struct {
	Type        string
	Description string
	Default     *string
}

// EnvValue is an environment variable value: either a literal or a
// reference to a secret that is resolved at execution time.
type EnvValue struct {
	Value  string
	Secret string
}

// Literal returns an EnvValue holding a plain string.
func Literal(v string) EnvValue { return EnvValue{Value: v} }

// SecretRef returns an EnvValue that resolves to the named secret.
func SecretRef(name string) EnvValue { return EnvValue{Secret: name} }

// IsSecret reports whether the value is sourced from a secret.
func (v EnvValue) IsSecret() bool { return v.Secret != "" }

// IsZero reports whether the value is entirely unset.
func (v EnvValue) IsZero() bool { return v.Value == "" && v.Secret == "" }

// Workflow is a named collection of job invocations with trigger rules.
type Workflow struct {
	Name     string
	Triggers []Trigger
	Jobs     []*WorkflowJob
}

// WorkflowJob is one invocation of a job template inside a workflow.
type WorkflowJob struct {
	// Job is the name of the job template being invoked.
	Job string
	// Name optionally renames the invocation, allowing one template to be
	// used several times in a workflow.
	Name       string
	Requires   []string
	Context    []string
	Parameters map[string]string
	Matrix     *Matrix
	Filters    Filter
}

// DisplayName returns the name the invocation is known by inside its workflow.
func (wj *WorkflowJob) DisplayName() string {
	if wj.Name != "" {
		return wj.Name
	}
	return wj.Job
}

// Matrix describes a set of parameter combinations a job is expanded into.
type Matrix struct {
	Parameters map[string][]string
	Exclude    []map[string]string
	Alias      string
}

// TriggerEvent names the kind of event that starts a workflow.
type TriggerEvent string

const (
	EventCommit   TriggerEvent = "commit"
	EventSchedule TriggerEvent = "schedule"
)

// Trigger declares when a workflow runs.
type Trigger struct {
	Event   TriggerEvent
	Cron    string
	Filters Filter
}

// Filter restricts by branch name. Patterns are anchored regular expressions.
type Filter struct {
	Only   []string
	Ignore []string
}

// IsZero reports whether the filter accepts everything.
func (f Filter) IsZero() bool { return len(f.Only) == 0 && len(f.Ignore) == 0 }

// JobInstance is a concrete job produced by matrix expansion. It carries the
// fully substituted job body and the raw dependency names of its invocation.
type JobInstance struct {
	Workflow string
	// Name is unique inside the workflow, e.g. "test-debian-11".
	Name string
	// DeclaredName is the invocation's DisplayName before expansion.
	DeclaredName string
	Template     string
	// Index is the position in the matrix, or -1 for a plain invocation.
	Index      int
	Parameters map[string]string
	Job        *Job
	Requires   []string
	Context    []string
	// Filters are the invocation's branch filters.
	Filters Filter
}
