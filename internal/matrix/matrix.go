// Package matrix turns workflow job invocations into concrete job instances.
// Each invocation with a matrix becomes one instance per parameter
// combination; every instance gets its parameters substituted into a private
// copy of the job body.
package matrix

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/nodeid"
)

// paramRef matches `<< parameters.NAME >>`.
var paramRef = regexp.MustCompile(`<<\s*parameters\.([A-Za-z0-9_-]+)\s*>>`)

// unsafeNameChars matches characters not allowed in instance names.
var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Expand returns the job instances of the named workflow in declaration
// order, matrix combinations in sorted-key order within each invocation.
func Expand(p *config.Pipeline, workflowName string) ([]*config.JobInstance, error) {
	w, ok := p.Workflows[workflowName]
	if !ok {
		return nil, fmt.Errorf("workflow %q is not defined", workflowName)
	}

	var out []*config.JobInstance
	seen := make(map[string]bool)
	for _, wj := range w.Jobs {
		job, ok := p.Jobs[wj.Job]
		if !ok {
			return nil, fmt.Errorf("workflow %q: job %q is not defined", w.Name, wj.Job)
		}

		instances, err := expandInvocation(w.Name, wj, job)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: %w", w.Name, err)
		}
		for _, inst := range instances {
			if seen[inst.Name] {
				return nil, fmt.Errorf("workflow %q: duplicate job instance name %q", w.Name, inst.Name)
			}
			seen[inst.Name] = true
			out = append(out, inst)
		}
	}
	return out, nil
}

// ExpandAll expands several workflows and concatenates the result.
func ExpandAll(p *config.Pipeline, workflowNames []string) ([]*config.JobInstance, error) {
	var out []*config.JobInstance
	for _, name := range workflowNames {
		instances, err := Expand(p, name)
		if err != nil {
			return nil, err
		}
		out = append(out, instances...)
	}
	return out, nil
}

func expandInvocation(workflow string, wj *config.WorkflowJob, job *config.Job) ([]*config.JobInstance, error) {
	declared := wj.DisplayName()
	if wj.Matrix != nil && wj.Matrix.Alias != "" {
		declared = wj.Matrix.Alias
	}

	if wj.Matrix == nil {
		inst, err := newInstance(workflow, declared, declared, -1, wj, job, nil)
		if err != nil {
			return nil, err
		}
		return []*config.JobInstance{inst}, nil
	}

	keys := make([]string, 0, len(wj.Matrix.Parameters))
	for k := range wj.Matrix.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var instances []*config.JobInstance
	for _, combo := range Combinations(keys, wj.Matrix.Parameters, wj.Matrix.Exclude) {
		name := instanceName(declared, keys, combo)
		inst, err := newInstance(workflow, name, declared, len(instances), wj, job, combo)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("job %q: matrix excludes every combination", declared)
	}
	return instances, nil
}

// Combinations returns the cartesian product of params over keys, the first
// key varying slowest, minus any combination equal to an exclude entry.
func Combinations(keys []string, params map[string][]string, exclude []map[string]string) []map[string]string {
	combos := []map[string]string{{}}
	for _, key := range keys {
		var next []map[string]string
		for _, base := range combos {
			for _, v := range params[key] {
				c := make(map[string]string, len(base)+1)
				for k, bv := range base {
					c[k] = bv
				}
				c[key] = v
				next = append(next, c)
			}
		}
		combos = next
	}

	out := combos[:0]
	for _, c := range combos {
		if !excluded(c, exclude) {
			out = append(out, c)
		}
	}
	return out
}

func excluded(combo map[string]string, exclude []map[string]string) bool {
	for _, ex := range exclude {
		if len(ex) != len(combo) {
			continue
		}
		match := true
		for k, v := range ex {
			if combo[k] != v {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func instanceName(base string, keys []string, combo map[string]string) string {
	var sb strings.Builder
	sb.WriteString(base)
	for _, k := range keys {
		sb.WriteByte('-')
		sb.WriteString(strings.Trim(unsafeNameChars.ReplaceAllString(combo[k], "-"), "-"))
	}
	return sb.String()
}

func newInstance(workflow, name, declared string, index int, wj *config.WorkflowJob, job *config.Job, combo map[string]string) (*config.JobInstance, error) {
	if err := nodeid.ValidateName(name); err != nil {
		return nil, fmt.Errorf("job instance %q: %w", name, err)
	}

	params, err := resolveParameters(job, wj.Parameters, combo)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", name, err)
	}

	sub := Substituter(params)
	body, err := job.MapStrings(sub)
	if err != nil {
		return nil, fmt.Errorf("job instance %q: %w", name, err)
	}

	requires := make([]string, 0, len(wj.Requires))
	for _, r := range wj.Requires {
		resolved, err := sub(r)
		if err != nil {
			return nil, fmt.Errorf("job instance %q requires: %w", name, err)
		}
		requires = append(requires, resolved)
	}

	return &config.JobInstance{
		Workflow:     workflow,
		Name:         name,
		DeclaredName: declared,
		Template:     job.Name,
		Index:        index,
		Parameters:   params,
		Job:          body,
		Requires:     requires,
		Context:      append([]string(nil), wj.Context...),
		Filters:      wj.Filters,
	}, nil
}

// resolveParameters layers job defaults, invocation parameters and matrix
// values, in increasing precedence.
func resolveParameters(job *config.Job, fixed, combo map[string]string) (map[string]string, error) {
	params := make(map[string]string, len(job.Parameters))
	for name, spec := range job.Parameters {
		if spec.Default != nil {
			params[name] = *spec.Default
		}
	}
	for _, layer := range []map[string]string{fixed, combo} {
		for name, v := range layer {
			if _, declared := job.Parameters[name]; !declared {
				return nil, fmt.Errorf("parameter %q is not declared by job %q", name, job.Name)
			}
			params[name] = v
		}
	}
	for name := range job.Parameters {
		if _, ok := params[name]; !ok {
			return nil, fmt.Errorf("parameter %q has no value and no default", name)
		}
	}
	return params, nil
}

// Substituter returns a mapper replacing `<< parameters.NAME >>` with values
// from params. Referencing an unknown parameter is an error.
func Substituter(params map[string]string) config.StringMapper {
	return func(s string) (string, error) {
		if !strings.Contains(s, "<<") {
			return s, nil
		}
		var missing []string
		out := paramRef.ReplaceAllStringFunc(s, func(m string) string {
			name := paramRef.FindStringSubmatch(m)[1]
			v, ok := params[name]
			if !ok {
				missing = append(missing, name)
				return m
			}
			return v
		})
		if len(missing) > 0 {
			return "", fmt.Errorf("reference to undeclared parameter %q", missing[0])
		}
		return out, nil
	}
}
