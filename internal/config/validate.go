package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/vk/pipegrid/internal/cron"
)

// Validate checks the structural integrity of a template-resolved pipeline.
// Every problem found is reported, not just the first.
func Validate(p *Pipeline) error {
	var errs []error

	for _, name := range sortedKeys(p.Jobs) {
		errs = append(errs, validateJob(p.Jobs[name])...)
	}
	for _, name := range p.WorkflowNames() {
		errs = append(errs, validateWorkflow(p, p.Workflows[name])...)
	}
	return errors.Join(errs...)
}

func validateJob(j *Job) []error {
	var errs []error
	if j.Extends != "" {
		errs = append(errs, fmt.Errorf("job %q: unresolved extends %q", j.Name, j.Extends))
	}
	if len(j.Steps) == 0 {
		errs = append(errs, fmt.Errorf("job %q: no steps defined", j.Name))
	}
	for i, s := range j.Steps {
		if !slices.Contains(KnownStepTypes, s.Type) {
			errs = append(errs, fmt.Errorf("job %q step %d: unknown step type %q", j.Name, i, s.Type))
			continue
		}
		if !s.hasBody() {
			errs = append(errs, fmt.Errorf("job %q step %d: %s step has no body", j.Name, i, s.Type))
			continue
		}
		switch s.When {
		case "", WhenOnSuccess, WhenAlways, WhenOnFail:
		default:
			errs = append(errs, fmt.Errorf("job %q step %d: invalid when %q", j.Name, i, s.When))
		}
		if s.Type == StepRun && s.Run.Command == "" {
			errs = append(errs, fmt.Errorf("job %q step %d: run step has no command", j.Name, i))
		}
		if s.Type == StepSaveCache && (s.SaveCache.Key == "" || len(s.SaveCache.Paths) == 0) {
			errs = append(errs, fmt.Errorf("job %q step %d: save_cache needs a key and at least one path", j.Name, i))
		}
		if s.Type == StepRestoreCache && len(s.RestoreCache.Keys) == 0 {
			errs = append(errs, fmt.Errorf("job %q step %d: restore_cache needs at least one key", j.Name, i))
		}
		if s.Type == StepBuildImage && s.BuildImage.Image == "" {
			errs = append(errs, fmt.Errorf("job %q step %d: build_image needs an image", j.Name, i))
		}
	}
	return errs
}

func validateWorkflow(p *Pipeline, w *Workflow) []error {
	var errs []error
	if len(w.Jobs) == 0 {
		errs = append(errs, fmt.Errorf("workflow %q: no jobs", w.Name))
	}
	for i, t := range w.Triggers {
		switch t.Event {
		case EventCommit:
		case EventSchedule:
			if t.Cron == "" {
				errs = append(errs, fmt.Errorf("workflow %q trigger %d: schedule trigger needs a cron expression", w.Name, i))
			} else if _, err := cron.Parse(t.Cron); err != nil {
				errs = append(errs, fmt.Errorf("workflow %q trigger %d: %w", w.Name, i, err))
			}
		default:
			errs = append(errs, fmt.Errorf("workflow %q trigger %d: unknown event %q", w.Name, i, t.Event))
		}
		if err := validateFilter(t.Filters); err != nil {
			errs = append(errs, fmt.Errorf("workflow %q trigger %d: %w", w.Name, i, err))
		}
	}
	for _, wj := range w.Jobs {
		if _, ok := p.Jobs[wj.Job]; !ok {
			errs = append(errs, fmt.Errorf("workflow %q: job %q is not defined", w.Name, wj.Job))
		}
		if err := validateFilter(wj.Filters); err != nil {
			errs = append(errs, fmt.Errorf("workflow %q job %q: %w", w.Name, wj.DisplayName(), err))
		}
		if wj.Matrix != nil {
			for _, key := range sortedKeys(wj.Matrix.Parameters) {
				if len(wj.Matrix.Parameters[key]) == 0 {
					errs = append(errs, fmt.Errorf("workflow %q job %q: matrix parameter %q has no values", w.Name, wj.DisplayName(), key))
				}
			}
		}
	}
	return errs
}

func validateFilter(f Filter) error {
	for _, pattern := range slices.Concat(f.Only, f.Ignore) {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid branch filter %q: %w", pattern, err)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
