package app

import (
	"context"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/loader"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/trigger"
)

// Selection is the set of job instances an event starts.
type Selection struct {
	Event     trigger.Event
	Workflows []string
	Instances []*config.JobInstance
	// Filtered names the instances dropped by branch filters, including
	// the ones that required a dropped instance.
	Filtered []string
}

// Load reads, resolves and validates the configured pipeline.
func (a *App) Load(ctx context.Context) (*config.Pipeline, error) {
	return loader.Prepare(a.withLogger(ctx), a.loader, a.config.Paths...)
}

func (a *App) event() trigger.Event {
	at := a.config.EventTime
	if at.IsZero() {
		at = a.now()
	}
	return trigger.Event{
		Kind:     a.config.Event,
		Branch:   a.config.Branch,
		Revision: a.config.Revision,
		Time:     at,
	}
}

// Select picks the workflows for the configured event (or the explicitly
// requested ones), expands their matrices and applies branch filters.
func (a *App) Select(ctx context.Context, p *config.Pipeline) (*Selection, error) {
	logger := ctxlog.FromContext(a.withLogger(ctx))
	ev := a.event()

	workflows := a.config.Workflows
	if len(workflows) == 0 {
		var err error
		workflows, err = trigger.Select(p, ev)
		if err != nil {
			return nil, err
		}
	}
	logger.Debug("Workflows selected.", "event", string(ev.Kind), "branch", ev.Branch, "workflows", workflows)

	instances, err := matrix.ExpandAll(p, workflows)
	if err != nil {
		return nil, err
	}
	kept, dropped, err := trigger.FilterJobs(instances, ev.Branch)
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		logger.Debug("Jobs filtered out by branch.", "branch", ev.Branch, "jobs", dropped)
	}
	return &Selection{Event: ev, Workflows: workflows, Instances: kept, Filtered: dropped}, nil
}
