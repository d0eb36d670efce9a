package app

import (
	"context"
	"fmt"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/inmemorytopology"
	"github.com/vk/pipegrid/internal/loader"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/watch"
)

// ValidationResult summarises a successfully validated pipeline.
type ValidationResult struct {
	Files     int
	Jobs      int
	Workflows int
	// Instances counts the job instances every workflow expands to.
	Instances int
}

// Validate loads the pipeline and expands every workflow, catching
// parameter and graph errors a run would hit.
func (a *App) Validate(ctx context.Context) (*ValidationResult, error) {
	ctx = a.withLogger(ctx)
	p, err := a.Load(ctx)
	if err != nil {
		return nil, err
	}
	instances, err := matrix.ExpandAll(p, p.WorkflowNames())
	if err != nil {
		return nil, err
	}
	if err := checkGraph(ctx, instances); err != nil {
		return nil, err
	}
	return &ValidationResult{
		Files:     len(p.Sources),
		Jobs:      len(p.Jobs),
		Workflows: len(p.Workflows),
		Instances: len(instances),
	}, nil
}

// checkGraph builds a throwaway graph to surface undefined requirements
// and cycles.
func checkGraph(ctx context.Context, instances []*config.JobInstance) error {
	_, err := graph.Build(ctx, inmemorytopology.New(), instances)
	return err
}

// WriteValidation prints the outcome of one validation pass.
func (a *App) WriteValidation(res *ValidationResult, err error) {
	if err != nil {
		fmt.Fprintf(a.outW, "❌ Pipeline is invalid:\n%v\n", err)
		return
	}
	fmt.Fprintf(a.outW, "✅ Pipeline is valid: %d files, %d jobs, %d workflows, %d job instances\n",
		res.Files, res.Jobs, res.Workflows, res.Instances)
}

// Watch validates the pipeline now and again after every change to its
// files, until ctx is cancelled.
func (a *App) Watch(ctx context.Context) error {
	ctx = a.withLogger(ctx)
	validate := func(ctx context.Context) {
		a.WriteValidation(a.Validate(ctx))
	}
	validate(ctx)

	extensions := loader.New().Extensions()
	if l, ok := a.loader.(interface{ Extensions() []string }); ok {
		extensions = l.Extensions()
	}
	a.logger.Info("👀 Watching for changes...", "paths", a.config.Paths)
	return watch.New(a.config.Paths, extensions, 0).Run(ctx, validate)
}
