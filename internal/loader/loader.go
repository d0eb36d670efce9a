// Package loader picks a configuration loader by file extension and merges
// the results, so one pipeline may mix YAML and HCL files.
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/fsutil"
	"github.com/vk/pipegrid/internal/hclconfig"
	"github.com/vk/pipegrid/internal/yamlconfig"
)

// Loader dispatches each discovered file to the loader registered for its
// extension.
type Loader struct {
	byExt map[string]config.Loader
}

// New returns a Loader that understands YAML and HCL.
func New() *Loader {
	y := yamlconfig.NewLoader()
	l := &Loader{byExt: map[string]config.Loader{hclconfig.Extension: hclconfig.NewLoader()}}
	for _, ext := range yamlconfig.Extensions {
		l.byExt[ext] = y
	}
	return l
}

var _ config.Loader = (*Loader)(nil)

// Extensions returns the file extensions the loader reads.
func (l *Loader) Extensions() []string {
	return sortedKeys(l.byExt)
}

// Load reads every supported file under paths and merges the results. Jobs
// and workflows must be unique across all files.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Pipeline, error) {
	files, err := fsutil.CollectFiles(paths, l.Extensions()...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no pipeline files found in %s", strings.Join(paths, ", "))
	}

	p := config.NewPipeline()
	for _, file := range files {
		ext := strings.ToLower(filepath.Ext(file))
		sub, ok := l.byExt[ext]
		if !ok {
			return nil, fmt.Errorf("unsupported pipeline file %s: expected one of %s", file, strings.Join(l.Extensions(), ", "))
		}
		part, err := sub.Load(ctx, file)
		if err != nil {
			return nil, err
		}
		if err := merge(p, part); err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", file, err)
		}
	}
	ctxlog.FromContext(ctx).Debug("Pipeline files loaded.", "files", len(files), "jobs", len(p.Jobs), "workflows", len(p.Workflows))
	return p, nil
}

func merge(dst, src *config.Pipeline) error {
	for _, name := range sortedKeys(src.Jobs) {
		if err := dst.AddJob(src.Jobs[name]); err != nil {
			return err
		}
	}
	for _, name := range src.WorkflowNames() {
		if err := dst.AddWorkflow(src.Workflows[name]); err != nil {
			return err
		}
	}
	dst.Sources = append(dst.Sources, src.Sources...)
	return nil
}

// Prepare loads a pipeline, resolves `extends` chains and validates it. It
// is the entry point every command uses.
func Prepare(ctx context.Context, l config.Loader, paths ...string) (*config.Pipeline, error) {
	p, err := l.Load(ctx, paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}
	if err := config.ResolveTemplates(p); err != nil {
		return nil, fmt.Errorf("failed to resolve templates: %w", err)
	}
	if err := config.Validate(p); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	return p, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
