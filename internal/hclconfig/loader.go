package hclconfig

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/fsutil"
)

// Extension is the file extension this loader reads.
const Extension = ".hcl"

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

var _ config.Loader = (*Loader)(nil)

// Load orchestrates the entire HCL configuration loading process. Blocks from
// every file are merged into a single pipeline.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.CollectFiles(paths, Extension)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	p := config.NewPipeline()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		if err := l.decodeInto(ctx, p, hclFile.Body); err != nil {
			return nil, fmt.Errorf("failed to load HCL file %s: %w", file, err)
		}
		p.Sources = append(p.Sources, file)
	}

	logger.Debug("HCL loading complete.", "jobs", len(p.Jobs), "workflows", len(p.Workflows))
	return p, nil
}

// Parse decodes HCL source held in memory. filename is used in diagnostics.
func (l *Loader) Parse(ctx context.Context, src []byte, filename string) (*config.Pipeline, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	p := config.NewPipeline()
	if err := l.decodeInto(ctx, p, hclFile.Body); err != nil {
		return nil, err
	}
	return p, nil
}

func (l *Loader) decodeInto(ctx context.Context, p *config.Pipeline, body hcl.Body) error {
	evalCtx := newEvalContext()

	var root fileRoot
	if diags := gohcl.DecodeBody(body, evalCtx, &root); diags.HasErrors() {
		return diags
	}

	for _, jb := range root.Jobs {
		job, err := translateJob(ctx, jb, evalCtx)
		if err != nil {
			return err
		}
		if err := p.AddJob(job); err != nil {
			return err
		}
	}
	for _, wb := range root.Workflows {
		w, err := translateWorkflow(ctx, wb, evalCtx)
		if err != nil {
			return err
		}
		if err := p.AddWorkflow(w); err != nil {
			return err
		}
	}
	return nil
}

func translateJob(ctx context.Context, jb *jobBlock, evalCtx *hcl.EvalContext) (*config.Job, error) {
	ctx = ctxlog.With(ctx, "job", jb.Name)
	job := &config.Job{
		Name:             jb.Name,
		Extends:          jb.Extends,
		Image:            jb.Image,
		WorkingDirectory: jb.WorkingDirectory,
		Shell:            jb.Shell,
		AllowFailure:     jb.AllowFailure,
	}

	env, err := evalEnv(ctx, jb.Environment, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", jb.Name, err)
	}
	job.Environment = env

	if job.ImageAuth, err = translateAuth(ctx, jb.ImageAuth, evalCtx); err != nil {
		return nil, fmt.Errorf("job %q image_auth: %w", jb.Name, err)
	}

	if len(jb.Parameters) > 0 {
		job.Parameters = make(map[string]config.ParameterSpec, len(jb.Parameters))
		for _, pb := range jb.Parameters {
			spec := config.ParameterSpec{Type: pb.Type, Description: pb.Description}
			val, err := evalExpr(ctx, pb.Default, evalCtx, "default")
			if err != nil {
				return nil, fmt.Errorf("job %q parameter %q: %w", jb.Name, pb.Name, err)
			}
			if !isAbsent(val) {
				d, err := toString(val)
				if err != nil {
					return nil, fmt.Errorf("job %q parameter %q default: %w", jb.Name, pb.Name, err)
				}
				spec.Default = &d
			}
			job.Parameters[pb.Name] = spec
		}
	}

	if len(jb.Steps) > 0 {
		job.Steps = make([]config.Step, 0, len(jb.Steps))
		for i, sb := range jb.Steps {
			step, err := translateStep(ctx, sb, evalCtx)
			if err != nil {
				return nil, fmt.Errorf("job %q step %d: %w", jb.Name, i, err)
			}
			job.Steps = append(job.Steps, step)
		}
	}
	return job, nil
}

func translateStep(ctx context.Context, sb *stepBlock, evalCtx *hcl.EvalContext) (config.Step, error) {
	step := config.Step{Type: config.StepType(sb.Type), When: config.When(sb.When)}

	switch step.Type {
	case config.StepCheckout:
	case config.StepRun:
		timeout := config.DefaultNoOutputTimeout
		if sb.NoOutputTimeout != "" {
			d, err := time.ParseDuration(sb.NoOutputTimeout)
			if err != nil {
				return step, fmt.Errorf("invalid no_output_timeout %q: %w", sb.NoOutputTimeout, err)
			}
			timeout = d
		}
		env, err := evalEnv(ctx, sb.Environment, evalCtx)
		if err != nil {
			return step, err
		}
		step.Run = &config.RunStep{
			Name:             sb.Name,
			Command:          sb.Command,
			Shell:            sb.Shell,
			Environment:      env,
			WorkingDirectory: sb.WorkingDirectory,
			NoOutputTimeout:  timeout,
		}
	case config.StepRestoreCache:
		keys := sb.Keys
		if sb.Key != "" {
			keys = append([]string{sb.Key}, keys...)
		}
		step.RestoreCache = &config.RestoreCacheStep{Name: sb.Name, Keys: keys}
	case config.StepSaveCache:
		step.SaveCache = &config.SaveCacheStep{Name: sb.Name, Key: sb.Key, Paths: sb.Paths}
	case config.StepStoreArtifacts:
		step.StoreArtifacts = &config.StoreArtifactsStep{Path: sb.Path, Destination: sb.Destination}
	case config.StepStoreTestResults:
		step.StoreTestResults = &config.StoreTestResultsStep{Path: sb.Path}
	case config.StepPersistToWorkspace:
		step.PersistToWorkspace = &config.PersistToWorkspaceStep{Root: sb.Root, Paths: sb.Paths}
	case config.StepAttachWorkspace:
		step.AttachWorkspace = &config.AttachWorkspaceStep{At: sb.At}
	case config.StepBuildImage:
		val, err := evalExpr(ctx, sb.BuildArgs, evalCtx, "build_args")
		if err != nil {
			return step, err
		}
		args, err := toStringMap(val)
		if err != nil {
			return step, fmt.Errorf("build_args: %w", err)
		}
		auth, err := translateAuth(ctx, sb.Auth, evalCtx)
		if err != nil {
			return step, fmt.Errorf("auth: %w", err)
		}
		step.BuildImage = &config.BuildImageStep{
			Name:       sb.Name,
			Image:      sb.Image,
			Dockerfile: sb.Dockerfile,
			Context:    sb.Context,
			BuildArgs:  args,
			Push:       sb.Push,
			Auth:       auth,
		}
	}
	return step, nil
}

func evalEnv(ctx context.Context, expr hcl.Expression, evalCtx *hcl.EvalContext) (map[string]config.EnvValue, error) {
	val, err := evalExpr(ctx, expr, evalCtx, "environment")
	if err != nil {
		return nil, err
	}
	env, err := toEnvMap(val)
	if err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return env, nil
}

func translateAuth(ctx context.Context, ab *authBlock, evalCtx *hcl.EvalContext) (*config.Credentials, error) {
	if ab == nil {
		return nil, nil
	}
	var creds config.Credentials
	for _, f := range []struct {
		name string
		expr hcl.Expression
		dst  *config.EnvValue
	}{
		{"username", ab.Username, &creds.Username},
		{"password", ab.Password, &creds.Password},
	} {
		val, err := evalExpr(ctx, f.expr, evalCtx, f.name)
		if err != nil {
			return nil, err
		}
		if isAbsent(val) {
			continue
		}
		if *f.dst, err = toEnvValue(val); err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return &creds, nil
}

func translateWorkflow(ctx context.Context, wb *workflowBlock, evalCtx *hcl.EvalContext) (*config.Workflow, error) {
	ctx = ctxlog.With(ctx, "workflow", wb.Name)
	w := &config.Workflow{Name: wb.Name}

	for _, tb := range wb.Triggers {
		w.Triggers = append(w.Triggers, config.Trigger{
			Event:   config.TriggerEvent(strings.ToLower(tb.Event)),
			Cron:    tb.Cron,
			Filters: translateFilter(tb.Filters),
		})
	}

	for _, jb := range wb.Jobs {
		wj := &config.WorkflowJob{
			Job:      jb.Job,
			Name:     jb.Name,
			Requires: jb.Requires,
			Context:  jb.Context,
			Filters:  translateFilter(jb.Filters),
		}
		val, err := evalExpr(ctx, jb.Parameters, evalCtx, "parameters")
		if err != nil {
			return nil, fmt.Errorf("workflow %q job %q: %w", wb.Name, wj.DisplayName(), err)
		}
		if wj.Parameters, err = toStringMap(val); err != nil {
			return nil, fmt.Errorf("workflow %q job %q parameters: %w", wb.Name, wj.DisplayName(), err)
		}
		if jb.Matrix != nil {
			if wj.Matrix, err = translateMatrix(ctx, jb.Matrix, evalCtx); err != nil {
				return nil, fmt.Errorf("workflow %q job %q matrix: %w", wb.Name, wj.DisplayName(), err)
			}
		}
		w.Jobs = append(w.Jobs, wj)
	}
	return w, nil
}

func translateMatrix(ctx context.Context, mb *matrixBlock, evalCtx *hcl.EvalContext) (*config.Matrix, error) {
	m := &config.Matrix{Alias: mb.Alias}

	val, err := evalExpr(ctx, mb.Parameters, evalCtx, "parameters")
	if err != nil {
		return nil, err
	}
	if m.Parameters, err = toListMap(val); err != nil {
		return nil, fmt.Errorf("parameters: %w", err)
	}

	val, err = evalExpr(ctx, mb.Exclude, evalCtx, "exclude")
	if err != nil {
		return nil, err
	}
	if m.Exclude, err = toMapList(val); err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	return m, nil
}

func translateFilter(fb *filterBlock) config.Filter {
	if fb == nil {
		return config.Filter{}
	}
	return config.Filter{Only: fb.Only, Ignore: fb.Ignore}
}
