package yamlconfig

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/fsutil"
	"gopkg.in/yaml.v3"
)

// Extensions lists the file extensions this loader reads.
var Extensions = []string{".yml", ".yaml"}

// Loader is the YAML implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new YAML configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

var _ config.Loader = (*Loader)(nil)

// Load reads every YAML file under paths and merges them into one pipeline.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("YAML loader started.", "path_count", len(paths))

	files, err := fsutil.CollectFiles(paths, Extensions...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered YAML files.", "count", len(files))

	p := config.NewPipeline()
	for _, file := range files {
		if err := l.LoadFile(ctx, p, file); err != nil {
			return nil, err
		}
	}

	logger.Debug("YAML loading complete.", "jobs", len(p.Jobs), "workflows", len(p.Workflows))
	return p, nil
}

// LoadFile parses a single file and merges its jobs and workflows into p.
func (l *Loader) LoadFile(ctx context.Context, p *config.Pipeline, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	if err := Parse(data, p); err != nil {
		return fmt.Errorf("failed to load %s: %w", file, err)
	}
	p.Sources = append(p.Sources, file)
	ctxlog.FromContext(ctx).Debug("Loaded YAML file.", "file", file)
	return nil
}

// Parse decodes one YAML document and merges it into p.
func Parse(data []byte, p *config.Pipeline) error {
	var root fileRoot
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}

	for _, name := range sortedKeys(root.Jobs) {
		raw := root.Jobs[name]
		if raw == nil {
			return fmt.Errorf("job %q has an empty body", name)
		}
		job, err := translateJob(name, raw)
		if err != nil {
			return err
		}
		if err := p.AddJob(job); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(root.Workflows) {
		if name == "version" {
			continue
		}
		node := root.Workflows[name]
		var raw rawWorkflow
		if err := node.Decode(&raw); err != nil {
			return fmt.Errorf("workflow %q: %w", name, err)
		}
		if err := p.AddWorkflow(translateWorkflow(name, &raw)); err != nil {
			return err
		}
	}
	return nil
}

func translateJob(name string, raw *rawJob) (*config.Job, error) {
	job := &config.Job{
		Name:             name,
		Extends:          raw.Extends,
		Image:            raw.Image,
		Environment:      translateEnv(raw.Environment),
		WorkingDirectory: raw.WorkingDirectory,
		Shell:            raw.Shell,
		AllowFailure:     raw.AllowFailure,
	}
	if len(raw.Docker) > 0 {
		// Only the primary container is used; service containers are not supported.
		job.Image = raw.Docker[0].Image
		job.ImageAuth = translateAuth(raw.Docker[0].Auth)
	}
	if raw.Parameters != nil {
		job.Parameters = make(map[string]config.ParameterSpec, len(raw.Parameters))
		for pname, rp := range raw.Parameters {
			spec := config.ParameterSpec{Type: rp.Type, Description: rp.Description}
			if rp.Default != nil {
				d := string(*rp.Default)
				spec.Default = &d
			}
			job.Parameters[pname] = spec
		}
	}
	if raw.Steps != nil {
		job.Steps = make([]config.Step, 0, len(raw.Steps))
		for i, rs := range raw.Steps {
			step, err := translateStep(rs)
			if err != nil {
				return nil, fmt.Errorf("job %q step %d: %w", name, i, err)
			}
			job.Steps = append(job.Steps, step)
		}
	}
	return job, nil
}

func translateStep(rs rawStep) (config.Step, error) {
	step := config.Step{Type: config.StepType(rs.Type)}
	b := rs.Body
	if b == nil {
		b = &rawStepBody{}
	}
	step.When = config.When(b.When)

	switch step.Type {
	case config.StepCheckout:
	case config.StepRun:
		if rs.Body == nil {
			// A bare `- run` has no command; leave the body out so validation reports it.
			return step, nil
		}
		timeout := config.DefaultNoOutputTimeout
		if b.NoOutputTimeout != "" {
			d, err := time.ParseDuration(b.NoOutputTimeout)
			if err != nil {
				return step, fmt.Errorf("invalid no_output_timeout %q: %w", b.NoOutputTimeout, err)
			}
			timeout = d
		}
		step.Run = &config.RunStep{
			Name:             b.Name,
			Command:          b.Command,
			Shell:            b.Shell,
			Environment:      translateEnv(b.Environment),
			WorkingDirectory: b.WorkingDirectory,
			NoOutputTimeout:  timeout,
		}
	case config.StepRestoreCache:
		keys := b.Keys
		if b.Key != "" {
			keys = append([]string{b.Key}, keys...)
		}
		step.RestoreCache = &config.RestoreCacheStep{Name: b.Name, Keys: keys}
	case config.StepSaveCache:
		step.SaveCache = &config.SaveCacheStep{Name: b.Name, Key: b.Key, Paths: b.Paths}
	case config.StepStoreArtifacts:
		step.StoreArtifacts = &config.StoreArtifactsStep{Path: b.Path, Destination: b.Destination}
	case config.StepStoreTestResults:
		step.StoreTestResults = &config.StoreTestResultsStep{Path: b.Path}
	case config.StepPersistToWorkspace:
		step.PersistToWorkspace = &config.PersistToWorkspaceStep{Root: b.Root, Paths: b.Paths}
	case config.StepAttachWorkspace:
		step.AttachWorkspace = &config.AttachWorkspaceStep{At: b.At}
	case config.StepBuildImage:
		args := make(map[string]string, len(b.BuildArgs))
		for k, v := range b.BuildArgs {
			args[k] = string(v)
		}
		step.BuildImage = &config.BuildImageStep{
			Name:       b.Name,
			Image:      b.Image,
			Dockerfile: b.Dockerfile,
			Context:    b.Context,
			BuildArgs:  args,
			Push:       b.Push,
			Auth:       translateAuth(b.Auth),
		}
	default:
		// Unknown types pass through; config.Validate reports them.
	}
	return step, nil
}

func translateEnv(raw map[string]rawEnvValue) map[string]config.EnvValue {
	if raw == nil {
		return nil
	}
	out := make(map[string]config.EnvValue, len(raw))
	for k, v := range raw {
		out[k] = config.EnvValue{Value: v.Value, Secret: v.Secret}
	}
	return out
}

func translateAuth(raw *rawAuth) *config.Credentials {
	if raw == nil {
		return nil
	}
	return &config.Credentials{
		Username: config.EnvValue{Value: raw.Username.Value, Secret: raw.Username.Secret},
		Password: config.EnvValue{Value: raw.Password.Value, Secret: raw.Password.Secret},
	}
}

func translateWorkflow(name string, raw *rawWorkflow) *config.Workflow {
	w := &config.Workflow{Name: name}
	for _, rt := range raw.Triggers {
		w.Triggers = append(w.Triggers, config.Trigger{
			Event:   config.TriggerEvent(strings.ToLower(rt.Event)),
			Cron:    rt.Cron,
			Filters: translateFilter(rt.Filters),
		})
	}
	for _, rj := range raw.Jobs {
		wj := &config.WorkflowJob{
			Job:        rj.Job,
			Name:       rj.Name,
			Requires:   rj.Requires,
			Context:    rj.Context,
			Parameters: rj.Parameters,
			Filters:    translateFilter(rj.Filters),
		}
		if rj.Matrix != nil {
			m := &config.Matrix{Alias: rj.Matrix.Alias, Parameters: make(map[string][]string, len(rj.Matrix.Parameters))}
			for k, vals := range rj.Matrix.Parameters {
				strs := make([]string, len(vals))
				for i, v := range vals {
					strs[i] = string(v)
				}
				m.Parameters[k] = strs
			}
			for _, ex := range rj.Matrix.Exclude {
				e := make(map[string]string, len(ex))
				for k, v := range ex {
					e[k] = string(v)
				}
				m.Exclude = append(m.Exclude, e)
			}
			wj.Matrix = m
		}
		w.Jobs = append(w.Jobs, wj)
	}
	return w
}

func translateFilter(f rawFilter) config.Filter {
	return config.Filter{Only: f.Branches.Only, Ignore: f.Branches.Ignore}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
