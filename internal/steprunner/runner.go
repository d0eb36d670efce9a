package steprunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vk/pipegrid/internal/artifacts"
	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/executor"
	"github.com/vk/pipegrid/internal/imagebuild"
	"github.com/vk/pipegrid/internal/runenv"
	"github.com/vk/pipegrid/internal/secrets"
	"github.com/vk/pipegrid/internal/task"
)

// EnvironmentFactory creates the environment a job runs in.
// *runenv.Factory implements it.
type EnvironmentFactory interface {
	New(ctx context.Context, spec runenv.Spec) (runenv.Environment, error)
}

// ImageBuilder runs build_image steps. *imagebuild.Builder implements it.
type ImageBuilder interface {
	Build(ctx context.Context, req imagebuild.Request) (*imagebuild.Result, error)
}

// Config wires a Runner.
type Config struct {
	RunID  string
	RunDir *artifacts.RunDir
	Envs   EnvironmentFactory
	// Cache may be nil, in which case cache steps are skipped with a note.
	Cache *cache.Store
	// Images may be nil, in which case build_image steps fail.
	Images ImageBuilder
	// ProjectDir is what checkout copies into the job.
	ProjectDir string
	// CheckoutIgnore lists top-level names under ProjectDir checkout skips,
	// such as the state directory.
	CheckoutIgnore []string
	Branch         string
	Revision       string
	// TempDir holds per-job staging directories; empty means os.TempDir.
	TempDir string
}

// Runner implements executor.JobRunner.
type Runner struct {
	cfg Config
	now func() time.Time
}

var _ executor.JobRunner = (*Runner)(nil)

// CollectTimeout bounds artifact and test result collection after a job
// has been cancelled.
const CollectTimeout = 30 * time.Second

// New creates a Runner.
func New(cfg Config) *Runner {
	return &Runner{cfg: cfg, now: time.Now}
}

// jobRun is the state of one RunJob call.
type jobRun struct {
	r       *Runner
	t       *task.Task
	node    string
	env     runenv.Environment
	staging string
	seq     int
	masker  *secrets.Masker
	result  *executor.JobResult
}

// RunJob prepares the job's environment and runs its steps. The returned
// result is never nil; err is non-nil when the job failed.
func (r *Runner) RunJob(ctx context.Context, t *task.Task) (*executor.JobResult, error) {
	node := t.Node.ID.String()
	ctx = ctxlog.With(ctx, "job", node)
	logger := ctxlog.FromContext(ctx)

	result := &executor.JobResult{Node: node, StartedAt: r.now()}
	finish := func(err error) (*executor.JobResult, error) {
		result.FinishedAt = r.now()
		return result, err
	}

	env, err := r.cfg.Envs.New(ctx, runenv.Spec{
		Label:            node,
		Image:            t.Job.Image,
		WorkingDirectory: t.Job.WorkingDirectory,
		Auth:             resolveAuth(t, t.Job.ImageAuth),
	})
	if err != nil {
		return finish(fmt.Errorf("failed to create environment: %w", err))
	}
	result.Environment = describe(env)
	defer func() {
		if err := env.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to clean up environment.", "error", err)
		}
	}()

	if err := env.Prepare(ctx); err != nil {
		return finish(fmt.Errorf("failed to prepare environment: %w", err))
	}

	staging, err := os.MkdirTemp(r.cfg.TempDir, "pipegrid-staging-")
	if err != nil {
		return finish(err)
	}
	defer os.RemoveAll(staging)

	j := &jobRun{
		r:       r,
		t:       t,
		node:    node,
		env:     env,
		staging: staging,
		masker:  secrets.NewMasker(t.SecretValues()...),
		result:  result,
	}
	jobErr := j.runSteps(ctx)

	if r.cfg.RunDir != nil {
		files, err := r.cfg.RunDir.Files(r.cfg.RunDir.ArtifactDir(node))
		if err != nil {
			logger.Warn("Failed to list artifacts.", "error", err)
		}
		result.Artifacts = files
		if r.cfg.RunDir.HasWorkspace(node) {
			result.Workspace = r.cfg.RunDir.WorkspaceDir(node)
		}
	}
	return finish(jobErr)
}

func (j *jobRun) runSteps(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	var jobErr error

	// Once the job is cancelled, collection steps still run on a detached,
	// bounded context; everything else is recorded as not run.
	var collectCtx context.Context
	stopCollect := func() {}
	defer func() { stopCollect() }()

	for i, step := range j.t.Job.Steps {
		sr := executor.StepResult{Index: i, Name: step.DisplayName(), Type: step.Type}
		stepCtx := ctx
		if ctx.Err() != nil {
			if !collectsOnCancel(step) {
				sr.Status = executor.StepNotRun
				j.result.Steps = append(j.result.Steps, sr)
				logger.Debug("Step not run, job cancelled.", "step", sr.Name)
				continue
			}
			if collectCtx == nil {
				var cancel context.CancelFunc
				collectCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), CollectTimeout)
				stopCollect = cancel
			}
			stepCtx = collectCtx
		} else if !shouldRun(step.EffectiveWhen(), jobErr != nil) {
			sr.Status = executor.StepNotRun
			j.result.Steps = append(j.result.Steps, sr)
			logger.Debug("Step not run.", "step", sr.Name, "when", step.EffectiveWhen())
			continue
		}

		logger.Debug("Step started.", "step", sr.Name, "index", i)
		start := j.r.now()
		err := j.withLog(i, &sr, func(log io.Writer) error {
			return j.runStep(stepCtx, step, &sr, log)
		})
		sr.Duration = j.r.now().Sub(start)

		switch {
		case err == nil:
			sr.Status = executor.StepSucceeded
		case errors.Is(err, ErrNoOutputTimeout):
			sr.Status = executor.StepTimedOut
		default:
			sr.Status = executor.StepFailed
		}
		if err != nil {
			sr.Error = j.masker.Mask(err.Error())
			logger.Debug("Step failed.", "step", sr.Name, "error", sr.Error)
			if jobErr == nil {
				jobErr = fmt.Errorf("step %d (%s) failed: %s", i, sr.Name, sr.Error)
				if errors.Is(err, ErrNoOutputTimeout) {
					jobErr = fmt.Errorf("step %d (%s): %w", i, sr.Name, ErrNoOutputTimeout)
				}
			}
		}
		j.result.Steps = append(j.result.Steps, sr)
	}

	if ctx.Err() != nil && jobErr == nil {
		jobErr = context.Cause(ctx)
	}
	return jobErr
}

// withLog opens the step's masked log file for the duration of fn.
func (j *jobRun) withLog(index int, sr *executor.StepResult, fn func(io.Writer) error) error {
	if j.r.cfg.RunDir == nil {
		return fn(j.masker.NewWriter(io.Discard))
	}
	f, rel, err := j.r.cfg.RunDir.CreateLog(j.node, index, sr.Name)
	if err != nil {
		return err
	}
	sr.LogPath = rel
	w := j.masker.NewWriter(f)
	err = fn(w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// collectsOnCancel reports whether the step still runs after cancellation.
func collectsOnCancel(s config.Step) bool {
	switch s.Type {
	case config.StepStoreArtifacts, config.StepStoreTestResults:
		return shouldRun(s.EffectiveWhen(), true)
	}
	return false
}

func shouldRun(when config.When, failed bool) bool {
	switch when {
	case config.WhenAlways:
		return true
	case config.WhenOnFail:
		return failed
	default:
		return !failed
	}
}

func (j *jobRun) runStep(ctx context.Context, s config.Step, sr *executor.StepResult, log io.Writer) error {
	switch s.Type {
	case config.StepCheckout:
		return j.checkout(ctx, log)
	case config.StepRun:
		return j.run(ctx, s.Run, sr, log)
	case config.StepRestoreCache:
		return j.restoreCache(ctx, s.RestoreCache, sr, log)
	case config.StepSaveCache:
		return j.saveCache(ctx, s.SaveCache, sr, log)
	case config.StepStoreArtifacts:
		return j.storeArtifacts(ctx, s.StoreArtifacts, log)
	case config.StepStoreTestResults:
		return j.storeTestResults(ctx, s.StoreTestResults, sr, log)
	case config.StepPersistToWorkspace:
		return j.persistToWorkspace(ctx, s.PersistToWorkspace, log)
	case config.StepAttachWorkspace:
		return j.attachWorkspace(ctx, s.AttachWorkspace, log)
	case config.StepBuildImage:
		return j.buildImage(ctx, s.BuildImage, log)
	}
	return fmt.Errorf("unknown step type %q", s.Type)
}

// stagingDir returns a fresh, not yet existing host path.
func (j *jobRun) stagingDir(kind string) string {
	j.seq++
	return filepath.Join(j.staging, kind+"-"+strconv.Itoa(j.seq))
}

func resolveAuth(t *task.Task, c *config.Credentials) *runenv.Auth {
	if c == nil {
		return nil
	}
	return &runenv.Auth{Username: t.Value(c.Username), Password: t.Value(c.Password)}
}

func describe(env runenv.Environment) string {
	if d, ok := env.(*runenv.Docker); ok {
		return "docker:" + d.Image()
	}
	return "local"
}
