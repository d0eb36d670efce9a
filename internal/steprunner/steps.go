package steprunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/vk/pipegrid/internal/artifacts"
	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/executor"
	"github.com/vk/pipegrid/internal/fsutil"
	"github.com/vk/pipegrid/internal/imagebuild"
	"github.com/vk/pipegrid/internal/runenv"
)

func (j *jobRun) checkout(ctx context.Context, log io.Writer) error {
	if j.r.cfg.ProjectDir == "" {
		return errors.New("no project directory to check out")
	}
	entries, err := os.ReadDir(j.r.cfg.ProjectDir)
	if err != nil {
		return fmt.Errorf("failed to read project directory: %w", err)
	}
	copied := 0
	for _, e := range entries {
		if slices.Contains(j.r.cfg.CheckoutIgnore, e.Name()) {
			continue
		}
		src := filepath.Join(j.r.cfg.ProjectDir, e.Name())
		if err := j.env.CopyIn(ctx, src, path.Join(j.env.Home(), e.Name())); err != nil {
			return fmt.Errorf("failed to check out %s: %w", e.Name(), err)
		}
		copied++
	}
	fmt.Fprintf(log, "Checked out %d entries from %s into %s\n", copied, j.r.cfg.ProjectDir, j.env.Home())
	return nil
}

// builtinEnv is set for every run step; the job and step environments
// override it.
func (j *jobRun) builtinEnv() map[string]string {
	inst := j.t.Node.Instance
	env := map[string]string{
		"CI":                         "true",
		"PIPEGRID":                   "true",
		"PIPEGRID_JOB":               j.t.Node.Name,
		"PIPEGRID_BRANCH":            j.r.cfg.Branch,
		"PIPEGRID_SHA1":              j.r.cfg.Revision,
		"PIPEGRID_RUN_ID":            j.r.cfg.RunID,
		"PIPEGRID_WORKING_DIRECTORY": j.env.Home(),
	}
	if inst != nil {
		env["PIPEGRID_WORKFLOW"] = inst.Workflow
		if inst.Index >= 0 {
			env["PIPEGRID_NODE_INDEX"] = strconv.Itoa(inst.Index)
		}
	}
	return env
}

func (j *jobRun) run(ctx context.Context, s *config.RunStep, sr *executor.StepResult, log io.Writer) error {
	shell := s.Shell
	if shell == "" {
		shell = j.t.Job.Shell
	}
	timeout := s.NoOutputTimeout
	if timeout <= 0 {
		timeout = config.DefaultNoOutputTimeout
	}
	env := j.builtinEnv()
	maps.Copy(env, j.t.StepEnv(s))

	stepCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	wd := startWatchdog(log, timeout, cancel)
	code, err := j.env.Exec(stepCtx, runenv.ExecRequest{
		Command: s.Command,
		Shell:   shell,
		Env:     env,
		Dir:     s.WorkingDirectory,
		Output:  wd,
	})
	wd.Stop()
	sr.ExitCode = code

	if errors.Is(context.Cause(stepCtx), ErrNoOutputTimeout) && ctx.Err() == nil {
		fmt.Fprintf(log, "\nToo long with no output (exceeded %s)\n", timeout)
		return fmt.Errorf("%w: no output for %s", ErrNoOutputTimeout, timeout)
	}
	if err != nil {
		return err
	}
	if code != 0 {
		fmt.Fprintf(log, "\nExited with code %d\n", code)
		return fmt.Errorf("exited with code %d", code)
	}
	return nil
}

func (j *jobRun) keyData(ctx context.Context) cache.KeyData {
	return cache.KeyData{
		Branch:      j.r.cfg.Branch,
		Revision:    j.r.cfg.Revision,
		Environment: j.t.Env(),
		Checksum: func(p string) (string, error) {
			dst := j.stagingDir("checksum")
			if err := j.env.CopyOut(ctx, p, dst); err != nil {
				return "", fmt.Errorf("checksum %s: %w", p, err)
			}
			return cache.FileChecksum(dst)
		},
	}
}

func (j *jobRun) restoreCache(ctx context.Context, s *config.RestoreCacheStep, sr *executor.StepResult, log io.Writer) error {
	if j.r.cfg.Cache == nil {
		fmt.Fprintln(log, "Caching is disabled, skipping restore.")
		return nil
	}
	data := j.keyData(ctx)
	keys := make([]string, 0, len(s.Keys))
	for _, tmpl := range s.Keys {
		key, err := cache.RenderKey(tmpl, data)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	entry, err := j.r.cfg.Cache.Restore(ctx, keys)
	if errors.Is(err, cache.ErrMiss) {
		fmt.Fprintf(log, "No cache found for keys: %s\n", strings.Join(keys, ", "))
		return nil
	}
	if err != nil {
		return err
	}
	sr.CacheKey = entry.Key

	rc, err := j.r.cfg.Cache.Open(entry)
	if err != nil {
		return err
	}
	defer rc.Close()
	dir := j.stagingDir("restore")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	paths, err := cache.Unpack(rc, dir)
	if err != nil {
		return err
	}
	for i, p := range paths {
		slot := filepath.Join(dir, strconv.Itoa(i))
		if _, err := os.Lstat(slot); err != nil {
			continue
		}
		if err := j.env.CopyIn(ctx, slot, p); err != nil {
			return fmt.Errorf("failed to restore %s: %w", p, err)
		}
		fmt.Fprintf(log, "Restored %s\n", p)
	}
	sr.CacheHit = true
	fmt.Fprintf(log, "Found cache %s (%d bytes)\n", entry.Key, entry.Size)
	return nil
}

func (j *jobRun) saveCache(ctx context.Context, s *config.SaveCacheStep, sr *executor.StepResult, log io.Writer) error {
	if j.r.cfg.Cache == nil {
		fmt.Fprintln(log, "Caching is disabled, skipping save.")
		return nil
	}
	key, err := cache.RenderKey(s.Key, j.keyData(ctx))
	if err != nil {
		return err
	}
	sr.CacheKey = key

	if e, err := j.r.cfg.Cache.Lookup(ctx, key); err == nil && e.Key == key {
		fmt.Fprintf(log, "Cache key %s already exists, skipping save\n", key)
		return nil
	}

	dir := j.stagingDir("save")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	found := 0
	for i, p := range s.Paths {
		err := j.env.CopyOut(ctx, p, filepath.Join(dir, strconv.Itoa(i)))
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(log, "Skipping %s: no such file or directory\n", p)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to collect %s: %w", p, err)
		}
		found++
	}
	if found == 0 {
		fmt.Fprintf(log, "No paths to save for key %s\n", key)
		return nil
	}

	saved, err := j.r.cfg.Cache.Save(ctx, key, func(w io.Writer) error {
		return cache.Pack(w, dir, s.Paths)
	})
	if err != nil {
		return err
	}
	if saved {
		fmt.Fprintf(log, "Saved cache %s\n", key)
	} else {
		fmt.Fprintf(log, "Cache key %s already exists, skipping save\n", key)
	}
	return nil
}

// relativeDest validates an artifact destination.
func relativeDest(dest string) (string, error) {
	clean := path.Clean("/" + dest)[1:]
	if clean == "" {
		return "", fmt.Errorf("invalid destination %q", dest)
	}
	return filepath.FromSlash(clean), nil
}

func (j *jobRun) storeArtifacts(ctx context.Context, s *config.StoreArtifactsStep, log io.Writer) error {
	if j.r.cfg.RunDir == nil {
		return nil
	}
	dest := s.Destination
	if dest == "" {
		dest = path.Base(j.env.Path(s.Path))
	}
	rel, err := relativeDest(dest)
	if err != nil {
		return err
	}

	tmp := j.stagingDir("artifacts")
	err = j.env.CopyOut(ctx, s.Path, tmp)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(log, "No artifacts found at %s\n", s.Path)
		return nil
	}
	if err != nil {
		return err
	}
	dst := filepath.Join(j.r.cfg.RunDir.ArtifactDir(j.node), rel)
	if err := fsutil.CopyTree(tmp, dst); err != nil {
		return fmt.Errorf("failed to store artifacts: %w", err)
	}
	fmt.Fprintf(log, "Stored %s as %s\n", s.Path, filepath.ToSlash(rel))
	return nil
}

func (j *jobRun) storeTestResults(ctx context.Context, s *config.StoreTestResultsStep, sr *executor.StepResult, log io.Writer) error {
	if j.r.cfg.RunDir == nil {
		return nil
	}
	tmp := j.stagingDir("tests")
	err := j.env.CopyOut(ctx, s.Path, tmp)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(log, "No test results found at %s\n", s.Path)
		return nil
	}
	if err != nil {
		return err
	}
	dst := filepath.Join(j.r.cfg.RunDir.TestResultsDir(j.node), strconv.Itoa(sr.Index))
	if err := fsutil.CopyTree(tmp, dst); err != nil {
		return fmt.Errorf("failed to store test results: %w", err)
	}

	summary, err := artifacts.SummarizeDir(dst)
	if err != nil {
		return err
	}
	if summary == nil {
		fmt.Fprintf(log, "No JUnit reports found in %s\n", s.Path)
		return nil
	}
	if j.result.Tests == nil {
		j.result.Tests = &artifacts.TestSummary{}
	}
	j.result.Tests.Add(summary)
	fmt.Fprintf(log, "Test results: %s\n", summary)
	ctxlog.FromContext(ctx).Debug("Test results collected.", "tests", summary.Tests, "failures", summary.Failures)
	return nil
}

func (j *jobRun) persistToWorkspace(ctx context.Context, s *config.PersistToWorkspaceStep, log io.Writer) error {
	if j.r.cfg.RunDir == nil {
		return nil
	}
	root := j.env.Path(s.Root)
	tmp := j.stagingDir("workspace")
	rels := make([]string, 0, len(s.Paths))
	for _, p := range s.Paths {
		rel := path.Clean(p)
		if path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
			return fmt.Errorf("workspace path %q must be relative to the root", p)
		}
		if err := j.env.CopyOut(ctx, path.Join(root, rel), filepath.Join(tmp, filepath.FromSlash(rel))); err != nil {
			return fmt.Errorf("failed to persist %s: %w", p, err)
		}
		rels = append(rels, rel)
	}
	if err := j.r.cfg.RunDir.PersistWorkspace(j.node, tmp, rels); err != nil {
		return err
	}
	fmt.Fprintf(log, "Persisted %s from %s\n", strings.Join(s.Paths, ", "), s.Root)
	return nil
}

func (j *jobRun) attachWorkspace(ctx context.Context, s *config.AttachWorkspaceStep, log io.Writer) error {
	if j.r.cfg.RunDir == nil {
		return nil
	}
	attached := 0
	for _, up := range j.t.Upstream {
		name := up.String()
		if !j.r.cfg.RunDir.HasWorkspace(name) {
			continue
		}
		if err := j.env.CopyIn(ctx, j.r.cfg.RunDir.WorkspaceDir(name), s.At); err != nil {
			return fmt.Errorf("failed to attach workspace of %s: %w", name, err)
		}
		fmt.Fprintf(log, "Attached workspace of %s\n", name)
		attached++
	}
	if attached == 0 {
		fmt.Fprintln(log, "No upstream job persisted a workspace")
	}
	return nil
}

func (j *jobRun) buildImage(ctx context.Context, s *config.BuildImageStep, log io.Writer) error {
	if j.r.cfg.Images == nil {
		return errors.New("image builds are not available")
	}
	contextPath := s.Context
	if contextPath == "" {
		contextPath = "."
	}
	hostContext := j.stagingDir("context")
	if err := j.env.CopyOut(ctx, contextPath, hostContext); err != nil {
		return fmt.Errorf("failed to collect build context: %w", err)
	}
	var dockerfile string
	if s.Dockerfile != "" {
		dockerfile = filepath.Join(j.stagingDir("dockerfile"), "Dockerfile")
		if err := j.env.CopyOut(ctx, s.Dockerfile, dockerfile); err != nil {
			return fmt.Errorf("failed to collect Dockerfile: %w", err)
		}
	}

	res, err := j.r.cfg.Images.Build(ctx, imagebuild.Request{
		Image:      s.Image,
		Dockerfile: dockerfile,
		Context:    hostContext,
		BuildArgs:  s.BuildArgs,
		Push:       s.Push,
		Auth:       resolveAuth(j.t, s.Auth),
		Output:     log,
	})
	if err != nil {
		return err
	}
	j.result.Images = append(j.result.Images, executor.ImageResult{Image: res.Image, Pushed: res.Pushed, Digest: res.Digest})
	if res.Digest != "" {
		fmt.Fprintf(log, "Pushed %s@%s\n", res.Image, res.Digest)
	}
	return nil
}
