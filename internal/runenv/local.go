package runenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/fsutil"
)

// Local runs steps directly on the host inside a per-job sandbox directory.
// Absolute pipeline paths are re-rooted under the sandbox so jobs cannot
// write over each other or over the host.
type Local struct {
	root   string
	home   string
	runner CommandRunner
	// Keep leaves the sandbox on disk after Close.
	Keep bool
}

var _ Environment = (*Local)(nil)

// NewLocal creates a host environment rooted at root. workingDirectory is
// the job's working directory as written in the pipeline; empty means
// "project".
func NewLocal(root, workingDirectory string, runner CommandRunner) *Local {
	if runner == nil {
		runner = ExecRunner{}
	}
	l := &Local{root: filepath.Clean(root), runner: runner}
	if workingDirectory == "" {
		workingDirectory = "project"
	}
	l.home = l.reroot(workingDirectory)
	return l
}

func (l *Local) reroot(p string) string {
	if p == l.root || strings.HasPrefix(p, l.root+string(filepath.Separator)) {
		return p
	}
	return filepath.Join(l.root, p)
}

func (l *Local) Home() string { return l.home }

func (l *Local) Path(p string) string {
	return l.reroot(resolvePath(l.home, p))
}

func (l *Local) Prepare(ctx context.Context) error {
	ctxlog.FromContext(ctx).Debug("Preparing local environment.", "root", l.root, "home", l.home)
	return os.MkdirAll(l.home, 0o755)
}

func (l *Local) Exec(ctx context.Context, req ExecRequest) (int, error) {
	dir := l.Path(req.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return -1, err
	}
	args := shellArgs(req.Shell, req.Command)
	err := l.runner.Run(ctx, Command{
		Name:   args[0],
		Args:   args[1:],
		Env:    envList(req.Env),
		Dir:    dir,
		Stdout: req.Output,
		Stderr: req.Output,
	})
	return execResult(ctx, err)
}

func (l *Local) CopyIn(_ context.Context, hostPath, envPath string) error {
	return fsutil.CopyTree(hostPath, l.Path(envPath))
}

func (l *Local) CopyOut(_ context.Context, envPath, hostPath string) error {
	src := l.Path(envPath)
	if _, err := os.Lstat(src); err != nil {
		return fmt.Errorf("copy out %s: %w", envPath, err)
	}
	return fsutil.CopyTree(src, hostPath)
}

func (l *Local) Close(ctx context.Context) error {
	if l.Keep {
		return nil
	}
	ctxlog.FromContext(ctx).Debug("Removing local environment.", "root", l.root)
	return os.RemoveAll(l.root)
}

// envList renders env as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
