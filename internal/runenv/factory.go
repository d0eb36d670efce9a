package runenv

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/fsutil"
)

// Backend selects where jobs with an image run.
type Backend string

const (
	// BackendAuto uses Docker for jobs with an image when a daemon is
	// reachable, and the host otherwise.
	BackendAuto Backend = "auto"
	// BackendLocal runs every job on the host, ignoring images.
	BackendLocal Backend = "local"
	// BackendDocker runs every job with an image in a container.
	BackendDocker Backend = "docker"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendAuto, BackendLocal, BackendDocker:
		return b, nil
	case "":
		return BackendAuto, nil
	}
	return "", fmt.Errorf("unknown backend %q: expected auto, local or docker", s)
}

// Spec is what the factory needs to know about a job.
type Spec struct {
	// Label identifies the job in directory and container names.
	Label            string
	Image            string
	WorkingDirectory string
	Auth             *Auth
}

// Factory creates one environment per job.
type Factory struct {
	Backend Backend
	// WorkRoot holds the per-job sandboxes of host environments.
	WorkRoot string
	Runner   CommandRunner
	// KeepSandboxes leaves host sandboxes on disk after each job.
	KeepSandboxes bool

	dockerOnce sync.Once
	dockerOK   bool
}

// New returns an unprepared environment for the job.
func (f *Factory) New(ctx context.Context, spec Spec) (Environment, error) {
	logger := ctxlog.FromContext(ctx)
	runner := f.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	useDocker := false
	if spec.Image != "" {
		switch f.Backend {
		case BackendDocker:
			useDocker = true
		case BackendLocal:
			logger.Warn("Ignoring job image on the local backend.", "job", spec.Label, "image", spec.Image)
		default:
			f.dockerOnce.Do(func() { f.dockerOK = Available(ctx, runner) })
			useDocker = f.dockerOK
			if !useDocker {
				logger.Warn("Docker is not available, running job on the host.", "job", spec.Label, "image", spec.Image)
			}
		}
	}

	if useDocker {
		return NewDocker(spec.Image, spec.WorkingDirectory, spec.Label, spec.Auth, runner)
	}
	local := NewLocal(filepath.Join(f.WorkRoot, fsutil.SanitizeName(spec.Label)), spec.WorkingDirectory, runner)
	local.Keep = f.KeepSandboxes
	return local, nil
}
