package executor

import (
	"time"

	"github.com/vk/pipegrid/internal/artifacts"
	"github.com/vk/pipegrid/internal/config"
)

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepTimedOut  StepStatus = "timed_out"
	// StepNotRun marks a step whose `when` condition did not match.
	StepNotRun StepStatus = "not_run"
)

// StepResult records one step of a job.
type StepResult struct {
	Index    int             `json:"index"`
	Name     string          `json:"name"`
	Type     config.StepType `json:"type"`
	Status   StepStatus      `json:"status"`
	ExitCode int             `json:"exit_code"`
	Duration time.Duration   `json:"duration"`
	// LogPath is the step's masked log file, relative to the run directory.
	LogPath string `json:"log_path,omitempty"`
	Error   string `json:"error,omitempty"`
	// CacheKey is the key restored or saved by cache steps.
	CacheKey string `json:"cache_key,omitempty"`
	// CacheHit reports whether restore_cache found an entry.
	CacheHit bool `json:"cache_hit,omitempty"`
}

// ImageResult records an image produced by a build_image step.
type ImageResult struct {
	Image  string `json:"image"`
	Pushed bool   `json:"pushed"`
	// Digest is the registry digest of a pushed image.
	Digest string `json:"digest,omitempty"`
}

// JobResult is the output recorded on a finished node.
type JobResult struct {
	Node        string       `json:"node"`
	Environment string       `json:"environment"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Steps       []StepResult `json:"steps"`
	// Artifacts lists stored artifact paths relative to the run directory.
	Artifacts []string              `json:"artifacts,omitempty"`
	Tests     *artifacts.TestSummary `json:"tests,omitempty"`
	Images    []ImageResult         `json:"images,omitempty"`
	// Workspace is the host directory holding the job's persisted
	// workspace, empty if the job persisted nothing.
	Workspace string `json:"workspace,omitempty"`
}

// Duration is the wall time of the job.
func (r *JobResult) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedStep returns the first step that failed, if any.
func (r *JobResult) FailedStep() (StepResult, bool) {
	if r == nil {
		return StepResult{}, false
	}
	for _, s := range r.Steps {
		if s.Status == StepFailed || s.Status == StepTimedOut {
			return s, true
		}
	}
	return StepResult{}, false
}
