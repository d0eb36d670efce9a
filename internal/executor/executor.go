// Package executor defines the interfaces and result types of the job
// execution engine.
//
// # Why Executor Exists
//
// The executor is the component that turns a validated job graph into work:
// it consumes the scheduler's ready nodes, asks the builder for a task, hands
// the task to a JobRunner and records the outcome on the graph. Keeping the
// interface here lets the local, in-process implementation
// (internal/localexecutor) be swapped without touching the session wiring.
//
// # Results
//
// A JobRunner reports a JobResult for every job it attempts, including failed
// ones, so the run report and history can show which step failed and where
// its log lives.
package executor

import (
	"context"

	"github.com/vk/pipegrid/internal/task"
)

// Executor is responsible for orchestrating the end-to-end execution of a
// job graph. It manages concurrency, interacts with the scheduler, and
// dispatches tasks. Execute returns an error naming every job that failed
// without allowed failure.
type Executor interface {
	Execute(ctx context.Context) error
}

// JobRunner runs a single prepared job. It returns a result even when the
// job fails; err is non-nil exactly when the job failed.
type JobRunner interface {
	RunJob(ctx context.Context, t *task.Task) (*JobResult, error)
}

// JobRunnerFunc adapts a plain function to the JobRunner interface.
type JobRunnerFunc func(ctx context.Context, t *task.Task) (*JobResult, error)

func (f JobRunnerFunc) RunJob(ctx context.Context, t *task.Task) (*JobResult, error) {
	return f(ctx, t)
}
