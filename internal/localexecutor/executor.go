// Package localexecutor provides a concrete, in-process implementation of the
// executor.Executor interface.
package localexecutor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vk/pipegrid/internal/builder"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/executor"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

// ErrJobsFailed is returned by Execute when at least one job failed without
// allowed failure.
var ErrJobsFailed = errors.New("execution failed")

// Executor implements the executor.Executor interface for local execution:
// a fixed pool of workers consuming the scheduler's ready nodes.
type Executor struct {
	sched   scheduler.Scheduler
	g       graph.Graph
	builder builder.Builder
	runner  executor.JobRunner
	workers int

	mu     sync.Mutex
	failed []string
}

// New creates a new local executor. workers <= 0 uses one worker per CPU.
func New(
	sch scheduler.Scheduler,
	g graph.Graph,
	b builder.Builder,
	runner executor.JobRunner,
	workers int,
) executor.Executor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Executor{sched: sch, g: g, builder: b, runner: runner, workers: workers}
}

// Execute runs the graph to completion. Job failures do not stop other jobs;
// they are collected and reported together once every node is terminal.
func (e *Executor) Execute(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Executor starting.", "workers", e.workers)

	eg, egCtx := errgroup.WithContext(ctx)
	// The scheduler shares the group's context so a broken worker stops
	// the whole run instead of leaving nodes unclaimed.
	ready := e.sched.ReadyNodes(egCtx)
	for i := range e.workers {
		workerCtx := ctxlog.With(egCtx, "workerID", i)
		eg.Go(func() error {
			return e.worker(workerCtx, ready)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if len(e.failed) > 0 {
		slices.Sort(e.failed)
		return fmt.Errorf("%w for %s", ErrJobsFailed, strings.Join(e.failed, ", "))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("execution cancelled: %w", context.Cause(ctx))
	}
	logger.Debug("Executor finished.")
	return nil
}

// worker is the core processing loop for a single concurrent worker. It
// returns an error only when the graph itself is inconsistent.
func (e *Executor) worker(ctx context.Context, ready <-chan *node.Node) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.")

	for n := range ready {
		err := e.handle(ctx, n)
		e.sched.Notify()
		if err != nil {
			return err
		}
	}
	logger.Debug("Worker finished.")
	return nil
}

func (e *Executor) handle(ctx context.Context, n *node.Node) error {
	logger := ctxlog.FromContext(ctx).With("nodeID", n.ID.String())

	if ctx.Err() != nil {
		return ignoreSkipped(e.g.MarkSkipped(ctx, n.ID, scheduler.ErrCancelled))
	}
	if err := e.g.MarkRunning(ctx, n.ID); err != nil {
		if ctx.Err() != nil {
			return ignoreSkipped(err)
		}
		return err
	}
	logger.Info("▶️ Job started.", "job", n.Name)

	t, err := e.builder.Build(ctx, n, e.g)
	var result *executor.JobResult
	if err == nil {
		result, err = e.runner.RunJob(ctx, t)
	}

	if err != nil {
		if n.AllowFailure {
			logger.Warn("⚠️ Job failed (allowed).", "job", n.Name, "error", err)
		} else {
			logger.Error("❌ Job failed.", "job", n.Name, "error", err)
			e.mu.Lock()
			e.failed = append(e.failed, n.ID.String())
			e.mu.Unlock()
		}
		return e.g.MarkFailed(ctx, n.ID, outputOf(result), err)
	}

	logger.Info("✅ Job succeeded.", "job", n.Name, "duration", result.Duration().Round(time.Millisecond))
	return e.g.MarkCompleted(ctx, n.ID, result)
}

// outputOf avoids storing a typed nil pointer as a non-nil output.
func outputOf(r *executor.JobResult) any {
	if r == nil {
		return nil
	}
	return r
}

// ignoreSkipped drops the error of a transition that lost the race against
// the scheduler skipping the node on cancellation.
func ignoreSkipped(err error) error {
	if errors.Is(err, graph.ErrInvalidTransition) {
		return nil
	}
	return err
}
