package localexecutor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pipegrid/internal/builder"
	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/executor"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/inmemorystore"
	"github.com/vk/pipegrid/internal/inmemorytopology"
	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
	"github.com/vk/pipegrid/internal/scheduler"
	"github.com/vk/pipegrid/internal/task"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func instance(name string, allowFailure bool, requires ...string) *config.JobInstance {
	return &config.JobInstance{
		Workflow: "wf", Name: name, DeclaredName: name, Index: -1,
		Job:      &config.Job{Name: name, AllowFailure: allowFailure},
		Requires: requires,
	}
}

func setup(t *testing.T, runner executor.JobRunner, workers int, instances ...*config.JobInstance) (executor.Executor, graph.Graph) {
	t.Helper()
	ts := inmemorytopology.New()
	_, err := graph.Build(context.Background(), ts, instances)
	require.NoError(t, err)
	g := graph.New(ts, inmemorystore.New())
	return New(scheduler.New(g), g, builder.New(nil), runner, workers), g
}

func statusOf(t *testing.T, g graph.Graph, name string) node.Status {
	t.Helper()
	st, ok := g.NodeStatus(context.Background(), nodeid.New("wf", name))
	require.True(t, ok)
	return st
}

func succeed(_ context.Context, tk *task.Task) (*executor.JobResult, error) {
	return &executor.JobResult{Node: tk.Node.ID.String()}, nil
}

func TestExecutor_Execute(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())

	t.Run("independent jobs run concurrently", func(t *testing.T) {
		// --- Arrange ---
		var started sync.WaitGroup
		started.Add(2)
		bothRunning := make(chan struct{})
		go func() { started.Wait(); close(bothRunning) }()

		runner := executor.JobRunnerFunc(func(ctx context.Context, tk *task.Task) (*executor.JobResult, error) {
			if tk.Node.Name == "report" {
				return succeed(ctx, tk)
			}
			started.Done()
			select {
			case <-bothRunning:
				return succeed(ctx, tk)
			case <-time.After(5 * time.Second):
				return nil, errors.New("jobs did not overlap")
			}
		})
		exec, g := setup(t, runner, 4,
			instance("test-a", false),
			instance("test-b", false),
			instance("report", false, "test-a", "test-b"),
		)

		// --- Act ---
		err := exec.Execute(ctx)

		// --- Assert ---
		require.NoError(t, err)
		for _, name := range []string{"test-a", "test-b", "report"} {
			assert.Equal(t, node.StatusCompleted, statusOf(t, g, name))
		}
		out, err := g.NodeOutput(ctx, nodeid.New("wf", "report"))
		require.NoError(t, err)
		assert.Equal(t, &executor.JobResult{Node: "wf/report"}, out)
	})

	t.Run("failures are collected and dependents skipped", func(t *testing.T) {
		runner := executor.JobRunnerFunc(func(ctx context.Context, tk *task.Task) (*executor.JobResult, error) {
			switch tk.Node.Name {
			case "build", "flaky", "lint":
				return &executor.JobResult{Node: tk.Node.ID.String()}, errors.New("step 0 failed")
			}
			return succeed(ctx, tk)
		})
		exec, g := setup(t, runner, 2,
			instance("build", false),
			instance("deploy", false, "build"),
			instance("flaky", true),
			instance("after-flaky", false, "flaky"),
			instance("lint", false),
		)

		err := exec.Execute(ctx)

		require.ErrorIs(t, err, ErrJobsFailed)
		assert.EqualError(t, err, "execution failed for wf/build, wf/lint")
		assert.Equal(t, node.StatusFailed, statusOf(t, g, "build"))
		assert.Equal(t, node.StatusSkipped, statusOf(t, g, "deploy"))
		assert.Equal(t, node.StatusFailed, statusOf(t, g, "flaky"))
		assert.Equal(t, node.StatusCompleted, statusOf(t, g, "after-flaky"))

		out, _ := g.NodeOutput(ctx, nodeid.New("wf", "build"))
		assert.NotNil(t, out, "failed jobs keep their partial result")
	})

	t.Run("a failing build is a job failure", func(t *testing.T) {
		inst := instance("needs-secret", false)
		inst.Job.Environment = map[string]config.EnvValue{"T": config.SecretRef("TOKEN")}
		var ran atomic.Bool
		runner := executor.JobRunnerFunc(func(ctx context.Context, tk *task.Task) (*executor.JobResult, error) {
			ran.Store(true)
			return succeed(ctx, tk)
		})
		exec, g := setup(t, runner, 1, inst)

		err := exec.Execute(ctx)

		require.ErrorIs(t, err, ErrJobsFailed)
		assert.False(t, ran.Load())
		assert.Equal(t, node.StatusFailed, statusOf(t, g, "needs-secret"))
	})

	t.Run("cancellation skips jobs that have not started", func(t *testing.T) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		runner := executor.JobRunnerFunc(func(ctx context.Context, tk *task.Task) (*executor.JobResult, error) {
			cancel()
			<-ctx.Done()
			return &executor.JobResult{}, ctx.Err()
		})
		exec, g := setup(t, runner, 2,
			instance("first", false),
			instance("second", false, "first"),
		)

		err := exec.Execute(runCtx)

		require.Error(t, err)
		assert.Equal(t, node.StatusFailed, statusOf(t, g, "first"))
		assert.Equal(t, node.StatusSkipped, statusOf(t, g, "second"))
	})
}
