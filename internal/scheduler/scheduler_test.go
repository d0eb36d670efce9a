package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/inmemorystore"
	"github.com/vk/pipegrid/internal/inmemorytopology"
	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
)

func instance(name string, allowFailure bool, requires ...string) *config.JobInstance {
	return &config.JobInstance{
		Workflow: "wf", Name: name, DeclaredName: name, Index: -1,
		Job:      &config.Job{Name: name, AllowFailure: allowFailure},
		Requires: requires,
	}
}

func newGraph(t *testing.T, instances ...*config.JobInstance) graph.Graph {
	t.Helper()
	ts := inmemorytopology.New()
	_, err := graph.Build(context.Background(), ts, instances)
	require.NoError(t, err)
	return graph.New(ts, inmemorystore.New())
}

// drive plays the executor: it runs every ready node serially, failing the
// ones named in fail, and returns the order nodes were handed out.
func drive(ctx context.Context, t *testing.T, g graph.Graph, s Scheduler, fail map[string]bool) []string {
	t.Helper()
	var order []string
	for n := range s.ReadyNodes(ctx) {
		order = append(order, n.Name)
		require.NoError(t, g.MarkRunning(ctx, n.ID))
		if fail[n.Name] {
			require.NoError(t, g.MarkFailed(ctx, n.ID, nil, errors.New("boom")))
		} else {
			require.NoError(t, g.MarkCompleted(ctx, n.ID, "ok"))
		}
		s.Notify()
	}
	return order
}

func status(t *testing.T, g graph.Graph, name string) node.Status {
	t.Helper()
	st, ok := g.NodeStatus(context.Background(), nodeid.New("wf", name))
	require.True(t, ok)
	return st
}

func TestDefaultScheduler_ReadyNodes(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())

	t.Run("respects requires", func(t *testing.T) {
		// --- Arrange ---
		g := newGraph(t,
			instance("build", false),
			instance("test", false, "build"),
			instance("lint", false, "build"),
			instance("deploy", false, "test", "lint"),
		)

		// --- Act ---
		order := drive(ctx, t, g, New(g), nil)

		// --- Assert ---
		require.Len(t, order, 4)
		assert.Equal(t, "build", order[0])
		assert.ElementsMatch(t, []string{"test", "lint"}, order[1:3])
		assert.Equal(t, "deploy", order[3])
	})

	t.Run("failure skips dependents transitively", func(t *testing.T) {
		g := newGraph(t,
			instance("build", false),
			instance("test", false, "build"),
			instance("deploy", false, "test"),
			instance("docs", false),
		)

		order := drive(ctx, t, g, New(g), map[string]bool{"build": true})

		assert.ElementsMatch(t, []string{"build", "docs"}, order)
		assert.Equal(t, node.StatusFailed, status(t, g, "build"))
		assert.Equal(t, node.StatusSkipped, status(t, g, "test"))
		assert.Equal(t, node.StatusSkipped, status(t, g, "deploy"))
		assert.Equal(t, node.StatusCompleted, status(t, g, "docs"))

		reason, err := g.NodeError(ctx, nodeid.New("wf", "deploy"))
		require.NoError(t, err)
		assert.ErrorIs(t, reason, ErrUpstreamFailed)
		assert.Contains(t, reason.Error(), "wf/test")
	})

	t.Run("allowed failure does not block dependents", func(t *testing.T) {
		g := newGraph(t,
			instance("flaky", true),
			instance("after", false, "flaky"),
		)

		order := drive(ctx, t, g, New(g), map[string]bool{"flaky": true})

		assert.Equal(t, []string{"flaky", "after"}, order)
		assert.Equal(t, node.StatusFailed, status(t, g, "flaky"))
		assert.Equal(t, node.StatusCompleted, status(t, g, "after"))
	})

	t.Run("empty graph closes immediately", func(t *testing.T) {
		g := newGraph(t)
		assert.Empty(t, drive(ctx, t, g, New(g), nil))
	})

	t.Run("cancellation skips pending nodes", func(t *testing.T) {
		// --- Arrange ---
		g := newGraph(t,
			instance("first", false),
			instance("second", false, "first"),
			instance("third", false, "second"),
		)
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		s := New(g)

		// --- Act ---
		var order []string
		for n := range s.ReadyNodes(runCtx) {
			order = append(order, n.Name)
			require.NoError(t, g.MarkRunning(ctx, n.ID))
			cancel()
			require.NoError(t, g.MarkCompleted(ctx, n.ID, "ok"))
			s.Notify()
		}

		// --- Assert ---
		assert.Equal(t, []string{"first"}, order)
		assert.Equal(t, node.StatusSkipped, status(t, g, "second"))
		assert.Equal(t, node.StatusSkipped, status(t, g, "third"))
		reason, _ := g.NodeError(ctx, nodeid.New("wf", "third"))
		assert.ErrorIs(t, reason, ErrCancelled)
	})

	t.Run("channel closes only after running nodes report back", func(t *testing.T) {
		g := newGraph(t, instance("only", false))
		s := New(g)
		ch := s.ReadyNodes(ctx)

		n := <-ch
		require.NoError(t, g.MarkRunning(ctx, n.ID))
		select {
		case _, open := <-ch:
			t.Fatalf("channel changed while a node was running (open=%v)", open)
		case <-time.After(50 * time.Millisecond):
		}
		require.NoError(t, g.MarkCompleted(ctx, n.ID, "ok"))
		s.Notify()

		_, open := <-ch
		assert.False(t, open)
	})
}
