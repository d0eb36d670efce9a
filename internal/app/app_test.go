package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pipegrid/internal/artifacts"
	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/history"
	"github.com/vk/pipegrid/internal/inmemorystore"
	"github.com/vk/pipegrid/internal/inmemorytopology"
	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
	"github.com/vk/pipegrid/internal/runenv"
)

const ciPipeline = `
jobs:
  build:
    steps:
      - run: echo built > out.txt
      - persist_to_workspace:
          root: .
          paths: [out.txt]
  test:
    parameters:
      flavor:
        type: string
    steps:
      - attach_workspace:
          at: .
      - run: cat out.txt && echo "<< parameters.flavor >>" > result.txt
      - store_artifacts:
          path: result.txt
  lint:
    allow_failure: true
    steps:
      - run: exit 3
  deploy:
    steps:
      - run: echo deploying
workflows:
  ci:
    jobs:
      - build
      - lint
      - test:
          requires: [build]
          matrix:
            parameters:
              flavor: [fast, slow]
      - deploy:
          requires: [test]
          filters:
            branches:
              only: release
  nightly:
    triggers:
      - schedule:
          cron: "0 3 * * *"
    jobs:
      - lint
`

func writePipeline(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewLogger(t *testing.T) {
	t.Run("warn level drops info lines", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&Config{LogLevel: "warn", LogFormat: "text"}, &buf)

		logger.Info("quiet")
		logger.Warn("loud")

		assert.NotContains(t, buf.String(), "quiet")
		assert.Contains(t, buf.String(), "msg=loud")
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&Config{LogLevel: "debug", LogFormat: "json"}, &buf)

		logger.Debug("Job started.", "job", "ci/build")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "DEBUG", rec["level"])
		assert.Equal(t, "ci/build", rec["job"])
	})
}

func TestNewConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := NewConfig(Config{Paths: []string{"ci.yml"}})
		require.NoError(t, err)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, config.EventCommit, cfg.Event)
		assert.Equal(t, runenv.BackendAuto, cfg.Backend)
		assert.Equal(t, DefaultStateDir, cfg.StateDir)
		assert.Equal(t, "main", cfg.Branch)
	})

	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "no paths", cfg: Config{}, wantErr: "at least one pipeline path"},
		{name: "bad log format", cfg: Config{Paths: []string{"x"}, LogFormat: "xml"}, wantErr: "invalid log-format"},
		{name: "bad log level", cfg: Config{Paths: []string{"x"}, LogLevel: "trace"}, wantErr: "invalid log-level"},
		{name: "bad event", cfg: Config{Paths: []string{"x"}, Event: "push"}, wantErr: "invalid event"},
		{name: "bad backend", cfg: Config{Paths: []string{"x"}, Backend: "k8s"}, wantErr: "unknown backend"},
		{name: "negative workers", cfg: Config{Paths: []string{"x"}, WorkerCount: -1}, wantErr: "invalid workers"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfig(tc.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestApp_Plan(t *testing.T) {
	// --- Arrange ---
	a, _ := SetupAppTest(t, Config{Paths: []string{writePipeline(t, ciPipeline)}})

	// --- Act ---
	plan, err := a.Plan(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"ci"}, plan.Workflows)
	assert.Equal(t, []string{"ci/deploy"}, plan.Filtered)
	require.Len(t, plan.Jobs, 4)

	byID := make(map[string]PlannedJob)
	pos := make(map[string]int)
	for i, j := range plan.Jobs {
		byID[j.ID] = j
		pos[j.ID] = i
	}
	fast := byID["ci/test-fast[0]"]
	assert.Equal(t, []string{"ci/build"}, fast.Requires)
	assert.Equal(t, map[string]string{"flavor": "fast"}, fast.Parameters)
	assert.Equal(t, "test", fast.Template)
	assert.Less(t, pos["ci/build"], pos["ci/test-slow[1]"])
	assert.True(t, byID["ci/lint"].AllowFailure)
	assert.Nil(t, byID["ci/build"].Parameters, "jobs without parameters plan none")

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WritePlan(&buf, plan, "text"))
		out := buf.String()
		assert.Contains(t, out, "Event: commit on main")
		assert.Contains(t, out, "ci/test-fast[0] (test)")
		assert.Contains(t, out, "requires: ci/build")
		assert.Contains(t, out, "[allow failure]")
		assert.Contains(t, out, "Filtered by branch: ci/deploy")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WritePlan(&buf, plan, "json"))
		var decoded Plan
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, plan.Jobs, decoded.Jobs)
	})
}

func TestApp_Plan_Schedule(t *testing.T) {
	path := writePipeline(t, ciPipeline)

	t.Run("matching time selects the scheduled workflow only", func(t *testing.T) {
		a, _ := SetupAppTest(t, Config{Paths: []string{path}, Event: config.EventSchedule, EventTime: time.Date(2025, 5, 1, 3, 0, 0, 0, time.UTC)})
		plan, err := a.Plan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"nightly"}, plan.Workflows)
		require.Len(t, plan.Jobs, 1)
		assert.Equal(t, "nightly/lint", plan.Jobs[0].ID)
	})

	t.Run("explicit workflow overrides triggers", func(t *testing.T) {
		a, _ := SetupAppTest(t, Config{Paths: []string{path}, Branch: "release", Workflows: []string{"ci"}})
		plan, err := a.Plan(context.Background())
		require.NoError(t, err)
		assert.Len(t, plan.Jobs, 5)
		assert.Empty(t, plan.Filtered)
	})
}

func TestApp_Run(t *testing.T) {
	// --- Arrange ---
	project := t.TempDir()
	a, logs := SetupAppTest(t, Config{
		Paths:       []string{writePipeline(t, ciPipeline)},
		ProjectDir:  project,
		Backend:     runenv.BackendLocal,
		WorkerCount: 2,
	})
	ctx := context.Background()

	// --- Act ---
	rep, err := a.Run(ctx)

	// --- Assert ---
	require.NoError(t, err, logs.String())
	require.NotNil(t, rep)
	assert.Equal(t, history.RunSucceeded, rep.Status)

	statuses := make(map[string]node.Status)
	for _, j := range rep.Jobs {
		statuses[j.ID] = j.Status
	}
	assert.Equal(t, map[string]node.Status{
		"ci/build":        node.StatusCompleted,
		"ci/lint":         node.StatusFailed,
		"ci/test-fast[0]": node.StatusCompleted,
		"ci/test-slow[1]": node.StatusCompleted,
	}, statuses)

	runDir := filepath.Join(artifacts.RunsDir(a.Config().StateDir), rep.RunID)
	assert.FileExists(t, filepath.Join(runDir, artifacts.ReportFile))
	artifact, err := os.ReadFile(filepath.Join(runDir, "artifacts", "ci_test-fast_0_", "result.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fast\n", string(artifact))

	out := logs.String()
	assert.Contains(t, out, "🚀 Starting run...")
	assert.Contains(t, out, "Run "+rep.RunID+" succeeded")

	runs, err := a.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rep.RunID, runs[0].ID)
	assert.Equal(t, history.RunSucceeded, runs[0].Status)

	stored, err := a.RunReport(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Len(t, stored.Jobs, 4)
}

func TestApp_Run_Failure(t *testing.T) {
	pipeline := `
jobs:
  build:
    steps:
      - run: echo broken && exit 1
  test:
    steps:
      - run: echo never
workflows:
  ci:
    jobs:
      - build
      - test:
          requires: [build]
`
	a, _ := SetupAppTest(t, Config{Paths: []string{writePipeline(t, pipeline)}, ProjectDir: t.TempDir(), Backend: runenv.BackendLocal})

	rep, err := a.Run(context.Background())

	require.ErrorIs(t, err, ErrRunFailed)
	require.NotNil(t, rep)
	assert.Equal(t, history.RunFailed, rep.Status)
	require.Len(t, rep.Jobs, 2)
	assert.Equal(t, node.StatusFailed, rep.Jobs[0].Status)
	assert.Equal(t, node.StatusSkipped, rep.Jobs[1].Status)

	runs, err := a.History(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, history.RunFailed, runs[0].Status)
}

func TestApp_Run_NoMatchingJobs(t *testing.T) {
	a, logs := SetupAppTest(t, Config{
		Paths:     []string{writePipeline(t, ciPipeline)},
		Event:     config.EventSchedule,
		EventTime: time.Date(2025, 5, 1, 12, 30, 0, 0, time.UTC),
	})

	rep, err := a.Run(context.Background())

	require.NoError(t, err)
	assert.Nil(t, rep)
	assert.Contains(t, logs.String(), "No jobs match the event")
}

func TestApp_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		a, logs := SetupAppTest(t, Config{Paths: []string{writePipeline(t, ciPipeline)}})
		a.WriteValidation(a.Validate(context.Background()))
		assert.Contains(t, logs.String(), "✅ Pipeline is valid: 1 files, 4 jobs, 2 workflows, 6 job instances")
	})

	t.Run("undefined requirement", func(t *testing.T) {
		pipeline := `
jobs:
  a:
    steps:
      - run: "true"
workflows:
  ci:
    jobs:
      - a:
          requires: [missing]
`
		a, logs := SetupAppTest(t, Config{Paths: []string{writePipeline(t, pipeline)}})
		res, err := a.Validate(context.Background())
		require.ErrorIs(t, err, graph.ErrUndefinedDependency)
		a.WriteValidation(res, err)
		assert.Contains(t, logs.String(), "❌ Pipeline is invalid")
	})
}

func TestApp_Cache(t *testing.T) {
	a, _ := SetupAppTest(t, Config{Paths: []string{"unused.yml"}})
	ctx := context.Background()

	entries, err := a.CacheEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err := a.PruneCache(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatusRouter(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	a, _ := SetupAppTest(t, Config{Paths: []string{"unused.yml"}})
	router := a.statusRouter(a.withLogger(ctx))

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK\n", rec.Body.String())
	})

	t.Run("status before a run starts", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Nodes)
		assert.Equal(t, 0, resp.Counts["running"])
	})

	t.Run("status of a live run", func(t *testing.T) {
		topo := inmemorytopology.New()
		_, err := graph.Build(ctx, topo, []*config.JobInstance{
			{Workflow: "ci", Name: "build", Index: -1, Job: &config.Job{Name: "build"}},
			{Workflow: "ci", Name: "test", Index: -1, Job: &config.Job{Name: "test"}, Requires: []string{"build"}},
		})
		require.NoError(t, err)
		g := graph.New(topo, inmemorystore.New())
		require.NoError(t, g.MarkRunning(ctx, nodeid.New("ci", "build")))
		a.live.Store(&liveRun{runID: "run-42", graph: g})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var resp StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "run-42", resp.RunID)
		require.Len(t, resp.Nodes, 2)
		assert.Equal(t, node.StatusRunning, resp.Nodes[0].Status)
		assert.Equal(t, map[string]int{"pending": 1, "running": 1, "completed": 0, "failed": 0, "skipped": 0}, resp.Counts)
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCheckoutIgnore(t *testing.T) {
	project := t.TempDir()
	assert.Equal(t, []string{".pipegrid"}, checkoutIgnore(project, filepath.Join(project, ".pipegrid")))
	assert.Equal(t, []string{"var"}, checkoutIgnore(project, filepath.Join(project, "var", "state")))
	assert.Nil(t, checkoutIgnore(project, t.TempDir()))
	assert.Nil(t, checkoutIgnore(project, project))
}
