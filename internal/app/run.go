package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vk/pipegrid/internal/artifacts"
	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/events"
	"github.com/vk/pipegrid/internal/events/socketio"
	"github.com/vk/pipegrid/internal/history"
	"github.com/vk/pipegrid/internal/imagebuild"
	"github.com/vk/pipegrid/internal/localsession"
	"github.com/vk/pipegrid/internal/report"
	"github.com/vk/pipegrid/internal/runenv"
	"github.com/vk/pipegrid/internal/secrets"
	"github.com/vk/pipegrid/internal/steprunner"
)

// ErrRunFailed is returned by Run when at least one job failed without
// allowed failure or the run was cancelled.
var ErrRunFailed = errors.New("run failed")

// Run executes the workflows selected for the configured event and returns
// the run report. A nil report with a nil error means no job matched.
func (a *App) Run(ctx context.Context) (*report.Report, error) {
	ctx = a.withLogger(ctx)
	logger := a.logger
	logger.Debug("App.Run method started.")

	p, err := a.Load(ctx)
	if err != nil {
		return nil, err
	}
	sel, err := a.Select(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(sel.Instances) == 0 {
		logger.Warn("No jobs match the event, execution not required.", "event", string(sel.Event.Kind), "branch", sel.Event.Branch)
		return nil, nil
	}

	secretStore, err := secrets.Load(a.config.ContextsFile)
	if err != nil {
		return nil, err
	}

	db, err := a.openState(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	runID := uuid.NewString()
	ctx = ctxlog.With(ctx, "runID", runID)
	logger = ctxlog.FromContext(ctx)

	runDir, err := artifacts.NewRunDir(a.config.StateDir, runID)
	if err != nil {
		return nil, err
	}
	hist := history.NewStore(db)
	startedAt := a.now()
	if err := hist.StartRun(ctx, history.Run{
		ID:        runID,
		Event:     string(sel.Event.Kind),
		Branch:    sel.Event.Branch,
		Revision:  sel.Event.Revision,
		Workflows: sel.Workflows,
		StartedAt: startedAt,
	}); err != nil {
		return nil, err
	}

	// --- This is where the dependency injection wiring happens ---
	envs := &runenv.Factory{
		Backend:       a.config.Backend,
		WorkRoot:      filepath.Join(a.config.StateDir, "work", runID),
		Runner:        a.runner,
		KeepSandboxes: a.config.KeepSandboxes,
	}
	var imageOpts []imagebuild.Option
	if a.config.InsecureRegistries {
		imageOpts = append(imageOpts, imagebuild.WithInsecureRegistries())
	}
	runner := steprunner.New(steprunner.Config{
		RunID:          runID,
		RunDir:         runDir,
		Envs:           envs,
		Cache:          cache.NewStore(db, a.cacheDir()),
		Images:         imagebuild.New(a.runner, imageOpts...),
		ProjectDir:     a.config.ProjectDir,
		CheckoutIgnore: checkoutIgnore(a.config.ProjectDir, a.config.StateDir),
		Branch:         sel.Event.Branch,
		Revision:       sel.Event.Revision,
	})
	sink, closeSink := a.eventSink(ctx)
	defer closeSink()

	factory := &localsession.SessionFactory{
		RunID:   runID,
		Runner:  runner,
		Secrets: secretStore,
		Workers: a.config.WorkerCount,
		Sink:    sink,
	}
	// --- End of dependency injection ---

	sess, err := factory.NewSession(ctx, sel.Instances)
	if err != nil {
		a.finish(ctx, hist, runID, history.RunFailed, nil)
		return nil, err
	}
	defer sess.Close(ctx)

	a.live.Store(&liveRun{runID: runID, graph: sess.Graph()})
	if err := a.startStatusServer(ctx); err != nil {
		logger.Warn("Continuing without status server.", "error", err)
	}
	defer a.closeStatusServer(ctx)

	exec, err := sess.GetExecutor()
	if err != nil {
		a.finish(ctx, hist, runID, history.RunFailed, nil)
		return nil, err
	}
	logger.Info("🚀 Starting run...", "workflows", strings.Join(sel.Workflows, ","), "jobs", len(sel.Instances), "dir", runDir.Root)
	execErr := exec.Execute(ctx)

	rep := &report.Report{
		RunID:      runID,
		Event:      string(sel.Event.Kind),
		Branch:     sel.Event.Branch,
		Revision:   sel.Event.Revision,
		Workflows:  sel.Workflows,
		StartedAt:  startedAt,
		FinishedAt: a.now(),
		Jobs:       report.Collect(ctx, sess.Graph()),
	}
	rep.Status = report.StatusOf(rep.Jobs, ctx.Err() != nil)

	if err := rep.Write(runDir.ReportPath()); err != nil {
		logger.Error("Failed to write run report.", "error", err)
	}
	a.finish(ctx, hist, runID, rep.Status, rep)
	if err := report.Render(a.outW, rep); err != nil {
		logger.Debug("Failed to render summary.", "error", err)
	}
	logger.Info("🏁 Run finished.", "status", string(rep.Status), "duration", rep.FinishedAt.Sub(startedAt).Round(time.Millisecond).String())

	switch {
	case execErr != nil:
		return rep, fmt.Errorf("%w: %w", ErrRunFailed, execErr)
	case rep.Status != history.RunSucceeded:
		return rep, fmt.Errorf("%w: run %s is %s", ErrRunFailed, runID, rep.Status)
	}
	return rep, nil
}

// finish records the final status. It runs on a detached context so a
// cancelled run is still recorded.
func (a *App) finish(ctx context.Context, hist *history.Store, runID string, status history.RunStatus, rep *report.Report) {
	var jobs []history.JobRecord
	if rep != nil {
		jobs = rep.JobRecords()
	}
	if err := hist.FinishRun(context.WithoutCancel(ctx), runID, status, a.now(), jobs); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to record run history.", "error", err)
	}
}

// eventSink connects the optional socket.io stream. A connection failure is
// logged and the run continues without it.
func (a *App) eventSink(ctx context.Context) (events.Sink, func()) {
	if a.config.EventsURL == "" {
		return nil, func() {}
	}
	sink, err := socketio.NewSink(ctx, socketio.Config{URL: a.config.EventsURL})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Continuing without live event stream.", "url", a.config.EventsURL, "error", err)
		return nil, func() {}
	}
	return sink, func() { sink.Close() }
}

// checkoutIgnore keeps the state directory out of checkouts when it lives
// inside the project.
func checkoutIgnore(projectDir, stateDir string) []string {
	project, err := filepath.Abs(projectDir)
	if err != nil {
		return nil
	}
	state, err := filepath.Abs(stateDir)
	if err != nil {
		return nil
	}
	rel, err := filepath.Rel(project, state)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return []string{first}
}
