package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/vk/pipegrid/internal/artifacts"
	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/history"
	"github.com/vk/pipegrid/internal/report"
)

// History returns up to limit recent runs, newest first.
func (a *App) History(ctx context.Context, limit int) ([]history.Run, error) {
	ctx = a.withLogger(ctx)
	db, err := a.openState(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return history.NewStore(db).Recent(ctx, limit)
}

// RunReport loads the report of a past run.
func (a *App) RunReport(ctx context.Context, runID string) (*report.Report, error) {
	ctx = a.withLogger(ctx)
	db, err := a.openState(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if _, err := history.NewStore(db).Get(ctx, runID); err != nil {
		return nil, err
	}
	return report.Read(filepath.Join(artifacts.RunsDir(a.config.StateDir), runID, artifacts.ReportFile))
}

// CacheEntries lists the cache, newest first.
func (a *App) CacheEntries(ctx context.Context) ([]cache.Entry, error) {
	ctx = a.withLogger(ctx)
	db, err := a.openState(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return cache.NewStore(db, a.cacheDir()).List(ctx)
}

// PruneCache removes entries saved more than olderThan ago.
func (a *App) PruneCache(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx = a.withLogger(ctx)
	db, err := a.openState(ctx)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	n, err := cache.NewStore(db, a.cacheDir()).Prune(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	ctxlog.FromContext(ctx).Info("🧹 Cache pruned.", "removed", n, "older_than", olderThan.String())
	return n, nil
}
