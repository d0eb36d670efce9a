package app

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/loader"
	"github.com/vk/pipegrid/internal/runenv"
	"github.com/vk/pipegrid/internal/statedb"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	loader config.Loader
	// runner executes external commands (shell, docker) for every job.
	runner runenv.CommandRunner
	now    func() time.Time

	// live is the graph of the run in progress, served by the status server.
	live   atomic.Pointer[liveRun]
	status *statusServer
}

type liveRun struct {
	runID string
	graph graph.Graph
}

// Option customises an App.
type Option func(*App)

// WithLoader replaces the default YAML/HCL loader.
func WithLoader(l config.Loader) Option {
	return func(a *App) { a.loader = l }
}

// WithCommandRunner replaces the runner used for shell and docker commands.
func WithCommandRunner(r runenv.CommandRunner) Option {
	return func(a *App) { a.runner = r }
}

// NewApp is the constructor for the main application. Logs and console
// output both go to outW.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) *App {
	a := &App{
		outW:   outW,
		logger: newLogger(cfg, outW),
		config: cfg,
		runner: runenv.ExecRunner{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.loader == nil {
		a.loader = loader.New()
	}
	a.logger.Debug("Logger configured successfully.", "level", cfg.LogLevel, "format", cfg.LogFormat)
	return a
}

// Config returns the validated configuration.
func (a *App) Config() *Config { return a.config }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// withLogger attaches the application logger to ctx.
func (a *App) withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// openState opens the state database.
func (a *App) openState(ctx context.Context) (*sql.DB, error) {
	return statedb.Open(ctx, filepath.Join(a.config.StateDir, statedb.FileName))
}

// cacheDir holds cache archives.
func (a *App) cacheDir() string {
	return filepath.Join(a.config.StateDir, "cache")
}
