// Package localsession provides a concrete implementation of the session.Session
// and session.SessionFactory interfaces for local, in-process execution.
package localsession

import (
	"context"
	"fmt"

	"github.com/vk/pipegrid/internal/builder"
	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/events"
	"github.com/vk/pipegrid/internal/executor"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/inmemorystore"
	"github.com/vk/pipegrid/internal/inmemorytopology"
	"github.com/vk/pipegrid/internal/localexecutor"
	"github.com/vk/pipegrid/internal/nodeid"
	"github.com/vk/pipegrid/internal/scheduler"
	"github.com/vk/pipegrid/internal/session"
)

// SessionFactory implements session.SessionFactory for local runs.
type SessionFactory struct {
	RunID   string
	Runner  executor.JobRunner
	Secrets builder.SecretResolver
	Workers int
	// Sink receives every node transition in addition to the debug log.
	Sink events.Sink
}

var _ session.SessionFactory = (*SessionFactory)(nil)

// NewSession builds the job graph and wires the components that execute it.
func (f *SessionFactory) NewSession(ctx context.Context, instances []*config.JobInstance) (session.Session, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("localsession.SessionFactory.NewSession called", "jobs", len(instances))

	// --- This is where the dependency injection wiring happens ---
	topoStore := inmemorytopology.New()
	order, err := graph.Build(ctx, topoStore, instances)
	if err != nil {
		return nil, fmt.Errorf("failed to build job graph: %w", err)
	}
	sink := events.Multi{events.LogSink{}, f.Sink}
	g := graph.New(topoStore, inmemorystore.New(), graph.WithSink(sink), graph.WithRunID(f.RunID))
	taskBuilder := builder.New(f.Secrets)
	sched := scheduler.New(g)
	exec := localexecutor.New(sched, g, taskBuilder, f.Runner, f.Workers)
	// --- End of dependency injection ---

	return &Session{executor: exec, graph: g, order: order}, nil
}

// Session implements session.Session for local runs.
type Session struct {
	executor executor.Executor
	graph    graph.Graph
	order    []nodeid.Address
}

// GetExecutor returns the executor that was created and wired up by the factory.
func (s *Session) GetExecutor() (executor.Executor, error) {
	return s.executor, nil
}

func (s *Session) Graph() graph.Graph { return s.graph }

func (s *Session) Order() []nodeid.Address { return s.order }

// Close uses the provided context for logging during cleanup.
func (s *Session) Close(ctx context.Context) error {
	ctxlog.FromContext(ctx).Debug("localsession.Session.Close called")
	return nil
}
