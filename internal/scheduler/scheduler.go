package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/node"
	"github.com/vk/pipegrid/internal/nodeid"
)

// ErrUpstreamFailed is recorded on nodes skipped because a job they require
// failed or was skipped.
var ErrUpstreamFailed = errors.New("upstream job did not succeed")

// ErrCancelled is recorded on nodes skipped because the run was cancelled.
var ErrCancelled = errors.New("run cancelled")

// DefaultScheduler is the reference implementation of the Scheduler interface.
// It rescans the graph on every notification, which is cheap for pipelines
// of a few hundred jobs.
type DefaultScheduler struct {
	g      graph.Graph
	notify chan struct{}
}

// New creates a new default scheduler for g.
func New(g graph.Graph) Scheduler {
	return &DefaultScheduler{
		g: g,
		// Buffered so Notify never blocks; one pending wake-up is enough.
		notify: make(chan struct{}, 1),
	}
}

func (s *DefaultScheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// ReadyNodes implements the Scheduler interface.
func (s *DefaultScheduler) ReadyNodes(ctx context.Context) <-chan *node.Node {
	ch := make(chan *node.Node)
	go s.loop(ctx, ch)
	return ch
}

func (s *DefaultScheduler) loop(ctx context.Context, ch chan<- *node.Node) {
	defer close(ch)
	logger := ctxlog.FromContext(ctx)
	dispatched := make(map[nodeid.Address]bool)
	cancelled := false

	for {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			s.skipPending(ctx, ErrCancelled)
		}

		// Counted before scanning so a node finishing mid-scan is never
		// mistaken for an idle graph.
		busy := s.inFlight(ctx, dispatched)
		var ready []*node.Node
		if !cancelled {
			var err error
			ready, err = s.scan(ctx, dispatched)
			if err != nil {
				logger.Error("Scheduler scan failed.", "error", err)
				s.skipPending(ctx, fmt.Errorf("scheduler failed: %w", err))
				cancelled = true
			}
		}

		for _, n := range ready {
			dispatched[n.ID] = true
			logger.Debug("Node ready.", "node", n.ID.String())
			select {
			case ch <- n:
			case <-ctx.Done():
				// The node was never handed out; it stays pending and is
				// skipped on the next pass.
				delete(dispatched, n.ID)
			}
		}

		if s.done(ctx) {
			logger.Debug("All nodes are terminal, scheduler finished.")
			return
		}
		if !cancelled && len(ready) == 0 && busy == 0 {
			// Nothing runs and nothing can start: only possible with a
			// dependency cycle that slipped past graph validation.
			logger.Error("Scheduler deadlocked, skipping remaining nodes.")
			s.skipPending(ctx, errors.New("scheduler deadlock"))
			continue
		}

		if cancelled {
			// Only running nodes remain; wait for them to report back.
			<-s.notify
			continue
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
		}
	}
}

// scan skips nodes that can never run and returns the ones ready to run.
// Skipping may unblock further decisions, so it repeats until stable.
func (s *DefaultScheduler) scan(ctx context.Context, dispatched map[nodeid.Address]bool) ([]*node.Node, error) {
	for {
		var ready []*node.Node
		changed := false
		for _, n := range s.g.AllNodes(ctx) {
			if dispatched[n.ID] {
				continue
			}
			status, _ := s.g.NodeStatus(ctx, n.ID)
			if status != node.StatusPending {
				continue
			}
			verdict, blocker, err := s.evaluate(ctx, n)
			if err != nil {
				return nil, err
			}
			switch verdict {
			case verdictReady:
				ready = append(ready, n)
			case verdictSkip:
				reason := fmt.Errorf("%w: %s", ErrUpstreamFailed, blocker)
				if err := s.g.MarkSkipped(ctx, n.ID, reason); err != nil {
					return nil, err
				}
				changed = true
			}
		}
		if !changed {
			return ready, nil
		}
	}
}

type verdict int

const (
	verdictWait verdict = iota
	verdictReady
	verdictSkip
)

func (s *DefaultScheduler) evaluate(ctx context.Context, n *node.Node) (verdict, string, error) {
	deps, err := s.g.DependenciesOf(ctx, n.ID)
	if err != nil {
		return verdictWait, "", err
	}
	result := verdictReady
	for _, dep := range deps {
		status, _ := s.g.NodeStatus(ctx, dep.ID)
		switch {
		case status == node.StatusCompleted:
		case status == node.StatusFailed && dep.AllowFailure:
		case status == node.StatusFailed, status == node.StatusSkipped:
			return verdictSkip, dep.ID.String(), nil
		default:
			result = verdictWait
		}
	}
	return result, "", nil
}

func (s *DefaultScheduler) skipPending(ctx context.Context, reason error) {
	logger := ctxlog.FromContext(ctx)
	// Dispatched nodes that no worker has started yet are skipped as well;
	// workers treat the resulting failed MarkRunning as a skip.
	for _, n := range s.g.AllNodes(ctx) {
		if status, _ := s.g.NodeStatus(ctx, n.ID); status != node.StatusPending {
			continue
		}
		if err := s.g.MarkSkipped(ctx, n.ID, reason); err != nil {
			logger.Error("Failed to skip node.", "node", n.ID.String(), "error", err)
		}
	}
}

func (s *DefaultScheduler) inFlight(ctx context.Context, dispatched map[nodeid.Address]bool) int {
	count := 0
	for id := range dispatched {
		if status, _ := s.g.NodeStatus(ctx, id); !status.IsTerminal() {
			count++
		}
	}
	return count
}

func (s *DefaultScheduler) done(ctx context.Context) bool {
	for _, n := range s.g.AllNodes(ctx) {
		if status, _ := s.g.NodeStatus(ctx, n.ID); !status.IsTerminal() {
			return false
		}
	}
	return true
}
