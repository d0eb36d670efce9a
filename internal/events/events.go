// Package events publishes node status transitions to interested sinks: the
// debug log, the live status server and, optionally, a socket.io endpoint.
package events

import (
	"context"
	"time"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/node"
)

// Event describes a single node status transition.
type Event struct {
	RunID    string      `json:"run_id"`
	Node     string      `json:"node"`
	Workflow string      `json:"workflow"`
	Job      string      `json:"job"`
	Status   node.Status `json:"status"`
	Error    string      `json:"error,omitempty"`
	Time     time.Time   `json:"time"`
}

// Sink receives events. Publish must not block for long; it is called from
// the goroutine performing the transition.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// LogSink writes every transition to the context logger at debug level.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, ev Event) {
	logger := ctxlog.FromContext(ctx)
	if ev.Error != "" {
		logger.Debug("Node status changed.", "node", ev.Node, "status", ev.Status.String(), "error", ev.Error)
		return
	}
	logger.Debug("Node status changed.", "node", ev.Node, "status", ev.Status.String())
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})
