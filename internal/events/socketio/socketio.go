// Package socketio streams job status events to a socket.io server. It lives
// apart from package events so that only the run wiring links the client.
package socketio

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/events"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultEvent is the event name status updates are emitted under.
const DefaultEvent = "job_status"

// Config configures the socket.io sink.
type Config struct {
	// URL is the server address including the socket.io path, e.g.
	// "https://ci.example.com/socket.io/".
	URL                string
	Namespace          string
	Event              string
	ConnectTimeout     time.Duration
	InsecureSkipVerify bool
}

// Sink emits every event to a socket.io server.
type Sink struct {
	io    *socket.Socket
	event string
}

var _ events.Sink = (*Sink)(nil)

// NewSink connects to the server and waits until the connection is
// established, fails, or ConnectTimeout elapses.
func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse socket.io URL: %w", err)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "/"
	}
	if cfg.Event == "" {
		cfg.Event = DefaultEvent
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	connected := make(chan error, 1)
	io.On(types.EventName("connect"), func(...any) {
		select {
		case connected <- nil:
		default:
		}
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("socket.io connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = fmt.Errorf("socket.io connect error: %w", e)
			}
		}
		select {
		case connected <- err:
		default:
		}
	})

	io.Connect()

	timer := time.NewTimer(cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, err
		}
	case <-timer.C:
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", cfg.ConnectTimeout)
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	}

	logger.Info("Streaming job status events.", "namespace", cfg.Namespace, "event", cfg.Event)
	return &Sink{io: io, event: cfg.Event}, nil
}

// Publish emits the event. Delivery is best effort.
func (s *Sink) Publish(ctx context.Context, ev events.Event) {
	payload := map[string]any{
		"run_id":   ev.RunID,
		"node":     ev.Node,
		"workflow": ev.Workflow,
		"job":      ev.Job,
		"status":   ev.Status.String(),
		"time":     ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if ev.Error != "" {
		payload["error"] = ev.Error
	}
	s.io.Emit(s.event, payload)
}

// Close disconnects from the server.
func (s *Sink) Close() error {
	s.io.Disconnect()
	return nil
}
