package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/node"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	RunID  string            `json:"run_id,omitempty"`
	Counts map[string]int    `json:"counts"`
	Nodes  []graph.NodeState `json:"nodes"`
}

type statusServer struct {
	srv      *http.Server
	listener net.Listener
}

// statusRouter serves the health and live status endpoints.
func (a *App) statusRouter(ctx context.Context) http.Handler {
	logger := ctxlog.FromContext(ctx)
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		logger.Debug("Health check endpoint hit.", "remote_addr", req.RemoteAddr, "path", req.URL.Path)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		resp := StatusResponse{Counts: make(map[string]int), Nodes: []graph.NodeState{}}
		if live := a.live.Load(); live != nil {
			resp.RunID = live.runID
			resp.Nodes = live.graph.Snapshot(req.Context())
		}
		for _, st := range []node.Status{node.StatusPending, node.StatusRunning, node.StatusCompleted, node.StatusFailed, node.StatusSkipped} {
			resp.Counts[st.String()] = 0
		}
		for _, n := range resp.Nodes {
			resp.Counts[n.Status.String()]++
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Debug("Failed to write status response.", "error", err)
		}
	})
	return r
}

// startStatusServer starts the status server when a port is configured.
func (a *App) startStatusServer(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if a.config.StatusPort <= 0 {
		logger.Debug("Status server not started: disabled.")
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.StatusPort))
	if err != nil {
		return fmt.Errorf("failed to start status server: %w", err)
	}
	a.status = &statusServer{
		srv:      &http.Server{Handler: a.statusRouter(ctx), ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
	}

	go func() {
		logger.Info("🩺 Status server starting", "address", fmt.Sprintf("http://%s/status", ln.Addr()))
		if err := a.status.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server failed unexpectedly", "error", err)
		}
	}()
	return nil
}

func (a *App) closeStatusServer(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if a.status == nil {
		logger.Debug("Status server was not running.")
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	logger.Debug("Shutting down status server.")
	if err := a.status.srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Status server shutdown failed", "error", err)
		return err
	}
	a.status = nil
	return nil
}
