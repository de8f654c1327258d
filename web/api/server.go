// Package api exposes the orchestrator's HTTP interface: run creation
// and inspection, dataset management, preflight checks, result export
// and a server-sent event stream of run updates.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/formfill/orchestrator/internal/dataset"
	"github.com/formfill/orchestrator/internal/engine"
	"github.com/formfill/orchestrator/internal/preflight"
)

// Server is the HTTP API server
type Server struct {
	supervisor *engine.Supervisor
	datasets   *dataset.Store
	preflight  *preflight.Runner
	addr       string
	mux        *http.ServeMux
	sseHub     *SSEHub
	logger     *slog.Logger
}

// NewServer creates an API server. The hub is created by the caller so
// the supervisor can broadcast into it without a dependency on this
// package's server.
func NewServer(supervisor *engine.Supervisor, datasets *dataset.Store, pf *preflight.Runner, hub *SSEHub, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		supervisor: supervisor,
		datasets:   datasets,
		preflight:  pf,
		addr:       addr,
		mux:        http.NewServeMux(),
		sseHub:     hub,
		logger:     logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/status", s.statusHandler())
	s.mux.HandleFunc("/run", s.createRunHandler())
	s.mux.HandleFunc("/run/", s.runHandler())
	s.mux.HandleFunc("/runs", s.listRunsHandler())
	s.mux.HandleFunc("/preflight", s.preflightHandler())
	s.mux.HandleFunc("/datasets", s.datasetsHandler())
	s.mux.HandleFunc("/events", s.sseHandler())
}

// Handler returns the route mux, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the hub and blocks serving HTTP
func (s *Server) Start() error {
	go s.sseHub.Run()
	s.logger.Info("http server listening", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
