// Package api provides the read-only HTTP status server polled by external
// tooling: aggregate runner status, per-network detail, routing statistics,
// discovery cache, and prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelnet-labs/modelnet/internal/discovery"
	"github.com/modelnet-labs/modelnet/internal/routing"
	"github.com/modelnet-labs/modelnet/internal/runner"
)

// Server serves the status API for one node.
type Server struct {
	runner    *runner.Runner
	disc      *discovery.Service
	routing   *routing.Client
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	httpServe *http.Server
}

// NewServer creates the status server. The routing client is optional; nodes
// that only host networks pass nil.
func NewServer(run *runner.Runner, disc *discovery.Service, rc *routing.Client, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		runner:   run,
		disc:     disc,
		routing:  rc,
		gatherer: gatherer,
		logger:   logger.With("component", "status_api"),
	}
}

// Router builds the chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/networks", s.handleNetworks)
	r.Get("/v1/networks/{networkID}", s.handleNetwork)
	r.Get("/v1/discovery", s.handleDiscovery)
	r.Get("/v1/routing", s.handleRouting)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Start begins serving on addr.
func (s *Server) Start(addr string) error {
	s.httpServe = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("status server started", "addr", addr)
	go func() {
		if err := s.httpServe.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server failed", "error", err)
		}
	}()
	return nil
}

// Name implements the shutdown component interface.
func (s *Server) Name() string { return "status_api" }

// Shutdown drains and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServe == nil {
		return nil
	}
	return s.httpServe.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleNetworks(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runner.Status().Networks)
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	networkID := chi.URLParam(r, "networkID")
	for _, n := range s.runner.Status().Networks {
		if n.NetworkID == networkID {
			s.writeJSON(w, http.StatusOK, n)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, fmt.Sprintf("network %q is not hosted", networkID))
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	if s.disc == nil {
		s.writeError(w, http.StatusNotFound, "discovery is not enabled")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stats":    s.disc.Stats(),
		"networks": s.disc.Networks(),
		"nodes":    s.disc.Nodes(),
	})
}

func (s *Server) handleRouting(w http.ResponseWriter, _ *http.Request) {
	if s.routing == nil {
		s.writeError(w, http.StatusNotFound, "routing client is not enabled")
		return
	}
	s.writeJSON(w, http.StatusOK, s.routing.Stats())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
