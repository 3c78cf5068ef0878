// Package api serves the status interface: REST endpoints for stats and
// verdicts, a websocket feed of verdicts, Prometheus metrics and gRPC health.
package api

import (
	"Go2NetIDS/internal/alerter"
	"Go2NetIDS/internal/clock"
	"Go2NetIDS/internal/engine/manager"
	"Go2NetIDS/internal/history"
	"Go2NetIDS/internal/probe"
	"Go2NetIDS/internal/query"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pipeline is the part of the detection pipeline the API reads from.
// *manager.Manager implements it.
type Pipeline interface {
	Status() manager.Status
	History() *history.History
	Dispatcher() *alerter.Dispatcher
}

// ModelInfo describes the loaded classifier.
type ModelInfo struct {
	Path      string  `json:"path"`
	Trees     int     `json:"trees"`
	Threshold float64 `json:"threshold"`
}

// Options wires a Server.
type Options struct {
	Addr     string
	Pipeline Pipeline
	// Capture reports packet source counters. It may be nil.
	Capture func() probe.Stats
	// Querier serves persisted verdicts. It may be nil.
	Querier query.Querier
	Hub     *Hub
	Model   ModelInfo
	Clock   clock.Clock
	Logger  *zap.Logger
}

// Server is the HTTP status interface.
type Server struct {
	router    *mux.Router
	http      *http.Server
	pipeline  Pipeline
	capture   func() probe.Stats
	querier   query.Querier
	hub       *Hub
	model     ModelInfo
	clock     clock.Clock
	startedAt time.Time
	logger    *zap.Logger
}

// NewServer creates the server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		router:    mux.NewRouter(),
		pipeline:  opts.Pipeline,
		capture:   opts.Capture,
		querier:   opts.Querier,
		hub:       opts.Hub,
		model:     opts.Model,
		clock:     opts.Clock,
		startedAt: opts.Clock.Now(),
		logger:    opts.Logger,
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.healthHandler).Methods("GET")
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	api.HandleFunc("/verdicts", s.verdictsHandler).Methods("GET")
	api.HandleFunc("/verdicts/history", s.verdictHistoryHandler).Methods("GET")
	api.HandleFunc("/alerts/test", s.testAlertHandler).Methods("POST")
	if s.hub != nil {
		api.HandleFunc("/ws", s.hub.HandleWebSocket)
	}
	s.router.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("API server starting", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down...")
	return s.http.Shutdown(ctx)
}
