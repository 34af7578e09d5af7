// Package server assembles the gateway: routes, middleware, and the shared
// relay tracker used during shutdown.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/artifacts"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/config"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/handlers"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/lifecycle"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/mw"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/publisher"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/relay/sessions"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/store"
)

type Dependencies struct {
	Config    config.Config
	Logger    *slog.Logger
	Store     *store.Store
	Artifacts artifacts.Store
	Publisher *publisher.Publisher
}

type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *store.Store
	artifacts artifacts.Store
	publisher *publisher.Publisher
	tracker   *sessions.Tracker
	state     *lifecycle.State
}

func New(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       deps.Config,
		logger:    logger,
		store:     deps.Store,
		artifacts: deps.Artifacts,
		publisher: deps.Publisher,
		tracker:   sessions.NewTracker(),
		state:     lifecycle.NewState(),
	}
}

// Handler builds the full route table wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", handlers.HealthHandler())
	mux.Handle("GET /readyz", handlers.ReadyHandler(s.state))
	mux.Handle("GET /metrics", promhttp.Handler())

	api := &handlers.SessionAPI{
		Store:     s.store,
		Publisher: s.publisher,
		Logger:    s.logger,
	}
	mux.HandleFunc("POST /v1/sessions", api.Create)
	mux.HandleFunc("GET /v1/sessions/{token}", api.Get)
	mux.HandleFunc("POST /v1/sessions/{token}/document", api.RegenerateDocument)

	mux.Handle("GET /v1/relay/{token}", &handlers.RelayHandler{
		Cfg:       s.cfg,
		Logger:    s.logger,
		Store:     s.store,
		Artifacts: s.artifacts,
		Publisher: s.publisher,
		Tracker:   s.tracker,
	})

	var h http.Handler = mux
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining marks the process as draining; readiness goes negative.
func (s *Server) SetDraining() {
	s.state.SetDraining()
}

// WarnLiveRelays tells every connected client the gateway is going away.
func (s *Server) WarnLiveRelays() {
	n := s.tracker.NotifyAll("server_shutdown")
	if n > 0 {
		s.logger.Info("warned live relays of shutdown", "count", n)
	}
}

// WaitLiveRelays blocks until live relays finish or ctx expires.
func (s *Server) WaitLiveRelays(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// CancelLiveRelays force-terminates any relay still running.
func (s *Server) CancelLiveRelays() {
	n := s.tracker.TerminateAll()
	if n > 0 {
		s.logger.Warn("force-terminated live relays", "count", n)
	}
}
