// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the genstream HTTP surface: event streams over SSE and
// WebSocket, health probes and service info.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/genstream/internal/api/middleware"
	"github.com/ManuGH/genstream/internal/gateway"
	"github.com/ManuGH/genstream/internal/health"
	gslog "github.com/ManuGH/genstream/internal/log"
	"github.com/ManuGH/genstream/internal/session"
)

// DefaultWriteTimeout bounds a single WebSocket frame write.
const DefaultWriteTimeout = 10 * time.Second

// StreamRequester opens a session stream.
type StreamRequester interface {
	RequestStream(ctx context.Context, key session.Key) (*gateway.Stream, error)
}

// Config configures the HTTP surface.
type Config struct {
	FeatureID      string // default feature for requests without feature_id
	Version        string
	RateLimit      int    // requests per minute per client IP, 0 disables
	TracingService string // empty disables HTTP tracing
	AllowedOrigins []string
	WriteTimeout   time.Duration
}

// Server holds the handlers. Build its router with Handler.
type Server struct {
	streams StreamRequester
	health  *health.Manager
	cfg     Config
	logger  zerolog.Logger
}

// New creates a server.
func New(streams StreamRequester, hm *health.Manager, cfg Config) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.FeatureID == "" {
		cfg.FeatureID = "default"
	}
	return &Server{
		streams: streams,
		health:  hm,
		cfg:     cfg,
		logger:  gslog.WithComponent("api"),
	}
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Probes bypass logging and rate limiting.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Get("/health", s.health.ServeHealth)
		r.Get("/healthz", s.health.ServeComponents)
		r.Get("/readyz", s.health.ServeReady)
	})

	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{
			EnableMetrics:  true,
			TracingService: s.cfg.TracingService,
			EnableLogging:  true,
			RateLimit:      s.cfg.RateLimit,
		})
		r.Get("/", s.handleInfo)
		r.Get("/stream", s.handleStream)
		r.Post("/stream", s.handleStream)
		r.Get("/ws", s.handleWS)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not supported here")
	})
	return r
}

// MetricsHandler serves the Prometheus registry for the separate metrics listener.
func MetricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	return r
}
