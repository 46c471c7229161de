// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the stream resolution endpoints.
package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ManuGH/ytrelay/internal/api/middleware"
	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/ManuGH/ytrelay/internal/health"
	"github.com/ManuGH/ytrelay/internal/pool"
	"github.com/ManuGH/ytrelay/internal/resolver"
	"github.com/ManuGH/ytrelay/internal/selector"
	"github.com/go-chi/chi/v5"
)

// Resolver is the resolution surface used by the handlers.
type Resolver interface {
	Resolve(ctx context.Context, poolName string, id stream.VideoID, p resolver.Policy) (stream.ResolvedStream, error)
	ResolveChain(ctx context.Context, chain resolver.Chain, id stream.VideoID, p resolver.Policy) (resolver.ChainResult, error)
}

// Pools is the pool surface used by the handlers. *pool.Set implements it.
type Pools interface {
	Snapshots() []pool.Snapshot
	Get(name string) (*pool.Pool, error)
}

// Routing is the hot-reloadable part of the server configuration.
type Routing struct {
	// MetadataPool backs /api/streamurl.
	MetadataPool string
	// HLSChain backs /api/streamurl/hls and /api/streamurl/hls/json.
	HLSChain resolver.Chain
	// AutoChain backs /api/streamurl/auto.
	AutoChain    resolver.Chain
	MinHeight    int
	ProbeTimeout time.Duration
	Budget       time.Duration
	// Preference is the default track preference; requests may add the
	// H.264/AAC bias.
	Preference selector.Preference
}

func (r Routing) policy(mode resolver.Mode) resolver.Policy {
	return resolver.Policy{
		MinHeight:    r.MinHeight,
		Mode:         mode,
		ProbeTimeout: r.ProbeTimeout,
		Budget:       r.Budget,
		Preference:   r.Preference,
	}
}

// Deps are the collaborators of a Server.
type Deps struct {
	Resolver Resolver
	Pools    Pools
	Health   *health.Manager
}

// Server owns the router and the current routing.
type Server struct {
	deps    Deps
	routing atomic.Pointer[Routing]
	router  chi.Router
}

// New builds the router.
func New(deps Deps, routing Routing, stack middleware.StackConfig) *Server {
	s := &Server{deps: deps}
	s.SetRouting(routing)
	s.router = s.routes(stack)
	return s
}

// SetRouting swaps the routing used by later requests.
func (s *Server) SetRouting(r Routing) {
	s.routing.Store(&r)
}

// Routing returns the current routing.
func (s *Server) Routing() Routing {
	return *s.routing.Load()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(stack middleware.StackConfig) chi.Router {
	r := middleware.NewRouter(stack)

	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.ServeHealth)
		r.Get("/readyz", s.deps.Health.ServeReady)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/streamurl", s.handleStreamURL)
		r.Get("/streamurl/hls", s.handleHLSRedirect)
		r.Get("/streamurl/hls/json", s.handleHLSJSON)
		r.Get("/streamurl/auto", s.handleAuto)

		r.Get("/pools", s.handlePools)
		r.With(middleware.RefreshRateLimit()).Post("/pools/{name}/refresh", s.handlePoolRefresh)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not supported here")
	})
	return r
}
