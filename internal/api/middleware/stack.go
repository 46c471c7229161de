// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package middleware provides the HTTP ingress middleware stack.
package middleware

import (
	"net/http"

	xglog "github.com/ManuGH/ytrelay/internal/log"
	"github.com/go-chi/chi/v5"
)

// HeaderRequestID carries the request correlation id.
const HeaderRequestID = "X-Request-ID"

// StackConfig selects the optional layers of the ingress stack.
type StackConfig struct {
	EnableCORS     bool
	AllowedOrigins []string

	EnableMetrics bool
	// TracingService names the server span; empty disables tracing.
	TracingService string
	EnableLogging  bool

	// RateLimitRPM is requests per minute per client IP; 0 disables.
	RateLimitRPM int
}

// layers returns the middleware in the order they wrap a request.
// Request ids and recovery always run and come first. RequestID wraps
// Recoverer so a panic response carries the id. The limiter is innermost so rejected
// requests still show up in metrics and the access log.
func (c StackConfig) layers() []func(http.Handler) http.Handler {
	out := []func(http.Handler) http.Handler{RequestID, Recoverer}
	if c.EnableCORS {
		out = append(out, CORS(c.AllowedOrigins))
	}
	if c.EnableMetrics {
		out = append(out, Metrics())
	}
	if c.TracingService != "" {
		out = append(out, Tracing(c.TracingService))
	}
	if c.EnableLogging {
		out = append(out, xglog.Middleware())
	}
	if c.RateLimitRPM > 0 {
		out = append(out, APIRateLimit(c.RateLimitRPM))
	}
	return out
}

// NewRouter returns a chi router with the stack for cfg installed.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(cfg.layers()...)
	return r
}
