// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolve requests are bounded by the resolve budget (seconds) while
// redirects and pool listings return in milliseconds.
var requestBuckets = []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 20}

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytrelay_http_request_duration_seconds",
		Help:    "Latency of ingress HTTP requests by route pattern.",
		Buckets: requestBuckets,
	}, []string{"method", "route", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ytrelay_http_requests_in_flight",
		Help: "Ingress HTTP requests currently being served.",
	})
)

// routeLabel keeps label cardinality bounded: video ids and pool names
// never end up in a label.
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unmatched"
}

// Metrics observes every request in the ingress histogram.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpRequestsInFlight.Inc()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				httpRequestsInFlight.Dec()
				httpRequestDuration.
					WithLabelValues(r.Method, routeLabel(r), strconv.Itoa(ww.Status())).
					Observe(time.Since(start).Seconds())
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
