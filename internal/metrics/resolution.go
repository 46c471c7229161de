// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the Prometheus collectors shared across packages.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_resolve_total",
		Help: "Resolution attempts by pool, mode and outcome",
	}, []string{"pool", "mode", "outcome"}) // outcome=success|timeout|no_providers_succeeded|no_providers_available|canceled

	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytrelay_resolve_duration_seconds",
		Help:    "Wall time of a whole resolution attempt",
		Buckets: []float64{.1, .25, .5, 1, 2, 3, 5, 8, 10, 13, 20},
	}, []string{"pool", "outcome"})

	resolveAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytrelay_resolve_attempts",
		Help:    "Probes issued per resolution attempt",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
	}, []string{"pool"})

	candidateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_candidate_total",
		Help: "Per-candidate outcomes inside a resolution",
	}, []string{"pool", "outcome"}) // outcome=accepted|probe_failed|quality_rejected|breaker_open

	chainStepTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_chain_step_total",
		Help: "Server-side strategy chain steps by outcome",
	}, []string{"chain", "step", "outcome"})
)

// RecordResolve records the terminal outcome of one resolution attempt.
func RecordResolve(pool, mode, outcome string, attempts int, d time.Duration) {
	resolveTotal.WithLabelValues(pool, mode, outcome).Inc()
	resolveDuration.WithLabelValues(pool, outcome).Observe(d.Seconds())
	resolveAttempts.WithLabelValues(pool).Observe(float64(attempts))
}

// IncCandidate records one candidate outcome.
func IncCandidate(pool, outcome string) {
	candidateTotal.WithLabelValues(pool, outcome).Inc()
}

// IncChainStep records one strategy chain step outcome.
func IncChainStep(chain, step, outcome string) {
	chainStepTotal.WithLabelValues(chain, step, outcome).Inc()
}
