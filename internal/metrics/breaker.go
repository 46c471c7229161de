// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breakers are named "probe:<instance>", one per provider instance.
var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ytrelay_breaker_state",
		Help: "One-hot breaker state per provider instance.",
	}, []string{"breaker", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_breaker_trips_total",
		Help: "Breaker transitions into open, by cause.",
	}, []string{"breaker", "reason"})

	breakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_breaker_rejections_total",
		Help: "Probes skipped because the instance breaker was open.",
	}, []string{"breaker"})
)

var breakerStates = [...]string{"closed", "half-open", "open"}

// SetCircuitBreakerState sets state to 1 and the other states to 0, so a
// sum over states is always 1 per breaker.
func SetCircuitBreakerState(name, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(name, s).Set(v)
	}
}

func RecordCircuitBreakerTrip(name, reason string) {
	breakerTrips.WithLabelValues(name, reason).Inc()
}

func RecordCircuitBreakerRejection(name string) {
	breakerRejections.WithLabelValues(name).Inc()
}
