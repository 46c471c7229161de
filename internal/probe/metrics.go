// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"errors"
	"time"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	probeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_probe_total",
		Help: "Provider probes by kind and outcome",
	}, []string{
		"kind",  // invidious|manifest|extractor
		"stage", // ok|transport|status|decode|empty
	})

	probeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytrelay_probe_duration_seconds",
		Help:    "Provider probe latency",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
	}, []string{"kind"})
)

func observeProbe(kind stream.ProviderKind, err error, d time.Duration) {
	stage := "ok"
	if err != nil {
		stage = stream.StageTransport
		var pf *stream.ProbeFailure
		if errors.As(err, &pf) {
			stage = pf.Stage
		}
	}
	probeTotal.WithLabelValues(string(kind), stage).Inc()
	probeDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}
