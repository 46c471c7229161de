// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ytrelay_pool_endpoints",
		Help: "Endpoints in the current pool snapshot",
	}, []string{"pool"})

	poolSource = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ytrelay_pool_source",
		Help: "Origin of the current pool snapshot (active source=1, others 0)",
	}, []string{"pool", "source"})

	poolRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_pool_refresh_total",
		Help: "Pool list refreshes by outcome",
	}, []string{"pool", "result"}) // result=success|fallback|failure

	poolLastRefresh = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ytrelay_pool_last_refresh_timestamp_seconds",
		Help: "Unix time of the last snapshot swap",
	}, []string{"pool"})

	configReloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_config_reload_total",
		Help: "Configuration reloads by result",
	}, []string{"result"}) // result=success|failure

	configValidationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytrelay_config_validation_errors_total",
		Help: "Total number of configuration validation errors",
	})
)

var poolSources = []string{"seed", "remote", "mirror", "cache", "file"}

// RecordPoolSnapshot records the size and origin of a freshly swapped snapshot.
func RecordPoolSnapshot(pool, source string, size int, at time.Time) {
	poolSize.WithLabelValues(pool).Set(float64(size))
	for _, s := range poolSources {
		v := 0.0
		if s == source {
			v = 1.0
		}
		poolSource.WithLabelValues(pool, s).Set(v)
	}
	poolLastRefresh.WithLabelValues(pool).Set(float64(at.Unix()))
}

func IncPoolRefresh(pool, result string) {
	poolRefreshTotal.WithLabelValues(pool, result).Inc()
}

func IncConfigReload(result string) { configReloadTotal.WithLabelValues(result).Inc() }
func IncConfigValidationError()     { configValidationErrors.Inc() }
