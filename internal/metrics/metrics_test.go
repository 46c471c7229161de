// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromhttpExposure(t *testing.T) {
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestSetCircuitBreakerState_OneHot(t *testing.T) {
	SetCircuitBreakerState("probe:a", "open")

	assert.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("probe:a", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("probe:a", "closed")))

	SetCircuitBreakerState("probe:a", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("probe:a", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("probe:a", "closed")))
}

func TestRecordPoolSnapshot(t *testing.T) {
	at := time.Unix(1700000000, 0)
	RecordPoolSnapshot("invidious", "cache", 4, at)

	assert.Equal(t, 4.0, testutil.ToFloat64(poolSize.WithLabelValues("invidious")))
	assert.Equal(t, 1.0, testutil.ToFloat64(poolSource.WithLabelValues("invidious", "cache")))
	assert.Equal(t, 0.0, testutil.ToFloat64(poolSource.WithLabelValues("invidious", "remote")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(poolLastRefresh.WithLabelValues("invidious")))
}

func TestRecordResolve(t *testing.T) {
	before := testutil.ToFloat64(resolveTotal.WithLabelValues("p", "muxed", "success"))
	RecordResolve("p", "muxed", "success", 3, time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(resolveTotal.WithLabelValues("p", "muxed", "success")))
}

func TestRecordCircuitBreakerRejection(t *testing.T) {
	before := testutil.ToFloat64(breakerRejections.WithLabelValues("probe:b"))
	RecordCircuitBreakerRejection("probe:b")
	RecordCircuitBreakerRejection("probe:b")
	assert.Equal(t, before+2, testutil.ToFloat64(breakerRejections.WithLabelValues("probe:b")))
}
