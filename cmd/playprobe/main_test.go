// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/ytrelay/internal/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "dQw4w9WgXcQ"

// daemonStub serves the strategy endpoints. Handlers for missing routes 404.
func daemonStub(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, h := range routes {
		mux.HandleFunc(path, h)
	}
	mux.HandleFunc("/media", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(code) }
}

func redirectToMedia(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/media", http.StatusFound)
}

func kinds(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func TestRun_FirstStrategyPlays(t *testing.T) {
	srv := daemonStub(t, map[string]http.HandlerFunc{
		"/api/streamurl/hls": redirectToMedia,
	})

	report, err := run(context.Background(), Options{BaseURL: srv.URL, VideoID: testID, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, string(playback.PhasePlaying), report.Final)
	assert.Equal(t, "hls", report.Strategy)
	assert.Equal(t, []string{"attempt", "playing"}, kinds(report.Events))
	require.Len(t, report.Loads, 1)
	assert.Equal(t, http.StatusOK, report.Loads[0].Status)
}

func TestRun_FallsBackToAuto(t *testing.T) {
	srv := daemonStub(t, map[string]http.HandlerFunc{
		"/api/streamurl/hls":  status(http.StatusServiceUnavailable),
		"/api/streamurl/auto": redirectToMedia,
	})

	report, err := run(context.Background(), Options{BaseURL: srv.URL + "/", VideoID: testID, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, string(playback.PhasePlaying), report.Final)
	assert.Equal(t, "auto", report.Strategy)
	// Listener calls run outside the controller lock, so only the set is stable.
	assert.ElementsMatch(t, []string{"attempt", "attempt", "playing"}, kinds(report.Events))
	require.Len(t, report.Loads, 2)
	assert.Equal(t, http.StatusServiceUnavailable, report.Loads[0].Status)
	assert.NotEmpty(t, report.Loads[0].Error)
}

func TestRun_WatchdogThenDegraded(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	hang := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}
	var baselineHits atomic.Int32
	srv := daemonStub(t, map[string]http.HandlerFunc{
		"/api/streamurl/hls":  hang,
		"/api/streamurl/auto": func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(20 * time.Millisecond)
			w.WriteHeader(http.StatusBadGateway)
		},
		"/api/streamurl": func(w http.ResponseWriter, _ *http.Request) {
			baselineHits.Add(1)
			_, _ = w.Write([]byte(`{"url":"https://cdn/v"}`))
		},
	})

	report, err := run(context.Background(), Options{
		BaseURL:  srv.URL,
		VideoID:  testID,
		Watchdog: 50 * time.Millisecond,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, string(playback.PhaseDegraded), report.Final)
	assert.Empty(t, report.Strategy)
	assert.ElementsMatch(t, []string{"attempt", "attempt", "degraded", "playing"}, kinds(report.Events))
	for _, e := range report.Events {
		switch e.Kind {
		case "degraded":
			assert.Equal(t, srv.URL+"/api/streamurl?v="+testID, e.Source)
		case "playing":
			assert.Equal(t, -1, e.Index, "baseline start carries no strategy index")
		}
	}
	assert.Equal(t, int32(1), baselineHits.Load(), "baseline is loaded exactly once")

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, report))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "degraded", decoded["final"])
}

func TestRun_RejectsBadInput(t *testing.T) {
	_, err := run(context.Background(), Options{BaseURL: "http://localhost:1", VideoID: "short"})
	assert.Error(t, err)

	_, err = run(context.Background(), Options{BaseURL: "::", VideoID: testID})
	assert.Error(t, err)
}
