// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/ytrelay/internal/api/middleware"
	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/ManuGH/ytrelay/internal/health"
	"github.com/ManuGH/ytrelay/internal/pool"
	"github.com/ManuGH/ytrelay/internal/resolver"
	"github.com/ManuGH/ytrelay/internal/selector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "dQw4w9WgXcQ"

type resolveCall struct {
	Pool   string
	Chain  string
	ID     stream.VideoID
	Policy resolver.Policy
}

type fakeResolver struct {
	mu     sync.Mutex
	calls  []resolveCall
	stream stream.ResolvedStream
	step   resolver.Step
	err    error
}

func (f *fakeResolver) Resolve(_ context.Context, poolName string, id stream.VideoID, p resolver.Policy) (stream.ResolvedStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, resolveCall{Pool: poolName, ID: id, Policy: p})
	return f.stream, f.err
}

func (f *fakeResolver) ResolveChain(_ context.Context, chain resolver.Chain, id stream.VideoID, p resolver.Policy) (resolver.ChainResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, resolveCall{Chain: chain.Name, ID: id, Policy: p})
	if f.err != nil {
		return resolver.ChainResult{}, f.err
	}
	return resolver.ChainResult{Step: f.step, Stream: f.stream}, nil
}

var muxedStream = stream.ResolvedStream{
	Kind:     stream.ResultMuxed,
	Endpoint: stream.Endpoint{Name: "inv.example", BaseURL: "https://inv.example"},
	Video:    &stream.ClassifiedStream{RawFormat: stream.RawFormat{MimeType: "video/mp4", Width: 1920, Height: 1080, URL: "https://cdn/v"}},
	Audio:    &stream.ClassifiedStream{RawFormat: stream.RawFormat{MimeType: "audio/webm", Bitrate: 128000, URL: "https://cdn/a"}},
	Metadata: stream.Metadata{Title: "Title", Author: "Author", Thumbnail: "https://img/a.jpg"},
}

var manifestStream = stream.ResolvedStream{
	Kind:     stream.ResultManifest,
	Endpoint: stream.Endpoint{Name: "hls.example", BaseURL: "https://hls.example"},
	Manifest: &stream.ClassifiedStream{RawFormat: stream.RawFormat{URL: "https://hls/master.m3u8"}},
}

var testRouting = Routing{
	MetadataPool: "inv",
	HLSChain:     resolver.Chain{Name: "hls", Steps: []resolver.Step{{Name: "hls", Pool: "hls", Mode: resolver.ModeManifest}}},
	AutoChain:    resolver.Chain{Name: "auto", Steps: []resolver.Step{{Name: "direct", Pool: "inv", Mode: resolver.ModeMuxed}}},
	MinHeight:    720,
	ProbeTimeout: 3 * time.Second,
	Budget:       10 * time.Second,
}

func newTestServer(t *testing.T, res *fakeResolver) *Server {
	t.Helper()
	set, err := pool.NewSet([]pool.Definition{
		{Name: "inv", Kind: stream.KindInvidious, Policy: pool.PolicyOrdered, Seed: []string{"https://inv.example"}},
	}, pool.RefresherOptions{})
	require.NoError(t, err)

	hm := health.NewManager("test")
	hm.RegisterChecker(health.NewPoolChecker(set))
	return New(Deps{Resolver: res, Pools: set, Health: hm}, testRouting, middleware.StackConfig{})
}

func do(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) Problem {
	t.Helper()
	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestStreamURL_SingleURL(t *testing.T) {
	res := &fakeResolver{stream: muxedStream}
	rec := do(newTestServer(t, res), http.MethodGet, "/api/streamurl?v="+testID)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://cdn/v"}`, rec.Body.String())

	require.Len(t, res.calls, 1)
	assert.Equal(t, "inv", res.calls[0].Pool)
	assert.Equal(t, resolver.ModeMuxed, res.calls[0].Policy.Mode)
	assert.Equal(t, 720, res.calls[0].Policy.MinHeight)
}

func TestStreamURL_SafariPrefersH264AAC(t *testing.T) {
	res := &fakeResolver{stream: muxedStream}
	s := newTestServer(t, res)
	rt := testRouting
	rt.Preference = selector.Preference{AudioLanguages: []string{"ja"}}
	s.SetRouting(rt)

	require.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/streamurl?v="+testID).Code)
	require.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/streamurl?v="+testID+"&safari=1").Code)

	require.Len(t, res.calls, 2)
	assert.False(t, res.calls[0].Policy.Preference.H264AAC)
	assert.True(t, res.calls[1].Policy.Preference.H264AAC)
	assert.Equal(t, []string{"ja"}, res.calls[1].Policy.Preference.AudioLanguages, "request flag keeps the configured languages")
}

func TestStreamURL_Detailed(t *testing.T) {
	rec := do(newTestServer(t, &fakeResolver{stream: muxedStream}), http.MethodGet, "/api/streamurl?video_id="+testID+"&wkt=1")

	require.Equal(t, http.StatusOK, rec.Code)
	var body DetailedStreamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, DetailedStreamResponse{
		VideoURL:    "https://cdn/v",
		AudioURL:    "https://cdn/a",
		MimeVideo:   "video/mp4",
		MimeAudio:   "audio/webm",
		Width:       1920,
		Height:      1080,
		Title:       "Title",
		Author:      "Author",
		AuthorImage: "https://img/a.jpg",
	}, body)
}

func TestStreamURL_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		err        error
		wantStatus int
		wantReason string
	}{
		{name: "invalid id", target: "/api/streamurl?v=bad", wantStatus: http.StatusBadRequest, wantReason: "invalid_input"},
		{name: "missing id", target: "/api/streamurl", wantStatus: http.StatusBadRequest, wantReason: "invalid_input"},
		{
			name:       "quality gate",
			target:     "/api/streamurl?v=" + testID,
			err:        &stream.ResolutionFailure{Reason: stream.ReasonNoProvidersSucceeded, Attempts: 2, QualityRejections: 2},
			wantStatus: http.StatusUnprocessableEntity,
			wantReason: "quality_rejected",
		},
		{
			name:       "exhausted",
			target:     "/api/streamurl?v=" + testID,
			err:        &stream.ResolutionFailure{Reason: stream.ReasonNoProvidersSucceeded, Attempts: 3, QualityRejections: 1},
			wantStatus: http.StatusServiceUnavailable,
			wantReason: "no_providers_succeeded",
		},
		{
			name:       "timeout",
			target:     "/api/streamurl?v=" + testID,
			err:        &stream.ResolutionFailure{Reason: stream.ReasonTimeout, Attempts: 3},
			wantStatus: http.StatusServiceUnavailable,
			wantReason: "timeout",
		},
		{
			name:       "empty pool",
			target:     "/api/streamurl?v=" + testID,
			err:        &stream.ResolutionFailure{Reason: stream.ReasonNoProvidersAvailable},
			wantStatus: http.StatusInternalServerError,
			wantReason: "no_providers_available",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{err: tt.err}
			rec := do(newTestServer(t, res), http.MethodGet, tt.target)

			assert.Equal(t, tt.wantStatus, rec.Code)
			p := decodeProblem(t, rec)
			assert.Equal(t, tt.wantReason, p.Error)
			assert.NotEmpty(t, p.Detail)
			assert.NotEmpty(t, p.RequestID)
			if tt.err == nil {
				assert.Empty(t, res.calls, "invalid ids never reach the resolver")
			}
		})
	}
}

func TestHLS_RedirectAndJSON(t *testing.T) {
	res := &fakeResolver{stream: manifestStream, step: resolver.Step{Name: "hls"}}
	s := newTestServer(t, res)

	rec := do(s, http.MethodGet, "/api/streamurl/hls?v="+testID)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://hls/master.m3u8", rec.Header().Get("Location"))

	rec = do(s, http.MethodGet, "/api/streamurl/hls/json?v="+testID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","backend":"hls.example","m3u8":"https://hls/master.m3u8"}`, rec.Body.String())

	require.Len(t, res.calls, 2)
	assert.Equal(t, "hls", res.calls[0].Chain)
}

func TestAuto_RedirectsToWinningStep(t *testing.T) {
	res := &fakeResolver{stream: muxedStream, step: resolver.Step{Name: "direct"}}
	rec := do(newTestServer(t, res), http.MethodGet, "/api/streamurl/auto?v="+testID)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cdn/v", rec.Header().Get("Location"))
	assert.Equal(t, "direct", rec.Header().Get("X-Strategy"))
	assert.Equal(t, "auto", res.calls[0].Chain)
}

func TestSetRouting_AppliesToLaterRequests(t *testing.T) {
	res := &fakeResolver{stream: muxedStream}
	s := newTestServer(t, res)

	rt := s.Routing()
	rt.MetadataPool = "other"
	rt.MinHeight = 1080
	s.SetRouting(rt)

	do(s, http.MethodGet, "/api/streamurl?v="+testID)
	require.Len(t, res.calls, 1)
	assert.Equal(t, "other", res.calls[0].Pool)
	assert.Equal(t, 1080, res.calls[0].Policy.MinHeight)
}

func TestPools(t *testing.T) {
	s := newTestServer(t, &fakeResolver{})

	rec := do(s, http.MethodGet, "/api/pools")
	require.Equal(t, http.StatusOK, rec.Code)
	var body PoolsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Pools, 1)
	assert.Equal(t, "inv", body.Pools[0].Name)
	assert.Equal(t, []string{"https://inv.example"}, body.Pools[0].URLs())

	rec = do(s, http.MethodPost, "/api/pools/inv/refresh")
	assert.Equal(t, http.StatusOK, rec.Code, "static pools refresh to their current list")

	rec = do(s, http.MethodPost, "/api/pools/missing/refresh")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_pool", decodeProblem(t, rec).Error)
}

func TestHealthAndFallbacks(t *testing.T) {
	s := newTestServer(t, &fakeResolver{})

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/readyz").Code, "seed-only pools are degraded, not unready")

	rec := do(s, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeProblem(t, rec).Error)

	rec = do(s, http.MethodDelete, "/api/pools")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPoolRefresh_FailureServesFallback(t *testing.T) {
	var hits atomic.Int32
	list := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer list.Close()

	set, err := pool.NewSet([]pool.Definition{{
		Name:       "inv",
		Kind:       stream.KindInvidious,
		Policy:     pool.PolicyOrdered,
		Seed:       []string{"https://seed.example"},
		RefreshURL: list.URL,
	}}, pool.RefresherOptions{})
	require.NoError(t, err)
	s := New(Deps{Resolver: &fakeResolver{}, Pools: set}, testRouting, middleware.StackConfig{})

	rec := do(s, http.MethodPost, "/api/pools/inv/refresh")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, "refresh_failed", p.Error)
	assert.Contains(t, p.Detail, "serving seed list")
	assert.Positive(t, hits.Load())

	snaps := set.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, []string{"https://seed.example"}, snaps[0].URLs())
}
