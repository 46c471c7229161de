// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/ManuGH/ytrelay/internal/pool"
	"github.com/ManuGH/ytrelay/internal/probe"
	"github.com/ManuGH/ytrelay/internal/resilience"
	"github.com/ManuGH/ytrelay/internal/selector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID stream.VideoID = "dQw4w9WgXcQ"

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type pools map[string]*pool.Store

func (p pools) Cursor(name string) (*pool.Cursor, error) {
	s, ok := p[name]
	if !ok {
		return nil, pool.ErrUnknownPool
	}
	return s.Cursor()
}

func newPools(name string, policy pool.Policy, urls ...string) pools {
	return pools{name: pool.NewStore(pool.NewSnapshot(name, stream.KindInvidious, policy, urls, pool.SourceSeed, t0))}
}

// scriptedProber answers per base URL and records every probe issued.
type scriptedProber struct {
	mu      sync.Mutex
	answers map[string]func(ctx context.Context) (stream.ProbeResult, error)
	calls   []string
	clock   *fakeClock
	cost    time.Duration
}

func (s *scriptedProber) Probe(ctx context.Context, ep stream.Endpoint, _ stream.VideoID, _ time.Duration) (stream.ProbeResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, ep.BaseURL)
	answer := s.answers[ep.BaseURL]
	s.mu.Unlock()

	if s.clock != nil {
		s.clock.Advance(s.cost)
	}
	if answer == nil {
		return stream.ProbeResult{}, &stream.ProbeFailure{Endpoint: ep, Stage: stream.StageTransport, Cause: errors.New("connection refused")}
	}
	res, err := answer(ctx)
	res.Endpoint = ep
	return res, err
}

func (s *scriptedProber) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func formats(fs ...stream.RawFormat) func(context.Context) (stream.ProbeResult, error) {
	return func(context.Context) (stream.ProbeResult, error) {
		return stream.ProbeResult{Formats: fs, Metadata: stream.Metadata{Title: "t"}}, nil
	}
}

func video(w, h int, url string) stream.RawFormat {
	return stream.RawFormat{MimeType: "video/mp4", Width: w, Height: h, URL: url}
}

func audio(bitrate int, url string) stream.RawFormat {
	return stream.RawFormat{MimeType: "audio/webm", Bitrate: bitrate, URL: url}
}

func hls(height int, url string) stream.RawFormat {
	return stream.RawFormat{MimeType: "application/x-mpegURL", Height: height, URL: url}
}

func newResolver(p Pools, pr probe.Prober, clock *fakeClock) *Resolver {
	opts := Options{Pools: p, Prober: pr}
	if clock != nil {
		opts.Now = clock.Now
	}
	return New(opts)
}

func requireFailure(t *testing.T, err error) *stream.ResolutionFailure {
	t.Helper()
	var fail *stream.ResolutionFailure
	require.ErrorAs(t, err, &fail)
	return fail
}

func TestResolve_SkipsFailedAndLowQualityCandidates(t *testing.T) {
	prober := &scriptedProber{answers: map[string]func(context.Context) (stream.ProbeResult, error){
		"https://p2": formats(video(854, 480, "https://p2/v"), audio(128000, "https://p2/a")),
		"https://p3": formats(
			video(1280, 720, "https://p3/v720"),
			video(1920, 1080, "https://p3/v1080"),
			audio(128000, "https://p3/a"),
		),
	}}
	r := newResolver(newPools("inv", pool.PolicyOrdered, "https://p1", "https://p2", "https://p3"), prober, nil)

	res, err := r.Resolve(context.Background(), "inv", testID, Policy{MinHeight: 720, Mode: ModeMuxed})
	require.NoError(t, err)

	assert.Equal(t, stream.ResultMuxed, res.Kind)
	assert.Equal(t, "https://p3", res.Endpoint.BaseURL)
	assert.Equal(t, "https://p3/v1080", res.Video.URL)
	assert.Equal(t, "https://p3/a", res.Audio.URL)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, testID, res.VideoID)
	assert.Equal(t, "t", res.Metadata.Title)
	assert.Equal(t, []string{"https://p1", "https://p2", "https://p3"}, prober.Calls())
}

func TestResolve_StickyPoolTriesLastWinnerFirst(t *testing.T) {
	good := formats(video(1920, 1080, "v"), audio(1, "a"))
	prober := &scriptedProber{answers: map[string]func(context.Context) (stream.ProbeResult, error){
		"https://p3": good,
	}}
	r := newResolver(newPools("inv", pool.PolicySticky, "https://p1", "https://p2", "https://p3"), prober, nil)

	res, err := r.Resolve(context.Background(), "inv", testID, Policy{MinHeight: 720})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)

	res, err = r.Resolve(context.Background(), "inv", testID, Policy{MinHeight: 720})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"https://p1", "https://p2", "https://p3", "https://p3"}, prober.Calls())
}

func TestResolve_FirstSuccessStopsProbing(t *testing.T) {
	prober := &scriptedProber{answers: map[string]func(context.Context) (stream.ProbeResult, error){
		"https://p1": formats(video(1920, 1080, "v1"), audio(1, "a1")),
		"https://p2": formats(video(3840, 2160, "v2"), audio(2, "a2")),
	}}
	r := newResolver(newPools("inv", pool.PolicyOrdered, "https://p1", "https://p2"), prober, nil)

	res, err := r.Resolve(context.Background(), "inv", testID, Policy{MinHeight: 720})
	require.NoError(t, err)
	assert.Equal(t, "v1", res.Video.URL, "first success wins over a better later candidate")
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"https://p1"}, prober.Calls())
}

func TestResolve_AllFailOrdered(t *testing.T) {
	prober := &scriptedProber{}
	urls := []string{"https://p1", "https://p2", "https://p3", "https://p4"}
	r := newResolver(newPools("inv", pool.PolicyOrdered, urls...), prober, nil)

	_, err := r.Resolve(context.Background(), "inv", testID, Policy{MinHeight: 720})
	fail := requireFailure(t, err)
	assert.Equal(t, stream.ReasonNoProvidersSucceeded, fail.Reason)
	assert.Equal(t, len(urls), fail.Attempts)
	assert.True(t, errors.Is(err, stream.ErrResolutionExhausted))
	assert.False(t, fail.OnlyQualityRejected())
	assert.Equal(t, urls, prober.Calls())
}

func TestResolve_AllFailRandomNoDuplicates(t *testing.T) {
	urls := []string{"https://p1", "https://p2", "https://p3", "https://p4", "https://p5"}
	p := newPools("hls", pool.PolicyRandom, urls...)

	for range 20 {
		prober := &scriptedProber{}
		r := newResolver(p, prober, nil)
		_, err := r.Resolve(context.Background(), "hls", testID, Policy{Mode: ModeManifest})
		fail := requireFailure(t, err)

		calls := prober.Calls()
		assert.LessOrEqual(t, fail.Attempts, len(urls))
		assert.Equal(t, fail.Attempts, len(calls))
		assert.ElementsMatch(t, urls, calls, "every endpoint exactly once")
	}
}

func TestResolve_OnlyQualityRejections(t *testing.T) {
	low := formats(video(640, 360, "v"), audio(1, "a"))
	prober := &scriptedProber{answers: map[string]func(context.Context) (stream.ProbeResult, error){
		"https://p1": low,
		"https://p2": low,
	}}
	r := newResolver(newPools("inv", pool.PolicyOrdered, "https://p1", "https://p2"), prober, nil)

	_, err := r.Resolve(context.Background(), "inv", testID, Policy{MinHeight: 720})
	fail := requireFailure(t, err)
	assert.Equal(t, 2, fail.QualityRejections)
	assert.True(t, fail.OnlyQualityRejected())
}

func TestResolve_VideoOnlyResponsesAreNotQualityRejections(t *testing.T) {
	videoOnly := formats(video(1920, 1080, "v1080"), video(1280, 720, "v720"))
	prober := &scriptedProber{answers: map[string]func(context.Context) (stream.ProbeResult, error){
		"https://p1": videoOnly,
		"https://p2": videoOnly,
	}}
	r := newResolver(newPools("inv", pool.PolicyOrdered, "https://p1", "https://p2"), prober, nil)

	_, err := r.Resolve(context.Background(), "inv", testID, Policy{MinHeight: 720, Mode: ModeMuxed})
	fail := requireFailure(t, err)
	assert.Equal(t, stream.ReasonNoProvidersSucceeded, fail.Reason)
	assert.Equal(t, 2, fail.Attempts)
	assert.Zero(t, fail.QualityRejections)
	assert.False(t, fail.OnlyQualityRejected())
}

func TestResolve_BudgetBoundsWorstCase(t *testing.T) {
	clock := &fakeClock{now: t0}
	prober := &scriptedProber{clock: clock, cost: 4 * time.Second}
	r := newResolver(newPools("inv", pool.PolicyOrdered, "https://p1", "https://p2", "https://p3", "https://p4", "https://p5"), prober, clock)

	policy := Policy{MinHeight: 720, ProbeTimeout: 5 * time.Second, Budget: 10 * time.Second}
	_, err := r.Resolve(context.Background(), "inv", testID, policy)

	fail := requireFailure(t, err)
	assert.Equal(t, stream.ReasonTimeout, fail.Reason)
	assert.Equal(t, 3, fail.Attempts, "probes start at 0s, 4s and 8s; 12s is past the budget")
	assert.LessOrEqual(t, clock.Now().Sub(t0), policy.Budget+policy.ProbeTimeout)
}

func TestResolve_BudgetWithRealTime(t *testing.T) {
	hang := probe.ProberFunc(func(ctx context.Context, ep stream.Endpoint, _ stream.VideoID, timeout time.Duration) (stream.ProbeResult, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		<-ctx.Done()
		return stream.ProbeResult{}, &stream.ProbeFailure{Endpoint: ep, Stage: stream.StageTransport, Cause: ctx.Err()}
	})
	r := newResolver(newPools("inv", pool.PolicyOrdered, "https://p1", "https://p2", "https://p3", "https://p4"), hang, nil)

	policy := Policy{ProbeTimeout: 60 * time.Millisecond, Budget: 100 * time.Millisecond}
	start := time.Now()
	_, err := r.Resolve(context.Background(), "inv", testID, policy)
	elapsed := time.Since(start)

	fail := requireFailure(t, err)
	assert.Equal(t, stream.ReasonTimeout, fail.Reason)
	assert.LessOrEqual(t, fail.Attempts, 2, "each probe takes 60ms of a 100ms budget")
	assert.Less(t, elapsed, policy.Budget+policy.ProbeTimeout+200*time.Millisecond)
}

func TestResolve_EmptyAndUnknownPool(t *testing.T) {
	prober := &scriptedProber{}
	r := newResolver(newPools("inv", pool.PolicyOrdered), prober, nil)

	for _, name := range []string{"inv", "missing"} {
		_, err := r.Resolve(context.Background(), name, testID, Policy{})
		fail := requireFailure(t, err)
		assert.Equal(t, stream.ReasonNoProvidersAvailable, fail.Reason)
		assert.True(t, errors.Is(err, stream.ErrNoProvidersAvailable))
		assert.Zero(t, fail.Attempts)
	}
	assert.Empty(t, prober.Calls())
}

func TestResolve_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	prober := &scriptedProber{answers: map[string]func(context.Context) (stream.ProbeResult, error){
		"https://p1": func(ctx context.Context) (stream.ProbeResult, error) {
			cancel()
			return stream.ProbeResult{}, ctx.Err()
		},
	}}
	r := newResolver(newPools("inv", pool.PolicyOrdered, "https://p1", "https://p2"), prober, nil)

	_, err := r.Resolve(ctx, "inv", testID, Policy{})
	fail := requireFailure(t, err)
	assert.Equal(t, stream.ReasonCanceled, fail.Reason)
	assert.Equal(t, 1, fail.Attempts)
	assert.Equal(t, []string{"https://p1"}, prober.Calls())
}

func TestResolve_InvalidPolicy(t *testing.T) {
	r := newResolver(newPools("inv", pool.PolicyOrdered, "https://p1"), &scriptedProber{}, nil)
	_, err := r.Resolve(context.Background(), "inv", testID, Policy{Mode: "best"})
	assert.ErrorIs(t, err, stream.ErrInvalidInput)
}

func TestResolve_OpenBreakerSkipsCandidate(t *testing.T) {
	clock := &fakeClock{now: t0}
	breakers := resilience.NewRegistry(1, time.Minute, resilience.WithClock(clock))
	prober := &scriptedProber{answers: map[string]func(context.Context) (stream.ProbeResult, error){
		"https://p2": formats(video(1920, 1080, "v"), audio(1, "a")),
	}}
	r := New(Options{
		Pools:    newPools("inv", pool.PolicyOrdered, "https://p1", "https://p2"),
		Prober:   prober,
		Breakers: breakers,
		Now:      clock.Now,
	})

	_, err := r.Resolve(context.Background(), "inv", testID, Policy{MinHeight: 720})
	require.NoError(t, err)
	assert.Equal(t, resilience.StateOpen, breakers.Get("https://p1").State())

	res, err := r.Resolve(context.Background(), "inv", testID, Policy{MinHeight: 720})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts, "open breaker skips p1 without a probe")
	assert.Equal(t, []string{"https://p1", "https://p2", "https://p2"}, prober.Calls())
}

func TestGate(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		formats  []stream.RawFormat
		wantErr  error
		wantKind stream.ResultKind
	}{
		{name: "muxed ok", mode: ModeMuxed, formats: []stream.RawFormat{video(1280, 720, "v"), audio(1, "a")}, wantKind: stream.ResultMuxed},
		{name: "muxed without audio", mode: ModeMuxed, formats: []stream.RawFormat{video(1920, 1080, "v")}, wantErr: stream.ErrNoPlayableStream},
		{name: "muxed too low", mode: ModeMuxed, formats: []stream.RawFormat{video(854, 480, "v"), audio(1, "a")}, wantErr: stream.ErrQualityRejected},
		{name: "muxed ignores manifest", mode: ModeMuxed, formats: []stream.RawFormat{hls(1080, "https://x/a.m3u8")}, wantErr: stream.ErrNoPlayableStream},
		{name: "manifest undeclared height", mode: ModeManifest, formats: []stream.RawFormat{hls(0, "https://x/a.m3u8")}, wantKind: stream.ResultManifest},
		{name: "manifest too low", mode: ModeManifest, formats: []stream.RawFormat{hls(480, "https://x/a.m3u8")}, wantErr: stream.ErrQualityRejected},
		{name: "manifest missing", mode: ModeManifest, formats: []stream.RawFormat{video(1920, 1080, "v"), audio(1, "a")}, wantErr: stream.ErrNoPlayableStream},
		{name: "any prefers muxed", mode: ModeAny, formats: []stream.RawFormat{hls(1080, "https://x/a.m3u8"), video(1920, 1080, "v"), audio(1, "a")}, wantKind: stream.ResultMuxed},
		{name: "any falls back to manifest", mode: ModeAny, formats: []stream.RawFormat{hls(1080, "https://x/a.m3u8"), video(854, 480, "v"), audio(1, "a")}, wantKind: stream.ResultManifest},
		{name: "any low muxed without manifest", mode: ModeAny, formats: []stream.RawFormat{video(854, 480, "v"), audio(1, "a")}, wantErr: stream.ErrQualityRejected},
		{name: "any video only", mode: ModeAny, formats: []stream.RawFormat{video(1920, 1080, "v")}, wantErr: stream.ErrNoPlayableStream},
		{name: "nothing usable", mode: ModeAny, formats: []stream.RawFormat{{MimeType: "text/plain", URL: "x"}}, wantErr: stream.ErrNoPlayableStream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Gate(stream.ProbeResult{Formats: tt.formats}, Policy{MinHeight: 720, Mode: tt.mode})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, res.Kind)
		})
	}
}

func TestGate_Preference(t *testing.T) {
	formats := []stream.RawFormat{
		{MimeType: `video/webm; codecs="vp9"`, Width: 1920, Height: 1080, URL: "vp9-1080"},
		{MimeType: `video/mp4; codecs="avc1.4d401f"`, Width: 1280, Height: 720, URL: "avc-720"},
		{MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000, URL: "opus-en", Language: "en.4"},
		{MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 128000, URL: "aac-en", Language: "en.4"},
		{MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 96000, URL: "aac-ja", Language: "ja.4"},
	}
	japanese := selector.Preference{AudioLanguages: []string{"ja"}}

	res, err := Gate(stream.ProbeResult{Formats: formats}, Policy{MinHeight: 720, Mode: ModeMuxed})
	require.NoError(t, err)
	assert.Equal(t, "vp9-1080", res.Video.URL)
	assert.Equal(t, "opus-en", res.Audio.URL)

	res, err = Gate(stream.ProbeResult{Formats: formats}, Policy{MinHeight: 720, Mode: ModeMuxed, Preference: japanese})
	require.NoError(t, err)
	assert.Equal(t, "aac-ja", res.Audio.URL)

	res, err = Gate(stream.ProbeResult{Formats: formats}, Policy{MinHeight: 720, Mode: ModeMuxed, Preference: selector.Preference{H264AAC: true}})
	require.NoError(t, err)
	assert.Equal(t, "avc-720", res.Video.URL)
	assert.Equal(t, "aac-en", res.Audio.URL)

	res, err = Gate(stream.ProbeResult{Formats: formats}, Policy{MinHeight: 1080, Mode: ModeMuxed, Preference: selector.Preference{H264AAC: true}})
	require.NoError(t, err)
	assert.Equal(t, "vp9-1080", res.Video.URL, "the codec preference yields to the height floor")
}
