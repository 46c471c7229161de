// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/ManuGH/ytrelay/internal/platform/httpx"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent    = "Mozilla/5.0 (compatible; ytrelay)"
	defaultMaxBodyBytes = 4 << 20
)

// HTTPOptions configures an HTTPProber.
type HTTPOptions struct {
	// Client overrides the traced httpx client. Tests pass httptest clients here.
	Client    *http.Client
	UserAgent string
	// RatePerSecond throttles probes per endpoint base URL. Zero disables throttling.
	RatePerSecond float64
	Burst         int
	MaxBodyBytes  int64
}

// HTTPProber probes the HTTP provider kinds (invidious and manifest).
type HTTPProber struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	limit     rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPProber builds a prober over the hardened outbound client.
func NewHTTPProber(opts HTTPOptions) *HTTPProber {
	client := opts.Client
	if client == nil {
		client = httpx.NewTracedClient(0)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	p := &HTTPProber{
		client:    client,
		userAgent: ua,
		maxBody:   maxBody,
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
	}
	if opts.RatePerSecond > 0 {
		p.limit = rate.Limit(opts.RatePerSecond)
	}
	return p
}

func (p *HTTPProber) Probe(ctx context.Context, ep stream.Endpoint, id stream.VideoID, timeout time.Duration) (stream.ProbeResult, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	var target string
	switch ep.Kind {
	case stream.KindInvidious:
		target = invidiousURL(ep.BaseURL, id)
	case stream.KindManifest:
		target = manifestURL(ep.BaseURL, id)
	default:
		return stream.ProbeResult{}, failure(ep, stream.StageTransport, 0, fmt.Errorf("http prober cannot serve kind %q", ep.Kind))
	}

	if err := p.wait(ctx, ep); err != nil {
		return stream.ProbeResult{}, failure(ep, stream.StageTransport, 0, fmt.Errorf("rate limit wait: %w", err))
	}

	body, status, err := p.fetch(ctx, target)
	if err != nil {
		return stream.ProbeResult{}, failure(ep, stream.StageTransport, 0, err)
	}
	if status < 200 || status > 299 {
		return stream.ProbeResult{}, failure(ep, stream.StageStatus, status, nil)
	}

	var (
		formats []stream.RawFormat
		meta    stream.Metadata
	)
	switch ep.Kind {
	case stream.KindInvidious:
		formats, meta, err = normalizeInvidious(body)
	case stream.KindManifest:
		formats, err = normalizeManifest(body)
	}
	if err != nil {
		return stream.ProbeResult{}, failure(ep, stream.StageDecode, status, err)
	}
	if len(formats) == 0 {
		return stream.ProbeResult{}, failure(ep, stream.StageEmpty, status, nil)
	}
	return stream.ProbeResult{Endpoint: ep, Formats: formats, Metadata: meta}, nil
}

func (p *HTTPProber) fetch(ctx context.Context, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, p.maxBody))
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, res.StatusCode, nil
}

func (p *HTTPProber) wait(ctx context.Context, ep stream.Endpoint) error {
	if p.limit == 0 {
		return nil
	}
	p.mu.Lock()
	l, ok := p.limiters[ep.BaseURL]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[ep.BaseURL] = l
	}
	p.mu.Unlock()
	return l.Wait(ctx)
}

func invidiousURL(base string, id stream.VideoID) string {
	return strings.TrimRight(base, "/") + "/api/v1/videos/" + url.PathEscape(id.String())
}

// manifestURL appends the id as a path segment when base ends with a slash,
// otherwise as the video_id query parameter.
func manifestURL(base string, id stream.VideoID) string {
	if strings.HasSuffix(base, "/") {
		return base + url.PathEscape(id.String())
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "video_id=" + url.QueryEscape(id.String())
}
