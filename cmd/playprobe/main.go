// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command playprobe plays a video through a running daemon the way a
// client would: it walks the HLS and auto strategies with the playback
// fallback controller and prints a JSON report of what happened.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/ytrelay/internal/config"
	"github.com/ManuGH/ytrelay/internal/domain/stream"
	xglog "github.com/ManuGH/ytrelay/internal/log"
	"github.com/ManuGH/ytrelay/internal/platform/httpx"
	"github.com/ManuGH/ytrelay/internal/playback"
	"github.com/ManuGH/ytrelay/internal/version"
)

// Report is the JSON document printed on stdout.
type Report struct {
	Timestamp time.Time    `json:"timestamp"`
	BaseURL   string       `json:"base_url"`
	VideoID   string       `json:"video_id"`
	Final     string       `json:"final"`
	Strategy  string       `json:"strategy,omitempty"`
	ElapsedMs int64        `json:"elapsed_ms"`
	Events    []Event      `json:"events"`
	Loads     []loadResult `json:"loads"`
}

// Event is one listener signal from the controller.
type Event struct {
	AtMs     int64  `json:"at_ms"`
	Kind     string `json:"kind"`
	Index    int    `json:"index"`
	Strategy string `json:"strategy,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Options configures one probe run.
type Options struct {
	BaseURL  string
	VideoID  string
	Baseline string
	Watchdog time.Duration
	Timeout  time.Duration
}

func main() {
	baseURL := flag.String("base-url", "", "daemon base URL (default $YTRELAY_BASE_URL or http://localhost:8080)")
	videoID := flag.String("id", "", "video id to play")
	baseline := flag.String("baseline", "", "baseline source loaded after every strategy failed")
	watchdog := flag.Duration("watchdog", playback.DefaultWatchdog, "start watchdog for manifest strategies")
	timeout := flag.Duration("timeout", 30*time.Second, "overall probe timeout")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	xglog.Configure(xglog.Config{Level: "warn", Output: os.Stderr, Service: "playprobe", Version: version.Version})

	opts := Options{
		BaseURL:  *baseURL,
		VideoID:  *videoID,
		Baseline: *baseline,
		Watchdog: *watchdog,
		Timeout:  *timeout,
	}
	if opts.BaseURL == "" {
		opts.BaseURL = config.ParseString(config.EnvPrefix+"BASE_URL", "http://localhost:8080")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Probe failed: %v\n", err)
		os.Exit(2)
	}
	if err := writeReport(os.Stdout, report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
		os.Exit(2)
	}
	if report.Final != string(playback.PhasePlaying) {
		os.Exit(1)
	}
}

func writeReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// strategies lists the daemon endpoints in client fallback order.
func strategies(base, id string) []playback.Strategy {
	q := "?v=" + url.QueryEscape(id)
	return []playback.Strategy{
		{Name: "hls", Source: base + "/api/streamurl/hls" + q, Manifest: true},
		{Name: "auto", Source: base + "/api/streamurl/auto" + q, Manifest: true},
	}
}

func run(ctx context.Context, opts Options) (Report, error) {
	id, err := stream.ParseVideoID(opts.VideoID)
	if err != nil {
		return Report{}, err
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return Report{}, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	if opts.Baseline == "" {
		opts.Baseline = base + "/api/streamurl?v=" + url.QueryEscape(string(id))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	start := time.Now()
	rec := newRecorder(start)
	player := newHTTPPlayer(httpx.NewClient(opts.Timeout))

	ctrl, err := playback.New(playback.Config{
		Strategies: strategies(base, string(id)),
		Baseline:   opts.Baseline,
		Watchdog:   opts.Watchdog,
		Player:     player,
		Listener:   rec,
	})
	if err != nil {
		return Report{}, err
	}
	player.bind(ctrl)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ctrl.Start()
	select {
	case <-rec.done:
		player.Wait()
	case <-ctx.Done():
	}
	loads := player.Stop()

	report := Report{
		Timestamp: start.UTC(),
		BaseURL:   base,
		VideoID:   string(id),
		ElapsedMs: time.Since(start).Milliseconds(),
		Events:    rec.snapshot(),
		Loads:     loads,
	}
	state := ctrl.State()
	report.Final = string(state.Phase)
	if state.Index >= 0 {
		report.Strategy = ctrl.Strategies()[state.Index].Name
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && state.Phase == playback.PhaseAttempting {
		report.Final = "timeout"
	}
	return report, nil
}

// recorder is the controller listener; done closes on the first terminal
// signal (Playing or Degraded).
type recorder struct {
	start time.Time
	done  chan struct{}
	once  sync.Once

	mu     sync.Mutex
	events []Event
}

func newRecorder(start time.Time) *recorder {
	return &recorder{start: start, done: make(chan struct{})}
}

func (r *recorder) add(e Event) {
	e.AtMs = time.Since(r.start).Milliseconds()
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) StrategyChanged(index int, s playback.Strategy) {
	r.add(Event{Kind: "attempt", Index: index, Strategy: s.Name, Source: s.Source})
}

func (r *recorder) Degraded(baseline string) {
	r.add(Event{Kind: "degraded", Index: -1, Source: baseline})
	r.once.Do(func() { close(r.done) })
}

func (r *recorder) Playing(index int) {
	r.add(Event{Kind: "playing", Index: index})
	r.once.Do(func() { close(r.done) })
}
