// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/ytrelay/internal/cache"
	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/ManuGH/ytrelay/internal/fsutil"
	xglog "github.com/ManuGH/ytrelay/internal/log"
	"github.com/ManuGH/ytrelay/internal/metrics"
	"github.com/ManuGH/ytrelay/internal/platform/httpx"
	netutil "github.com/ManuGH/ytrelay/internal/platform/net"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	maxListBytes    = 1 << 20
	defaultCacheTTL = 7 * 24 * time.Hour
)

// ErrRefreshFailed reports that no remote list could be fetched. The pool
// still holds a usable snapshot from the fallback chain.
var ErrRefreshFailed = errors.New("pool: remote refresh failed")

// Definition is the configured shape of one pool.
type Definition struct {
	Name   string
	Kind   stream.ProviderKind
	Policy Policy
	// Seed is the built-in list used when nothing better is known.
	Seed []string
	// RefreshURL serves a JSON list of base URLs. Empty means static pool.
	RefreshURL string
	// RefreshFallbackURL is tried when RefreshURL fails. When empty the
	// primary URL is retried once.
	RefreshFallbackURL string
}

// SeedSnapshot builds the seed snapshot of d.
func (d Definition) SeedSnapshot(at time.Time) Snapshot {
	return NewSnapshot(d.Name, d.Kind, d.Policy, d.Seed, SourceSeed, at)
}

func (d Definition) static() bool {
	return d.RefreshURL == "" && d.RefreshFallbackURL == ""
}

// RefresherOptions are shared by all refreshers of a Set.
type RefresherOptions struct {
	Client *http.Client
	// Cache keeps the last-known-good list; nil disables it.
	Cache    cache.Cache
	CacheTTL time.Duration
	// SnapshotDir receives an atomically written <pool>.json per pool; empty disables it.
	SnapshotDir string
	Now         func() time.Time
}

func (o RefresherOptions) withDefaults() RefresherOptions {
	if o.Client == nil {
		o.Client = httpx.NewTracedClient(10 * time.Second)
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = defaultCacheTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Refresher replaces a store's snapshot from the remote list, falling back
// to cache, snapshot file and seed in that order.
type Refresher struct {
	mu  sync.RWMutex
	def Definition

	store  *Store
	opts   RefresherOptions
	group  singleflight.Group
	logger zerolog.Logger
}

// NewRefresher binds def to store.
func NewRefresher(def Definition, store *Store, opts RefresherOptions) *Refresher {
	return &Refresher{
		def:    def,
		store:  store,
		opts:   opts.withDefaults(),
		logger: xglog.WithComponent("pool").With().Str(xglog.FieldPool, def.Name).Logger(),
	}
}

// Definition returns the current definition.
func (r *Refresher) Definition() Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

// SetDefinition replaces the definition used by later refreshes.
func (r *Refresher) SetDefinition(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = d
}

// Refresh fetches the remote list. Concurrent callers share one fetch.
// On failure the returned snapshot comes from the fallback chain and the
// error wraps ErrRefreshFailed.
func (r *Refresher) Refresh(ctx context.Context) (Snapshot, error) {
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		return r.refresh(ctx)
	})
	snap, _ := v.(Snapshot)
	return snap, err
}

func (r *Refresher) refresh(ctx context.Context) (Snapshot, error) {
	def := r.Definition()
	if def.static() {
		return r.store.Snapshot(), nil
	}

	now := r.opts.Now()
	urls, source, fetchErr := r.fetchRemote(ctx, def)
	if fetchErr == nil {
		snap := NewSnapshot(def.Name, def.Kind, def.Policy, urls, source, now)
		if snap.Size() > 0 {
			r.store.Replace(snap)
			r.persist(ctx, def.Name, snap.URLs())
			metrics.IncPoolRefresh(def.Name, "success")
			metrics.RecordPoolSnapshot(def.Name, string(snap.Source), snap.Size(), now)
			r.logger.Info().
				Str(xglog.FieldEvent, "pool.refreshed").
				Str("source", string(snap.Source)).
				Int("endpoints", snap.Size()).
				Msg("pool refreshed from remote list")
			return snap, nil
		}
		fetchErr = errors.New("remote list contained no usable endpoints")
	}

	current := r.store.Snapshot()
	if (current.Source == SourceRemote || current.Source == SourceMirror) && current.Size() > 0 {
		metrics.IncPoolRefresh(def.Name, "fallback")
		r.logger.Warn().Err(fetchErr).
			Str(xglog.FieldEvent, "pool.refresh_failed").
			Str("source", string(current.Source)).
			Msg("remote refresh failed, keeping current snapshot")
		return current, fmt.Errorf("%w: %v", ErrRefreshFailed, fetchErr)
	}

	snap, ok := r.lastKnownGood(ctx, def, now)
	if !ok {
		snap = def.SeedSnapshot(now)
	}
	r.store.Replace(snap)
	metrics.IncPoolRefresh(def.Name, "fallback")
	metrics.RecordPoolSnapshot(def.Name, string(snap.Source), snap.Size(), now)
	r.logger.Warn().Err(fetchErr).
		Str(xglog.FieldEvent, "pool.refresh_failed").
		Str("source", string(snap.Source)).
		Int("endpoints", snap.Size()).
		Msg("remote refresh failed, using fallback list")
	return snap, fmt.Errorf("%w: %v", ErrRefreshFailed, fetchErr)
}

func (r *Refresher) fetchRemote(ctx context.Context, def Definition) ([]string, Source, error) {
	primary, mirror := def.RefreshURL, def.RefreshFallbackURL
	if primary == "" {
		primary = mirror
	}
	if mirror == "" {
		mirror = primary
	}

	urls, err := r.fetchList(ctx, primary)
	if err == nil {
		return urls, SourceRemote, nil
	}
	r.logger.Debug().Err(err).Str("url", primary).Msg("primary list fetch failed, trying mirror")
	if ctx.Err() != nil {
		return nil, "", err
	}

	urls, mirrorErr := r.fetchList(ctx, mirror)
	if mirrorErr == nil {
		return urls, SourceMirror, nil
	}
	return nil, "", errors.Join(err, mirrorErr)
}

func (r *Refresher) fetchList(ctx context.Context, target string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := r.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("list %s: HTTP %d", netutil.SanitizeURL(target), res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxListBytes))
	if err != nil {
		return nil, fmt.Errorf("read list: %w", err)
	}
	return ParseList(body)
}

func cacheKey(pool string) string { return "pool:" + pool }

// snapshotPath is empty when snapshots are disabled or the pool name would
// land outside SnapshotDir.
func (r *Refresher) snapshotPath(pool string) string {
	if r.opts.SnapshotDir == "" {
		return ""
	}
	path, err := fsutil.Confine(r.opts.SnapshotDir, pool+".json")
	if err != nil {
		r.logger.Warn().Err(err).Str("pool", pool).Msg("pool snapshot file disabled")
		return ""
	}
	return path
}

func (r *Refresher) persist(ctx context.Context, pool string, urls []string) {
	data, err := json.Marshal(urls)
	if err != nil {
		r.logger.Warn().Err(err).Msg("encode last-known-good list")
		return
	}
	if r.opts.Cache != nil {
		r.opts.Cache.Set(ctx, cacheKey(pool), data, r.opts.CacheTTL)
	}
	if path := r.snapshotPath(pool); path != "" {
		if err := writeSnapshotFile(path, data); err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("write pool snapshot file")
		}
	}
}

func (r *Refresher) lastKnownGood(ctx context.Context, def Definition, now time.Time) (Snapshot, bool) {
	if r.opts.Cache != nil {
		if data, ok := r.opts.Cache.Get(ctx, cacheKey(def.Name)); ok {
			if snap, ok := r.decodeSnapshot(def, data, SourceCache, now); ok {
				return snap, true
			}
		}
	}
	if path := r.snapshotPath(def.Name); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn().Err(err).Str("path", path).Msg("read pool snapshot file")
			}
			return Snapshot{}, false
		}
		return r.decodeSnapshot(def, data, SourceFile, now)
	}
	return Snapshot{}, false
}

func (r *Refresher) decodeSnapshot(def Definition, data []byte, source Source, now time.Time) (Snapshot, bool) {
	urls, err := ParseList(data)
	if err != nil {
		r.logger.Warn().Err(err).Str("source", string(source)).Msg("discarding corrupt last-known-good list")
		return Snapshot{}, false
	}
	snap := NewSnapshot(def.Name, def.Kind, def.Policy, urls, source, now)
	return snap, snap.Size() > 0
}

// writeSnapshotFile replaces path atomically and durably.
func writeSnapshotFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending snapshot file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write snapshot data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace snapshot file: %w", err)
	}
	return nil
}

// ParseList decodes a provider list. Accepted shapes are an array of URL
// strings, an array of {"url"|"uri"} objects, an array of [name, {"uri"}]
// pairs, or any of these under an "instances" key.
func ParseList(body []byte) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		var wrapped struct {
			Instances []json.RawMessage `json:"instances"`
		}
		if werr := json.Unmarshal(body, &wrapped); werr != nil || wrapped.Instances == nil {
			return nil, fmt.Errorf("decode provider list: %w", err)
		}
		items = wrapped.Instances
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		if u := itemURL(it); u != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func itemURL(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
		URI string `json:"uri"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if obj.URL != "" {
			return obj.URL
		}
		return obj.URI
	}
	var pair []json.RawMessage
	if json.Unmarshal(raw, &pair) == nil && len(pair) == 2 {
		return itemURL(pair[1])
	}
	return ""
}
