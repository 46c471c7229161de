// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe fetches raw stream metadata from one provider candidate and
// normalizes it into stream.ProbeResult. A probe performs exactly one
// upstream call and never retries; retry policy belongs to the resolver.
package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
)

// Prober queries a single endpoint for a single video.
type Prober interface {
	Probe(ctx context.Context, ep stream.Endpoint, id stream.VideoID, timeout time.Duration) (stream.ProbeResult, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, ep stream.Endpoint, id stream.VideoID, timeout time.Duration) (stream.ProbeResult, error)

func (f ProberFunc) Probe(ctx context.Context, ep stream.Endpoint, id stream.VideoID, timeout time.Duration) (stream.ProbeResult, error) {
	return f(ctx, ep, id, timeout)
}

// Registry dispatches probes to the Prober registered for the endpoint kind.
type Registry struct {
	mu      sync.RWMutex
	probers map[stream.ProviderKind]Prober
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{probers: make(map[stream.ProviderKind]Prober)}
}

// Register binds kind to p, replacing any previous binding.
func (r *Registry) Register(kind stream.ProviderKind, p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probers[kind] = p
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []stream.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]stream.ProviderKind, 0, len(r.probers))
	for k := range r.probers {
		out = append(out, k)
	}
	return out
}

func (r *Registry) Probe(ctx context.Context, ep stream.Endpoint, id stream.VideoID, timeout time.Duration) (stream.ProbeResult, error) {
	r.mu.RLock()
	p, ok := r.probers[ep.Kind]
	r.mu.RUnlock()
	if !ok {
		return stream.ProbeResult{}, &stream.ProbeFailure{
			Endpoint: ep,
			Stage:    stream.StageTransport,
			Cause:    fmt.Errorf("no prober registered for kind %q", ep.Kind),
		}
	}

	start := time.Now()
	res, err := p.Probe(ctx, ep, id, timeout)
	observeProbe(ep.Kind, err, time.Since(start))
	return res, err
}

func failure(ep stream.Endpoint, stage string, status int, cause error) error {
	return &stream.ProbeFailure{Endpoint: ep, Stage: stage, Status: status, Cause: cause}
}

// withTimeout bounds ctx by timeout when it is positive.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
