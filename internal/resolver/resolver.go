// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resolver drives a provider pool and a prober under a global time
// budget and a minimum-quality policy. Candidates are probed strictly one at
// a time and the first accepted response wins.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	xglog "github.com/ManuGH/ytrelay/internal/log"
	"github.com/ManuGH/ytrelay/internal/metrics"
	"github.com/ManuGH/ytrelay/internal/pool"
	"github.com/ManuGH/ytrelay/internal/probe"
	"github.com/ManuGH/ytrelay/internal/resilience"
	"github.com/ManuGH/ytrelay/internal/selector"
	"github.com/ManuGH/ytrelay/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultProbeTimeout = 3 * time.Second
	DefaultBudget       = 10 * time.Second
)

// Mode selects which result shapes pass the quality gate.
type Mode string

const (
	ModeMuxed    Mode = "muxed"
	ModeManifest Mode = "manifest"
	// ModeAny tries muxed first, then manifest, against the same response.
	ModeAny Mode = "any"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeMuxed || m == ModeManifest || m == ModeAny
}

// Policy bounds one resolution.
type Policy struct {
	// MinHeight is the lowest acceptable video height. Manifests that do
	// not declare a height are accepted.
	MinHeight    int
	Mode         Mode
	ProbeTimeout time.Duration
	Budget       time.Duration
	// Preference biases track choice within an accepted response.
	Preference selector.Preference
}

func (p Policy) withDefaults() Policy {
	if p.Mode == "" {
		p.Mode = ModeMuxed
	}
	if p.ProbeTimeout <= 0 {
		p.ProbeTimeout = DefaultProbeTimeout
	}
	if p.Budget <= 0 {
		p.Budget = DefaultBudget
	}
	return p
}

// Validate rejects policies that cannot be honored.
func (p Policy) Validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", stream.ErrInvalidInput, p.Mode)
	}
	if p.MinHeight < 0 {
		return fmt.Errorf("%w: negative minimum height", stream.ErrInvalidInput)
	}
	return nil
}

// Pools hands out attempt-local cursors by pool name. *pool.Set implements it.
type Pools interface {
	Cursor(name string) (*pool.Cursor, error)
}

// Options configure a Resolver.
type Options struct {
	Pools  Pools
	Prober probe.Prober
	// Breakers skips endpoints whose breaker is open. Nil disables it.
	Breakers *resilience.Registry
	Now      func() time.Time
}

// Resolver is safe for concurrent use; each call owns its cursor.
type Resolver struct {
	pools    Pools
	prober   probe.Prober
	breakers *resilience.Registry
	now      func() time.Time
	tracer   trace.Tracer
}

// New returns a Resolver.
func New(opts Options) *Resolver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		pools:    opts.Pools,
		prober:   opts.Prober,
		breakers: opts.Breakers,
		now:      opts.Now,
		tracer:   telemetry.Tracer("ytrelay/resolver"),
	}
}

// Resolve walks the named pool until a candidate passes the quality gate.
// The only error returned is *stream.ResolutionFailure, or an error wrapping
// stream.ErrInvalidInput for a bad policy.
func (r *Resolver) Resolve(ctx context.Context, poolName string, id stream.VideoID, p Policy) (stream.ResolvedStream, error) {
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return stream.ResolvedStream{}, err
	}
	return r.resolve(ctx, poolName, id, p, r.now().Add(p.Budget))
}

func (r *Resolver) resolve(ctx context.Context, poolName string, id stream.VideoID, p Policy, deadline time.Time) (stream.ResolvedStream, error) {
	start := r.now()
	ctx, span := r.tracer.Start(ctx, "resolver.resolve",
		trace.WithAttributes(telemetry.ResolveAttributes(id.String(), poolName, string(p.Mode), p.MinHeight)...))
	defer span.End()

	logger := xglog.WithComponentFromContext(ctx, "resolver").With().
		Str(xglog.FieldPool, poolName).
		Str(xglog.FieldVideoID, id.String()).
		Logger()

	finish := func(res stream.ResolvedStream, fail *stream.ResolutionFailure) (stream.ResolvedStream, error) {
		outcome, attempts := "success", res.Attempts
		if fail != nil {
			outcome, attempts = string(fail.Reason), fail.Attempts
			telemetry.RecordError(span, fail, outcome)
		}
		span.SetAttributes(telemetry.OutcomeAttributes(outcome, attempts)...)
		metrics.RecordResolve(poolName, string(p.Mode), outcome, attempts, r.now().Sub(start))
		if fail != nil {
			logger.Warn().
				Str(xglog.FieldEvent, "resolve.failed").
				Str(xglog.FieldReason, outcome).
				Int("attempts", fail.Attempts).
				Int("quality_rejections", fail.QualityRejections).
				Msg("resolution failed")
			return stream.ResolvedStream{}, fail
		}
		logger.Info().
			Str(xglog.FieldEvent, "resolve.succeeded").
			Str(xglog.FieldEndpoint, res.Endpoint.String()).
			Str("kind", string(res.Kind)).
			Int("attempts", res.Attempts).
			Msg("stream resolved")
		return res, nil
	}

	cursor, err := r.pools.Cursor(poolName)
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "resolve.no_providers").Msg("pool has no candidates")
		return finish(stream.ResolvedStream{}, &stream.ResolutionFailure{Reason: stream.ReasonNoProvidersAvailable})
	}

	fail := &stream.ResolutionFailure{Reason: stream.ReasonNoProvidersSucceeded}
	for {
		if reason, stop := r.interrupted(ctx, deadline); stop {
			fail.Reason = reason
			return finish(stream.ResolvedStream{}, fail)
		}
		ep, ok := cursor.Next()
		if !ok {
			return finish(stream.ResolvedStream{}, fail)
		}

		breaker := r.breakers.Get(ep.BaseURL)
		if breaker != nil && !breaker.Allow() {
			metrics.IncCandidate(poolName, "breaker_open")
			logger.Debug().Str(xglog.FieldEndpoint, ep.String()).Msg("skipping candidate with open breaker")
			continue
		}

		fail.Attempts++
		res, rejected, err := r.try(ctx, ep, id, p, fail.Attempts)
		switch {
		case err != nil && ctx.Err() != nil:
			// Aborted by the caller, not the endpoint's fault.
			if breaker != nil {
				breaker.Release()
			}
			fail.Reason = ctxReason(ctx.Err())
			return finish(stream.ResolvedStream{}, fail)
		case err != nil:
			if breaker != nil {
				breaker.RecordFailure()
			}
			metrics.IncCandidate(poolName, "probe_failed")
			logger.Info().Err(err).
				Str(xglog.FieldEvent, "resolve.candidate_failed").
				Str(xglog.FieldEndpoint, ep.String()).
				Int(xglog.FieldAttempt, fail.Attempts).
				Msg("candidate probe failed")
			continue
		}

		if breaker != nil {
			breaker.RecordSuccess()
		}
		switch {
		case errors.Is(rejected, stream.ErrQualityRejected):
			fail.QualityRejections++
			metrics.IncCandidate(poolName, "quality_rejected")
			logger.Info().
				Str(xglog.FieldEvent, "resolve.quality_rejected").
				Str(xglog.FieldEndpoint, ep.String()).
				Int(xglog.FieldAttempt, fail.Attempts).
				Int("min_height", p.MinHeight).
				Msg("candidate below quality policy")
			continue
		case rejected != nil:
			metrics.IncCandidate(poolName, "unplayable")
			logger.Info().
				Str(xglog.FieldEvent, "resolve.unplayable").
				Str(xglog.FieldEndpoint, ep.String()).
				Int(xglog.FieldAttempt, fail.Attempts).
				Msg("candidate has no playable stream")
			continue
		}

		metrics.IncCandidate(poolName, "accepted")
		cursor.Promote(ep)
		res.VideoID = id
		res.Attempts = fail.Attempts
		return finish(res, nil)
	}
}

// try probes one candidate and applies the quality gate. rejected is the
// gate verdict; err is a probe failure.
func (r *Resolver) try(ctx context.Context, ep stream.Endpoint, id stream.VideoID, p Policy, attempt int) (res stream.ResolvedStream, rejected, err error) {
	ctx, span := r.tracer.Start(ctx, "resolver.probe",
		trace.WithAttributes(telemetry.ProbeAttributes(ep.String(), string(ep.Kind), attempt)...))
	defer span.End()

	result, err := r.prober.Probe(ctx, ep, id, p.ProbeTimeout)
	if err != nil {
		telemetry.RecordError(span, err, "probe_failed")
		return stream.ResolvedStream{}, nil, err
	}
	res, rejected = Gate(result, p)
	switch {
	case errors.Is(rejected, stream.ErrQualityRejected):
		telemetry.RecordError(span, rejected, "quality_rejected")
	case rejected != nil:
		telemetry.RecordError(span, rejected, "unplayable")
	}
	return res, rejected, nil
}

// interrupted reports whether the attempt must stop before the next candidate.
func (r *Resolver) interrupted(ctx context.Context, deadline time.Time) (stream.Reason, bool) {
	if err := ctx.Err(); err != nil {
		return ctxReason(err), true
	}
	if !r.now().Before(deadline) {
		return stream.ReasonTimeout, true
	}
	return "", false
}

func ctxReason(err error) stream.Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return stream.ReasonTimeout
	}
	return stream.ReasonCanceled
}

// Gate applies the quality policy to one probe result. Video and audio of a
// muxed result always come from result itself. A nil error accepts the
// result; stream.ErrQualityRejected means a playable stream was below the
// minimum height and stream.ErrNoPlayableStream that nothing usable was
// offered for the mode.
func Gate(result stream.ProbeResult, p Policy) (stream.ResolvedStream, error) {
	c := selector.ClassifyWith(result.Formats, p.Preference)
	switch p.Mode {
	case ModeMuxed:
		return muxed(result, c, p.MinHeight)
	case ModeManifest:
		return manifest(result, c, p.MinHeight)
	case ModeAny:
		res, errMuxed := muxed(result, c, p.MinHeight)
		if errMuxed == nil {
			return res, nil
		}
		res, errManifest := manifest(result, c, p.MinHeight)
		if errManifest == nil {
			return res, nil
		}
		if errors.Is(errMuxed, stream.ErrQualityRejected) {
			return stream.ResolvedStream{}, errMuxed
		}
		return stream.ResolvedStream{}, errManifest
	}
	return stream.ResolvedStream{}, fmt.Errorf("%w: unknown mode %q", stream.ErrInvalidInput, p.Mode)
}

func muxed(result stream.ProbeResult, c selector.Classified, minHeight int) (stream.ResolvedStream, error) {
	video, hasVideo := c.BestVideo()
	audio, hasAudio := c.BestAudio()
	if !hasVideo || !hasAudio {
		return stream.ResolvedStream{}, fmt.Errorf("%w: muxed needs video and audio (videos=%d, audios=%d)",
			stream.ErrNoPlayableStream, len(c.Videos), len(c.Audios))
	}
	if video.Height < minHeight {
		// A codec preference never costs the height floor.
		if top := c.Videos[0]; top.Height >= minHeight {
			video = top
		} else {
			return stream.ResolvedStream{}, fmt.Errorf("%w: best video %dp below %dp",
				stream.ErrQualityRejected, top.Height, minHeight)
		}
	}
	return stream.ResolvedStream{
		Endpoint: result.Endpoint,
		Kind:     stream.ResultMuxed,
		Video:    &video,
		Audio:    &audio,
		Metadata: result.Metadata,
	}, nil
}

func manifest(result stream.ProbeResult, c selector.Classified, minHeight int) (stream.ResolvedStream, error) {
	m, ok := c.BestManifest()
	if !ok {
		return stream.ResolvedStream{}, fmt.Errorf("%w: no manifest offered", stream.ErrNoPlayableStream)
	}
	if m.Height != 0 && m.Height < minHeight {
		return stream.ResolvedStream{}, fmt.Errorf("%w: manifest %dp below %dp",
			stream.ErrQualityRejected, m.Height, minHeight)
	}
	return stream.ResolvedStream{
		Endpoint: result.Endpoint,
		Kind:     stream.ResultManifest,
		Manifest: &m,
		Metadata: result.Metadata,
	}, nil
}
