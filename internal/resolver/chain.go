// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	xglog "github.com/ManuGH/ytrelay/internal/log"
	"github.com/ManuGH/ytrelay/internal/metrics"
	"github.com/ManuGH/ytrelay/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Step is one server-side strategy: a pool resolved in a mode.
type Step struct {
	Name string
	Pool string
	Mode Mode
}

// Chain is an ordered list of steps tried until one succeeds.
type Chain struct {
	Name  string
	Steps []Step
}

// Validate checks the chain shape. Pool existence is checked at resolve time.
func (c Chain) Validate() error {
	if c.Name == "" {
		return errors.New("chain: name is required")
	}
	if len(c.Steps) == 0 {
		return fmt.Errorf("chain %q: no steps", c.Name)
	}
	for i, s := range c.Steps {
		if s.Name == "" || s.Pool == "" {
			return fmt.Errorf("chain %q step %d: name and pool are required", c.Name, i)
		}
		if !s.Mode.Valid() {
			return fmt.Errorf("chain %q step %q: unknown mode %q", c.Name, s.Name, s.Mode)
		}
	}
	return nil
}

// ChainResult is the winning step and its stream.
type ChainResult struct {
	Step   Step
	Stream stream.ResolvedStream
}

// ResolveChain runs the steps in order under one shared budget. p.Mode is
// ignored; each step carries its own. On failure the attempts and quality
// rejections of every step are summed. The reason is timeout or canceled
// when the run was cut short, no_providers_available when no step had any
// candidate, and no_providers_succeeded otherwise.
func (r *Resolver) ResolveChain(ctx context.Context, chain Chain, id stream.VideoID, p Policy) (ChainResult, error) {
	p.Mode = ModeAny
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return ChainResult{}, err
	}
	if err := chain.Validate(); err != nil {
		return ChainResult{}, fmt.Errorf("%w: %v", stream.ErrInvalidInput, err)
	}

	ctx, span := r.tracer.Start(ctx, "resolver.chain",
		trace.WithAttributes(telemetry.ChainAttributes(chain.Name, id.String())...))
	defer span.End()

	logger := xglog.WithComponentFromContext(ctx, "resolver").With().Str("chain", chain.Name).Logger()

	deadline := r.now().Add(p.Budget)
	total := &stream.ResolutionFailure{Reason: stream.ReasonNoProvidersAvailable}
	for _, step := range chain.Steps {
		if reason, stop := r.interrupted(ctx, deadline); stop {
			total.Reason = reason
			break
		}

		sp := p
		sp.Mode = step.Mode
		res, err := r.resolve(ctx, step.Pool, id, sp, deadline)
		if err == nil {
			metrics.IncChainStep(chain.Name, step.Name, "success")
			span.SetAttributes(telemetry.ChainStepKey.String(step.Name))
			return ChainResult{Step: step, Stream: res}, nil
		}

		var fail *stream.ResolutionFailure
		if !errors.As(err, &fail) {
			return ChainResult{}, err
		}
		metrics.IncChainStep(chain.Name, step.Name, string(fail.Reason))
		logger.Info().
			Str(xglog.FieldEvent, "chain.step_failed").
			Str(xglog.FieldStrategy, step.Name).
			Str(xglog.FieldReason, string(fail.Reason)).
			Msg("strategy step failed, trying next")

		total.Attempts += fail.Attempts
		total.QualityRejections += fail.QualityRejections
		switch fail.Reason {
		case stream.ReasonTimeout, stream.ReasonCanceled:
			total.Reason = fail.Reason
		case stream.ReasonNoProvidersSucceeded:
			total.Reason = stream.ReasonNoProvidersSucceeded
			continue
		default:
			continue
		}
		break
	}

	telemetry.RecordError(span, total, string(total.Reason))
	return ChainResult{}, total
}
