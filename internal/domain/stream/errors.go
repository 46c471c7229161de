// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrInvalidInput         = errors.New("stream: invalid input")
	ErrProbeFailure         = errors.New("stream: provider probe failed")
	ErrQualityRejected      = errors.New("stream: no stream met the quality policy")
	ErrNoPlayableStream     = errors.New("stream: response has no playable stream")
	ErrResolutionExhausted  = errors.New("stream: resolution exhausted")
	ErrNoProvidersAvailable = errors.New("stream: no providers available")
	ErrPlaybackFatal        = errors.New("stream: fatal playback error")
)

// ProbeFailure is the single failure kind a probe reports upward. Stage and
// Cause are kept for logs and metrics only; callers must not branch on them.
type ProbeFailure struct {
	Endpoint Endpoint
	Stage    string // transport|status|decode|empty
	Status   int
	Cause    error
}

func (e *ProbeFailure) Error() string {
	msg := fmt.Sprintf("probe %s: %s", e.Endpoint, e.Stage)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ProbeFailure) Unwrap() error {
	return ErrProbeFailure
}

// Probe failure stages.
const (
	StageTransport = "transport"
	StageStatus    = "status"
	StageDecode    = "decode"
	StageEmpty     = "empty"
)

// Reason codes for terminal resolution failures.
type Reason string

const (
	ReasonTimeout              Reason = "timeout"
	ReasonNoProvidersSucceeded Reason = "no_providers_succeeded"
	ReasonNoProvidersAvailable Reason = "no_providers_available"
	ReasonCanceled             Reason = "canceled"
)

// ResolutionFailure is the only error a resolution returns to its caller.
type ResolutionFailure struct {
	Reason Reason
	// Attempts is the number of probes actually issued.
	Attempts int
	// QualityRejections counts candidates whose playable stream was below
	// the minimum height. Responses with nothing playable are not counted.
	QualityRejections int
}

func (e *ResolutionFailure) Error() string {
	return fmt.Sprintf("resolution failed: %s (attempts=%d, quality_rejections=%d)",
		e.Reason, e.Attempts, e.QualityRejections)
}

// Unwrap maps the reason onto the sentinel taxonomy.
func (e *ResolutionFailure) Unwrap() error {
	if e.Reason == ReasonNoProvidersAvailable {
		return ErrNoProvidersAvailable
	}
	return ErrResolutionExhausted
}

// OnlyQualityRejected reports whether every probe that was issued answered
// with a playable stream below the minimum height.
func (e *ResolutionFailure) OnlyQualityRejected() bool {
	return e.Reason == ReasonNoProvidersSucceeded && e.QualityRejections > 0 && e.QualityRejections == e.Attempts
}
