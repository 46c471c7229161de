// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

var (
	ErrMissingLogger     = errors.New("logger is required")
	ErrMissingAPIHandler = errors.New("API handler is required")
	ErrMissingManager    = errors.New("manager is required")
	// ErrManagerNotStarted is returned by Shutdown before Start.
	ErrManagerNotStarted = errors.New("manager not started")
)

// Deps is what the Manager serves. The API handler is normally the
// Runtime's api.Server; metrics are served on their own listener so
// scrapes never compete with the rate-limited API.
type Deps struct {
	Logger     zerolog.Logger
	APIHandler http.Handler

	// Both must be set for the metrics listener to start.
	MetricsHandler http.Handler
	MetricsAddr    string
}

func (d *Deps) metricsEnabled() bool {
	return d.MetricsHandler != nil && d.MetricsAddr != ""
}

// Validate reports the first missing dependency. A disabled logger such
// as zerolog.Nop() counts as missing.
func (d *Deps) Validate() error {
	switch {
	case d.Logger.GetLevel() == zerolog.Disabled:
		return ErrMissingLogger
	case d.APIHandler == nil:
		return ErrMissingAPIHandler
	}
	return nil
}
