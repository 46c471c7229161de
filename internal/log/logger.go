// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured logging utilities.
package log

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger. Zero fields
// fall back to info level, JSON on stdout and service "ytrelay".
type Config struct {
	Level   string
	Format  string // "json" or "console"
	Output  io.Writer
	Service string
	Version string
}

var base atomic.Pointer[zerolog.Logger]

// Configure replaces the global logger. The daemon calls it with defaults
// at startup and again once the configuration is loaded; loggers derived
// before the second call keep the old settings.
func Configure(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	service := cfg.Service
	if service == "" {
		service = "ytrelay"
	}

	l := zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Str("version", cfg.Version).
		Logger()
	base.Store(&l)
}

// WithComponent returns a child of the global logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return base.Load().With().Str(FieldComponent, component).Logger()
}

func init() {
	Configure(Config{})
}
