// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

const (
	maxHeaderBytes = 1 << 20
	// A resolve response may only start once the budget is spent.
	writeTimeoutSlack  = 5 * time.Second
	minShutdownTimeout = 3 * time.Second
)

// ServerConfig is the listener view of AppConfig consumed by the daemon.
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // 0 means no limit
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// ServerConfig derives the API listener settings from c.
func (c AppConfig) ServerConfig() ServerConfig {
	sc := ServerConfig{
		ListenAddr:      c.API.ListenAddr,
		ReadTimeout:     c.API.ReadTimeout,
		WriteTimeout:    c.API.WriteTimeout,
		IdleTimeout:     c.API.IdleTimeout,
		MaxHeaderBytes:  maxHeaderBytes,
		ShutdownTimeout: max(c.API.ShutdownTimeout, minShutdownTimeout),
	}
	if sc.WriteTimeout > 0 {
		sc.WriteTimeout = max(sc.WriteTimeout, c.Resolve.Budget+writeTimeoutSlack)
	}
	return sc
}
