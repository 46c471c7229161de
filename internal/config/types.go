// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the fully resolved daemon configuration. The YAML file is
// decoded on top of Defaults, so omitted keys keep their default value and
// a configured list replaces the default list entirely.
type AppConfig struct {
	// Version is set from the binary, never from the file.
	Version string `yaml:"-"`

	LogLevel  string `yaml:"logLevel"`
	// LogFormat is "json" or "console" (human readable, for terminals).
	LogFormat string `yaml:"logFormat"`

	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`

	// SnapshotDir receives the on-disk last-known-good pool lists. Empty disables it.
	SnapshotDir     string        `yaml:"snapshotDir"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`

	Probe   ProbeConfig   `yaml:"probe"`
	Resolve ResolveConfig `yaml:"resolve"`
	Breaker BreakerConfig `yaml:"breaker"`

	Pools   []PoolConfig  `yaml:"pools"`
	Chains  []ChainConfig `yaml:"chains"`
	Routing RoutingConfig `yaml:"routing"`
}

// APIConfig configures the public HTTP listener.
type APIConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimitRPM is requests per minute per client IP. 0 disables it.
	RateLimitRPM int        `yaml:"rateLimitRpm"`
	CORS         CORSConfig `yaml:"cors"`
	AccessLog    bool       `yaml:"accessLog"`
}

// CORSConfig controls cross-origin access for browser players.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// RedisConfig enables the shared last-known-good cache when Addr is set.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// CacheConfig controls how long last-known-good lists stay cached.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ProbeConfig configures outbound provider probes.
type ProbeConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"userAgent"`
	// RatePerSecond throttles probes per endpoint. 0 disables throttling.
	RatePerSecond float64 `yaml:"ratePerSecond"`
	Burst         int     `yaml:"burst"`
}

// ResolveConfig holds the quality gate, the wall-clock budget and the
// audio track preference.
type ResolveConfig struct {
	MinHeight int           `yaml:"minHeight"`
	Budget    time.Duration `yaml:"budget"`
	// AudioLanguages are tried in order when a response offers several
	// audio tracks; AvoidAudioLanguages apply when none of them matched.
	AudioLanguages      []string `yaml:"audioLanguages"`
	AvoidAudioLanguages []string `yaml:"avoidAudioLanguages"`
}

// BreakerConfig configures per-endpoint circuit breakers. Threshold 0 disables them.
type BreakerConfig struct {
	Threshold    int           `yaml:"threshold"`
	ResetTimeout time.Duration `yaml:"resetTimeout"`
}

// PoolConfig is one provider pool.
type PoolConfig struct {
	Name               string   `yaml:"name"`
	Kind               string   `yaml:"kind"`
	Policy             string   `yaml:"policy"`
	Seed               []string `yaml:"seed"`
	RefreshURL         string   `yaml:"refreshUrl"`
	RefreshFallbackURL string   `yaml:"refreshFallbackUrl"`
}

// ChainConfig is a named, ordered list of server-side strategies.
type ChainConfig struct {
	Name  string       `yaml:"name"`
	Steps []StepConfig `yaml:"steps"`
}

// StepConfig resolves one pool in one mode.
type StepConfig struct {
	Name string `yaml:"name"`
	Pool string `yaml:"pool"`
	Mode string `yaml:"mode"`
}

// RoutingConfig binds the HTTP endpoints to pools and chains.
type RoutingConfig struct {
	MetadataPool string `yaml:"metadataPool"`
	HLSChain     string `yaml:"hlsChain"`
	AutoChain    string `yaml:"autoChain"`
}
