// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownConfigField marks a file that names a key AppConfig does not
// have. Typos in YAML keys would otherwise be silently ignored.
var ErrUnknownConfigField = errors.New("unknown config field")

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every override key the last Load looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. An empty configPath means
// defaults plus environment only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the configured file path.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseString(EnvPrefix+key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseBool(EnvPrefix+key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseInt(EnvPrefix+key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseDuration(EnvPrefix+key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseFloat(EnvPrefix+key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseList(EnvPrefix+key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if cfg.SnapshotDir != "" {
		if abs, err := filepath.Abs(cfg.SnapshotDir); err == nil {
			cfg.SnapshotDir = abs
		}
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file onto cfg with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies the YTRELAY_* overrides.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = l.envString("LOG_FORMAT", cfg.LogFormat)

	cfg.API.ListenAddr = l.envString("API_LISTEN", cfg.API.ListenAddr)
	cfg.API.ReadTimeout = l.envDuration("API_READ_TIMEOUT", cfg.API.ReadTimeout)
	cfg.API.WriteTimeout = l.envDuration("API_WRITE_TIMEOUT", cfg.API.WriteTimeout)
	cfg.API.IdleTimeout = l.envDuration("API_IDLE_TIMEOUT", cfg.API.IdleTimeout)
	cfg.API.ShutdownTimeout = l.envDuration("API_SHUTDOWN_TIMEOUT", cfg.API.ShutdownTimeout)
	cfg.API.RateLimitRPM = l.envInt("API_RATE_LIMIT_RPM", cfg.API.RateLimitRPM)
	cfg.API.AccessLog = l.envBool("API_ACCESS_LOG", cfg.API.AccessLog)
	cfg.API.CORS.Enabled = l.envBool("CORS_ENABLED", cfg.API.CORS.Enabled)
	cfg.API.CORS.AllowedOrigins = l.envList("CORS_ORIGINS", cfg.API.CORS.AllowedOrigins)

	cfg.Metrics.Enabled = l.envBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.ListenAddr = l.envString("METRICS_LISTEN", cfg.Metrics.ListenAddr)

	cfg.Telemetry.Enabled = l.envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Environment = l.envString("OTEL_ENVIRONMENT", cfg.Telemetry.Environment)
	cfg.Telemetry.SamplingRate = l.envFloat("OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	cfg.Redis.Addr = l.envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = l.envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = l.envInt("REDIS_DB", cfg.Redis.DB)
	cfg.Cache.TTL = l.envDuration("CACHE_TTL", cfg.Cache.TTL)

	cfg.SnapshotDir = l.envString("SNAPSHOT_DIR", cfg.SnapshotDir)
	cfg.RefreshInterval = l.envDuration("REFRESH_INTERVAL", cfg.RefreshInterval)

	cfg.Probe.Timeout = l.envDuration("PROBE_TIMEOUT", cfg.Probe.Timeout)
	cfg.Probe.UserAgent = l.envString("PROBE_USER_AGENT", cfg.Probe.UserAgent)
	cfg.Probe.RatePerSecond = l.envFloat("PROBE_RATE", cfg.Probe.RatePerSecond)
	cfg.Probe.Burst = l.envInt("PROBE_BURST", cfg.Probe.Burst)

	cfg.Resolve.MinHeight = l.envInt("MIN_HEIGHT", cfg.Resolve.MinHeight)
	cfg.Resolve.Budget = l.envDuration("RESOLVE_BUDGET", cfg.Resolve.Budget)
	cfg.Resolve.AudioLanguages = l.envList("AUDIO_LANGUAGES", cfg.Resolve.AudioLanguages)
	cfg.Resolve.AvoidAudioLanguages = l.envList("AVOID_AUDIO_LANGUAGES", cfg.Resolve.AvoidAudioLanguages)

	cfg.Breaker.Threshold = l.envInt("BREAKER_THRESHOLD", cfg.Breaker.Threshold)
	cfg.Breaker.ResetTimeout = l.envDuration("BREAKER_RESET", cfg.Breaker.ResetTimeout)

	cfg.Routing.MetadataPool = l.envString("METADATA_POOL", cfg.Routing.MetadataPool)
}
