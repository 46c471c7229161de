// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/ManuGH/ytrelay/internal/pool"
	"github.com/ManuGH/ytrelay/internal/resolver"
	"github.com/ManuGH/ytrelay/internal/selector"
	"github.com/ManuGH/ytrelay/internal/validate"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults_AreValid(t *testing.T) {
	require.NoError(t, Validate(Defaults()))

	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.Equal(t, 720, cfg.Resolve.MinHeight)
	assert.Equal(t, 10*time.Second, cfg.Resolve.Budget)
	assert.Equal(t, 3*time.Second, cfg.Probe.Timeout)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logLevel: debug
api:
  listenAddr: ":18080"
  rateLimitRpm: 120
resolve:
  minHeight: 1080
  budget: 15s
pools:
  - name: inv
    kind: invidious
    policy: random
    seed:
      - https://a.example
      - https://b.example
chains:
  - name: hls
    steps:
      - {name: inv-hls, pool: inv, mode: manifest}
  - name: auto
    steps:
      - {name: direct, pool: inv, mode: muxed}
routing:
  metadataPool: inv
  hlsChain: hls
  autoChain: auto
`)
	cfg, err := NewLoader(path, "dev").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":18080", cfg.API.ListenAddr)
	assert.Equal(t, 120, cfg.API.RateLimitRPM)
	assert.Equal(t, 120*time.Second, cfg.API.IdleTimeout, "unset keys keep defaults")
	assert.Equal(t, 1080, cfg.Resolve.MinHeight)
	assert.Equal(t, 15*time.Second, cfg.Resolve.Budget)
	require.Len(t, cfg.Pools, 1, "a configured list replaces the default list")

	defs := cfg.PoolDefinitions()
	assert.Equal(t, pool.Definition{
		Name:   "inv",
		Kind:   stream.KindInvidious,
		Policy: pool.PolicyRandom,
		Seed:   []string{"https://a.example", "https://b.example"},
	}, defs[0])

	chain, ok := cfg.Chain("auto")
	require.True(t, ok)
	assert.Equal(t, resolver.Chain{
		Name:  "auto",
		Steps: []resolver.Step{{Name: "direct", Pool: "inv", Mode: resolver.ModeMuxed}},
	}, chain)
	_, ok = cfg.Chain("missing")
	assert.False(t, ok)
}

func TestLoad_StrictParsing(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		wantMsg string
	}{
		{name: "unknown key", body: "logLevel: info\nbogus: 1\n", wantErr: ErrUnknownConfigField},
		{name: "unknown nested key", body: "api:\n  listen: \":1\"\n", wantErr: ErrUnknownConfigField},
		{name: "multiple documents", body: "logLevel: info\n---\nlogLevel: debug\n", wantMsg: "multiple documents"},
		{name: "bad duration", body: "resolve:\n  budget: soon\n", wantMsg: "strict config parse error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeConfig(t, tt.body), "dev").Load()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoad_EmptyFileMeansDefaults(t *testing.T) {
	cfg, err := NewLoader(writeConfig(t, ""), "dev").Load()
	require.NoError(t, err)
	assert.Len(t, cfg.Pools, 3)
}

func TestLoad_RejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "dev").Load()
	assert.ErrorContains(t, err, "only YAML supported")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "resolve:\n  minHeight: 1080\n")
	t.Setenv("YTRELAY_MIN_HEIGHT", "480")
	t.Setenv("YTRELAY_RESOLVE_BUDGET", "20s")
	t.Setenv("YTRELAY_PROBE_RATE", "0.5")
	t.Setenv("YTRELAY_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("YTRELAY_METRICS_ENABLED", "no")
	t.Setenv("YTRELAY_BREAKER_THRESHOLD", "not-a-number")

	l := NewLoader(path, "dev")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 480, cfg.Resolve.MinHeight)
	assert.Equal(t, 20*time.Second, cfg.Resolve.Budget)
	assert.InDelta(t, 0.5, cfg.Probe.RatePerSecond, 1e-9)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.CORS.AllowedOrigins)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 3, cfg.Breaker.Threshold, "invalid values fall back")
	assert.Contains(t, l.ConsumedEnvKeys, "YTRELAY_MIN_HEIGHT")
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{name: "log level", mutate: func(c *AppConfig) { c.LogLevel = "loud" }, field: "logLevel"},
		{name: "log format", mutate: func(c *AppConfig) { c.LogFormat = "xml" }, field: "logFormat"},
		{name: "listen addr", mutate: func(c *AppConfig) { c.API.ListenAddr = "8080" }, field: "api.listenAddr"},
		{name: "min height", mutate: func(c *AppConfig) { c.Resolve.MinHeight = -1 }, field: "resolve.minHeight"},
		{name: "budget", mutate: func(c *AppConfig) { c.Resolve.Budget = 0 }, field: "resolve.budget"},
		{name: "no pools", mutate: func(c *AppConfig) { c.Pools = nil }, field: "pools"},
		{
			name:   "duplicate pool",
			mutate: func(c *AppConfig) { c.Pools = append(c.Pools, c.Pools[0]) },
			field:  "pools",
		},
		{name: "pool kind", mutate: func(c *AppConfig) { c.Pools[0].Kind = "piped" }, field: "pools[0]"},
		{name: "seed url", mutate: func(c *AppConfig) { c.Pools[1].Seed = []string{"ftp://x"} }, field: "pools[1].seed[0]"},
		{name: "metadata pool", mutate: func(c *AppConfig) { c.Routing.MetadataPool = "nope" }, field: "routing.metadataPool"},
		{name: "hls chain", mutate: func(c *AppConfig) { c.Routing.HLSChain = "nope" }, field: "routing.hlsChain"},
		{name: "chain mode", mutate: func(c *AppConfig) { c.Chains[0].Steps[0].Mode = "fast" }, field: "chains[0]"},
		{name: "chain pool", mutate: func(c *AppConfig) { c.Chains[1].Steps[0].Pool = "nope" }, field: "chains[1]"},
		{
			name: "telemetry exporter",
			mutate: func(c *AppConfig) {
				c.Telemetry.Enabled = true
				c.Telemetry.Exporter = "zipkin"
			},
			field: "telemetry.exporter",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)

			var verr validate.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields(), tt.field)
		})
	}
}

func TestServerConfig(t *testing.T) {
	cfg := Defaults()
	sc := cfg.ServerConfig()
	assert.Equal(t, ":8080", sc.ListenAddr)
	assert.Equal(t, 30*time.Second, sc.WriteTimeout)
	assert.Equal(t, 1<<20, sc.MaxHeaderBytes)

	cfg.API.WriteTimeout = 5 * time.Second
	cfg.API.ShutdownTimeout = time.Second
	sc = cfg.ServerConfig()
	assert.Equal(t, 15*time.Second, sc.WriteTimeout, "write timeout outlasts the budget")
	assert.Equal(t, 3*time.Second, sc.ShutdownTimeout)

	cfg.API.WriteTimeout = 0
	assert.Zero(t, cfg.ServerConfig().WriteTimeout)
}

func TestPolicy(t *testing.T) {
	p := Defaults().Policy()
	assert.Equal(t, resolver.Policy{
		MinHeight:    720,
		ProbeTimeout: 3 * time.Second,
		Budget:       10 * time.Second,
		Preference: selector.Preference{
			AudioLanguages:      []string{"ja"},
			AvoidAudioLanguages: []string{"en"},
		},
	}, p)
}

func TestDefaults_ManifestSeedUsesPathForm(t *testing.T) {
	cfg := Defaults()
	pc, ok := lo.Find(cfg.Pools, func(pc PoolConfig) bool { return pc.Name == PoolManifest })
	require.True(t, ok)
	require.Equal(t, []string{"https://yudlp.vercel.app/m3u8/"}, pc.Seed)
	for _, seed := range pc.Seed {
		assert.True(t, strings.HasSuffix(seed, "/m3u8/"), "%s must take the id as a path segment", seed)
	}
}
