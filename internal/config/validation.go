// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"

	"github.com/ManuGH/ytrelay/internal/validate"
	"github.com/samber/lo"
)

var (
	httpSchemes = []string{"http", "https"}
	logLevels   = []string{"debug", "info", "warn", "error"}
	logFormats  = []string{"json", "console"}
	exporters   = []string{"grpc", "http"}
)

// maxHeight bounds the quality gate at 8K.
const maxHeight = 4320

// Validate checks a AppConfig using the centralized validation package.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("logLevel", cfg.LogLevel, logLevels)
	v.OneOf("logFormat", cfg.LogFormat, logFormats)

	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	v.NonNegative("api.rateLimitRpm", cfg.API.RateLimitRPM)
	v.PositiveDuration("api.shutdownTimeout", cfg.API.ShutdownTimeout)
	if cfg.Metrics.Enabled {
		v.ListenAddr("metrics.listenAddr", cfg.Metrics.ListenAddr)
	}
	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, exporters)
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		validate.Between(v, "telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}
	v.NonNegative("redis.db", cfg.Redis.DB)

	v.PositiveDuration("refreshInterval", cfg.RefreshInterval)
	v.PositiveDuration("cache.ttl", cfg.Cache.TTL)
	v.PositiveDuration("probe.timeout", cfg.Probe.Timeout)
	v.PositiveDuration("resolve.budget", cfg.Resolve.Budget)
	v.Range("resolve.minHeight", cfg.Resolve.MinHeight, 0, maxHeight)
	validate.AtLeast(v, "probe.ratePerSecond", cfg.Probe.RatePerSecond, 0)
	v.NonNegative("probe.burst", cfg.Probe.Burst)
	v.NonNegative("breaker.threshold", cfg.Breaker.Threshold)
	if cfg.Breaker.Threshold > 0 {
		v.PositiveDuration("breaker.resetTimeout", cfg.Breaker.ResetTimeout)
	}

	validatePools(v, cfg)
	validateChains(v, cfg)

	return v.Err()
}

func validatePools(v *validate.Validator, cfg AppConfig) {
	if len(cfg.Pools) == 0 {
		v.AddError("pools", "at least one pool is required", nil)
		return
	}
	v.Unique("pools", lo.Map(cfg.Pools, func(p PoolConfig, _ int) string { return p.Name }))

	for i, p := range cfg.Pools {
		field := fmt.Sprintf("pools[%d]", i)
		if err := p.Definition().Validate(); err != nil {
			v.AddError(field, err.Error(), p.Name)
		}
		if p.RefreshURL != "" {
			v.URL(field+".refreshUrl", p.RefreshURL, httpSchemes)
		}
		if p.RefreshFallbackURL != "" {
			v.URL(field+".refreshFallbackUrl", p.RefreshFallbackURL, httpSchemes)
		}
		for j, seed := range p.Seed {
			v.URL(fmt.Sprintf("%s.seed[%d]", field, j), seed, httpSchemes)
		}
	}
	if !cfg.hasPool(cfg.Routing.MetadataPool) {
		v.AddError("routing.metadataPool", "unknown pool", cfg.Routing.MetadataPool)
	}
}

func validateChains(v *validate.Validator, cfg AppConfig) {
	v.Unique("chains", lo.Map(cfg.Chains, func(c ChainConfig, _ int) string { return c.Name }))

	for i, c := range cfg.Chains {
		field := fmt.Sprintf("chains[%d]", i)
		if err := c.Chain().Validate(); err != nil {
			v.AddError(field, err.Error(), c.Name)
			continue
		}
		for _, s := range c.Steps {
			if !cfg.hasPool(s.Pool) {
				v.AddError(field, fmt.Sprintf("step %q references unknown pool %q", s.Name, s.Pool), c.Name)
			}
		}
	}
	for field, name := range map[string]string{
		"routing.hlsChain":  cfg.Routing.HLSChain,
		"routing.autoChain": cfg.Routing.AutoChain,
	} {
		if _, ok := cfg.Chain(name); !ok {
			v.AddError(field, "unknown chain", name)
		}
	}
}

func (c AppConfig) hasPool(name string) bool {
	return lo.ContainsBy(c.Pools, func(p PoolConfig) bool { return p.Name == name })
}
