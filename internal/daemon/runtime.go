// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the configured components and manages their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/ytrelay/internal/api"
	"github.com/ManuGH/ytrelay/internal/api/middleware"
	"github.com/ManuGH/ytrelay/internal/cache"
	"github.com/ManuGH/ytrelay/internal/config"
	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/ManuGH/ytrelay/internal/health"
	xglog "github.com/ManuGH/ytrelay/internal/log"
	"github.com/ManuGH/ytrelay/internal/pool"
	"github.com/ManuGH/ytrelay/internal/probe"
	"github.com/ManuGH/ytrelay/internal/resilience"
	"github.com/ManuGH/ytrelay/internal/resolver"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const memoryCacheJanitor = 5 * time.Minute

// BuildOptions overrides outbound collaborators, mainly for tests.
type BuildOptions struct {
	// Client is used for pool list fetches and HTTP probes.
	Client *http.Client
	// Extractor replaces the extraction library client.
	Extractor probe.VideoClient
}

// Runtime is the wired component graph of one daemon.
type Runtime struct {
	Pools    *pool.Set
	Resolver *resolver.Resolver
	Breakers *resilience.Registry
	API      *api.Server
	Health   *health.Manager
	Cache    cache.Cache

	base    config.AppConfig
	closers []func() error
	logger  zerolog.Logger
}

// Build wires every component from cfg. The returned Runtime must be closed.
func Build(ctx context.Context, cfg config.AppConfig, opts BuildOptions) (*Runtime, error) {
	rt := &Runtime{
		base:   cfg,
		Health: health.NewManager(cfg.Version),
		logger: xglog.WithComponent("daemon"),
	}

	rt.Cache = rt.buildCache(ctx, cfg)

	set, err := pool.NewSet(cfg.PoolDefinitions(), pool.RefresherOptions{
		Client:      opts.Client,
		Cache:       rt.Cache,
		CacheTTL:    cfg.Cache.TTL,
		SnapshotDir: cfg.SnapshotDir,
	})
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("build pools: %w", err)
	}
	rt.Pools = set

	registry := probe.NewRegistry()
	httpProber := probe.NewHTTPProber(probe.HTTPOptions{
		Client:        opts.Client,
		UserAgent:     cfg.Probe.UserAgent,
		RatePerSecond: cfg.Probe.RatePerSecond,
		Burst:         cfg.Probe.Burst,
	})
	registry.Register(stream.KindInvidious, httpProber)
	registry.Register(stream.KindManifest, httpProber)
	registry.Register(stream.KindExtractor, probe.NewExtractorProber(opts.Extractor))

	rt.Breakers = resilience.NewRegistry(cfg.Breaker.Threshold, cfg.Breaker.ResetTimeout)
	rt.Resolver = resolver.New(resolver.Options{
		Pools:    set,
		Prober:   registry,
		Breakers: rt.Breakers,
	})

	rt.Health.RegisterChecker(health.NewPoolChecker(set))
	if cfg.SnapshotDir != "" {
		dir := cfg.SnapshotDir
		rt.Health.RegisterChecker(health.NewFuncChecker("snapshot_dir", true, func(context.Context) error {
			return health.CheckWritableDir(dir)
		}))
	}

	rt.API = api.New(api.Deps{
		Resolver: rt.Resolver,
		Pools:    set,
		Health:   rt.Health,
	}, RoutingFor(cfg), StackFor(cfg))

	rt.logger.Info().
		Str(xglog.FieldEvent, "daemon.runtime_built").
		Strs("pools", set.Names()).
		Strs("probe_kinds", lo.Map(registry.Kinds(), func(k stream.ProviderKind, _ int) string { return string(k) })).
		Msg("runtime wired")
	return rt, nil
}

func (rt *Runtime) buildCache(ctx context.Context, cfg config.AppConfig) cache.Cache {
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, xglog.WithComponent("cache"))
		if err == nil {
			rt.closers = append(rt.closers, rc.Close)
			rt.Health.RegisterChecker(health.NewFuncChecker("redis", true, rc.HealthCheck))
			return rc
		}
		rt.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "cache.redis_unavailable").
			Msg("redis unavailable, falling back to in-memory cache")
	}
	mc := cache.NewMemoryCache(memoryCacheJanitor)
	rt.closers = append(rt.closers, mc.Close)
	return mc
}

// Apply swaps in a reloaded configuration. Pools and routing change in
// place; listener, probe, breaker and cache settings need a restart.
func (rt *Runtime) Apply(cfg config.AppConfig) error {
	if err := rt.Pools.Apply(cfg.PoolDefinitions()); err != nil {
		return fmt.Errorf("apply pools: %w", err)
	}
	rt.API.SetRouting(RoutingFor(cfg))

	if !cmp.Equal(cfg.API, rt.base.API) || cfg.Probe != rt.base.Probe || cfg.Breaker != rt.base.Breaker ||
		cfg.Redis != rt.base.Redis || cfg.Metrics != rt.base.Metrics {
		rt.logger.Warn().
			Str(xglog.FieldEvent, "config.restart_required").
			Msg("listener, probe, breaker or cache settings changed; restart to apply them")
	}
	rt.logger.Info().
		Str(xglog.FieldEvent, "config.applied").
		Strs("pools", rt.Pools.Names()).
		Msg("pools and routing updated")
	return nil
}

// Close releases caches and their connections.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// RoutingFor derives the hot-reloadable routing from cfg. cfg is validated,
// so every referenced chain exists.
func RoutingFor(cfg config.AppConfig) api.Routing {
	hls, _ := cfg.Chain(cfg.Routing.HLSChain)
	auto, _ := cfg.Chain(cfg.Routing.AutoChain)
	p := cfg.Policy()
	return api.Routing{
		MetadataPool: cfg.Routing.MetadataPool,
		HLSChain:     hls,
		AutoChain:    auto,
		MinHeight:    p.MinHeight,
		ProbeTimeout: p.ProbeTimeout,
		Budget:       p.Budget,
		Preference:   p.Preference,
	}
}

// StackFor derives the HTTP middleware stack from cfg.
func StackFor(cfg config.AppConfig) middleware.StackConfig {
	stack := middleware.StackConfig{
		EnableCORS:     cfg.API.CORS.Enabled,
		AllowedOrigins: cfg.API.CORS.AllowedOrigins,
		EnableMetrics:  cfg.Metrics.Enabled,
		EnableLogging:  cfg.API.AccessLog,
		RateLimitRPM:   cfg.API.RateLimitRPM,
	}
	if cfg.Telemetry.Enabled {
		stack.TracingService = "ytrelay-api"
	}
	return stack
}
