// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

const (
	// Default pool names referenced by the default routing.
	PoolInvidious = "invidious"
	PoolManifest  = "manifest"
	PoolExtractor = "extractor"

	ChainHLS  = "hls"
	ChainAuto = "auto"
)

// Defaults returns the built-in configuration. It is a complete, valid
// configuration on its own.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel:  "info",
		LogFormat: "json",
		API: APIConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AccessLog:       true,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			Environment:  "production",
			SamplingRate: 1.0,
		},
		Redis: RedisConfig{
			KeyPrefix: "ytrelay:",
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		RefreshInterval: 10 * time.Minute,
		Probe: ProbeConfig{
			Timeout:       3 * time.Second,
			RatePerSecond: 2,
			Burst:         2,
		},
		Resolve: ResolveConfig{
			MinHeight:           720,
			Budget:              10 * time.Second,
			AudioLanguages:      []string{"ja"},
			AvoidAudioLanguages: []string{"en"},
		},
		Breaker: BreakerConfig{
			Threshold:    3,
			ResetTimeout: 30 * time.Second,
		},
		Pools: []PoolConfig{
			{
				Name:   PoolInvidious,
				Kind:   "invidious",
				Policy: "sticky",
				Seed: []string{
					"https://yewtu.be",
					"https://invidious.f5.si",
					"https://invidious.perennialte.ch",
					"https://iv.nboeck.de",
					"https://invidious.jing.rocks",
					"https://yt.omada.cafe",
					"https://invidious.nerdvpn.de",
					"https://iv.ggtyler.dev",
				},
				RefreshURL: "https://raw.githubusercontent.com/wakame02/wktopu/refs/heads/main/inv.json",
			},
			{
				Name:   PoolManifest,
				Kind:   "manifest",
				Policy: "random",
				// The trailing slash selects the /m3u8/{id} path form.
				Seed: []string{"https://yudlp.vercel.app/m3u8/"},
			},
			{
				Name:   PoolExtractor,
				Kind:   "extractor",
				Policy: "ordered",
				Seed:   []string{"https://www.youtube.com"},
			},
		},
		Chains: []ChainConfig{
			{
				Name: ChainHLS,
				Steps: []StepConfig{
					{Name: "manifest", Pool: PoolManifest, Mode: "manifest"},
					{Name: "invidious-hls", Pool: PoolInvidious, Mode: "manifest"},
				},
			},
			{
				Name: ChainAuto,
				Steps: []StepConfig{
					{Name: "hls", Pool: PoolManifest, Mode: "manifest"},
					{Name: "direct", Pool: PoolInvidious, Mode: "muxed"},
					{Name: "extractor", Pool: PoolExtractor, Mode: "any"},
				},
			},
		},
		Routing: RoutingConfig{
			MetadataPool: PoolInvidious,
			HLSChain:     ChainHLS,
			AutoChain:    ChainAuto,
		},
	}
}
