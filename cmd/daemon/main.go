// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/ManuGH/ytrelay/internal/config"
	"github.com/ManuGH/ytrelay/internal/daemon"
	xglog "github.com/ManuGH/ytrelay/internal/log"
	"github.com/ManuGH/ytrelay/internal/telemetry"
	"github.com/ManuGH/ytrelay/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "ytrelay",
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(config.ParseString(config.EnvPrefix+"CONFIG", ""))
	}

	// Precedence: ENV > File > Defaults
	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "ytrelay",
		Version: cfg.Version,
	})
	logger = xglog.WithComponent("daemon")

	envKeys := lo.Keys(loader.ConsumedEnvKeys)
	slices.Sort(envKeys)
	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str("path", path).
		Strs("env_keys", envKeys).
		Msg("configuration loaded")

	serverCfg := cfg.ServerConfig()
	logger.Info().
		Str(xglog.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", serverCfg.ListenAddr).
		Int("min_height", cfg.Resolve.MinHeight).
		Dur("budget", cfg.Resolve.Budget).
		Msg("starting ytrelay")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "ytrelay",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "telemetry.init_failed").
			Msg("failed to initialise tracing")
	}

	rt, err := daemon.Build(ctx, cfg, daemon.BuildOptions{})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "runtime.build_failed").
			Msg("failed to wire runtime")
	}

	deps := daemon.Deps{
		Logger:     logger,
		APIHandler: rt.API,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsHandler = promhttp.Handler()
		deps.MetricsAddr = cfg.Metrics.ListenAddr
	}

	mgr, err := daemon.NewManager(serverCfg, deps)
	if err != nil {
		_ = rt.Close()
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "manager.creation.failed").
			Msg("failed to create daemon manager")
	}
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("runtime", func(context.Context) error { return rt.Close() })

	cfgHolder := config.NewConfigHolder(cfg, loader)

	app := daemon.NewApp(logger, mgr, cfgHolder, rt)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "manager.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}
