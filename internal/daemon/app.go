// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/ytrelay/internal/config"
	xglog "github.com/ManuGH/ytrelay/internal/log"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// App runs the Manager next to the loops that keep the Runtime current:
// config reloads (file watcher and SIGHUP) and the periodic pool refresh.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.ConfigHolder
	runtime      *Runtime
	reloadSignal os.Signal // nil disables signal-driven reloads
}

func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.ConfigHolder, runtime *Runtime) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		runtime:      runtime,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run blocks until ctx is done or the Manager fails. cfgHolder and runtime
// are optional; without them Run only serves.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	g, ctx := errgroup.WithContext(ctx)

	if a.cfgHolder != nil {
		// A missing watcher only costs automatic reloads.
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "config.watcher_start_failed").
				Msg("config file watcher unavailable, reload with SIGHUP")
		}
		if a.runtime != nil {
			updates := make(chan config.AppConfig, 1)
			a.cfgHolder.RegisterListener(updates)
			g.Go(func() error { return a.applyUpdates(ctx, updates) })
		}
		if a.reloadSignal != nil {
			g.Go(func() error { return a.reloadOnSignal(ctx) })
		}
	}
	if a.runtime != nil {
		g.Go(func() error { return a.refreshPools(ctx) })
	}
	g.Go(func() error { return a.serve(ctx) })

	return g.Wait()
}

func (a *App) serve(ctx context.Context) error {
	err := a.manager.Start(ctx)
	if err != nil {
		_ = a.manager.Shutdown(context.WithoutCancel(ctx))
	}
	return err
}

// applyUpdates hands every accepted config to the Runtime. A config the
// Runtime rejects leaves the previous routing in place.
func (a *App) applyUpdates(ctx context.Context, updates <-chan config.AppConfig) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-updates:
			if err := a.runtime.Apply(cfg); err != nil {
				a.logger.Error().Err(err).
					Str(xglog.FieldEvent, "config.apply_failed").
					Msg("reloaded configuration could not be applied")
			}
		}
	}
}

func (a *App) reloadOnSignal(ctx context.Context) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, a.reloadSignal)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-sig:
			a.logger.Info().
				Str(xglog.FieldEvent, "config.reload_signal").
				Str("signal", s.String()).
				Msg("reloading configuration")
			if err := a.cfgHolder.Reload(ctx); err != nil {
				a.logger.Warn().Err(err).
					Str(xglog.FieldEvent, "config.reload_failed").
					Msg("config reload rejected, keeping current configuration")
			}
		}
	}
}

// refreshPools replaces the seed instance lists once, then keeps them
// fresh. Pools whose refresh fails fall back on their own.
func (a *App) refreshPools(ctx context.Context) error {
	_ = a.runtime.Pools.RefreshAll(ctx)
	a.runtime.Pools.Run(ctx, a.refreshInterval())
	return nil
}

func (a *App) refreshInterval() time.Duration {
	if a.cfgHolder != nil {
		return a.cfgHolder.Get().RefreshInterval
	}
	return a.runtime.base.RefreshInterval
}
