// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	xglog "github.com/ManuGH/ytrelay/internal/log"
	"github.com/ManuGH/ytrelay/internal/metrics"
	"github.com/ManuGH/ytrelay/internal/validate"
	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

// ConfigHolder owns the live AppConfig. Reloads come from the file watcher
// or from an explicit Reload call (SIGHUP); an invalid file never replaces
// the current config.
type ConfigHolder struct {
	loader   *Loader
	logger   zerolog.Logger
	debounce time.Duration

	// reloading serializes Reload so a watcher event and SIGHUP cannot
	// interleave load and swap.
	reloading sync.Mutex

	mu        sync.RWMutex
	current   AppConfig
	listeners []chan<- AppConfig
}

func NewConfigHolder(initial AppConfig, loader *Loader) *ConfigHolder {
	return &ConfigHolder{
		current:  initial,
		loader:   loader,
		logger:   xglog.WithComponent("config"),
		debounce: defaultDebounce,
	}
}

func (h *ConfigHolder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// RegisterListener subscribes ch to accepted configs that differ from the
// previous one. Sends never block; a listener that is not keeping up misses
// the update.
func (h *ConfigHolder) RegisterListener(ch chan<- AppConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload loads, validates and publishes the file. On failure the current
// config is kept and the error returned.
func (h *ConfigHolder) Reload(_ context.Context) error {
	h.reloading.Lock()
	defer h.reloading.Unlock()

	next, err := h.loader.Load()
	if err != nil {
		metrics.IncConfigReload("failure")
		var verr validate.ValidationError
		if errors.As(err, &verr) {
			metrics.IncConfigValidationError()
		}
		h.logger.Error().Err(err).
			Str(xglog.FieldEvent, "config.reload_failed").
			Msg("failed to load new configuration, keeping current")
		return fmt.Errorf("load config: %w", err)
	}
	metrics.IncConfigReload("success")

	h.mu.Lock()
	prev := h.current
	h.current = next
	listeners := slices.Clone(h.listeners)
	h.mu.Unlock()

	diff := cmp.Diff(Redacted(prev), Redacted(next))
	if diff == "" {
		h.logger.Info().Str(xglog.FieldEvent, "config.unchanged").Msg("configuration unchanged")
		return nil
	}
	h.logger.Info().
		Str(xglog.FieldEvent, "config.changed").
		Str("diff", diff).
		Msg("configuration reloaded")

	for _, ch := range listeners {
		select {
		case ch <- next:
		default:
			h.logger.Warn().
				Str(xglog.FieldEvent, "config.listener_skip").
				Msg("config listener busy, update not delivered")
		}
	}
	return nil
}

// StartWatcher reloads on changes to the config file until ctx is done.
// It is a no-op without a config file.
func (h *ConfigHolder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str(xglog.FieldEvent, "config.watcher_disabled").
			Msg("no config file, watcher disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// The directory, not the file: editors and renameio replace the file
	// by rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.logger.Info().
		Str(xglog.FieldEvent, "config.watcher_started").
		Str("path", path).
		Msg("watching config file for changes")

	go h.watch(ctx, watcher, filepath.Clean(path))
	return nil
}

const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// watch coalesces bursts of events on path into one Reload after the
// debounce delay.
func (h *ConfigHolder) watch(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer func() { _ = watcher.Close() }()

	var settle <-chan time.Time // nil until an event arrives
	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(xglog.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path || ev.Op&watchedOps == 0 {
				continue
			}
			h.logger.Debug().
				Str(xglog.FieldEvent, "config.file_changed").
				Str("op", ev.Op.String()).
				Msg("config file changed")
			settle = time.After(h.debounce)

		case <-settle:
			settle = nil
			// Reload logs its own failure.
			_ = h.Reload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).
				Str(xglog.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Redacted returns c with secrets masked, for logs and dumps.
func Redacted(c AppConfig) AppConfig {
	if c.Redis.Password != "" {
		c.Redis.Password = "***"
	}
	return c
}
