// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHolder(t *testing.T, body string) (*ConfigHolder, string) {
	t.Helper()
	path := writeConfig(t, body)
	loader := NewLoader(path, "dev")
	initial, err := loader.Load()
	require.NoError(t, err)
	h := NewConfigHolder(initial, loader)
	h.debounce = 20 * time.Millisecond
	return h, path
}

func TestConfigHolder_ReloadNotifiesListeners(t *testing.T) {
	h, path := newHolder(t, "resolve:\n  minHeight: 720\n")
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("resolve:\n  minHeight: 1080\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, 1080, h.Get().Resolve.MinHeight)
	select {
	case got := <-ch:
		assert.Equal(t, 1080, got.Resolve.MinHeight)
	default:
		t.Fatal("listener was not notified")
	}
}

func TestConfigHolder_InvalidReloadKeepsCurrent(t *testing.T) {
	h, path := newHolder(t, "resolve:\n  minHeight: 720\n")
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("resolve:\n  minHeight: 99999\n"), 0o600))
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, 720, h.Get().Resolve.MinHeight)
	assert.Empty(t, ch)

	require.NoError(t, os.WriteFile(path, []byte("unknown: true\n"), 0o600))
	assert.ErrorIs(t, h.Reload(context.Background()), ErrUnknownConfigField)
	assert.Equal(t, 720, h.Get().Resolve.MinHeight)
}

func TestConfigHolder_FullListenerIsSkipped(t *testing.T) {
	h, _ := newHolder(t, "")
	ch := make(chan AppConfig)
	h.RegisterListener(ch)
	assert.NoError(t, h.Reload(context.Background()), "a blocked listener never stalls reload")
}

func TestConfigHolder_WatcherReloadsOnWrite(t *testing.T) {
	h, path := newHolder(t, "resolve:\n  minHeight: 720\n")
	ch := make(chan AppConfig, 4)
	h.RegisterListener(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(path, []byte("resolve:\n  minHeight: 480\n"), 0o600))

	// A truncate and a write may arrive as separate reloads.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got.Resolve.MinHeight == 480 {
				assert.Equal(t, 480, h.Get().Resolve.MinHeight)
				return
			}
		case <-deadline:
			t.Fatal("watcher did not reload")
		}
	}
}

func TestConfigHolder_WatcherDisabledWithoutFile(t *testing.T) {
	h := NewConfigHolder(Defaults(), NewLoader("", "dev"))
	assert.NoError(t, h.StartWatcher(context.Background()))
}

func TestConfigHolder_UnchangedReloadIsSilent(t *testing.T) {
	h, _ := newHolder(t, "resolve:\n  minHeight: 720\n")
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	require.NoError(t, h.Reload(context.Background()))
	assert.Empty(t, ch, "listeners only hear about changes")
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Redacted(cfg).Redis.Password)

	cfg.Redis.Password = "hunter2"
	assert.Equal(t, "***", Redacted(cfg).Redis.Password)
	assert.Equal(t, "hunter2", cfg.Redis.Password, "the input is not modified")
}
