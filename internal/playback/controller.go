// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback implements the client-side fallback state machine that
// walks an ordered list of resolution strategies and degrades to a baseline
// source once all of them failed. It drives a Player and never inspects
// media itself.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	xglog "github.com/ManuGH/ytrelay/internal/log"
	"github.com/rs/zerolog"
)

// DefaultWatchdog is how long a manifest strategy may take to start.
const DefaultWatchdog = 8 * time.Second

// Phase is the controller state without its index.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseAttempting Phase = "attempting"
	PhasePlaying    Phase = "playing"
	PhaseFailed     Phase = "failed"
	PhaseDegraded   Phase = "degraded"
)

// State is a snapshot of the controller. Index is -1 when not bound to a strategy.
type State struct {
	Phase Phase
	Index int
}

func (s State) String() string {
	if s.Index < 0 {
		return string(s.Phase)
	}
	return fmt.Sprintf("%s(%d)", s.Phase, s.Index)
}

// Strategy is one way of obtaining a playable source.
type Strategy struct {
	Name   string
	Source string
	// Manifest strategies are guarded by the start watchdog.
	Manifest bool
}

// Player loads sources. Start and error signals come back through
// Controller.Started and Controller.Error, never from inside Load.
type Player interface {
	Load(source string)
}

// Listener receives state signals. Calls happen outside the controller lock.
// Playing carries index -1 once the baseline source started.
type Listener interface {
	StrategyChanged(index int, s Strategy)
	Degraded(baseline string)
	Playing(index int)
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules watchdog callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Config configures a Controller.
type Config struct {
	Strategies []Strategy
	Baseline   string
	// Watchdog defaults to DefaultWatchdog.
	Watchdog time.Duration
	Player   Player
	Listener Listener
	Clock    Clock
}

// Controller is safe for concurrent use.
type Controller struct {
	mu         sync.Mutex
	strategies []Strategy
	baseline   string
	watchdog   time.Duration
	player     Player
	listener   Listener
	clock      Clock
	logger     zerolog.Logger

	state State
	timer Timer
	// baselineStarted is set by the first Started in Degraded.
	baselineStarted bool
	// generation increments on every transition; watchdog callbacks carry
	// the generation they were armed in and are dropped when it moved on.
	generation uint64
}

// New validates cfg and returns an idle controller.
func New(cfg Config) (*Controller, error) {
	if len(cfg.Strategies) == 0 {
		return nil, errors.New("playback: at least one strategy is required")
	}
	if cfg.Baseline == "" {
		return nil, errors.New("playback: baseline source is required")
	}
	if cfg.Player == nil {
		return nil, errors.New("playback: player is required")
	}
	if cfg.Watchdog <= 0 {
		cfg.Watchdog = DefaultWatchdog
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	return &Controller{
		strategies: append([]Strategy(nil), cfg.Strategies...),
		baseline:   cfg.Baseline,
		watchdog:   cfg.Watchdog,
		player:     cfg.Player,
		listener:   cfg.Listener,
		clock:      cfg.Clock,
		logger:     xglog.WithComponent("playback"),
		state:      State{Phase: PhaseIdle, Index: -1},
	}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Strategies returns the configured strategies.
func (c *Controller) Strategies() []Strategy {
	return append([]Strategy(nil), c.strategies...)
}

// Start begins with the first strategy. It is a no-op unless idle.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.state.Phase != PhaseIdle {
		c.mu.Unlock()
		return
	}
	notify := c.attemptLocked(0)
	c.mu.Unlock()
	notify()
}

// Select jumps to strategy i, from any state including Degraded.
func (c *Controller) Select(i int) error {
	if i < 0 || i >= len(c.strategies) {
		return fmt.Errorf("playback: strategy index %d out of range [0,%d)", i, len(c.strategies))
	}
	c.mu.Lock()
	c.logger.Info().Str(xglog.FieldEvent, "playback.manual_select").Int("index", i).Msg("manual strategy selection")
	notify := c.attemptLocked(i)
	c.mu.Unlock()
	notify()
	return nil
}

// Started reports the player's "playing" signal. In Degraded the first
// signal reports the baseline as playing and the state stays Degraded.
func (c *Controller) Started() {
	c.mu.Lock()
	idx := c.state.Index
	switch {
	case c.state.Phase == PhaseAttempting:
		c.transitionLocked(State{Phase: PhasePlaying, Index: idx})
	case c.state.Phase == PhaseDegraded && !c.baselineStarted:
		c.baselineStarted = true
		c.logger.Info().Str(xglog.FieldEvent, "playback.baseline_started").Msg("baseline playing")
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.listener != nil {
		c.listener.Playing(idx)
	}
}

// Error reports a player error. Recoverable errors are ignored; a fatal one
// fails the current strategy. Errors in Degraded are ignored.
func (c *Controller) Error(fatal bool) {
	if !fatal {
		return
	}
	c.mu.Lock()
	if c.state.Phase != PhaseAttempting && c.state.Phase != PhasePlaying {
		c.mu.Unlock()
		return
	}
	notify := c.failLocked(stream.ErrPlaybackFatal)
	c.mu.Unlock()
	notify()
}

func (c *Controller) onWatchdog(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state.Phase != PhaseAttempting {
		c.mu.Unlock()
		return
	}
	notify := c.failLocked(errWatchdog)
	c.mu.Unlock()
	notify()
}

var errWatchdog = errors.New("playback did not start before the watchdog fired")

// failLocked passes through Failed(i) and moves on. Caller holds mu.
func (c *Controller) failLocked(cause error) func() {
	idx := c.state.Index
	c.transitionLocked(State{Phase: PhaseFailed, Index: idx})
	c.logger.Warn().Err(cause).
		Str(xglog.FieldEvent, "playback.strategy_failed").
		Str(xglog.FieldStrategy, c.strategies[idx].Name).
		Msg("strategy failed")

	if idx+1 < len(c.strategies) {
		return c.attemptLocked(idx + 1)
	}
	return c.degradeLocked()
}

// attemptLocked enters Attempting(i), loads its source and arms the
// watchdog for manifest strategies. Caller holds mu; the returned func
// must be called after unlocking.
func (c *Controller) attemptLocked(i int) func() {
	s := c.strategies[i]
	c.transitionLocked(State{Phase: PhaseAttempting, Index: i})
	if s.Manifest {
		gen := c.generation
		c.timer = c.clock.AfterFunc(c.watchdog, func() { c.onWatchdog(gen) })
	}
	c.player.Load(s.Source)
	return func() {
		if c.listener != nil {
			c.listener.StrategyChanged(i, s)
		}
	}
}

func (c *Controller) degradeLocked() func() {
	c.transitionLocked(State{Phase: PhaseDegraded, Index: -1})
	c.baselineStarted = false
	c.logger.Warn().Str(xglog.FieldEvent, "playback.degraded").Msg("all strategies failed, playing baseline")
	c.player.Load(c.baseline)
	return func() {
		if c.listener != nil {
			c.listener.Degraded(c.baseline)
		}
	}
}

// transitionLocked clears any pending watchdog and bumps the generation.
func (c *Controller) transitionLocked(next State) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
	c.logger.Debug().
		Str(xglog.FieldOldState, c.state.String()).
		Str(xglog.FieldNewState, next.String()).
		Msg("playback transition")
	c.state = next
}
