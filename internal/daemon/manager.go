// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/ytrelay/internal/config"
	xglog "github.com/ManuGH/ytrelay/internal/log"
	"github.com/rs/zerolog"
)

// failureShutdownTimeout bounds the shutdown that follows a server error
// or cancellation of the Start context.
const failureShutdownTimeout = 30 * time.Second

// ShutdownHook releases a resource after the listeners have stopped.
type ShutdownHook func(ctx context.Context) error

// Manager serves the API (and optionally metrics) listener and runs the
// shutdown hooks in reverse registration order.
type Manager interface {
	// Start blocks until ctx is done or a listener fails.
	Start(ctx context.Context) error
	// Shutdown is idempotent once started.
	Shutdown(ctx context.Context) error
	RegisterShutdownHook(name string, hook ShutdownHook)
	// Ready is closed once every listener is bound.
	Ready() <-chan struct{}
	// APIAddr is the bound API address; empty before Ready.
	APIAddr() string
}

// listener is one bound http.Server.
type listener struct {
	name string
	srv  *http.Server
	ln   net.Listener
}

func (l listener) serve(logger zerolog.Logger, errc chan<- error) {
	logger.Info().
		Str(xglog.FieldEvent, strings.ToLower(l.name)+".listening").
		Str("addr", l.ln.Addr().String()).
		Msgf("%s server listening", l.name)
	if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).
			Str(xglog.FieldEvent, strings.ToLower(l.name)+".server.failed").
			Msgf("%s server failed", l.name)
		errc <- fmt.Errorf("%s server: %w", l.name, err)
	}
}

type namedHook struct {
	name string
	hook ShutdownHook
}

type manager struct {
	serverCfg config.ServerConfig
	deps      Deps
	logger    zerolog.Logger
	ready     chan struct{}

	mu        sync.Mutex
	started   bool
	stopping  bool
	listeners []listener
	hooks     []namedHook
}

// NewManager validates deps; nothing is bound until Start.
func NewManager(serverCfg config.ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	return &manager{
		serverCfg: serverCfg,
		deps:      deps,
		ready:     make(chan struct{}),
		logger:    deps.Logger.With().Str(xglog.FieldComponent, "manager").Logger(),
	}, nil
}

func (m *manager) bind(name, addr string, srv *http.Server) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start %s server: %w", name, err)
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, listener{name: name, srv: srv, ln: ln})
	m.mu.Unlock()
	return nil
}

func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("start context is nil")
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	sc := m.serverCfg
	m.logger.Info().
		Str("listen", sc.ListenAddr).
		Dur("read_timeout", sc.ReadTimeout).
		Dur("write_timeout", sc.WriteTimeout).
		Dur("shutdown_timeout", sc.ShutdownTimeout).
		Msg("starting daemon manager")

	if m.deps.metricsEnabled() {
		err := m.bind("metrics", m.deps.MetricsAddr, &http.Server{
			Handler:           m.deps.MetricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		})
		if err != nil {
			_ = m.Shutdown(context.WithoutCancel(ctx))
			return err
		}
	}
	err := m.bind("API", sc.ListenAddr, &http.Server{
		Handler:           m.deps.APIHandler,
		ReadTimeout:       sc.ReadTimeout,
		ReadHeaderTimeout: sc.ReadTimeout / 2,
		WriteTimeout:      sc.WriteTimeout,
		IdleTimeout:       sc.IdleTimeout,
		MaxHeaderBytes:    sc.MaxHeaderBytes,
	})
	if err != nil {
		_ = m.Shutdown(context.WithoutCancel(ctx))
		return err
	}

	m.mu.Lock()
	listeners := append([]listener(nil), m.listeners...)
	m.mu.Unlock()
	errc := make(chan error, len(listeners))
	for _, l := range listeners {
		go l.serve(m.logger, errc)
	}
	close(m.ready)

	var serveErr error
	select {
	case serveErr = <-errc:
		m.logger.Error().Err(serveErr).Msg("server error, initiating shutdown")
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureShutdownTimeout)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		if serveErr != nil {
			return fmt.Errorf("server error and shutdown failure: %w", errors.Join(serveErr, err))
		}
		return err
	}
	return serveErr
}

func (m *manager) Ready() <-chan struct{} { return m.ready }

func (m *manager) APIAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listeners {
		if l.name == "API" {
			return l.ln.Addr().String()
		}
	}
	return ""
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shutdown context is nil")
	}
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	listeners := append([]listener(nil), m.listeners...)
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	m.logger.Info().Msg("shutting down daemon manager")
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, l := range listeners {
		// Serve may not own ln yet if Start failed part way.
		if err := l.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s server shutdown: %w", l.name, err))
		}
		_ = l.ln.Close()
	}
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		err := h.hook(ctx)
		ev := m.logger.Debug()
		if err != nil {
			ev = m.logger.Error().Err(err)
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
		}
		ev.Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook finished")
	}

	if len(errs) > 0 {
		m.logger.Error().Int("error_count", len(errs)).Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("daemon manager stopped cleanly")
	return nil
}

func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}
