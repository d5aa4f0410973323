package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Manager ties the pieces together: a context cancelled on the first
// interrupt, a SessionTracker for draining client sessions, a hook
// Registry for ordered teardown, and a SignalCounter that turns a second
// interrupt into an immediate exit.
//
// Usage:
//
//	manager := shutdown.NewManager(logger)
//	manager.Register("transport", 10, server.Close)
//	manager.Register("worker", 20, stopWorker)
//	manager.Start()
//	<-manager.Context().Done()
//	manager.Shutdown()
type Manager struct {
	logger   *zap.Logger
	timeout  time.Duration
	mu       sync.Mutex
	started  bool
	shutdown bool

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *SessionTracker
	registry *Registry
	signals  *SignalCounter

	sigChan chan os.Signal
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides the total shutdown budget. The default is 30
// seconds, split between draining sessions and running hooks.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// NewManager creates a Manager with an internal context that is cancelled
// when the first SIGINT or SIGTERM arrives after Start.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:   logger,
		timeout:  30 * time.Second,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewSessionTracker(),
		registry: NewRegistry(),
		sigChan:  make(chan os.Signal, 1),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.signals = NewSignalCounter(2, func() {
		m.logger.Warn("Second signal received, exiting immediately")
		os.Exit(1)
	})
	return m
}

// Context returns the context cancelled when shutdown begins. Long-running
// components should watch it.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Tracker exposes the session tracker so the transport layer can register
// connections against it.
func (m *Manager) Tracker() *SessionTracker {
	return m.tracker
}

// Register adds a cleanup hook. Lower priority values run first; see
// Registry.Register for the convention used in this process.
func (m *Manager) Register(name string, priority int, fn Hook) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("Registered shutdown hook",
		zap.String("name", name),
		zap.Int("priority", priority),
	)
}

// Start installs the SIGINT/SIGTERM handler. The first signal cancels the
// managed context; the second forces an exit. Calling Start more than once
// is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range m.sigChan {
			if m.signals.Increment() == 1 {
				m.logger.Info("Shutdown signal received",
					zap.String("signal", sig.String()),
				)
				m.cancel()
			}
		}
	}()
}

// Shutdown drains active sessions and then runs the registered hooks in
// order, sharing the configured timeout between the two phases. It is
// idempotent and returns an error if any hook failed.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	m.mu.Unlock()

	start := time.Now()
	m.logger.Info("Shutting down",
		zap.Duration("timeout", m.timeout),
		zap.Strings("hooks", m.registry.Names()),
	)

	m.tracker.Close()
	if active := m.tracker.ActiveCount(); active > 0 {
		m.logger.Info("Waiting for active sessions", zap.Int64("sessions", active))
	}
	if err := m.tracker.Wait(m.timeout / 2); err != nil {
		m.logger.Warn("Sessions did not drain in time",
			zap.Int64("remaining", m.tracker.ActiveCount()),
		)
	}

	remaining := m.timeout - time.Since(start)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	errs := m.registry.Shutdown(ctx)
	for _, err := range errs {
		m.logger.Error("Shutdown hook failed", zap.Error(err))
	}

	signal.Stop(m.sigChan)

	m.logger.Info("Shutdown complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int("errors", len(errs)),
	)
	if len(errs) > 0 {
		return fmt.Errorf("shutdown finished with %d errors", len(errs))
	}
	return nil
}

// Wait blocks until shutdown has been initiated.
func (m *Manager) Wait() {
	<-m.ctx.Done()
}

// IsShuttingDown reports whether shutdown has started.
func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown || m.tracker.IsClosed()
}
