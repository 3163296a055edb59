package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sdqueue/core"
)

// Manager coordinates graceful shutdown: it cancels a root context on the
// first SIGINT/SIGTERM (or Trigger), waits for tracked operations and
// then runs registered cleanups in priority order.
//
// Usage:
//
//	manager := shutdown.NewManager(logger, shutdown.WithTimeout(30*time.Second))
//	manager.Register("http", 10, server.Shutdown)
//	manager.Register("database", 40, func(ctx context.Context) error { return db.Close() })
//	manager.Start()
//	manager.Wait()
//	err := manager.Shutdown()
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration
	exit    func(int)

	mu       sync.Mutex
	started  bool
	shutdown bool
	reason   string

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *ShutdownRegistry
	signals  *SignalCounter
	sigChan  chan os.Signal
	lastSig  os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout bounds the whole shutdown sequence. Default 30 seconds.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithExitFunc replaces os.Exit for the forced exit on a second signal.
func WithExitFunc(exit func(int)) ManagerOption {
	return func(m *Manager) {
		m.exit = exit
	}
}

// NewManager creates a Manager.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:   logger,
		timeout:  30 * time.Second,
		exit:     os.Exit,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewShutdownRegistry(),
		sigChan:  make(chan os.Signal, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.signals = NewSignalCounter(2, func() {
		m.logger.Warn("second signal received, forcing exit")
		m.exit(core.ExitCodeForSignal(m.lastSig))
	})
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Tracker exposes the in-flight operation tracker.
func (m *Manager) Tracker() *OperationTracker {
	return m.tracker
}

// Register adds a cleanup. Lower priorities run first:
//   - 10: stop accepting requests
//   - 20: stop the queue and worker
//   - 30: flush write-behind stores
//   - 40: close databases and runtimes
//   - 90: flush logs
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. Safe to call more than once.
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
			m.lastSig = sig
			if m.signals.Increment() == 1 {
				m.Trigger("signal " + sig.String())
			}
		}
	}()
}

// Trigger begins shutdown without a signal, for service managers and
// fatal errors. Only the first reason is kept.
func (m *Manager) Trigger(reason string) {
	m.mu.Lock()
	first := m.reason == ""
	if first {
		m.reason = reason
	}
	m.mu.Unlock()

	if first {
		m.logger.Info("shutdown requested", zap.String("reason", reason))
	}
	m.cancel()
}

// Reason returns what triggered shutdown, empty before it starts.
func (m *Manager) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Wait blocks until shutdown is triggered.
func (m *Manager) Wait() {
	<-m.ctx.Done()
}

// Shutdown closes the tracker, waits for in-flight operations and runs
// cleanups within the timeout. Later calls return nil.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	m.mu.Unlock()
	m.cancel()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.logger.Info("graceful shutdown started",
		zap.Duration("timeout", m.timeout),
		zap.Strings("handlers", m.registry.Names()))

	m.tracker.Close()
	if n := m.tracker.ActiveCount(); n > 0 {
		m.logger.Info("waiting for in-flight operations", zap.Int64("active", n))
	}
	if err := m.tracker.Wait(ctx); err != nil {
		m.logger.Warn("in-flight operations did not finish",
			zap.Int64("remaining", m.tracker.ActiveCount()),
			zap.Error(err))
	}

	// Cleanups always get at least a second, even after a slow drain.
	if remaining := time.Until(start.Add(m.timeout)); remaining < time.Second {
		cancel()
		ctx, cancel = context.WithTimeout(context.Background(), time.Second)
		defer cancel()
	}

	errs := m.registry.Shutdown(ctx, m.logger)

	m.mu.Lock()
	if m.started {
		signal.Stop(m.sigChan)
	}
	m.mu.Unlock()

	if len(errs) > 0 {
		m.logger.Error("shutdown completed with errors",
			zap.Duration("duration", time.Since(start)),
			zap.Int("error_count", len(errs)))
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}
	m.logger.Info("graceful shutdown completed", zap.Duration("duration", time.Since(start)))
	return nil
}

// WrapOperation runs fn as a tracked operation. It returns
// ErrTrackerClosed without running fn once shutdown has begun.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.tracker.Start() {
		m.logger.Debug("operation rejected during shutdown", zap.String("operation", name))
		return ErrTrackerClosed
	}
	defer m.tracker.Done()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// IsShuttingDown reports whether shutdown has begun.
func (m *Manager) IsShuttingDown() bool {
	return m.ctx.Err() != nil
}

// RegisteredHandlers lists handler names in execution order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}
