// Package shutdown coordinates the orderly stop of a provider process:
// the gRPC server drains, the metrics listener closes, the pid file goes
// away and the backend store is closed, in reverse order of registration.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// CleanupFunc releases one resource. ctx is cancelled when the
// shutdown deadline passes.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager runs registered cleanups once shutdown is requested.
type Manager struct {
	mu       sync.Mutex
	cleanups []cleanupEntry
	shutdown bool
	signal   os.Signal
	logger   *zap.Logger

	shutdownCh chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	once       sync.Once
	runOnce    sync.Once
	result     error
	stopNotify func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger logs every cleanup and its failure to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a new shutdown manager.
func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		logger:     zap.NewNop(),
		stopNotify: func() {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterCleanup adds fn to the cleanups. They run last registered first.
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// NotifySignals requests shutdown on the first of sigs (SIGINT and
// SIGTERM when none are given).
func (m *Manager) NotifySignals(sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	m.mu.Lock()
	m.stopNotify = func() { signal.Stop(ch) }
	m.mu.Unlock()

	go func() {
		select {
		case sig := <-ch:
			m.mu.Lock()
			m.signal = sig
			m.mu.Unlock()
			m.logger.Info("received signal", zap.String("signal", sig.String()))
			m.Shutdown()
		case <-m.shutdownCh:
		}
	}()
}

// Shutdown requests a shutdown. Only the first call has effect.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()

		m.cancel()
		close(m.shutdownCh)
	})
}

// Done is closed once shutdown has been requested.
func (m *Manager) Done() <-chan struct{} {
	return m.shutdownCh
}

// Signal returns the signal that triggered the shutdown, if any.
func (m *Manager) Signal() os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal
}

func (m *Manager) runCleanups(ctx context.Context) error {
	m.mu.Lock()
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	stop := m.stopNotify
	m.mu.Unlock()
	stop()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		m.logger.Debug("running cleanup", zap.String("name", c.name))
		if err := c.fn(ctx); err != nil {
			m.logger.Warn("cleanup failed", zap.String("name", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// Wait runs the cleanups and returns their joined errors, or ctx.Err()
// when ctx ends first. Cleanups run at most once; later calls return the
// first result.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.runOnce.Do(func() {
			m.result = m.runCleanups(ctx)
		})
		close(done)
	}()

	select {
	case <-done:
		return m.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown returns true if shutdown has been initiated.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Context returns a context that is cancelled when shutdown is initiated.
func (m *Manager) Context() context.Context {
	return m.ctx
}
