// Package registry knows every provider the application can talk to, starts
// and stops their processes and hands out connections to them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"done/backend"
	"done/internal/client"
	"done/internal/daemon"
	"done/internal/metrics"
)

// DefaultStartTimeout bounds how long Start waits for a spawned provider to
// answer its health probe.
const DefaultStartTimeout = 10 * time.Second

// stopGrace is how long Stop waits after SIGTERM before SIGKILL.
const stopGrace = 5 * time.Second

var (
	// ErrUnknownProvider is returned for ids that are not registered.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNotInstalled is returned when a provider's executable cannot be found.
	ErrNotInstalled = errors.New("provider executable not installed")
	// ErrStartSuppressed is returned while repeated start failures keep the
	// provider's circuit breaker open.
	ErrStartSuppressed = errors.New("provider keeps failing to start")
)

// State is the lifecycle state of one provider.
type State int

const (
	NotInstalled State = iota
	Stopped
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case NotInstalled:
		return "not installed"
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Identity describes one provider. It is immutable once handed to New.
type Identity struct {
	ID           string
	Name         string
	Description  string
	Icon         string
	Address      string   // loopback host:port the provider listens on
	Executable   string   // executable spawned by Start
	Args         []string // arguments passed to Executable
	RequiresAuth bool     // Available consults the auth checker
}

// StartError reports a start attempt that did not end with a serving provider.
type StartError struct {
	Provider string
	Err      error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start provider %s: %v", e.Provider, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Registry brokers access to the configured providers.
type Registry struct {
	identities []Identity
	byID       map[string]int

	launcher     Launcher
	runtimeDir   string
	startTimeout time.Duration
	logger       *zap.Logger
	authChecker  func(providerID string) bool
	metrics      *metrics.Metrics
	clientOpts   []client.Option
	breakerNew   func() *daemon.CircuitBreaker

	mu        sync.Mutex
	inProcess map[string]backend.Provider
	locks     map[string]*sync.Mutex
	starting  map[string]bool
	breakers  map[string]*daemon.CircuitBreaker
}

// Option configures a Registry.
type Option func(*Registry)

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(r *Registry) { r.launcher = l }
}

// WithClientOptions passes options to every probe and connection.
func WithClientOptions(opts ...client.Option) Option {
	return func(r *Registry) { r.clientOpts = append(r.clientOpts, opts...) }
}

// WithRuntimeDir sets the directory holding pid, lock and log files.
func WithRuntimeDir(dir string) Option {
	return func(r *Registry) { r.runtimeDir = dir }
}

// WithStartTimeout overrides DefaultStartTimeout.
func WithStartTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.startTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAuthChecker sets the function answering whether a provider that
// requires auth holds a token.
func WithAuthChecker(fn func(providerID string) bool) Option {
	return func(r *Registry) { r.authChecker = fn }
}

// WithMetrics records start attempts in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithCircuitBreaker sets how many consecutive failed starts suppress
// further attempts, and for how long.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(r *Registry) {
		r.breakerNew = func() *daemon.CircuitBreaker {
			return daemon.NewCircuitBreaker(threshold, cooldown)
		}
	}
}

// New creates a registry over identities. Duplicate ids keep the first.
func New(identities []Identity, opts ...Option) *Registry {
	r := &Registry{
		byID:         map[string]int{},
		launcher:     ProcessLauncher{},
		runtimeDir:   daemon.RuntimeDir("done"),
		startTimeout: DefaultStartTimeout,
		logger:       zap.NewNop(),
		authChecker:  func(string) bool { return false },
		breakerNew: func() *daemon.CircuitBreaker {
			return daemon.NewCircuitBreaker(daemon.DefaultCircuitBreakerThreshold, daemon.DefaultCircuitBreakerCooldown)
		},
		inProcess: map[string]backend.Provider{},
		locks:     map[string]*sync.Mutex{},
		starting:  map[string]bool{},
		breakers:  map[string]*daemon.CircuitBreaker{},
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, id := range identities {
		if _, dup := r.byID[id.ID]; dup {
			continue
		}
		id.Args = slices.Clone(id.Args)
		r.byID[id.ID] = len(r.identities)
		r.identities = append(r.identities, id)
	}
	return r
}

// Identities returns the registered providers in registration order.
func (r *Registry) Identities() []Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.identities)
}

// Identity returns the descriptor of id.
func (r *Registry) Identity(id string) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[id]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return r.identities[i], nil
}

// RegisterInProcess serves p from this process. Connect returns it directly
// and Start/Stop become no-ops. An unknown id is added to the registry.
func (r *Registry) RegisterInProcess(p backend.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.ID()
	if _, ok := r.byID[id]; !ok {
		r.byID[id] = len(r.identities)
		r.identities = append(r.identities, Identity{
			ID:          id,
			Name:        p.Name(),
			Description: p.Description(),
			Icon:        p.IconName(),
		})
	}
	r.inProcess[id] = p
}

func (r *Registry) pidPath(id string) string  { return filepath.Join(r.runtimeDir, id+".pid") }
func (r *Registry) lockPath(id string) string { return filepath.Join(r.runtimeDir, id+".lock") }
func (r *Registry) logPath(id string) string  { return filepath.Join(r.runtimeDir, id+".log") }

func (r *Registry) startLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *Registry) breaker(id string) *daemon.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[id]
	if !ok {
		cb = r.breakerNew()
		r.breakers[id] = cb
	}
	return cb
}

func (r *Registry) setStarting(id string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v {
		r.starting[id] = true
	} else {
		delete(r.starting, id)
	}
}

func (r *Registry) lookup(id string) (Identity, backend.Provider, error) {
	ident, err := r.Identity(id)
	if err != nil {
		return Identity{}, nil, err
	}
	r.mu.Lock()
	p := r.inProcess[id]
	r.mu.Unlock()
	return ident, p, nil
}

// IsRunning is a point-in-time probe of the provider's health endpoint.
func (r *Registry) IsRunning(ctx context.Context, id string) bool {
	ident, p, err := r.lookup(id)
	if err != nil {
		return false
	}
	if p != nil {
		return true
	}
	return client.Probe(ctx, id, ident.Address, r.clientOpts...) == nil
}

// State reports the lifecycle state of id.
func (r *Registry) State(ctx context.Context, id string) (State, error) {
	ident, p, err := r.lookup(id)
	if err != nil {
		return NotInstalled, err
	}
	if p != nil {
		return Running, nil
	}
	r.mu.Lock()
	starting := r.starting[id]
	r.mu.Unlock()
	if starting {
		return Starting, nil
	}
	if client.Probe(ctx, id, ident.Address, r.clientOpts...) == nil {
		return Running, nil
	}
	if !r.launcher.Installed(ident) {
		return NotInstalled, nil
	}
	return Stopped, nil
}

// Start spawns the provider unless it already answers its probe, and waits
// until it does. Concurrent starts of one provider spawn at most one process.
// Failures are returned as *StartError and are never retried.
func (r *Registry) Start(ctx context.Context, id string) (err error) {
	ident, p, err := r.lookup(id)
	if err != nil {
		return err
	}
	if p != nil {
		return nil
	}

	l := r.startLock(id)
	l.Lock()
	defer l.Unlock()

	if client.Probe(ctx, id, ident.Address, r.clientOpts...) == nil {
		r.logger.Debug("provider already running", zap.String("provider", id))
		return nil
	}

	cb := r.breaker(id)
	if !cb.Allow() {
		return &StartError{Provider: id, Err: fmt.Errorf("%w, retry in %s", ErrStartSuppressed, cb.RetryAfter().Round(time.Second))}
	}
	defer func() {
		if err != nil {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
		r.metrics.ObserveStart(id, err)
	}()

	if !r.launcher.Installed(ident) {
		return &StartError{Provider: id, Err: fmt.Errorf("%w: %s", ErrNotInstalled, ident.Executable)}
	}

	unlock, err := daemon.Lock(r.lockPath(id))
	if errors.Is(err, daemon.ErrLocked) {
		// Another process is starting it.
		if werr := r.waitReady(ctx, ident); werr != nil {
			return &StartError{Provider: id, Err: fmt.Errorf("%w: %w", err, werr)}
		}
		return nil
	}
	if err != nil {
		return &StartError{Provider: id, Err: err}
	}
	defer unlock()

	r.setStarting(id, true)
	defer r.setStarting(id, false)

	r.logger.Info("starting provider", zap.String("provider", id), zap.String("executable", ident.Executable))
	pid, err := r.launcher.Launch(ident, r.logPath(id))
	if err != nil {
		return &StartError{Provider: id, Err: err}
	}
	if err := daemon.WritePID(r.pidPath(id), pid); err != nil {
		_ = r.launcher.Terminate(pid, stopGrace)
		return &StartError{Provider: id, Err: err}
	}

	if err := r.waitReady(ctx, ident); err != nil {
		r.logger.Warn("provider did not become ready", zap.String("provider", id), zap.Int("pid", pid), zap.Error(err))
		_ = r.launcher.Terminate(pid, stopGrace)
		_ = os.Remove(r.pidPath(id))
		return &StartError{Provider: id, Err: err}
	}
	r.logger.Info("provider running", zap.String("provider", id), zap.Int("pid", pid))
	return nil
}

// waitReady polls the health probe until it succeeds or the start timeout ends.
func (r *Registry) waitReady(ctx context.Context, ident Identity) error {
	ctx, cancel := context.WithTimeout(ctx, r.startTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var last error
	for {
		if last = client.Probe(ctx, ident.ID, ident.Address, r.clientOpts...); last == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("not ready after %s: %w", r.startTimeout, last)
		case <-ticker.C:
		}
	}
}

// Stop terminates the provider process recorded in its pid file. Stopping
// a provider that is not running is a no-op. The pid is only signalled while
// the provider answers its probe; otherwise the pid file is stale and may
// name a reused pid, so it is removed without signalling anyone.
func (r *Registry) Stop(ctx context.Context, id string) error {
	ident, p, err := r.lookup(id)
	if err != nil {
		return err
	}
	if p != nil {
		return nil
	}

	l := r.startLock(id)
	l.Lock()
	defer l.Unlock()

	pidPath := r.pidPath(id)
	pid, err := daemon.ReadPID(pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		_ = os.Remove(pidPath)
		return nil
	}
	if err := client.Probe(ctx, id, ident.Address, r.clientOpts...); err != nil {
		r.logger.Debug("removing stale pid file", zap.String("provider", id), zap.Int("pid", pid), zap.Error(err))
		_ = os.Remove(pidPath)
		return nil
	}
	r.logger.Info("stopping provider", zap.String("provider", id), zap.Int("pid", pid))
	if err := r.launcher.Terminate(pid, stopGrace); err != nil {
		return fmt.Errorf("failed to stop provider %s: %w", id, err)
	}
	_ = os.Remove(pidPath)
	return nil
}

// Connect returns a connection to a running provider. A provider that was
// not started yields a *backend.ConnectionError. Closing the returned
// provider never stops the provider itself.
func (r *Registry) Connect(ctx context.Context, id string) (backend.Provider, error) {
	ident, p, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return sharedProvider{p}, nil
	}
	return client.Connect(ctx, id, ident.Address, r.clientOpts...)
}

// Available reports whether id can serve requests without user action:
// providers that require auth must hold a token.
func (r *Registry) Available(id string) bool {
	ident, _, err := r.lookup(id)
	if err != nil {
		return false
	}
	if !ident.RequiresAuth {
		return true
	}
	return r.authChecker(id)
}

// sharedProvider keeps callers from closing an in-process provider.
type sharedProvider struct {
	backend.Provider
}

func (sharedProvider) Close() error { return nil }

// StreamTasks forwards batches from the wrapped provider.
func (s sharedProvider) StreamTasks(ctx context.Context, listID string, yield func([]backend.Task) error) error {
	for batch, err := range backend.StreamTasks(ctx, s.Provider, listID) {
		if err != nil {
			return err
		}
		if err := yield(batch); err != nil {
			return err
		}
	}
	return nil
}
