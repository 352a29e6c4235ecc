package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"Solar/internal/blackboard"
)

// DefaultShutdownTimeout bounds each runner's Stop during Shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Factory builds the worker for a runner of one registered type. settings.Raw
// holds the full configuration block for type-specific fields.
type Factory func(name string, settings Settings) (Worker, error)

// ManagerConfig carries what the manager hands to every runner it creates.
type ManagerConfig struct {
	Board           blackboard.Reader
	Observers       []Observer
	ShutdownTimeout time.Duration
	Clock           func() time.Time
}

// Manager owns the runner collection and the type registry.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu        sync.RWMutex
	runners   map[string]*Runner
	factories map[string]Factory
	running   bool
	startedAt time.Time
}

func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger.With("component", "runner-manager"),
		runners:   make(map[string]*Runner),
		factories: make(map[string]Factory),
	}
}

// RegisterType adds a runner type to the registry.
func (m *Manager) RegisterType(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("%w: type name and factory are required", ErrInvalidConfig)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	m.factories[name] = f
	return nil
}

// Types returns the registered type names in sorted order.
func (m *Manager) Types() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register creates a runner of typeName from cfg and adds it under id. On any
// error nothing is inserted.
func (m *Manager) Register(id, typeName string, cfg map[string]any) error {
	m.mu.RLock()
	_, exists := m.runners[id]
	factory, known := m.factories[typeName]
	m.mu.RUnlock()

	if exists {
		m.logger.Warn("runner already registered", "runner", id)
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if !known {
		m.logger.Error("unknown runner type", "runner", id, "type", typeName)
		return fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}

	settings, err := DecodeSettings(cfg)
	if err != nil {
		m.logger.Error("invalid runner configuration", "runner", id, "error", err)
		return err
	}
	settings.Type = typeName

	if !settings.Enabled {
		m.logger.Info("runner is disabled in configuration", "runner", id)
		return fmt.Errorf("%w: %s", ErrRunnerDisabled, id)
	}

	worker, err := factory(id, settings)
	if err != nil {
		m.logger.Error("failed to create runner", "runner", id, "type", typeName, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, id, err)
	}

	opts := []Option{
		WithBlackboard(m.cfg.Board),
		WithLogger(m.logger),
		WithClock(m.cfg.Clock),
	}
	for _, o := range m.cfg.Observers {
		opts = append(opts, WithObserver(o))
	}
	r, err := New(id, settings, worker, opts...)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runners[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	m.runners[id] = r

	m.logger.Info("runner registered", "runner", id, "type", typeName)
	return nil
}

// AutoRegister registers every entry of a runners configuration section. Each
// entry must be a map with a "type" key. Malformed or rejected entries are
// logged and skipped. It returns the ids that were registered.
func (m *Manager) AutoRegister(section map[string]any) []string {
	ids := make([]string, 0, len(section))
	for id := range section {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var registered []string
	for _, id := range ids {
		block, ok := section[id].(map[string]any)
		if !ok {
			m.logger.Warn("skipping runner with malformed configuration", "runner", id)
			continue
		}
		typeName, _ := block["type"].(string)
		if typeName == "" {
			m.logger.Warn("skipping runner without type", "runner", id)
			continue
		}
		if err := m.Register(id, typeName, block); err != nil {
			continue
		}
		registered = append(registered, id)
	}

	m.logger.Info("auto-registered runners", "count", len(registered), "configured", len(ids))
	return registered
}

// Unregister stops a runner and removes it. A runner that fails to stop is
// kept.
func (m *Manager) Unregister(id string, timeout time.Duration) error {
	r, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := r.Stop(timeout); err != nil {
		return fmt.Errorf("unregister %s: %w", id, err)
	}

	m.mu.Lock()
	delete(m.runners, id)
	m.mu.Unlock()

	m.logger.Info("runner unregistered", "runner", id)
	return nil
}

// Get returns the runner registered under id.
func (m *Manager) Get(id string) (*Runner, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runners[id]
	return r, ok
}

// IDs returns the registered runner ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.runners))
	for id := range m.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) list() []*Runner {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Runner, 0, len(m.runners))
	for _, r := range m.runners {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Start registers the runners of section, starts them all and marks the
// manager running. Runners that fail to start do not prevent the others.
// It returns ErrManagerRunning when the manager is already running.
func (m *Manager) Start(ctx context.Context, section map[string]any) error {
	if m.Running() {
		m.logger.Warn("runner manager already running")
		return ErrManagerRunning
	}
	m.logger.Info("starting runner manager")
	m.AutoRegister(section)
	err := m.StartAll(ctx)
	if err != nil {
		m.logger.Warn("some runners failed to start", "error", err)
	}
	return err
}

// StartAll starts every registered runner in id order. There is no rollback:
// runners that started stay running when others fail.
func (m *Manager) StartAll(ctx context.Context) error {
	runners := m.list()

	m.mu.Lock()
	m.running = true
	if m.startedAt.IsZero() {
		m.startedAt = m.cfg.Clock()
	}
	m.mu.Unlock()

	failures := make(map[string]error)
	for _, r := range runners {
		if err := r.Start(ctx); err != nil {
			failures[r.Name()] = err
		}
	}

	m.logger.Info("started runners", "started", len(runners)-len(failures), "total", len(runners))
	if len(failures) > 0 {
		return &BatchError{Op: "start", Total: len(runners), Failures: failures}
	}
	return nil
}

// StopAll stops every runner in parallel, each bounded by timeout.
func (m *Manager) StopAll(timeout time.Duration) error {
	runners := m.list()

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
		g        errgroup.Group
	)
	for _, r := range runners {
		g.Go(func() error {
			if err := r.Stop(timeout); err != nil {
				mu.Lock()
				failures[r.Name()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("stopped runners", "stopped", len(runners)-len(failures), "total", len(runners))
	if len(failures) > 0 {
		return &BatchError{Op: "stop", Total: len(runners), Failures: failures}
	}
	return nil
}

// Shutdown stops all runners with the configured shutdown timeout. Calling it
// on a manager that is not running does nothing.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("shutting down runner manager")
	return m.StopAll(m.cfg.ShutdownTimeout)
}

// Restart stops, resets and starts one runner.
func (m *Manager) Restart(ctx context.Context, id string, timeout time.Duration) error {
	r, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := r.Stop(timeout); err != nil {
		return fmt.Errorf("restart %s: %w", id, err)
	}
	if err := r.Reset(); err != nil {
		return fmt.Errorf("restart %s: %w", id, err)
	}
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("restart %s: %w", id, err)
	}
	m.logger.Info("runner restarted", "runner", id)
	return nil
}

// Running reports whether the manager has been started and not shut down.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// HealthSweep returns the ids of runners that are running but report
// themselves unhealthy. It takes no corrective action.
func (m *Manager) HealthSweep() []string {
	var unhealthy []string
	for _, r := range m.list() {
		if r.State() == StateRunning && !r.IsHealthy() {
			unhealthy = append(unhealthy, r.Name())
		}
	}
	if len(unhealthy) > 0 {
		m.logger.Warn("unhealthy runners detected", "runners", unhealthy)
	}
	return unhealthy
}

// Healthy reports whether the manager is running and every running runner is
// healthy.
func (m *Manager) Healthy() bool {
	if !m.Running() {
		return false
	}
	return len(m.HealthSweep()) == 0
}

// Status returns the status of one runner.
func (m *Manager) Status(id string) (Status, error) {
	r, ok := m.Get(id)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Status(), nil
}

// Statuses returns the status of every runner keyed by id.
func (m *Manager) Statuses() map[string]Status {
	runners := m.list()
	out := make(map[string]Status, len(runners))
	for _, r := range runners {
		out[r.Name()] = r.Status()
	}
	return out
}

// SystemStatus aggregates runner states. It is computed on every call.
func (m *Manager) SystemStatus() SystemStatus {
	now := m.cfg.Clock()
	st := SystemStatus{LastStatusCheck: now}

	for _, r := range m.list() {
		rs := r.Status()
		st.TotalRunners++
		switch rs.State {
		case StateRunning:
			st.RunningRunners++
		case StateStopped:
			st.StoppedRunners++
		case StateError:
			st.ErrorRunners++
		}
		if rs.Healthy {
			st.HealthyRunners++
		}
	}

	m.mu.RLock()
	if !m.startedAt.IsZero() {
		st.Uptime = now.Sub(m.startedAt)
	}
	m.mu.RUnlock()
	return st
}

// IsBatchFailure reports whether err is a BatchError that names id.
func IsBatchFailure(err error, id string) bool {
	var be *BatchError
	if !errors.As(err, &be) {
		return false
	}
	_, ok := be.Failures[id]
	return ok
}
