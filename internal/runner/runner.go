// Package runner implements the lifecycle of independently scheduled device
// workers and the manager that supervises them.
//
// Each Runner owns one goroutine. Its state moves through
//
//	stopped -> starting -> running -> stopping -> stopped | error
//
// and the goroutine repeatedly evaluates the runner's gating policy, performs
// one work cycle and waits for the configured interval or for cancellation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"Solar/internal/blackboard"
)

// Worker is the device-specific part of a runner.
type Worker interface {
	// Initialize is called synchronously from Start before the goroutine is
	// spawned. It may acquire hardware handles.
	Initialize(ctx context.Context) error

	// WorkCycle performs one unit of work. It is never called concurrently
	// for the same runner.
	WorkCycle(ctx context.Context) error

	// IsHealthy is a point-in-time liveness judgment. It must be safe to call
	// from any goroutine.
	IsHealthy() bool

	// Cleanup releases resources. It runs exactly once, from the runner's own
	// goroutine, on every exit path.
	Cleanup()
}

// ErrorAction tells the runner what to do after a failed work cycle.
type ErrorAction int

const (
	Continue ErrorAction = iota
	Stop
)

func (a ErrorAction) String() string {
	if a == Stop {
		return "stop"
	}
	return "continue"
}

// ErrorClassifier is optionally implemented by workers that treat some errors
// as fatal. Workers without it keep running after any error.
type ErrorClassifier interface {
	ClassifyError(err error) ErrorAction
}

// PanicError wraps a value recovered from a panicking hook.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Option configures a Runner.
type Option func(*Runner)

// WithBlackboard sets the board consulted by triggered runners.
func WithBlackboard(board blackboard.Reader) Option {
	return func(r *Runner) {
		r.board = board
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver adds an observer notified of lifecycle and cycle events.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithClock overrides the wall clock used for gating and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner drives one Worker on a dedicated goroutine.
type Runner struct {
	name      string
	settings  Settings
	policy    Policy
	worker    Worker
	board     blackboard.Reader
	logger    *slog.Logger
	observers []Observer
	now       func() time.Time

	// lifecycle is a one-slot semaphore serializing Start, Stop and Reset.
	// It may be held across blocking calls; mu never is.
	lifecycle chan struct{}

	mu           sync.Mutex
	state        State
	enabled      bool
	errorCount   int
	lastError    string
	startedAt    time.Time
	lastActivity time.Time
	cycles       int64
	cancel       context.CancelFunc
	initCancel   context.CancelFunc
	done         chan struct{}
}

// New creates a stopped runner.
func New(name string, settings Settings, worker Worker, opts ...Option) (*Runner, error) {
	if worker == nil {
		return nil, fmt.Errorf("%w: runner %s has no worker", ErrInvalidConfig, name)
	}
	policy, err := settings.Policy()
	if err != nil {
		return nil, err
	}
	if settings.MeasurementInterval <= 0 {
		settings.MeasurementInterval = DefaultInterval
	}

	r := &Runner{
		name:     name,
		settings: settings,
		policy:   policy,
		worker:   worker,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		state:    StateStopped,
		enabled:  settings.Enabled,

		lifecycle: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("runner", name)

	r.logger.Debug("runner created",
		"type", settings.Type,
		"enabled", r.enabled,
		"behavior", policy.Behavior,
		"interval", settings.MeasurementInterval,
	)
	return r, nil
}

func (r *Runner) Name() string       { return r.name }
func (r *Runner) Type() string       { return r.settings.Type }
func (r *Runner) Settings() Settings { return r.settings }
func (r *Runner) Policy() Policy     { return r.policy }
func (r *Runner) Worker() Worker     { return r.worker }
func (r *Runner) Interval() time.Duration {
	return r.settings.MeasurementInterval
}

// Label returns the configured label, falling back to the runner name.
func (r *Runner) Label() string {
	if r.settings.Label != "" {
		return r.settings.Label
	}
	return r.name
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Enabled reports whether the runner may be started.
func (r *Runner) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// IsRunning reports whether the runner is in the running state.
func (r *Runner) IsRunning() bool {
	return r.State() == StateRunning
}

// IsHealthy delegates to the worker.
func (r *Runner) IsHealthy() bool {
	return r.worker.IsHealthy()
}

// SetEnabled changes the enabled flag. A running goroutine is not stopped, but
// its gate skips work while the runner is disabled. Re-enabling a runner that
// is in the error state with no live worker resets it to stopped.
func (r *Runner) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	reset := enabled && r.state == StateError && !r.workerAliveLocked()
	r.mu.Unlock()

	r.logger.Debug("runner enabled flag changed", "enabled", enabled)

	if reset {
		if err := r.Reset(); err != nil {
			r.logger.Warn("failed to reset runner on re-enable", "error", err)
		}
	}
}

// Start initializes the worker and spawns the runner goroutine. A Stop issued
// while Initialize is running cancels the context passed to it.
func (r *Runner) Start(ctx context.Context) error {
	r.lock()
	defer r.unlock()

	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		r.logger.Warn("runner is disabled, not starting")
		return ErrDisabled
	}
	if r.state != StateStopped {
		state := r.state
		r.mu.Unlock()
		r.logger.Warn("runner is not stopped, cannot start", "state", state)
		return ErrAlreadyRunning
	}
	initCtx, initCancel := context.WithCancel(ctx)
	defer initCancel()
	r.state = StateStarting
	r.initCancel = initCancel
	r.mu.Unlock()
	r.emitTransition(StateStopped, StateStarting)

	err := r.call(func() error { return r.worker.Initialize(initCtx) })

	r.mu.Lock()
	r.initCancel = nil
	// Stop gave up waiting and already moved the runner to the error state.
	aborted := r.state != StateStarting
	if err != nil {
		if aborted {
			r.mu.Unlock()
			return &InitError{Runner: r.name, Err: err}
		}
		r.state = StateError
		r.errorCount++
		r.lastError = err.Error()
		r.mu.Unlock()

		r.logger.Error("failed to initialize runner", "error", err)
		r.emitTransition(StateStarting, StateError)
		r.emit(Event{Type: EventInitFailed, Message: err.Error()})
		return &InitError{Runner: r.name, Err: err}
	}
	if aborted {
		r.mu.Unlock()
		r.logger.Warn("initialized after stop timed out, cleaning up")
		r.runCleanup()
		return ErrStartAborted
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.cancel = cancel
	r.done = done
	r.startedAt = r.now()
	r.state = StateRunning
	r.mu.Unlock()

	go r.loop(runCtx, done)

	r.logger.Debug("runner started")
	r.emitTransition(StateStarting, StateRunning)
	r.emit(Event{Type: EventStarted})
	return nil
}

// Stop cancels the goroutine and waits up to timeout for it to exit. On
// timeout the goroutine is abandoned, the runner moves to the error state and
// ErrStopTimeout is returned. The timeout also bounds a wait on a runner that
// is still starting.
func (r *Runner) Stop(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	r.mu.Lock()
	if r.state == StateStarting && r.initCancel != nil {
		r.initCancel()
	}
	r.mu.Unlock()

	if !r.lockWithin(timeout) {
		return r.abandonStart(timeout)
	}
	defer r.unlock()

	r.mu.Lock()
	if r.state == StateStopped || r.state == StateStopping {
		r.mu.Unlock()
		return nil
	}
	from := r.state
	r.state = StateStopping
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	r.logger.Debug("stopping runner")
	r.emitTransition(from, StateStopping)

	if cancel != nil {
		cancel()
	}

	if done != nil {
		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			r.mu.Lock()
			r.state = StateError
			r.errorCount++
			r.lastError = fmt.Sprintf("did not stop within %s", timeout)
			r.mu.Unlock()

			r.logger.Warn("runner did not stop gracefully", "timeout", timeout)
			r.emitTransition(StateStopping, StateError)
			r.emit(Event{Type: EventStopTimeout, Message: timeout.String()})
			return ErrStopTimeout
		}
	}

	r.mu.Lock()
	r.state = StateStopped
	r.cancel = nil
	r.done = nil
	r.startedAt = time.Time{}
	r.mu.Unlock()

	r.logger.Debug("runner stopped")
	r.emitTransition(StateStopping, StateStopped)
	r.emit(Event{Type: EventStopped})
	return nil
}

// abandonStart handles a Stop that could not take the lifecycle lock in time.
// A runner stuck in Initialize is moved to the error state; Start cleans up
// the worker if Initialize later succeeds.
func (r *Runner) abandonStart(timeout time.Duration) error {
	r.mu.Lock()
	if r.state != StateStarting {
		r.mu.Unlock()
		return ErrStopTimeout
	}
	r.state = StateError
	r.errorCount++
	r.lastError = fmt.Sprintf("did not finish initializing within %s", timeout)
	r.mu.Unlock()

	r.logger.Warn("runner still initializing at stop", "timeout", timeout)
	r.emitTransition(StateStarting, StateError)
	r.emit(Event{Type: EventStopTimeout, Message: timeout.String()})
	return ErrStopTimeout
}

// Reset moves a runner out of the error state once its goroutine, if any, has
// exited.
func (r *Runner) Reset() error {
	r.lock()
	defer r.unlock()

	r.mu.Lock()
	switch r.state {
	case StateStopped:
		r.mu.Unlock()
		return nil
	case StateError:
		if r.workerAliveLocked() {
			r.mu.Unlock()
			return ErrWorkerAlive
		}
		if r.cancel != nil {
			r.cancel()
		}
		r.state = StateStopped
		r.cancel = nil
		r.done = nil
		r.startedAt = time.Time{}
		r.mu.Unlock()
	default:
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	r.logger.Info("runner reset")
	r.emitTransition(StateError, StateStopped)
	r.emit(Event{Type: EventReset})
	return nil
}

// Status returns a snapshot of the runner. It never waits on the goroutine.
func (r *Runner) Status() Status {
	r.mu.Lock()
	st := Status{
		Name:        r.name,
		Type:        r.settings.Type,
		Label:       r.settings.Label,
		State:       r.state,
		Enabled:     r.enabled,
		ErrorCount:  r.errorCount,
		LastError:   r.lastError,
		Cycles:      r.cycles,
		Behavior:    r.policy.Behavior,
		Interval:    r.settings.MeasurementInterval,
		WorkerAlive: r.workerAliveLocked(),
	}
	if r.state == StateRunning && !r.startedAt.IsZero() {
		st.Uptime = r.now().Sub(r.startedAt)
	}
	if !r.lastActivity.IsZero() {
		ts := r.lastActivity
		st.LastActivity = &ts
	}
	r.mu.Unlock()

	st.Healthy = r.worker.IsHealthy()
	return st
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	r.logger.Debug("runner goroutine started")

	fatal := false
	defer func() {
		r.runCleanup()
		if fatal {
			r.markFatal()
		}
		r.logger.Debug("runner goroutine ending")
		close(done)
	}()

	for ctx.Err() == nil {
		if !r.shouldExecute(ctx) {
			if !r.wait(ctx) {
				return
			}
			continue
		}

		r.mu.Lock()
		r.lastActivity = r.now()
		r.mu.Unlock()

		start := time.Now()
		err := r.call(func() error { return r.worker.WorkCycle(ctx) })
		r.finishCycle(time.Since(start), err)

		if err != nil {
			if r.classify(err) == Stop {
				r.logger.Error("fatal work cycle error, stopping runner", "error", err)
				fatal = true
				return
			}
		}

		if !r.wait(ctx) {
			return
		}
	}
}

func (r *Runner) shouldExecute(ctx context.Context) bool {
	if !r.Enabled() {
		return false
	}
	return r.policy.ShouldExecute(ctx, r.now(), r.board)
}

// wait blocks for one interval. It returns false when the runner is cancelled.
func (r *Runner) wait(ctx context.Context) bool {
	timer := time.NewTimer(r.settings.MeasurementInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) finishCycle(d time.Duration, err error) {
	r.mu.Lock()
	r.cycles++
	if err != nil {
		r.errorCount++
		r.lastError = err.Error()
	}
	r.mu.Unlock()

	ev := Event{Type: EventCycle, Duration: d}
	if err != nil {
		ev.Failed = true
		ev.Message = err.Error()
		r.logger.Error("error in work cycle", "error", err)
	}
	r.emit(ev)
}

// classify asks the worker's classifier, when it has one, what to do after
// err. Without a classifier a panic is fatal and any other error is not.
func (r *Runner) classify(err error) ErrorAction {
	if c, ok := r.worker.(ErrorClassifier); ok {
		return c.ClassifyError(err)
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		return Stop
	}
	return Continue
}

func (r *Runner) runCleanup() {
	defer func() {
		if p := recover(); p != nil {
			r.mu.Lock()
			r.errorCount++
			r.lastError = fmt.Sprintf("cleanup: panic: %v", p)
			r.mu.Unlock()
			r.logger.Error("error during cleanup", "panic", p)
		}
	}()
	r.worker.Cleanup()
}

// markFatal moves a runner whose goroutine exited on its own into the error
// state. A concurrent Stop owns the transition instead.
func (r *Runner) markFatal() {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	r.state = StateError
	r.startedAt = time.Time{}
	if r.cancel != nil {
		r.cancel()
	}
	msg := r.lastError
	r.mu.Unlock()

	r.emitTransition(StateRunning, StateError)
	r.emit(Event{Type: EventFatal, Message: msg})
}

func (r *Runner) call(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	return fn()
}

func (r *Runner) lock()   { r.lifecycle <- struct{}{} }
func (r *Runner) unlock() { <-r.lifecycle }

// lockWithin acquires the lifecycle lock unless timeout expires first.
func (r *Runner) lockWithin(timeout time.Duration) bool {
	select {
	case r.lifecycle <- struct{}{}:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r.lifecycle <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (r *Runner) workerAliveLocked() bool {
	if r.initCancel != nil {
		return true
	}
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *Runner) emitTransition(from, to State) {
	r.emit(Event{Type: EventTransition, From: from, To: to})
}

func (r *Runner) emit(e Event) {
	if len(r.observers) == 0 {
		return
	}
	ev := newEvent(r.name, e.Type)
	ev.From, ev.To = e.From, e.To
	ev.Message = e.Message
	ev.Duration = e.Duration
	ev.Failed = e.Failed
	for _, o := range r.observers {
		o.Observe(ev)
	}
}
