package store

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"Solar/internal/runner"
)

// Event is a persisted runner lifecycle event.
type Event struct {
	ID        string    `json:"id"`
	Runner    string    `json:"runner"`
	Type      string    `json:"type"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Backend persists events. Recent and ForRunner return events oldest first.
type Backend interface {
	Append(ev Event) error
	Recent(count int) ([]Event, error)
	ForRunner(runner string, count int) ([]Event, error)
	Close() error
}

type StoreConfig struct {
	Enabled   bool
	Type      string
	Path      string
	MaxEvents int
}

// Store records runner lifecycle events. A disabled store accepts and drops
// everything.
type Store struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a new store instance
func New(cfg StoreConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Store{logger: logger.With("component", "store")}
	if !cfg.Enabled {
		return s, nil
	}

	var err error
	switch cfg.Type {
	case "", "file":
		s.backend, err = NewFileStore(cfg.Path, cfg.MaxEvents)
	case "sqlite":
		s.backend, err = NewSQLiteStore(cfg.Path, cfg.MaxEvents)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Type, err)
	}
	return s, nil
}

// NewWithBackend wraps an existing backend.
func NewWithBackend(b Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{backend: b, logger: logger.With("component", "store")}
}

func (s *Store) Enabled() bool {
	return s.backend != nil
}

// Observe implements runner.Observer. Transitions and work cycles are left to
// metrics; only lifecycle milestones are persisted.
func (s *Store) Observe(ev runner.Event) {
	switch ev.Type {
	case runner.EventStarted, runner.EventStopped, runner.EventInitFailed,
		runner.EventStopTimeout, runner.EventFatal, runner.EventReset:
	default:
		return
	}
	if err := s.Record(FromRunnerEvent(ev)); err != nil {
		s.logger.Error("failed to record event", "runner", ev.Runner, "type", ev.Type, "error", err)
	}
}

// Record stores one event.
func (s *Store) Record(ev Event) error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Append(ev)
}

// Recent returns the most recent count events.
func (s *Store) Recent(count int) ([]Event, error) {
	if s.backend == nil || count <= 0 {
		return []Event{}, nil
	}
	return s.backend.Recent(count)
}

// ForRunner returns the most recent count events of one runner.
func (s *Store) ForRunner(name string, count int) ([]Event, error) {
	if s.backend == nil || count <= 0 {
		return []Event{}, nil
	}
	return s.backend.ForRunner(name, count)
}

func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// FromRunnerEvent converts a runner event into its persisted form.
func FromRunnerEvent(ev runner.Event) Event {
	return Event{
		ID:        ev.ID,
		Runner:    ev.Runner,
		Type:      string(ev.Type),
		From:      string(ev.From),
		To:        string(ev.To),
		Message:   ev.Message,
		Timestamp: ev.Timestamp,
	}
}
