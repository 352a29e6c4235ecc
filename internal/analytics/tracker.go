package analytics

import (
	"sync"
	"time"

	"Solar/internal/models"
)

const historySize = 100

// Tracker keeps recent health reports and restart attempts
type Tracker struct {
	mu        sync.RWMutex
	latest    models.HealthReport
	hasLatest bool
	history   []models.HealthReport
	restarts  []models.RestartAttempt
}

// NewTracker creates a new analytics tracker
func NewTracker() *Tracker {
	return &Tracker{
		history:  make([]models.HealthReport, 0, historySize),
		restarts: make([]models.RestartAttempt, 0, historySize),
	}
}

// RecordReport records a health report
func (t *Tracker) RecordReport(report models.HealthReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}
	t.history = append(t.history, report)
	t.latest = report
	t.hasLatest = true

	if len(t.history) > historySize {
		t.history = t.history[1:]
	}
}

// RecordRestart records an automatic restart attempt
func (t *Tracker) RecordRestart(attempt models.RestartAttempt) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now()
	}
	t.restarts = append(t.restarts, attempt)

	if len(t.restarts) > historySize {
		t.restarts = t.restarts[1:]
	}
}

// Latest returns the most recent report
func (t *Tracker) Latest() (models.HealthReport, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.latest, t.hasLatest
}

// GetHistory returns up to limit reports, oldest first
func (t *Tracker) GetHistory(limit int) []models.HealthReport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}

	start := len(t.history) - limit
	result := make([]models.HealthReport, limit)
	copy(result, t.history[start:])
	return result
}

// GetRestarts returns up to limit restart attempts, oldest first
func (t *Tracker) GetRestarts(limit int) []models.RestartAttempt {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.restarts) {
		limit = len(t.restarts)
	}

	start := len(t.restarts) - limit
	result := make([]models.RestartAttempt, limit)
	copy(result, t.restarts[start:])
	return result
}
