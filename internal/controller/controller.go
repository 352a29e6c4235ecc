package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Solar/internal/analytics"
	"Solar/internal/config"
	"Solar/internal/metrics"
	"Solar/internal/models"
	"Solar/internal/runner"
)

// Controller is the host main loop. It runs periodic health sweeps over the
// runner manager and, when enabled, restarts runners stuck in the error state.
type Controller struct {
	cfg     config.ApplicationConfig
	manager *runner.Manager
	tracker *analytics.Tracker
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	restarts map[string]*restartState
}

type restartState struct {
	attempts int
	last     time.Time
}

func New(cfg config.ApplicationConfig, manager *runner.Manager, tracker *analytics.Tracker, met *metrics.Metrics, logger *slog.Logger) (*Controller, error) {
	if manager == nil {
		return nil, fmt.Errorf("runner manager cannot be nil")
	}
	if tracker == nil {
		tracker = analytics.NewTracker()
	}
	if cfg.HealthCheckInterval <= 0 {
		return nil, fmt.Errorf("health check interval must be > 0")
	}

	return &Controller{
		cfg:      cfg,
		manager:  manager,
		tracker:  tracker,
		metrics:  met,
		logger:   logger.With("component", "controller"),
		now:      time.Now,
		restarts: make(map[string]*restartState),
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("controller starting",
		"health_check_interval", c.cfg.HealthCheckInterval,
		"auto_restart", c.cfg.AutoRestart,
	)

	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	c.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopped")
			return nil
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one health check pass and records its report.
func (c *Controller) Sweep(ctx context.Context) models.HealthReport {
	start := time.Now()

	var restarted []string
	if c.cfg.AutoRestart {
		restarted = c.restartFailed(ctx)
	}

	unhealthy := c.manager.HealthSweep()
	st := c.manager.SystemStatus()
	duration := time.Since(start)

	report := models.HealthReport{
		Healthy:        len(unhealthy) == 0 && st.ErrorRunners == 0,
		Unhealthy:      unhealthy,
		Restarted:      restarted,
		TotalRunners:   st.TotalRunners,
		RunningRunners: st.RunningRunners,
		ErrorRunners:   st.ErrorRunners,
		Duration:       duration.String(),
		Timestamp:      c.now(),
	}
	c.tracker.RecordReport(report)

	if c.metrics != nil {
		result := "ok"
		if !report.Healthy {
			result = "unhealthy"
		}
		c.metrics.HealthSweepTotal.WithLabelValues(result).Inc()
		c.metrics.HealthSweepDuration.Observe(duration.Seconds())
		c.metrics.UnhealthyRunners.Set(float64(len(unhealthy)))
		c.metrics.UpdateSystemStatus(st)
	}

	c.logger.Debug("health sweep complete",
		"running", st.RunningRunners,
		"errors", st.ErrorRunners,
		"unhealthy", len(unhealthy),
		"restarted", len(restarted),
	)
	return report
}

// restartFailed restarts runners in the error state whose goroutine has
// exited, honoring the restart cooldown and the per-runner attempt limit.
func (c *Controller) restartFailed(ctx context.Context) []string {
	var restarted []string
	for id, st := range c.manager.Statuses() {
		if st.State != runner.StateError || st.WorkerAlive || !st.Enabled {
			continue
		}
		attempt, ok := c.allowRestart(id)
		if !ok {
			continue
		}

		err := c.manager.Restart(ctx, id, c.cfg.ShutdownTimeout)
		rec := models.RestartAttempt{
			Runner:    id,
			Attempt:   attempt,
			Success:   err == nil,
			Timestamp: c.now(),
		}
		result := "success"
		if err != nil {
			rec.Error = err.Error()
			result = "failure"
			c.logger.Warn("automatic restart failed", "runner", id, "attempt", attempt, "error", err)
		} else {
			restarted = append(restarted, id)
			c.logger.Info("runner restarted automatically", "runner", id, "attempt", attempt)
		}
		c.tracker.RecordRestart(rec)
		if c.metrics != nil {
			c.metrics.RunnerRestarts.WithLabelValues(id, result).Inc()
		}
	}
	return restarted
}

// allowRestart reserves a restart attempt for id. MaxRestarts of zero means
// no limit. Attempts are counted for the lifetime of the controller.
func (c *Controller) allowRestart(id string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs, ok := c.restarts[id]
	if !ok {
		rs = &restartState{}
		c.restarts[id] = rs
	}

	if c.cfg.MaxRestarts > 0 && rs.attempts >= c.cfg.MaxRestarts {
		return 0, false
	}
	now := c.now()
	if !rs.last.IsZero() && now.Sub(rs.last) < c.cfg.RestartCooldown {
		return 0, false
	}

	rs.attempts++
	rs.last = now
	return rs.attempts, true
}

// RestartAttempts returns how many automatic restarts id has used.
func (c *Controller) RestartAttempts(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rs, ok := c.restarts[id]; ok {
		return rs.attempts
	}
	return 0
}

// Tracker exposes the report history for the API.
func (c *Controller) Tracker() *analytics.Tracker {
	return c.tracker
}
