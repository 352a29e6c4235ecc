package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"Solar/internal/runner"
)

const (
	namespace = "solar"
)

var allStates = []runner.State{
	runner.StateStopped,
	runner.StateStarting,
	runner.StateRunning,
	runner.StateStopping,
	runner.StateError,
}

// Metrics holds all Prometheus metrics for the supervisor
type Metrics struct {
	// Health sweep metrics
	HealthSweepTotal    *prometheus.CounterVec
	HealthSweepDuration prometheus.Histogram
	UnhealthyRunners    prometheus.Gauge

	// Aggregate runner metrics
	RunnersTotal   prometheus.Gauge
	RunnersRunning prometheus.Gauge
	RunnersStopped prometheus.Gauge
	RunnersError   prometheus.Gauge
	RunnersHealthy prometheus.Gauge

	// Per-runner metrics
	RunnerState       *prometheus.GaugeVec
	RunnerTransitions *prometheus.CounterVec
	RunnerFailures    *prometheus.CounterVec
	RunnerRestarts    *prometheus.CounterVec
	WorkCycles        *prometheus.CounterVec
	WorkCycleDuration *prometheus.HistogramVec

	// API metrics
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec

	// System metrics
	SupervisorInfo *prometheus.GaugeVec
	InstanceLock   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	m := &Metrics{
		HealthSweepTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_sweep_total",
				Help:      "Total number of health sweeps",
			},
			[]string{"result"},
		),
		HealthSweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "health_sweep_duration_seconds",
				Help:      "Duration of health sweeps",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),
		UnhealthyRunners: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runners_unhealthy",
				Help:      "Number of running runners that reported unhealthy in the last sweep",
			},
		),

		RunnersTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runners_total",
				Help:      "Number of registered runners",
			},
		),
		RunnersRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runners_running",
				Help:      "Number of runners currently running",
			},
		),
		RunnersStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runners_stopped",
				Help:      "Number of stopped runners",
			},
		),
		RunnersError: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runners_error",
				Help:      "Number of runners in the error state",
			},
		),
		RunnersHealthy: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runners_healthy",
				Help:      "Number of runners reporting healthy",
			},
		),

		RunnerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runner_state",
				Help:      "Current runner state (1 for the active state)",
			},
			[]string{"runner", "state"},
		),
		RunnerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runner_transitions_total",
				Help:      "Total number of runner state transitions",
			},
			[]string{"runner", "from", "to"},
		),
		RunnerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runner_failures_total",
				Help:      "Total number of lifecycle failures",
			},
			[]string{"runner", "kind"},
		),
		RunnerRestarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runner_restarts_total",
				Help:      "Total number of automatic runner restarts",
			},
			[]string{"runner", "result"},
		),
		WorkCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "work_cycles_total",
				Help:      "Total number of work cycles",
			},
			[]string{"runner", "result"},
		),
		WorkCycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "work_cycle_duration_seconds",
				Help:      "Duration of work cycles",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"runner"},
		),

		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of status API requests",
			},
			[]string{"method", "route", "status"},
		),
		APIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Duration of status API requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		SupervisorInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "supervisor_info",
				Help:      "Information about the supervisor",
			},
			[]string{"version", "mode"},
		),
		InstanceLock: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instance_lock_held",
				Help:      "Instance lock status (1 if held, 0 otherwise)",
			},
		),
	}

	return m
}

// Observe implements runner.Observer.
func (m *Metrics) Observe(ev runner.Event) {
	switch ev.Type {
	case runner.EventTransition:
		m.RunnerTransitions.WithLabelValues(ev.Runner, string(ev.From), string(ev.To)).Inc()
		m.setState(ev.Runner, ev.To)
	case runner.EventCycle:
		result := "success"
		if ev.Failed {
			result = "error"
		}
		m.WorkCycles.WithLabelValues(ev.Runner, result).Inc()
		m.WorkCycleDuration.WithLabelValues(ev.Runner).Observe(ev.Duration.Seconds())
	case runner.EventInitFailed, runner.EventStopTimeout, runner.EventFatal:
		m.RunnerFailures.WithLabelValues(ev.Runner, string(ev.Type)).Inc()
	}
}

func (m *Metrics) setState(name string, current runner.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.RunnerState.WithLabelValues(name, string(s)).Set(v)
	}
}

// UpdateSystemStatus copies aggregate counts into the gauges.
func (m *Metrics) UpdateSystemStatus(st runner.SystemStatus) {
	m.RunnersTotal.Set(float64(st.TotalRunners))
	m.RunnersRunning.Set(float64(st.RunningRunners))
	m.RunnersStopped.Set(float64(st.StoppedRunners))
	m.RunnersError.Set(float64(st.ErrorRunners))
	m.RunnersHealthy.Set(float64(st.HealthyRunners))
}
