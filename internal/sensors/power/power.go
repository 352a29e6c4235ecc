// Package power samples an INA219 high-side current sensor.
package power

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"Solar/internal/runner"
	"Solar/internal/sensors/ring"
)

const (
	TypeName = "ina219"

	historySize    = 100
	alertThreshold = 3
)

var (
	// ErrSensorRead marks a failed bus read. The runner keeps going.
	ErrSensorRead = errors.New("sensor read failed")
	// ErrNotInitialized is fatal to the runner.
	ErrNotInitialized = errors.New("power monitor not initialized")
)

// Reading is one sample from the sensor.
type Reading struct {
	Voltage   float64   `json:"voltage"`
	Current   float64   `json:"current"`
	Power     float64   `json:"power"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarize the reading history.
type Stats struct {
	AvgVoltage  float64 `json:"avg_voltage"`
	AvgCurrent  float64 `json:"avg_current"`
	AvgPower    float64 `json:"avg_power"`
	MinPower    float64 `json:"min_power"`
	MaxPower    float64 `json:"max_power"`
	SampleCount int     `json:"sample_count"`
}

// Sensor is the device adapter. Implementations return volts, amps and watts.
type Sensor interface {
	Read(ctx context.Context) (Reading, error)
}

type Config struct {
	I2CAddress         string  `mapstructure:"i2c_address"`
	LogMeasurements    bool    `mapstructure:"log_measurements"`
	LowPowerThreshold  float64 `mapstructure:"low_power_threshold"`
	HighPowerThreshold float64 `mapstructure:"high_power_threshold"`
}

func defaultConfig() Config {
	return Config{
		I2CAddress:         "0x40",
		LogMeasurements:    true,
		LowPowerThreshold:  0.5,
		HighPowerThreshold: 10.0,
	}
}

// Address parses the configured I2C address ("0x40").
func (c Config) Address() (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(c.I2CAddress), "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid i2c_address %q", c.I2CAddress)
	}
	return uint8(v), nil
}

type Monitor struct {
	name     string
	label    string
	interval time.Duration
	config   Config
	address  uint8
	logger   *slog.Logger
	now      func() time.Time

	newSensor func() Sensor

	mu              sync.Mutex
	sensor          Sensor
	last            *Reading
	consecutiveLow  int
	consecutiveHigh int
	alerts          int

	history *ring.Buffer[Reading]
}

// New builds a monitor from a runner configuration block. newSensor may be
// nil, in which case a simulated sensor is used.
func New(name string, settings runner.Settings, newSensor func() Sensor, logger *slog.Logger) (*Monitor, error) {
	cfg := defaultConfig()
	if err := settings.Decode(&cfg); err != nil {
		return nil, err
	}
	addr, err := cfg.Address()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runner.ErrInvalidConfig, err)
	}
	if cfg.LowPowerThreshold >= cfg.HighPowerThreshold {
		return nil, fmt.Errorf("%w: low_power_threshold must be below high_power_threshold", runner.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if newSensor == nil {
		newSensor = func() Sensor { return NewSimulated() }
	}

	label := settings.Label
	if label == "" {
		label = name
	}

	return &Monitor{
		name:      name,
		label:     label,
		interval:  settings.MeasurementInterval,
		config:    cfg,
		address:   addr,
		logger:    logger.With("runner", name, "sensor", TypeName),
		now:       time.Now,
		newSensor: newSensor,
		history:   ring.New[Reading](historySize),
	}, nil
}

// Initialize attaches the sensor and takes a test reading.
func (m *Monitor) Initialize(ctx context.Context) error {
	s := m.newSensor()
	r, err := s.Read(ctx)
	if err != nil {
		return fmt.Errorf("test reading at 0x%02X: %w", m.address, err)
	}

	m.mu.Lock()
	m.sensor = s
	m.mu.Unlock()

	m.logger.Debug("power monitor initialized",
		"label", m.label,
		"i2c_address", fmt.Sprintf("0x%02X", m.address),
		"voltage", r.Voltage,
		"current", r.Current,
		"power", r.Power,
	)
	return nil
}

func (m *Monitor) WorkCycle(ctx context.Context) error {
	m.mu.Lock()
	s := m.sensor
	m.mu.Unlock()
	if s == nil {
		return ErrNotInitialized
	}

	r, err := s.Read(ctx)
	if err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = m.now()
	}

	m.history.Push(r)

	m.mu.Lock()
	m.last = &r
	m.checkAlerts(r)
	m.mu.Unlock()

	if m.config.LogMeasurements {
		m.logger.Debug("power reading", "voltage", r.Voltage, "current", r.Current, "power", r.Power)
	}
	return nil
}

// checkAlerts fires once when a run of out-of-range readings reaches the
// alert threshold. Caller holds m.mu.
func (m *Monitor) checkAlerts(r Reading) {
	switch {
	case r.Power < m.config.LowPowerThreshold:
		m.consecutiveLow++
		m.consecutiveHigh = 0
		if m.consecutiveLow == alertThreshold {
			m.alerts++
			m.logger.Warn("low power alert",
				"power", r.Power,
				"consecutive", m.consecutiveLow,
				"threshold", m.config.LowPowerThreshold,
			)
		}
	case r.Power > m.config.HighPowerThreshold:
		m.consecutiveHigh++
		m.consecutiveLow = 0
		if m.consecutiveHigh == alertThreshold {
			m.alerts++
			m.logger.Warn("high power alert",
				"power", r.Power,
				"consecutive", m.consecutiveHigh,
				"threshold", m.config.HighPowerThreshold,
			)
		}
	default:
		m.consecutiveLow = 0
		m.consecutiveHigh = 0
	}
}

// IsHealthy requires a fresh reading within sane electrical bounds.
func (m *Monitor) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sensor == nil || m.last == nil {
		return false
	}
	if m.now().Sub(m.last.Timestamp) > 2*m.interval {
		return false
	}
	return withinBounds(*m.last)
}

func withinBounds(r Reading) bool {
	return r.Voltage > -0.1 && r.Voltage < 30 &&
		r.Current > -5 && r.Current < 5 &&
		r.Power > -1 && r.Power < 150
}

func (m *Monitor) Cleanup() {
	m.mu.Lock()
	m.sensor = nil
	m.mu.Unlock()
	m.logger.Debug("power monitor released")
}

// ClassifyError keeps the runner alive through read errors.
func (m *Monitor) ClassifyError(err error) runner.ErrorAction {
	if errors.Is(err, ErrNotInitialized) {
		return runner.Stop
	}
	if errors.Is(err, ErrSensorRead) {
		m.logger.Warn("sensor read error, continuing", "error", err)
	}
	return runner.Continue
}

// LastReading returns the most recent reading, if any.
func (m *Monitor) LastReading() (Reading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Reading{}, false
	}
	return *m.last, true
}

// History returns up to count readings, oldest first. count <= 0 returns all.
func (m *Monitor) History(count int) []Reading {
	return m.history.Last(count)
}

// Alerts returns the number of alerts raised since construction.
func (m *Monitor) Alerts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts
}

// Stats returns nil when no reading has been taken.
func (m *Monitor) Stats() *Stats {
	readings := m.history.Last(0)
	if len(readings) == 0 {
		return nil
	}

	st := &Stats{
		MinPower:    readings[0].Power,
		MaxPower:    readings[0].Power,
		SampleCount: len(readings),
	}
	for _, r := range readings {
		st.AvgVoltage += r.Voltage
		st.AvgCurrent += r.Current
		st.AvgPower += r.Power
		st.MinPower = min(st.MinPower, r.Power)
		st.MaxPower = max(st.MaxPower, r.Power)
	}
	n := float64(len(readings))
	st.AvgVoltage /= n
	st.AvgCurrent /= n
	st.AvgPower /= n
	return st
}

// Simulated models a 12V solar/battery bus drawing 0.2 to 0.8A, with
// occasional high-draw periods up to 1.2A.
type Simulated struct {
	mu          sync.Mutex
	rng         *rand.Rand
	normal      bool
	changedAt   time.Time
	stateLength time.Duration
}

func NewSimulated() *Simulated {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	return &Simulated{
		rng:         rng,
		normal:      true,
		changedAt:   time.Now(),
		stateLength: randomDuration(rng, 30*time.Second, 2*time.Minute),
	}
}

func (s *Simulated) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrSensorRead, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.changedAt) > s.stateLength {
		s.normal = s.rng.Float64() < 0.9
		s.changedAt = now
		s.stateLength = randomDuration(s.rng, 30*time.Second, 2*time.Minute)
	}

	voltage := max(0, 12.0+uniform(s.rng, -0.3, 0.3))
	currentMA := uniform(s.rng, 200, 800)
	if !s.normal {
		currentMA = uniform(s.rng, 800, 1200)
	}

	return Reading{
		Voltage:   voltage,
		Current:   currentMA / 1000,
		Power:     voltage * currentMA / 1000,
		Timestamp: now,
	}, nil
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func randomDuration(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	return lo + time.Duration(rng.Int64N(int64(hi-lo)))
}
