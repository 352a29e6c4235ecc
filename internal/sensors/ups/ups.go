// Package ups monitors a PiPower V2 UPS board: battery voltage, USB input,
// charge state and the low-battery line.
package ups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"Solar/internal/runner"
	"Solar/internal/sensors/ring"
)

const (
	TypeName = "pipower"

	historySize = 100
)

var (
	ErrSensorRead     = errors.New("ups read failed")
	ErrNotInitialized = errors.New("ups monitor not initialized")
)

// Reading is one UPS status sample. BatteryVoltage is nil when the board has
// no ADC wired to the BT_LV pin.
type Reading struct {
	BatteryVoltage *float64  `json:"battery_voltage,omitempty"`
	USBPower       bool      `json:"usb_power"`
	Charging       bool      `json:"charging"`
	LowBattery     bool      `json:"low_battery"`
	Timestamp      time.Time `json:"timestamp"`
}

type Stats struct {
	AvgBatteryVoltage *float64 `json:"avg_battery_voltage,omitempty"`
	MinBatteryVoltage *float64 `json:"min_battery_voltage,omitempty"`
	MaxBatteryVoltage *float64 `json:"max_battery_voltage,omitempty"`
	USBPowerPercent   float64  `json:"usb_power_percent"`
	ChargingPercent   float64  `json:"charging_percent"`
	LowBatteryPercent float64  `json:"low_battery_percent"`
	SampleCount       int      `json:"sample_count"`
}

// Board is the UPS adapter.
type Board interface {
	Read(ctx context.Context) (Reading, error)
	Close() error
}

type Config struct {
	LowBatteryAlertThreshold int `mapstructure:"low_battery_alert_threshold"`
	NoUSBAlertThreshold      int `mapstructure:"no_usb_alert_threshold"`
}

type Monitor struct {
	name     string
	label    string
	interval time.Duration
	config   Config
	logger   *slog.Logger
	now      func() time.Time

	newBoard func() Board

	mu               sync.Mutex
	board            Board
	last             *Reading
	consecutiveLow   int
	consecutiveNoUSB int
	alerts           int

	history *ring.Buffer[Reading]
}

// New builds a monitor. newBoard may be nil for a simulated board.
func New(name string, settings runner.Settings, newBoard func() Board, logger *slog.Logger) (*Monitor, error) {
	cfg := Config{LowBatteryAlertThreshold: 3, NoUSBAlertThreshold: 3}
	if err := settings.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.LowBatteryAlertThreshold < 1 || cfg.NoUSBAlertThreshold < 1 {
		return nil, fmt.Errorf("%w: alert thresholds must be >= 1", runner.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if newBoard == nil {
		newBoard = func() Board { return NewSimulated() }
	}
	label := settings.Label
	if label == "" {
		label = name
	}

	return &Monitor{
		name:     name,
		label:    label,
		interval: settings.MeasurementInterval,
		config:   cfg,
		logger:   logger.With("runner", name, "sensor", TypeName),
		now:      time.Now,
		newBoard: newBoard,
		history:  ring.New[Reading](historySize),
	}, nil
}

func (m *Monitor) Initialize(ctx context.Context) error {
	b := m.newBoard()
	r, err := b.Read(ctx)
	if err != nil {
		_ = b.Close()
		return fmt.Errorf("test reading: %w", err)
	}

	m.mu.Lock()
	m.board = b
	m.mu.Unlock()

	attrs := []any{"label", m.label, "usb_power", r.USBPower, "charging", r.Charging, "low_battery", r.LowBattery}
	if r.BatteryVoltage != nil {
		attrs = append(attrs, "battery_voltage", *r.BatteryVoltage)
	}
	m.logger.Info("ups monitor initialized", attrs...)
	return nil
}

func (m *Monitor) WorkCycle(ctx context.Context) error {
	m.mu.Lock()
	b := m.board
	m.mu.Unlock()
	if b == nil {
		return ErrNotInitialized
	}

	r, err := b.Read(ctx)
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
	return nil
}

// Caller holds m.mu.
func (m *Monitor) checkAlerts(r Reading) {
	if r.LowBattery {
		m.consecutiveLow++
		if m.consecutiveLow == m.config.LowBatteryAlertThreshold {
			m.alerts++
			attrs := []any{"consecutive", m.consecutiveLow}
			if r.BatteryVoltage != nil {
				attrs = append(attrs, "battery_voltage", *r.BatteryVoltage)
			}
			m.logger.Warn("low battery alert", attrs...)
		}
	} else {
		m.consecutiveLow = 0
	}

	if !r.USBPower {
		m.consecutiveNoUSB++
		if m.consecutiveNoUSB == m.config.NoUSBAlertThreshold {
			m.alerts++
			m.logger.Warn("usb power lost", "consecutive", m.consecutiveNoUSB)
		}
	} else {
		if m.consecutiveNoUSB >= m.config.NoUSBAlertThreshold {
			m.logger.Info("usb power restored")
		}
		m.consecutiveNoUSB = 0
	}
}

// IsHealthy requires a reading no older than two intervals.
func (m *Monitor) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.board == nil || m.last == nil {
		return false
	}
	return m.now().Sub(m.last.Timestamp) <= 2*m.interval
}

func (m *Monitor) Cleanup() {
	m.mu.Lock()
	b := m.board
	m.board = nil
	m.mu.Unlock()

	if b != nil {
		if err := b.Close(); err != nil {
			m.logger.Warn("failed to release ups board", "error", err)
		}
	}
}

func (m *Monitor) ClassifyError(err error) runner.ErrorAction {
	if errors.Is(err, ErrNotInitialized) {
		return runner.Stop
	}
	return runner.Continue
}

func (m *Monitor) LastReading() (Reading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Reading{}, false
	}
	return *m.last, true
}

func (m *Monitor) History(count int) []Reading {
	return m.history.Last(count)
}

func (m *Monitor) Alerts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts
}

// Stats returns nil when no reading has been taken. Voltage fields stay nil
// when no reading carried a voltage.
func (m *Monitor) Stats() *Stats {
	readings := m.history.Last(0)
	if len(readings) == 0 {
		return nil
	}

	var (
		st                      Stats
		sum, lo, hi             float64
		voltages, usb, chg, low int
	)
	for _, r := range readings {
		if r.BatteryVoltage != nil {
			v := *r.BatteryVoltage
			if voltages == 0 {
				lo, hi = v, v
			}
			sum += v
			lo = min(lo, v)
			hi = max(hi, v)
			voltages++
		}
		if r.USBPower {
			usb++
		}
		if r.Charging {
			chg++
		}
		if r.LowBattery {
			low++
		}
	}

	n := float64(len(readings))
	st.SampleCount = len(readings)
	st.USBPowerPercent = float64(usb) / n * 100
	st.ChargingPercent = float64(chg) / n * 100
	st.LowBatteryPercent = float64(low) / n * 100
	if voltages > 0 {
		avg := sum / float64(voltages)
		st.AvgBatteryVoltage = &avg
		st.MinBatteryVoltage = &lo
		st.MaxBatteryVoltage = &hi
	}
	return &st
}

// Simulated is a 2S Li-ion pack between 6.0V and 8.4V that charges while USB
// power is present. USB input toggles now and then.
type Simulated struct {
	mu       sync.Mutex
	rng      *rand.Rand
	voltage  float64
	usb      bool
	charging bool
}

func NewSimulated() *Simulated {
	return &Simulated{
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		voltage:  8.0,
		usb:      true,
		charging: true,
	}
}

func (s *Simulated) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrSensorRead, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	step := 0.01 + s.rng.Float64()*0.04
	if s.usb && s.charging {
		s.voltage += step
	} else {
		s.voltage -= step
	}
	s.voltage = max(6.0, min(8.4, s.voltage))

	switch {
	case s.usb && s.voltage < 8.35:
		s.charging = true
	case s.voltage >= 8.4, !s.usb:
		s.charging = false
	}

	if s.rng.Float64() < 0.05 {
		s.usb = !s.usb
	}

	v := s.voltage
	return Reading{
		BatteryVoltage: &v,
		USBPower:       s.usb,
		Charging:       s.charging,
		LowBattery:     v < 6.8,
		Timestamp:      time.Now(),
	}, nil
}

func (s *Simulated) Close() error { return nil }
