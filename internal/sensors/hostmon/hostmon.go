// Package hostmon samples the robot's own compute board: CPU, memory, disk
// and temperature.
package hostmon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"

	"Solar/internal/runner"
)

const TypeName = "system"

// Sample is one snapshot of host resources. Temperature is the hottest
// sensor reading, zero when the board exposes none.
type Sample struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	Load1         float64   `json:"load1"`
	Temperature   float64   `json:"temperature"`
	TempSensor    string    `json:"temp_sensor,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

type Config struct {
	CPUThreshold         float64 `mapstructure:"cpu_threshold"`
	MemoryThreshold      float64 `mapstructure:"memory_threshold"`
	DiskThreshold        float64 `mapstructure:"disk_threshold"`
	TemperatureThreshold float64 `mapstructure:"temperature_threshold"`
	DiskPath             string  `mapstructure:"disk_path"`
}

type Monitor struct {
	name     string
	interval time.Duration
	config   Config
	sampler  Sampler
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	ready    bool
	last     *Sample
	breaches []string
}

// New builds a host monitor. sampler may be nil to read the local host.
func New(name string, settings runner.Settings, sampler Sampler, logger *slog.Logger) (*Monitor, error) {
	cfg := Config{
		CPUThreshold:         90,
		MemoryThreshold:      90,
		DiskThreshold:        95,
		TemperatureThreshold: 80,
		DiskPath:             "/",
	}
	if err := settings.Decode(&cfg); err != nil {
		return nil, err
	}
	for field, v := range map[string]float64{
		"cpu_threshold":    cfg.CPUThreshold,
		"memory_threshold": cfg.MemoryThreshold,
		"disk_threshold":   cfg.DiskThreshold,
	} {
		if v <= 0 || v > 100 {
			return nil, fmt.Errorf("%w: %s must be within (0, 100]", runner.ErrInvalidConfig, field)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sampler == nil {
		sampler = &HostSampler{DiskPath: cfg.DiskPath}
	}

	return &Monitor{
		name:     name,
		interval: settings.MeasurementInterval,
		config:   cfg,
		sampler:  sampler,
		logger:   logger.With("runner", name, "sensor", TypeName),
		now:      time.Now,
	}, nil
}

func (m *Monitor) Initialize(ctx context.Context) error {
	s, err := m.sampler.Sample(ctx)
	if err != nil {
		return fmt.Errorf("initial sample: %w", err)
	}
	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()

	m.logger.Info("host monitor initialized",
		"cpu_percent", s.CPUPercent,
		"memory_percent", s.MemoryPercent,
		"temperature", s.Temperature,
	)
	return nil
}

func (m *Monitor) WorkCycle(ctx context.Context) error {
	s, err := m.sampler.Sample(ctx)
	if err != nil {
		return err
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = m.now()
	}

	breaches := m.check(s)

	m.mu.Lock()
	previous := m.breaches
	m.last = &s
	m.breaches = breaches
	m.mu.Unlock()

	// Log only when the set of exceeded limits changes
	if strings.Join(previous, ",") != strings.Join(breaches, ",") {
		if len(breaches) > 0 {
			m.logger.Warn("host limits exceeded", "limits", breaches,
				"cpu_percent", s.CPUPercent,
				"memory_percent", s.MemoryPercent,
				"disk_percent", s.DiskPercent,
				"temperature", s.Temperature,
			)
		} else {
			m.logger.Info("host back within limits")
		}
	}
	return nil
}

func (m *Monitor) check(s Sample) []string {
	var out []string
	if s.CPUPercent > m.config.CPUThreshold {
		out = append(out, "cpu")
	}
	if s.MemoryPercent > m.config.MemoryThreshold {
		out = append(out, "memory")
	}
	if s.DiskPercent > m.config.DiskThreshold {
		out = append(out, "disk")
	}
	if m.config.TemperatureThreshold > 0 && s.Temperature > m.config.TemperatureThreshold {
		out = append(out, "temperature")
	}
	return out
}

// IsHealthy requires a fresh sample under every threshold.
func (m *Monitor) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready || m.last == nil {
		return false
	}
	if m.now().Sub(m.last.Timestamp) > 2*m.interval {
		return false
	}
	return len(m.breaches) == 0
}

func (m *Monitor) Cleanup() {
	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()
}

func (m *Monitor) LastSample() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Sample{}, false
	}
	return *m.last, true
}

// Breaches lists the limits exceeded by the last sample.
func (m *Monitor) Breaches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.breaches...)
}

// HostSampler reads the local machine through gopsutil.
type HostSampler struct {
	DiskPath string
}

func (h *HostSampler) Sample(ctx context.Context) (Sample, error) {
	s := Sample{Timestamp: time.Now()}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("read cpu: %w", err)
	}
	if len(percents) > 0 {
		s.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("read memory: %w", err)
	}
	s.MemoryPercent = vm.UsedPercent

	if h.DiskPath != "" {
		usage, err := disk.UsageWithContext(ctx, h.DiskPath)
		if err != nil {
			return Sample{}, fmt.Errorf("read disk %s: %w", h.DiskPath, err)
		}
		s.DiskPercent = usage.UsedPercent
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1 = avg.Load1
	}

	// Many boards expose no thermal sensors, and some return partial results
	// alongside a warning error; use whatever came back.
	temps, _ := sensors.TemperaturesWithContext(ctx)
	s.TempSensor, s.Temperature = hottest(temps)

	return s, nil
}

func hottest(temps []sensors.TemperatureStat) (string, float64) {
	if len(temps) == 0 {
		return "", 0
	}
	sorted := append([]sensors.TemperatureStat(nil), temps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Temperature > sorted[j].Temperature })
	return sorted[0].SensorKey, sorted[0].Temperature
}
