package hostmon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/sensors"

	"Solar/internal/runner"
)

type fakeSampler struct {
	mu      sync.Mutex
	samples []Sample
	err     error
}

func (f *fakeSampler) Sample(ctx context.Context) (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Sample{}, f.err
	}
	if len(f.samples) == 0 {
		return Sample{CPUPercent: 10, MemoryPercent: 20}, nil
	}
	s := f.samples[0]
	f.samples = f.samples[1:]
	return s, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newMonitor(t *testing.T, raw map[string]any, s Sampler) *Monitor {
	t.Helper()
	raw["type"] = TypeName
	settings, err := runner.DecodeSettings(raw)
	if err != nil {
		t.Fatalf("DecodeSettings failed: %v", err)
	}
	m, err := New("host", settings, s, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func TestBreaches(t *testing.T) {
	s := &fakeSampler{samples: []Sample{
		{CPUPercent: 5},
		{CPUPercent: 95, MemoryPercent: 50, Temperature: 85},
		{CPUPercent: 40, MemoryPercent: 50, Temperature: 60},
	}}
	m := newMonitor(t, map[string]any{"measurement_interval": "1m"}, s)
	ctx := context.Background()

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	_ = m.WorkCycle(ctx)
	if got := m.Breaches(); !reflect.DeepEqual(got, []string{"cpu", "temperature"}) {
		t.Errorf("expected [cpu temperature], got %v", got)
	}
	if m.IsHealthy() {
		t.Error("expected unhealthy while over limits")
	}

	_ = m.WorkCycle(ctx)
	if len(m.Breaches()) != 0 {
		t.Errorf("expected no breaches, got %v", m.Breaches())
	}
	if !m.IsHealthy() {
		t.Error("expected healthy within limits")
	}
}

func TestStaleSample(t *testing.T) {
	m := newMonitor(t, map[string]any{"measurement_interval": "1s"}, &fakeSampler{})
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if m.IsHealthy() {
		t.Error("expected unhealthy before initialize")
	}
	_ = m.Initialize(ctx)
	_ = m.WorkCycle(ctx)
	if !m.IsHealthy() {
		t.Error("expected healthy")
	}
	now = now.Add(3 * time.Second)
	if m.IsHealthy() {
		t.Error("expected unhealthy when stale")
	}
	m.Cleanup()
	now = now.Add(-3 * time.Second)
	if m.IsHealthy() {
		t.Error("expected unhealthy after cleanup")
	}
}

func TestSamplerError(t *testing.T) {
	m := newMonitor(t, map[string]any{}, &fakeSampler{err: errors.New("permission denied")})
	if err := m.Initialize(context.Background()); err == nil {
		t.Error("expected Initialize to fail")
	}
	if err := m.WorkCycle(context.Background()); err == nil {
		t.Error("expected WorkCycle to fail")
	}
	if _, ok := m.LastSample(); ok {
		t.Error("expected no sample")
	}
}

func TestInvalidThreshold(t *testing.T) {
	settings, _ := runner.DecodeSettings(map[string]any{"type": TypeName, "cpu_threshold": 150})
	if _, err := New("host", settings, &fakeSampler{}, testLogger()); !errors.Is(err, runner.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestHottest(t *testing.T) {
	key, temp := hottest([]sensors.TemperatureStat{
		{SensorKey: "acpitz", Temperature: 41},
		{SensorKey: "cpu_thermal", Temperature: 63.5},
		{SensorKey: "nvme", Temperature: 38},
	})
	if key != "cpu_thermal" || temp != 63.5 {
		t.Errorf("expected cpu_thermal 63.5, got %s %v", key, temp)
	}
	if key, temp := hottest(nil); key != "" || temp != 0 {
		t.Errorf("expected empty result, got %s %v", key, temp)
	}
}

func TestHostSampler(t *testing.T) {
	s, err := (&HostSampler{DiskPath: "/"}).Sample(context.Background())
	if err != nil {
		t.Skipf("host metrics unavailable: %v", err)
	}
	if s.MemoryPercent <= 0 || s.MemoryPercent > 100 {
		t.Errorf("expected memory percent in (0, 100], got %v", s.MemoryPercent)
	}
	if s.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
}
