package ups

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"Solar/internal/runner"
)

type fakeBoard struct {
	mu       sync.Mutex
	readings []Reading
	closed   bool
}

func (b *fakeBoard) Read(ctx context.Context) (Reading, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.readings) == 0 {
		return Reading{USBPower: true}, nil
	}
	r := b.readings[0]
	b.readings = b.readings[1:]
	return r, nil
}

func (b *fakeBoard) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func volts(v float64) *float64 { return &v }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newMonitor(t *testing.T, raw map[string]any, b Board) *Monitor {
	t.Helper()
	raw["type"] = TypeName
	settings, err := runner.DecodeSettings(raw)
	if err != nil {
		t.Fatalf("DecodeSettings failed: %v", err)
	}
	m, err := New("ups", settings, func() Board { return b }, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func TestInvalidThreshold(t *testing.T) {
	settings, _ := runner.DecodeSettings(map[string]any{"type": TypeName, "no_usb_alert_threshold": 0})
	if _, err := New("ups", settings, nil, testLogger()); !errors.Is(err, runner.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAlerts(t *testing.T) {
	b := &fakeBoard{readings: []Reading{
		{USBPower: true}, // initialize
		{LowBattery: true, USBPower: false},
		{LowBattery: true, USBPower: false},
		{LowBattery: false, USBPower: true},
		{LowBattery: true, USBPower: true},
		{LowBattery: true, USBPower: true},
	}}
	m := newMonitor(t, map[string]any{"low_battery_alert_threshold": 2, "no_usb_alert_threshold": 2}, b)
	ctx := context.Background()

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := m.WorkCycle(ctx); err != nil {
			t.Fatalf("WorkCycle failed: %v", err)
		}
	}

	// low battery twice, no usb twice, then low battery twice again
	if m.Alerts() != 3 {
		t.Errorf("expected 3 alerts, got %d", m.Alerts())
	}
}

func TestStats(t *testing.T) {
	b := &fakeBoard{readings: []Reading{
		{USBPower: true},
		{BatteryVoltage: volts(7.0), USBPower: true, Charging: true},
		{BatteryVoltage: volts(8.0), USBPower: true},
		{USBPower: false, LowBattery: true},
		{BatteryVoltage: volts(6.0), USBPower: false},
	}}
	m := newMonitor(t, map[string]any{}, b)
	ctx := context.Background()

	if m.Stats() != nil {
		t.Error("expected nil stats without readings")
	}

	_ = m.Initialize(ctx)
	for i := 0; i < 4; i++ {
		_ = m.WorkCycle(ctx)
	}

	st := m.Stats()
	if st.SampleCount != 4 {
		t.Fatalf("expected 4 samples, got %d", st.SampleCount)
	}
	if *st.AvgBatteryVoltage != 7.0 || *st.MinBatteryVoltage != 6.0 || *st.MaxBatteryVoltage != 8.0 {
		t.Errorf("expected avg 7 min 6 max 8, got %v %v %v", *st.AvgBatteryVoltage, *st.MinBatteryVoltage, *st.MaxBatteryVoltage)
	}
	if st.USBPowerPercent != 50 || st.ChargingPercent != 25 || st.LowBatteryPercent != 25 {
		t.Errorf("unexpected percentages: %+v", st)
	}
}

func TestStatsWithoutVoltage(t *testing.T) {
	m := newMonitor(t, map[string]any{}, &fakeBoard{})
	_ = m.Initialize(context.Background())
	_ = m.WorkCycle(context.Background())

	st := m.Stats()
	if st.AvgBatteryVoltage != nil {
		t.Errorf("expected nil voltage stats, got %v", *st.AvgBatteryVoltage)
	}
	if st.USBPowerPercent != 100 {
		t.Errorf("expected 100%% usb, got %v", st.USBPowerPercent)
	}
}

func TestHealthAndCleanup(t *testing.T) {
	b := &fakeBoard{}
	m := newMonitor(t, map[string]any{"measurement_interval": 1}, b)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if err := m.WorkCycle(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if m.ClassifyError(ErrNotInitialized) != runner.Stop {
		t.Error("expected stop on not initialized")
	}

	_ = m.Initialize(ctx)
	_ = m.WorkCycle(ctx)
	if !m.IsHealthy() {
		t.Error("expected healthy")
	}
	now = now.Add(5 * time.Second)
	if m.IsHealthy() {
		t.Error("expected unhealthy when stale")
	}

	m.Cleanup()
	if !b.closed {
		t.Error("expected board closed on cleanup")
	}
	if m.IsHealthy() {
		t.Error("expected unhealthy after cleanup")
	}
}

func TestSimulatedBounds(t *testing.T) {
	s := NewSimulated()
	for i := 0; i < 200; i++ {
		r, err := s.Read(context.Background())
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		v := *r.BatteryVoltage
		if v < 6.0 || v > 8.4 {
			t.Fatalf("expected voltage in [6.0, 8.4], got %v", v)
		}
		if r.LowBattery != (v < 6.8) {
			t.Errorf("expected low battery to follow voltage, got %v at %v", r.LowBattery, v)
		}
	}
}
