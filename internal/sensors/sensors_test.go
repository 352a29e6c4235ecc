package sensors

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/docker/docker/api/types"

	"Solar/internal/runner"
	"Solar/internal/sensors/audio"
	"Solar/internal/sensors/container"
	"Solar/internal/sensors/hostmon"
)

type stubSampler struct{}

func (stubSampler) Sample(ctx context.Context) (hostmon.Sample, error) {
	return hostmon.Sample{CPUPercent: 12, MemoryPercent: 40}, nil
}

type stubDocker struct{}

func (stubDocker) ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error) {
	return types.ContainerJSON{ContainerJSONBase: &types.ContainerJSONBase{
		Name:  "/" + id,
		State: &types.ContainerState{Status: "running", Running: true},
	}}, nil
}

func (stubDocker) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testDeps() Deps {
	return Deps{
		Logger:  testLogger(),
		Sampler: stubSampler{},
		Docker:  func(string) (container.Inspector, error) { return stubDocker{}, nil },
	}
}

func TestRegisterAll(t *testing.T) {
	mgr := runner.NewManager(runner.ManagerConfig{}, testLogger())
	if err := RegisterAll(mgr, testDeps()); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	want := []string{"audio", "docker", "ina219", "pipower", "system", "webcam"}
	if got := mgr.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if err := RegisterAll(mgr, testDeps()); !errors.Is(err, runner.ErrDuplicateType) {
		t.Errorf("expected ErrDuplicateType on second registration, got %v", err)
	}
}

func TestRobotConfigRuns(t *testing.T) {
	mgr := runner.NewManager(runner.ManagerConfig{}, testLogger())
	if err := RegisterAll(mgr, testDeps()); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	section := map[string]any{
		"battery":  map[string]any{"type": "ina219", "measurement_interval": "50ms"},
		"ups":      map[string]any{"type": "pipower", "measurement_interval": "50ms"},
		"speaker":  map[string]any{"type": "audio", "measurement_interval": "50ms"},
		"front":    map[string]any{"type": "webcam", "measurement_interval": "50ms", "output_directory": t.TempDir(), "resolution": []int{16, 16}},
		"host":     map[string]any{"type": "system", "measurement_interval": "50ms"},
		"nav":      map[string]any{"type": "docker", "container": "nav", "measurement_interval": "50ms"},
		"disabled": map[string]any{"type": "ina219", "enabled": false},
		"bogus":    map[string]any{"type": "lidar"},
	}

	if err := mgr.Start(context.Background(), section); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Shutdown()

	if got := len(mgr.IDs()); got != 6 {
		t.Errorf("expected 6 registered runners, got %d: %v", got, mgr.IDs())
	}

	time.Sleep(200 * time.Millisecond)

	st := mgr.SystemStatus()
	if st.RunningRunners != 6 {
		t.Errorf("expected 6 running, got %+v", st)
	}
	if unhealthy := mgr.HealthSweep(); len(unhealthy) != 0 {
		t.Errorf("expected all healthy, got %v", unhealthy)
	}

	r, ok := mgr.Get("speaker")
	if !ok {
		t.Fatal("expected speaker runner")
	}
	n, ok := r.Worker().(*audio.Notifier)
	if !ok {
		t.Fatalf("expected *audio.Notifier, got %T", r.Worker())
	}
	if !n.Notify(audio.KindInfo, "boot complete", 1) {
		t.Error("expected notification queued")
	}
}
