package controller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"Solar/internal/config"
	"Solar/internal/runner"
)

func BenchmarkSweep(b *testing.B) {
	mgr := runner.NewManager(runner.ManagerConfig{}, testLogger())
	_ = mgr.RegisterType("mock", func(name string, s runner.Settings) (runner.Worker, error) {
		return healthyWorker(), nil
	})
	for i := 0; i < 20; i++ {
		_ = mgr.Register(fmt.Sprintf("runner-%02d", i), "mock", map[string]any{"measurement_interval": "1s"})
	}

	ctrl, err := New(config.ApplicationConfig{HealthCheckInterval: 30 * time.Second}, mgr, nil, nil, testLogger())
	if err != nil {
		b.Fatalf("failed to create controller: %v", err)
	}

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctrl.Sweep(ctx)
	}
}
