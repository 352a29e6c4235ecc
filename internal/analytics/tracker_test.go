package analytics

import (
	"testing"

	"Solar/internal/models"
)

func TestNewTracker(t *testing.T) {
	tracker := NewTracker()
	if tracker == nil {
		t.Fatal("NewTracker() returned nil")
	}

	if tracker.history == nil {
		t.Error("history should be initialized")
	}
	if _, ok := tracker.Latest(); ok {
		t.Error("expected no latest report on a new tracker")
	}
}

func TestRecordReport(t *testing.T) {
	tracker := NewTracker()

	tracker.RecordReport(models.HealthReport{
		Healthy:        false,
		Unhealthy:      []string{"camera"},
		TotalRunners:   3,
		RunningRunners: 3,
	})

	latest, ok := tracker.Latest()
	if !ok {
		t.Fatal("expected latest report")
	}
	if latest.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
	if len(latest.Unhealthy) != 1 || latest.Unhealthy[0] != "camera" {
		t.Errorf("expected unhealthy=[camera], got %v", latest.Unhealthy)
	}

	history := tracker.GetHistory(10)
	if len(history) != 1 {
		t.Fatalf("expected 1 report, got %d", len(history))
	}
}

func TestGetHistoryLimit(t *testing.T) {
	tracker := NewTracker()

	for i := 0; i < 10; i++ {
		tracker.RecordReport(models.HealthReport{TotalRunners: i})
	}

	history := tracker.GetHistory(5)
	if len(history) != 5 {
		t.Errorf("expected 5 reports, got %d", len(history))
	}
	if history[4].TotalRunners != 9 {
		t.Errorf("expected newest report last, got %d", history[4].TotalRunners)
	}

	history = tracker.GetHistory(0)
	if len(history) != 10 {
		t.Errorf("expected 10 reports, got %d", len(history))
	}

	history = tracker.GetHistory(20)
	if len(history) != 10 {
		t.Errorf("expected 10 reports, got %d", len(history))
	}
}

func TestHistoryCapacity(t *testing.T) {
	tracker := NewTracker()

	for i := 0; i < 150; i++ {
		tracker.RecordReport(models.HealthReport{TotalRunners: i})
		tracker.RecordRestart(models.RestartAttempt{Runner: "cam", Attempt: i})
	}

	history := tracker.GetHistory(0)
	if len(history) != 100 {
		t.Errorf("expected history limited to 100, got %d", len(history))
	}
	if history[0].TotalRunners != 50 {
		t.Errorf("expected oldest entry TotalRunners=50, got %d", history[0].TotalRunners)
	}

	restarts := tracker.GetRestarts(0)
	if len(restarts) != 100 {
		t.Errorf("expected restarts limited to 100, got %d", len(restarts))
	}
	if restarts[99].Attempt != 149 {
		t.Errorf("expected newest attempt 149, got %d", restarts[99].Attempt)
	}

	latest, _ := tracker.Latest()
	if latest.TotalRunners != 149 {
		t.Errorf("expected latest TotalRunners=149, got %d", latest.TotalRunners)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tracker := NewTracker()

	done := make(chan bool)

	go func() {
		for i := 0; i < 50; i++ {
			tracker.RecordReport(models.HealthReport{TotalRunners: i})
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 50; i++ {
			tracker.GetHistory(10)
			tracker.Latest()
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 50; i++ {
			tracker.RecordRestart(models.RestartAttempt{Runner: "ups", Attempt: i})
		}
		done <- true
	}()

	<-done
	<-done
	<-done
}
