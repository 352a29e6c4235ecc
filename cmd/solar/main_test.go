package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"Solar/internal/models"
	"Solar/internal/runner"
	"Solar/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solar.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		logger := setupLogger(tt.level)
		if !logger.Enabled(context.Background(), tt.want) {
			t.Errorf("%s: expected %s enabled", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && logger.Enabled(context.Background(), tt.want-1) {
			t.Errorf("%s: expected levels below %s disabled", tt.level, tt.want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("expected version %s in output, got %q", version, out)
	}
}

func TestValidateCommand(t *testing.T) {
	good := writeConfig(t, `
runners:
  battery:
    type: ina219
    measurement_interval: 2
  speaker:
    type: audio
    enabled: false
`)
	out, err := execute(t, "validate", "--config", good)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok battery (ina219, enabled, every 2s)") {
		t.Errorf("unexpected output: %s", out)
	}
	if !strings.Contains(out, "ok speaker (audio, disabled") {
		t.Errorf("expected disabled speaker in output: %s", out)
	}

	bad := writeConfig(t, `
runners:
  battery:
    type: ina219
  mystery:
    measurement_interval: 1
`)
	out, err = execute(t, "validate", "--config", bad)
	if err == nil {
		t.Fatal("expected validate to fail")
	}
	if !strings.Contains(out, "x mystery") {
		t.Errorf("expected mystery to be reported, got %s", out)
	}
}

func TestStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: "unauthorized"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.StatusResponse{
			System: runner.SystemStatus{TotalRunners: 2, RunningRunners: 1, HealthyRunners: 1, ErrorRunners: 1},
			Runners: map[string]runner.Status{
				"ups":    {Name: "ups", Type: "pipower", State: runner.StateRunning, Healthy: true},
				"camera": {Name: "camera", Type: "webcam", State: runner.StateError, ErrorCount: 3},
			},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "status", "--addr", srv.URL, "--api-key", "k")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if strings.Index(out, "camera") > strings.Index(out, "ups") {
		t.Errorf("expected runners sorted by name: %s", out)
	}
	if !strings.Contains(out, "1/2 running, 1 healthy, 1 in error") {
		t.Errorf("unexpected summary: %s", out)
	}

	out, err = execute(t, "status", "--addr", srv.URL, "--api-key", "k", "-o", "yaml")
	if err != nil {
		t.Fatalf("status yaml failed: %v", err)
	}
	if !strings.Contains(out, "total_runners: 2") && !strings.Contains(out, "totalrunners: 2") {
		t.Errorf("expected yaml output, got %s", out)
	}

	if _, err := execute(t, "status", "--addr", srv.URL); err == nil {
		t.Error("expected unauthorized status call to fail")
	}
	if _, err := execute(t, "status", "--addr", srv.URL, "--api-key", "k", "-o", "xml"); err == nil {
		t.Error("expected unknown format to fail")
	}
}

func TestBlackboardCommands(t *testing.T) {
	mr := miniredis.RunT(t)

	if _, err := execute(t, "blackboard", "set", "patrol_active", "true", "--redis-addr", mr.Addr()); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := execute(t, "blackboard", "set", "mode", "docking", "--redis-addr", mr.Addr()); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	out, err := execute(t, "blackboard", "get", "patrol_active", "--redis-addr", mr.Addr())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if strings.TrimSpace(out) != "true" {
		t.Errorf("expected true, got %q", out)
	}

	out, err = execute(t, "blackboard", "get", "--redis-addr", mr.Addr())
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if !strings.Contains(out, `"mode": "docking"`) {
		t.Errorf("expected snapshot with mode, got %s", out)
	}

	if _, err := execute(t, "blackboard", "delete", "mode", "--redis-addr", mr.Addr()); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := execute(t, "blackboard", "get", "mode", "--redis-addr", mr.Addr()); err == nil {
		t.Error("expected missing key to fail")
	}
}

func TestParseValue(t *testing.T) {
	if v := parseValue("3"); v != float64(3) {
		t.Errorf("expected 3, got %v", v)
	}
	if v := parseValue("false"); v != false {
		t.Errorf("expected false, got %v", v)
	}
	if v := parseValue("front door"); v != "front door" {
		t.Errorf("expected raw string, got %v", v)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	eventsPath := filepath.Join(t.TempDir(), "events.json")
	path := writeConfig(t, `
log_level: error
server:
  enabled: false
store:
  enabled: true
  type: file
  path: `+eventsPath+`
runners:
  battery:
    type: ina219
    measurement_interval: 50ms
`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := run(ctx, path); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	fs, err := store.NewFileStore(eventsPath, 100)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	events, err := fs.ForRunner("battery", 10)
	if err != nil {
		t.Fatalf("ForRunner failed: %v", err)
	}

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	joined := strings.Join(types, ",")
	if !strings.Contains(joined, "started") || !strings.Contains(joined, "stopped") {
		t.Errorf("expected started and stopped events, got %v", types)
	}
}
