package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"Solar/internal/models"
	"Solar/internal/runner"
	"Solar/internal/store"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/", "key")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("expected trailing slash trimmed, got %s", c.baseURL)
	}
	if c.apiKey != "key" {
		t.Errorf("expected apiKey='key', got %s", c.apiKey)
	}
}

func TestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/status" {
			t.Errorf("wrong path: %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("wrong api key header: %s", r.Header.Get("X-API-Key"))
		}
		_ = json.NewEncoder(w).Encode(models.StatusResponse{
			System:  runner.SystemStatus{TotalRunners: 1, RunningRunners: 1},
			Runners: map[string]runner.Status{"ups": {Name: "ups", State: runner.StateRunning}},
			Healthy: true,
		})
	}))
	defer server.Close()

	st, err := NewClient(server.URL, "secret").Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.System.RunningRunners != 1 {
		t.Errorf("expected 1 running runner, got %d", st.System.RunningRunners)
	}
	if st.Runners["ups"].State != runner.StateRunning {
		t.Errorf("expected ups running, got %s", st.Runners["ups"].State)
	}
}

func TestRunnersAndEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/runners":
			_, _ = w.Write([]byte(`{"count":2,"runners":[{"name":"a"},{"name":"b"}]}`))
		case "/api/v1/runners/camera":
			_, _ = w.Write([]byte(`{"runner":{"name":"camera","state":"error"},"events":[{"id":"1","runner":"camera","type":"fatal"}]}`))
		case "/api/v1/events":
			if r.URL.Query().Get("runner") != "ups" || r.URL.Query().Get("limit") != "5" {
				t.Errorf("wrong query: %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"count":  1,
				"events": []store.Event{{ID: "x", Runner: "ups", Type: "started"}},
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	ctx := context.Background()

	runners, err := c.Runners(ctx)
	if err != nil {
		t.Fatalf("Runners failed: %v", err)
	}
	if len(runners) != 2 || runners[0].Name != "a" {
		t.Errorf("expected [a b], got %+v", runners)
	}

	st, events, err := c.Runner(ctx, "camera")
	if err != nil {
		t.Fatalf("Runner failed: %v", err)
	}
	if st.State != runner.StateError || len(events) != 1 {
		t.Errorf("expected error state with 1 event, got %s / %d", st.State, len(events))
	}

	evs, err := c.Events(ctx, "ups", 5)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(evs) != 1 || evs[0].Runner != "ups" {
		t.Errorf("expected one ups event, got %+v", evs)
	}
}

func TestRestart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path == "/api/v1/runners/missing/restart" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"runner not found: missing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"name":"camera","state":"running"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "")

	st, err := c.Restart(context.Background(), "camera")
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if st.State != runner.StateRunning {
		t.Errorf("expected running, got %s", st.State)
	}

	_, err = c.Restart(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "runner not found: missing" {
		t.Errorf("expected decoded error message, got %q", apiErr.Message)
	}
}

func TestHealthUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer server.Close()

	err := NewClient(server.URL, "").Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "down" {
		t.Errorf("expected APIError with body, got %v", err)
	}
}
