package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"Solar/internal/analytics"
	"Solar/internal/models"
	"Solar/internal/runner"
	"Solar/internal/store"
)

const defaultLimit = 50

// EventReader is the read side of the event store
type EventReader interface {
	Recent(count int) ([]store.Event, error)
	ForRunner(name string, count int) ([]store.Event, error)
}

// Handler provides HTTP API endpoints
type Handler struct {
	runnerMgr      *runner.Manager
	tracker        *analytics.Tracker
	events         EventReader
	restartTimeout time.Duration
}

// NewHandler creates a new API handler. tracker and events may be nil.
func NewHandler(rm *runner.Manager, tracker *analytics.Tracker, events EventReader, restartTimeout time.Duration) *Handler {
	if restartTimeout <= 0 {
		restartTimeout = runner.DefaultShutdownTimeout
	}
	return &Handler{
		runnerMgr:      rm,
		tracker:        tracker,
		events:         events,
		restartTimeout: restartTimeout,
	}
}

// Routes registers the v1 endpoints on r
func (h *Handler) Routes(r chi.Router) {
	r.Get("/status", h.HandleStatus)
	r.Get("/runners", h.HandleRunners)
	r.Get("/runners/{id}", h.HandleRunner)
	r.Post("/runners/{id}/restart", h.HandleRestart)
	r.Get("/events", h.HandleEvents)
	r.Get("/health/history", h.HandleHistory)
	r.Get("/health/restarts", h.HandleRestarts)
}

// HandleStatus returns the system status and every runner status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.StatusResponse{
		System:  h.runnerMgr.SystemStatus(),
		Runners: h.runnerMgr.Statuses(),
		Healthy: h.runnerMgr.Healthy(),
	})
}

// HandleRunners returns list of runners
func (h *Handler) HandleRunners(w http.ResponseWriter, r *http.Request) {
	ids := h.runnerMgr.IDs()
	runners := make([]runner.Status, 0, len(ids))
	for _, id := range ids {
		if st, err := h.runnerMgr.Status(id); err == nil {
			runners = append(runners, st)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(runners),
		"runners": runners,
	})
}

// HandleRunner returns one runner with its recent events
func (h *Handler) HandleRunner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.runnerMgr.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	events := []store.Event{}
	if h.events != nil {
		if evs, err := h.events.ForRunner(id, limitParam(r)); err == nil {
			events = evs
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runner": st,
		"events": events,
	})
}

// HandleRestart stops, resets and starts one runner
func (h *Handler) HandleRestart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.runnerMgr.Restart(r.Context(), id, h.restartTimeout)
	switch {
	case errors.Is(err, runner.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, runner.ErrStopTimeout), errors.Is(err, runner.ErrWorkerAlive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	st, _ := h.runnerMgr.Status(id)
	writeJSON(w, http.StatusOK, st)
}

// HandleEvents returns recent lifecycle events, optionally for one runner
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "store not enabled")
		return
	}

	var (
		events []store.Event
		err    error
	)
	if name := r.URL.Query().Get("runner"); name != "" {
		events, err = h.events.ForRunner(name, limitParam(r))
	} else {
		events, err = h.events.Recent(limitParam(r))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

// HandleHistory returns health report history
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	history := []models.HealthReport{}
	if h.tracker != nil {
		history = h.tracker.GetHistory(limitParam(r))
	}
	writeJSON(w, http.StatusOK, history)
}

// HandleRestarts returns automatic restart attempts
func (h *Handler) HandleRestarts(w http.ResponseWriter, r *http.Request) {
	restarts := []models.RestartAttempt{}
	if h.tracker != nil {
		restarts = h.tracker.GetRestarts(limitParam(r))
	}
	writeJSON(w, http.StatusOK, restarts)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, models.ErrorResponse{Error: message})
}
