package runner

import (
	"time"

	"github.com/google/uuid"
)

// State is a runner lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Status is a point-in-time snapshot of a runner.
type Status struct {
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Label        string        `json:"label,omitempty"`
	State        State         `json:"state"`
	Enabled      bool          `json:"enabled"`
	Healthy      bool          `json:"healthy"`
	ErrorCount   int           `json:"error_count"`
	LastError    string        `json:"last_error,omitempty"`
	Uptime       time.Duration `json:"uptime"`
	LastActivity *time.Time    `json:"last_activity,omitempty"`
	Cycles       int64         `json:"cycles"`
	Behavior     Behavior      `json:"behavior"`
	Interval     time.Duration `json:"interval"`
	WorkerAlive  bool          `json:"worker_alive"`
}

// SystemStatus aggregates the status of every managed runner.
type SystemStatus struct {
	TotalRunners    int           `json:"total_runners"`
	RunningRunners  int           `json:"running_runners"`
	StoppedRunners  int           `json:"stopped_runners"`
	ErrorRunners    int           `json:"error_runners"`
	HealthyRunners  int           `json:"healthy_runners"`
	Uptime          time.Duration `json:"uptime"`
	LastStatusCheck time.Time     `json:"last_status_check"`
}

// EventType classifies runner events.
type EventType string

const (
	EventTransition  EventType = "transition"
	EventStarted     EventType = "started"
	EventStopped     EventType = "stopped"
	EventInitFailed  EventType = "init_failed"
	EventStopTimeout EventType = "stop_timeout"
	EventFatal       EventType = "fatal"
	EventReset       EventType = "reset"
	EventCycle       EventType = "cycle"
)

// Event is emitted by runners to observers. Cycle events carry the work cycle
// duration and, on failure, the error message.
type Event struct {
	ID        string        `json:"id"`
	Runner    string        `json:"runner"`
	Type      EventType     `json:"type"`
	From      State         `json:"from,omitempty"`
	To        State         `json:"to,omitempty"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Failed    bool          `json:"failed,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func newEvent(runner string, typ EventType) Event {
	return Event{
		ID:        uuid.New().String(),
		Runner:    runner,
		Type:      typ,
		Timestamp: time.Now(),
	}
}

// Observer receives runner events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
