// Package container watches a companion container (navigation stack, camera
// streamer) through the Docker API.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"Solar/internal/runner"
)

const TypeName = "docker"

var (
	ErrNotFound       = errors.New("container not found")
	ErrNotInitialized = errors.New("docker client not initialized")
)

// Inspector is the subset of the Docker client used here.
type Inspector interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	Close() error
}

type Config struct {
	Container  string `mapstructure:"container"`
	DockerHost string `mapstructure:"docker_host"`
}

// State is the last observed container state.
type State struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Image        string    `json:"image"`
	Status       string    `json:"status"`
	Running      bool      `json:"running"`
	Health       string    `json:"health,omitempty"`
	RestartCount int       `json:"restart_count"`
	ExitCode     int       `json:"exit_code"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Healthy is true for a running container whose healthcheck, if it has one,
// reports healthy.
func (s State) Healthy() bool {
	return s.Running && (s.Health == "" || s.Health == types.Healthy)
}

type Monitor struct {
	name   string
	config Config
	logger *slog.Logger
	now    func() time.Time

	newInspector func(host string) (Inspector, error)

	mu     sync.Mutex
	client Inspector
	last   *State
}

// New builds a container monitor. newInspector may be nil to dial the Docker
// daemon from docker_host or the environment.
func New(name string, settings runner.Settings, newInspector func(host string) (Inspector, error), logger *slog.Logger) (*Monitor, error) {
	var cfg Config
	if err := settings.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("%w: container is required", runner.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if newInspector == nil {
		newInspector = dial
	}

	return &Monitor{
		name:         name,
		config:       cfg,
		logger:       logger.With("runner", name, "container", cfg.Container),
		now:          time.Now,
		newInspector: newInspector,
	}, nil
}

func dial(host string) (Inspector, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

func (m *Monitor) Initialize(ctx context.Context) error {
	cli, err := m.newInspector(m.config.DockerHost)
	if err != nil {
		return err
	}
	st, err := m.inspect(ctx, cli)
	if err != nil {
		_ = cli.Close()
		return err
	}

	m.mu.Lock()
	m.client = cli
	m.last = &st
	m.mu.Unlock()

	m.logger.Info("container monitor initialized", "status", st.Status, "image", st.Image)
	return nil
}

func (m *Monitor) WorkCycle(ctx context.Context) error {
	m.mu.Lock()
	cli := m.client
	prev := m.last
	m.mu.Unlock()
	if cli == nil {
		return ErrNotInitialized
	}

	st, err := m.inspect(ctx, cli)
	if err != nil {
		m.mu.Lock()
		m.last = nil
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.last = &st
	m.mu.Unlock()

	if prev != nil {
		if prev.Healthy() && !st.Healthy() {
			m.logger.Warn("container unhealthy", "status", st.Status, "health", st.Health, "exit_code", st.ExitCode)
		} else if !prev.Healthy() && st.Healthy() {
			m.logger.Info("container recovered", "status", st.Status)
		}
		if st.RestartCount > prev.RestartCount {
			m.logger.Warn("container restarted", "restart_count", st.RestartCount)
		}
	}
	return nil
}

func (m *Monitor) inspect(ctx context.Context, cli Inspector) (State, error) {
	info, err := cli.ContainerInspect(ctx, m.config.Container)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return State{}, fmt.Errorf("%w: %s", ErrNotFound, m.config.Container)
		}
		return State{}, fmt.Errorf("failed to inspect container: %w", err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return State{}, fmt.Errorf("inspect %s: empty response", m.config.Container)
	}

	st := State{
		ID:           info.ID,
		Name:         strings.TrimPrefix(info.Name, "/"),
		Image:        info.Image,
		Status:       info.State.Status,
		Running:      info.State.Running,
		RestartCount: info.RestartCount,
		ExitCode:     info.State.ExitCode,
		CheckedAt:    m.now(),
	}
	if info.Config != nil && info.Config.Image != "" {
		st.Image = info.Config.Image
	}
	if info.State.Health != nil {
		st.Health = info.State.Health.Status
	}
	return st, nil
}

func (m *Monitor) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && m.last != nil && m.last.Healthy()
}

func (m *Monitor) Cleanup() {
	m.mu.Lock()
	cli := m.client
	m.client = nil
	m.mu.Unlock()

	if cli != nil {
		if err := cli.Close(); err != nil {
			m.logger.Warn("failed to close docker client", "error", err)
		}
	}
}

func (m *Monitor) ClassifyError(err error) runner.ErrorAction {
	if errors.Is(err, ErrNotInitialized) {
		return runner.Stop
	}
	return runner.Continue
}

func (m *Monitor) LastState() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return State{}, false
	}
	return *m.last, true
}
