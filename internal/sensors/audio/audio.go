// Package audio plays queued notifications through a Player, one per work
// cycle, highest priority first.
package audio

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Solar/internal/runner"
)

const TypeName = "audio"

var ErrNotInitialized = errors.New("audio device not initialized")

// Notification kinds understood by players.
const (
	KindInfo    = "info"
	KindWarning = "warning"
	KindError   = "error"
	KindSuccess = "success"
	KindTTS     = "tts"
)

type Notification struct {
	Kind     string    `json:"kind"`
	Message  string    `json:"message,omitempty"`
	Priority int       `json:"priority"`
	Queued   time.Time `json:"queued"`
}

// Player is the audio device adapter.
type Player interface {
	Open(ctx context.Context) error
	PlayNotification(ctx context.Context, kind string, volume float64) error
	Speak(ctx context.Context, text string) error
	IsHealthy() bool
	Close() error
}

type Config struct {
	EnableTTS          bool    `mapstructure:"enable_tts"`
	NotificationVolume float64 `mapstructure:"notification_volume"`
	MaxQueueSize       int     `mapstructure:"max_queue_size"`
}

type Notifier struct {
	name   string
	config Config
	logger *slog.Logger

	player Player

	mu     sync.Mutex
	queue  notificationQueue
	seq    uint64
	opened bool
	played int
	failed int
}

// New builds an audio notifier. player may be nil for a logging player.
func New(name string, settings runner.Settings, player Player, logger *slog.Logger) (*Notifier, error) {
	cfg := Config{NotificationVolume: 1.0, MaxQueueSize: 100}
	if err := settings.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.MaxQueueSize < 1 {
		return nil, fmt.Errorf("%w: max_queue_size must be >= 1", runner.ErrInvalidConfig)
	}
	if cfg.NotificationVolume < 0 || cfg.NotificationVolume > 1 {
		return nil, fmt.Errorf("%w: notification_volume must be within [0, 1]", runner.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("runner", name, "device", TypeName)
	if player == nil {
		player = NewLogPlayer(logger)
	}

	return &Notifier{
		name:   name,
		config: cfg,
		logger: logger,
		player: player,
	}, nil
}

func (r *Notifier) Initialize(ctx context.Context) error {
	if err := r.player.Open(ctx); err != nil {
		return fmt.Errorf("open audio device: %w", err)
	}
	if !r.player.IsHealthy() {
		_ = r.player.Close()
		return errors.New("audio device health check failed")
	}

	r.mu.Lock()
	r.opened = true
	r.mu.Unlock()
	return nil
}

// WorkCycle plays at most one notification. An empty queue is not an error,
// and neither is a failed playback.
func (r *Notifier) WorkCycle(ctx context.Context) error {
	r.mu.Lock()
	if !r.opened {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	if r.queue.Len() == 0 {
		r.mu.Unlock()
		return nil
	}
	n := heap.Pop(&r.queue).(*queued).Notification
	r.mu.Unlock()

	var err error
	if n.Kind == KindTTS && r.config.EnableTTS {
		err = r.player.Speak(ctx, n.Message)
	} else {
		err = r.player.PlayNotification(ctx, n.Kind, r.config.NotificationVolume)
	}

	r.mu.Lock()
	if err != nil {
		r.failed++
	} else {
		r.played++
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("failed to play notification", "kind", n.Kind, "message", n.Message, "error", err)
	}
	return nil
}

func (r *Notifier) IsHealthy() bool {
	r.mu.Lock()
	opened := r.opened
	r.mu.Unlock()
	return opened && r.player.IsHealthy()
}

func (r *Notifier) Cleanup() {
	r.mu.Lock()
	opened := r.opened
	r.opened = false
	r.mu.Unlock()

	if opened {
		if err := r.player.Close(); err != nil {
			r.logger.Warn("failed to close audio device", "error", err)
		}
	}
}

func (r *Notifier) ClassifyError(err error) runner.ErrorAction {
	if errors.Is(err, ErrNotInitialized) {
		return runner.Stop
	}
	return runner.Continue
}

// Notify queues a notification. It returns false and drops the notification
// when the queue is full. Higher priorities play first; equal priorities play
// in arrival order.
func (r *Notifier) Notify(kind, message string, priority int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.queue.Len() >= r.config.MaxQueueSize {
		r.logger.Warn("notification queue is full, dropping notification", "kind", kind)
		return false
	}
	r.seq++
	heap.Push(&r.queue, &queued{
		Notification: Notification{Kind: kind, Message: message, Priority: priority, Queued: time.Now()},
		seq:          r.seq,
	})
	return true
}

func (r *Notifier) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}

// Clear drops every queued notification.
func (r *Notifier) Clear() {
	r.mu.Lock()
	r.queue = r.queue[:0]
	r.mu.Unlock()
}

// Played returns successful and failed playback counts.
func (r *Notifier) Played() (ok, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.played, r.failed
}

type queued struct {
	Notification
	seq uint64
}

// notificationQueue implements heap.Interface.
type notificationQueue []*queued

func (q notificationQueue) Len() int { return len(q) }

func (q notificationQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].seq < q[j].seq
}

func (q notificationQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *notificationQueue) Push(x any) { *q = append(*q, x.(*queued)) }

func (q *notificationQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// LogPlayer writes notifications to the log instead of a speaker.
type LogPlayer struct {
	logger *slog.Logger

	mu   sync.Mutex
	open bool
}

func NewLogPlayer(logger *slog.Logger) *LogPlayer {
	return &LogPlayer{logger: logger}
}

func (p *LogPlayer) Open(ctx context.Context) error {
	p.mu.Lock()
	p.open = true
	p.mu.Unlock()
	return nil
}

func (p *LogPlayer) PlayNotification(ctx context.Context, kind string, volume float64) error {
	p.logger.Info("notification", "kind", kind, "volume", volume)
	return nil
}

func (p *LogPlayer) Speak(ctx context.Context, text string) error {
	p.logger.Info("speak", "text", text)
	return nil
}

func (p *LogPlayer) IsHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *LogPlayer) Close() error {
	p.mu.Lock()
	p.open = false
	p.mu.Unlock()
	return nil
}
