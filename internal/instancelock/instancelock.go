// Package instancelock keeps a second supervisor from claiming the same
// hardware buses by holding an exclusive flock on a pid file.
package instancelock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrHeld is returned when another process owns the lock.
var ErrHeld = errors.New("instance lock held by another process")

type Lock struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	fd     int
	onHold func(held bool)
}

// New creates an unacquired lock on path. onHold, if non-nil, is called with
// the new state whenever the lock is acquired or released.
func New(path string, logger *slog.Logger, onHold func(held bool)) *Lock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{
		path:   path,
		logger: logger.With("component", "instance-lock"),
		fd:     -1,
		onHold: onHold,
	}
}

// Acquire tries once, without blocking.
func (l *Lock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fd >= 0 {
		return nil
	}

	fd, err := syscall.Open(l.path, syscall.O_CREAT|syscall.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		syscall.Close(fd)
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrHeld
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if err := syscall.Ftruncate(fd, 0); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	pid := fmt.Sprintf("%d\n", os.Getpid())
	if _, err := syscall.Pwrite(fd, []byte(pid), 0); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("failed to write PID: %w", err)
	}

	l.fd = fd
	l.logger.Info("acquired instance lock", "lock_file", l.path)
	if l.onHold != nil {
		l.onHold(true)
	}
	return nil
}

// Wait retries Acquire every retry until it succeeds or ctx is done.
func (l *Lock) Wait(ctx context.Context, retry time.Duration) error {
	err := l.Acquire()
	if !errors.Is(err, ErrHeld) {
		return err
	}

	l.logger.Warn("instance lock busy, waiting", "lock_file", l.path, "owner_pid", l.owner())

	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := l.Acquire()
			if errors.Is(err, ErrHeld) {
				continue
			}
			return err
		}
	}
}

// Held reports whether this process owns the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fd >= 0
}

// Release drops the lock. Safe to call when not held.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fd < 0 {
		return
	}
	syscall.Flock(l.fd, syscall.LOCK_UN)
	syscall.Close(l.fd)
	l.fd = -1
	l.logger.Info("released instance lock")
	if l.onHold != nil {
		l.onHold(false)
	}
}

// owner reads the pid recorded by the current holder, 0 if unknown.
func (l *Lock) owner() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}
