// Package blackboard holds the shared decision state consulted by triggered runners.
//
// The decision engine is the only writer. Runners receive a Reader and never a
// handle that can mutate the board.
package blackboard

import (
	"context"
	"sort"
	"sync"
)

// Reader is the read-only view of the blackboard handed to runners.
type Reader interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (any, bool, error)
}

// Writer is implemented by boards the decision engine can update.
type Writer interface {
	Reader
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// Board is an in-process blackboard.
type Board struct {
	mu     sync.RWMutex
	values map[string]any
}

// New creates an empty in-memory board.
func New() *Board {
	return &Board{
		values: make(map[string]any),
	}
}

func (b *Board) Get(_ context.Context, key string) (any, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.values[key]
	return v, ok, nil
}

func (b *Board) Set(_ context.Context, key string, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.values[key] = value
	return nil
}

func (b *Board) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.values, key)
	return nil
}

// Snapshot returns a copy of every value on the board.
func (b *Board) Snapshot(_ context.Context) (map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out, nil
}

// Keys returns the board keys in sorted order.
func (b *Board) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
