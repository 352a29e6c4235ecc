// Package ring holds the bounded reading history shared by the sensor runners.
package ring

import "sync"

// Buffer keeps the most recent values up to a fixed capacity.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	size  int
}

func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when full.
func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.start + b.size) % len(b.items)
	b.items[idx] = v
	if b.size < len(b.items) {
		b.size++
	} else {
		b.start = (b.start + 1) % len(b.items)
	}
}

func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Last returns up to n values, oldest first. n <= 0 returns everything.
func (b *Buffer[T]) Last(n int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]T, n)
	first := b.start + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(first+i)%len(b.items)]
	}
	return out
}

func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.items)
	b.start, b.size = 0, 0
}
