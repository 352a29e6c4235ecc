package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileStore keeps events in memory and rewrites a JSON file on every append.
type FileStore struct {
	path      string
	maxEvents int

	mu     sync.RWMutex
	events []Event
}

// NewFileStore loads existing events from path if the file exists.
func NewFileStore(path string, maxEvents int) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	s := &FileStore{
		path:      path,
		maxEvents: maxEvents,
		events:    make([]Event, 0),
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}
	return s, nil
}

func (s *FileStore) Append(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)

	if s.maxEvents > 0 && len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}

	return s.persist()
}

func (s *FileStore) Recent(count int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if count > len(s.events) {
		count = len(s.events)
	}
	return append([]Event(nil), s.events[len(s.events)-count:]...), nil
}

func (s *FileStore) ForRunner(runner string, count int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for i := len(s.events) - 1; i >= 0 && len(out) < count; i-- {
		if s.events[i].Runner == runner {
			out = append(out, s.events[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &s.events)
}

func (s *FileStore) persist() error {
	data, err := json.MarshalIndent(s.events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	return os.WriteFile(s.path, data, 0644)
}
