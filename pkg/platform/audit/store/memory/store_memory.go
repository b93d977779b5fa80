package memory

import (
	"context"
	"sync"

	audit "attest/pkg/platform/audit"
)

// InMemoryStore keeps the trail in process memory. Development and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	byRun  map[string][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byRun: make(map[string][]int)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.byRun = make(map[string][]int)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if event.RunID != "" {
		s.byRun[event.RunID] = append(s.byRun[event.RunID], len(s.events)-1)
	}
	return nil
}

func (s *InMemoryStore) ListByRun(_ context.Context, runID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	indexes := s.byRun[runID]
	events := make([]audit.Event, 0, len(indexes))
	for _, i := range indexes {
		events = append(events, s.events[i])
	}
	return events, nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.events) - limit
	if start < 0 {
		start = 0
	}
	return append([]audit.Event{}, s.events[start:]...), nil
}
