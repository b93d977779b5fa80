// Package run provides RunStore implementations.
package run

import (
	"context"
	"sort"
	"sync"
	"time"

	"attest/internal/survey/models"
	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
)

// MemoryStore is an in-memory RunStore for tests and single-node development.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[id.RunID]*models.Run
	questions map[id.RunID][]*models.Question
	targets   map[id.RunID][]models.DepartmentTarget
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[id.RunID]*models.Run),
		questions: make(map[id.RunID][]*models.Question),
		targets:   make(map[id.RunID][]models.DepartmentTarget),
	}
}

func (s *MemoryStore) Create(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, runID id.RunID) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *run
	return &clone, nil
}

func (s *MemoryStore) List(_ context.Context, status models.RunStatus) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != "" && run.Status != status {
			continue
		}
		clone := *run
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListActiveDueBefore(_ context.Context, t time.Time) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Run
	for _, run := range s.runs {
		if run.Status == models.RunStatusActive && run.DueDate.Before(t) {
			clone := *run
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

// Execute holds the store lock across validate and mutate so concurrent
// transitions on the same run serialize.
func (s *MemoryStore) Execute(_ context.Context, runID id.RunID,
	validate func(*models.Run) error, mutate func(*models.Run)) (*models.Run, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(run); err != nil {
		return nil, err
	}
	mutate(run)
	clone := *run
	return &clone, nil
}

func (s *MemoryStore) Delete(_ context.Context, runID id.RunID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.runs, runID)
	delete(s.questions, runID)
	delete(s.targets, runID)
	return nil
}

func (s *MemoryStore) AddQuestion(_ context.Context, question *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[question.RunID]; !ok {
		return sentinel.ErrNotFound
	}
	clone := *question
	clone.Options = append([]string{}, question.Options...)
	s.questions[question.RunID] = append(s.questions[question.RunID], &clone)
	return nil
}

func (s *MemoryStore) RemoveQuestion(_ context.Context, runID id.RunID, questionID id.QuestionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	questions := s.questions[runID]
	for i, q := range questions {
		if q.ID == questionID {
			s.questions[runID] = append(questions[:i], questions[i+1:]...)
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *MemoryStore) ListQuestions(_ context.Context, runID id.RunID) ([]*models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	questions := s.questions[runID]
	out := make([]*models.Question, 0, len(questions))
	for _, q := range questions {
		clone := *q
		clone.Options = append([]string{}, q.Options...)
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemoryStore) SetTargets(_ context.Context, runID id.RunID, departments []id.DepartmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return sentinel.ErrNotFound
	}
	targets := make([]models.DepartmentTarget, 0, len(departments))
	for _, dept := range departments {
		targets = append(targets, models.DepartmentTarget{RunID: runID, DepartmentID: dept})
	}
	s.targets[runID] = targets
	return nil
}

func (s *MemoryStore) ListTargets(_ context.Context, runID id.RunID) ([]models.DepartmentTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.DepartmentTarget{}, s.targets[runID]...), nil
}
