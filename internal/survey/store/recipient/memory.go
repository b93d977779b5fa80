// Package recipient provides RecipientStore implementations.
package recipient

import (
	"context"
	"sort"
	"sync"

	"attest/internal/survey/models"
	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
)

type pairKey struct {
	run  id.RunID
	dept id.DepartmentID
}

// MemoryStore is an in-memory RecipientStore for tests and single-node
// development. It enforces the same (run, department) and token uniqueness
// the PostgreSQL schema does.
type MemoryStore struct {
	mu         sync.RWMutex
	recipients map[id.RecipientID]*models.Recipient
	byPair     map[pairKey]id.RecipientID
	byToken    map[string]id.RecipientID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		recipients: make(map[id.RecipientID]*models.Recipient),
		byPair:     make(map[pairKey]id.RecipientID),
		byToken:    make(map[string]id.RecipientID),
	}
}

// CreateBatch persists all recipients or none: uniqueness is checked for the
// whole batch before the first insert.
func (s *MemoryStore) CreateBatch(_ context.Context, recipients []*models.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range recipients {
		key := pairKey{run: rec.RunID, dept: rec.DepartmentID}
		if _, exists := s.byPair[key]; exists {
			return sentinel.ErrConflict
		}
		if _, exists := s.byToken[rec.AccessToken]; exists {
			return sentinel.ErrConflict
		}
	}
	for _, rec := range recipients {
		clone := *rec
		s.recipients[rec.ID] = &clone
		s.byPair[pairKey{run: rec.RunID, dept: rec.DepartmentID}] = rec.ID
		s.byToken[rec.AccessToken] = rec.ID
	}
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, recipientID id.RecipientID) (*models.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recipients[recipientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *MemoryStore) FindByToken(_ context.Context, token string) (*models.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recID, ok := s.byToken[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *s.recipients[recID]
	return &clone, nil
}

func (s *MemoryStore) ListByRun(_ context.Context, runID id.RunID) ([]*models.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Recipient
	for _, rec := range s.recipients {
		if rec.RunID == runID {
			clone := *rec
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DepartmentID.String() < out[j].DepartmentID.String()
	})
	return out, nil
}

// Execute holds the store lock across validate and mutate so concurrent
// writes to the same recipient serialize.
func (s *MemoryStore) Execute(_ context.Context, recipientID id.RecipientID,
	validate func(*models.Recipient) error, mutate func(*models.Recipient)) (*models.Recipient, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recipients[recipientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(rec); err != nil {
		return nil, err
	}
	mutate(rec)
	clone := *rec
	return &clone, nil
}
