// Package response provides ResponseStore implementations.
package response

import (
	"context"
	"sync"

	"attest/internal/survey/models"
	id "attest/pkg/domain"
)

type answerKey struct {
	recipient id.RecipientID
	question  id.QuestionID
}

// MemoryStore is an in-memory ResponseStore for tests and single-node
// development. One entry per (recipient, question); Upsert overwrites.
type MemoryStore struct {
	mu      sync.RWMutex
	answers map[answerKey]*models.Response
}

func NewMemory() *MemoryStore {
	return &MemoryStore{answers: make(map[answerKey]*models.Response)}
}

func (s *MemoryStore) Upsert(_ context.Context, response *models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{recipient: response.RecipientID, question: response.QuestionID}
	if existing, ok := s.answers[key]; ok {
		// Keep the original row identity across overwrites.
		response.ID = existing.ID
	}
	clone := *response
	s.answers[key] = &clone
	return nil
}

func (s *MemoryStore) ListByRecipient(_ context.Context, recipientID id.RecipientID) ([]*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Response
	for key, resp := range s.answers {
		if key.recipient == recipientID {
			clone := *resp
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByRecipients(ctx context.Context, recipientIDs []id.RecipientID) ([]*models.Response, error) {
	var out []*models.Response
	for _, recID := range recipientIDs {
		responses, err := s.ListByRecipient(ctx, recID)
		if err != nil {
			return nil, err
		}
		out = append(out, responses...)
	}
	return out, nil
}
