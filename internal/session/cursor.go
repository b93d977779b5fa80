package session

import (
	"context"
	"sync"
	"time"

	id "attest/pkg/domain"
)

// CursorStore remembers where a recipient left off so a resumed session
// opens on the right question. Cursors are a convenience, not state of
// record: losing one only resets the displayed position, never an answer.
type CursorStore interface {
	// Save records the recipient's current question index.
	Save(ctx context.Context, recipientID id.RecipientID, index int) error
	// Load returns the saved index, or found = false when no cursor exists.
	Load(ctx context.Context, recipientID id.RecipientID) (index int, found bool, err error)
	// Delete drops the cursor, typically after the terminal submit.
	Delete(ctx context.Context, recipientID id.RecipientID) error
}

// MemoryCursorStore keeps cursors in process memory with a per-entry TTL.
// Development and tests; production uses the Redis store.
type MemoryCursorStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[id.RecipientID]memoryCursor
}

type memoryCursor struct {
	index     int
	expiresAt time.Time
}

func NewMemoryCursorStore(ttl time.Duration) *MemoryCursorStore {
	return &MemoryCursorStore{ttl: ttl, entries: make(map[id.RecipientID]memoryCursor)}
}

func (s *MemoryCursorStore) Save(_ context.Context, recipientID id.RecipientID, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[recipientID] = memoryCursor{index: index, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryCursorStore) Load(_ context.Context, recipientID id.RecipientID) (int, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[recipientID]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, false, nil
	}
	return entry.index, true, nil
}

func (s *MemoryCursorStore) Delete(_ context.Context, recipientID id.RecipientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, recipientID)
	return nil
}
