package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	id "attest/pkg/domain"
)

const cursorKeyPrefix = "survey:cursor:"

// RedisCursorStore is the production CursorStore. Cursors live under a TTL
// so abandoned sessions clean themselves up; the client lifecycle is managed
// externally.
type RedisCursorStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCursorStore(client *redis.Client, ttl time.Duration) *RedisCursorStore {
	return &RedisCursorStore{client: client, ttl: ttl}
}

func cursorKey(recipientID id.RecipientID) string {
	return cursorKeyPrefix + recipientID.String()
}

func (s *RedisCursorStore) Save(ctx context.Context, recipientID id.RecipientID, index int) error {
	return s.client.Set(ctx, cursorKey(recipientID), index, s.ttl).Err()
}

func (s *RedisCursorStore) Load(ctx context.Context, recipientID id.RecipientID) (int, bool, error) {
	raw, err := s.client.Get(ctx, cursorKey(recipientID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	index, err := strconv.Atoi(raw)
	if err != nil {
		// A corrupt cursor is as good as no cursor.
		return 0, false, nil
	}
	return index, true, nil
}

func (s *RedisCursorStore) Delete(ctx context.Context, recipientID id.RecipientID) error {
	return s.client.Del(ctx, cursorKey(recipientID)).Err()
}
