//go:build integration

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attest/internal/session"
	id "attest/pkg/domain"
	"attest/pkg/testutil/containers"
)

type RedisCursorSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *session.RedisCursorStore
}

func TestRedisCursorSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCursorSuite))
}

func (s *RedisCursorSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = session.NewRedisCursorStore(s.redis.Client, time.Minute)
}

func (s *RedisCursorSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCursorSuite) TestSaveLoadDelete() {
	ctx := context.Background()
	recipientID := id.NewRecipientID()

	_, found, err := s.store.Load(ctx, recipientID)
	s.Require().NoError(err)
	s.False(found)

	s.Require().NoError(s.store.Save(ctx, recipientID, 3))
	index, found, err := s.store.Load(ctx, recipientID)
	s.Require().NoError(err)
	s.True(found)
	s.Equal(3, index)

	s.Require().NoError(s.store.Save(ctx, recipientID, 5))
	index, _, err = s.store.Load(ctx, recipientID)
	s.Require().NoError(err)
	s.Equal(5, index)

	s.Require().NoError(s.store.Delete(ctx, recipientID))
	_, found, err = s.store.Load(ctx, recipientID)
	s.Require().NoError(err)
	s.False(found)
}

func (s *RedisCursorSuite) TestCursorExpires() {
	ctx := context.Background()
	short := session.NewRedisCursorStore(s.redis.Client, 200*time.Millisecond)
	recipientID := id.NewRecipientID()

	s.Require().NoError(short.Save(ctx, recipientID, 2))
	s.Require().Eventually(func() bool {
		_, found, err := short.Load(ctx, recipientID)
		return err == nil && !found
	}, 2*time.Second, 50*time.Millisecond)
}

func (s *RedisCursorSuite) TestCorruptCursorTreatedAsMissing() {
	ctx := context.Background()
	recipientID := id.NewRecipientID()

	err := s.redis.Client.Set(ctx, "survey:cursor:"+recipientID.String(), "not-a-number", time.Minute).Err()
	s.Require().NoError(err)

	_, found, err := s.store.Load(ctx, recipientID)
	s.Require().NoError(err)
	s.False(found)
}
