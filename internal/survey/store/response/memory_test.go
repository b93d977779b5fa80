package response

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attest/internal/survey/models"
	id "attest/pkg/domain"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemory()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) TestUpsertOverwrites() {
	recID := id.NewRecipientID()
	qID := id.NewQuestionID()

	first := &models.Response{
		ID: id.NewResponseID(), RecipientID: recID, QuestionID: qID,
		Answer: "false", Comment: "pending remediation", SubmittedAt: time.Now(),
	}
	s.Require().NoError(s.store.Upsert(s.ctx, first))

	second := &models.Response{
		ID: id.NewResponseID(), RecipientID: recID, QuestionID: qID,
		Answer: "true", SubmittedAt: time.Now(),
	}
	s.Require().NoError(s.store.Upsert(s.ctx, second))

	responses, err := s.store.ListByRecipient(s.ctx, recID)
	s.Require().NoError(err)
	s.Require().Len(responses, 1, "only the most recent response per question counts")
	s.Equal("true", responses[0].Answer)
	s.Equal(first.ID, responses[0].ID, "row identity survives overwrites")
}

func (s *MemoryStoreSuite) TestListByRecipients() {
	recA := id.NewRecipientID()
	recB := id.NewRecipientID()
	for _, rec := range []id.RecipientID{recA, recB} {
		s.Require().NoError(s.store.Upsert(s.ctx, &models.Response{
			ID: id.NewResponseID(), RecipientID: rec, QuestionID: id.NewQuestionID(),
			Answer: "true", SubmittedAt: time.Now(),
		}))
	}

	responses, err := s.store.ListByRecipients(s.ctx, []id.RecipientID{recA, recB})
	s.Require().NoError(err)
	s.Len(responses, 2)

	responses, err = s.store.ListByRecipients(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(responses)
}
