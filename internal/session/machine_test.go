package session

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"attest/internal/survey/models"
	id "attest/pkg/domain"
)

type MachineSuite struct {
	suite.Suite
	runID     id.RunID
	questions []*models.Question
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineSuite))
}

func (s *MachineSuite) SetupTest() {
	s.runID = id.NewRunID()
	s.questions = []*models.Question{
		s.question(1, models.QuestionTypeYesNo, true),
		s.question(2, models.QuestionTypeText, false),
		s.question(3, models.QuestionTypeYesNo, true),
	}
}

func (s *MachineSuite) question(position int, qType models.QuestionType, required bool) *models.Question {
	q, err := models.NewQuestion(id.NewQuestionID(), s.runID, position,
		"Question text", qType, required, nil, 0)
	s.Require().NoError(err)
	return q
}

func (s *MachineSuite) response(q *models.Question, answer, comment string) *models.Response {
	return &models.Response{
		ID:          id.NewResponseID(),
		RecipientID: id.NewRecipientID(),
		QuestionID:  q.ID,
		Answer:      answer,
		Comment:     comment,
	}
}

func (s *MachineSuite) TestDerive() {
	s.Run("no responses yields not started", func() {
		state := Derive(s.questions, nil, false)
		s.Equal(PhaseNotStarted, state.Phase)
		s.Zero(state.QuestionIndex)
		s.False(state.CanSubmit)
		s.Len(state.Missing, 2)
	})

	s.Run("first unanswered question positions the session", func() {
		responses := []*models.Response{s.response(s.questions[0], "true", "")}
		state := Derive(s.questions, responses, false)
		s.Equal(PhaseAnswering, state.Phase)
		s.Equal(1, state.QuestionIndex)
		s.False(state.CanSubmit)
		s.Equal([]id.QuestionID{s.questions[2].ID}, state.Missing)
	})

	s.Run("required negative answer without comment blocks", func() {
		responses := []*models.Response{
			s.response(s.questions[0], "false", ""),
			s.response(s.questions[1], "fine", ""),
			s.response(s.questions[2], "true", ""),
		}
		state := Derive(s.questions, responses, false)
		s.Equal(PhaseCommentPending, state.Phase)
		s.Zero(state.QuestionIndex)
		s.False(state.CanSubmit)
		s.Equal([]id.QuestionID{s.questions[0].ID}, state.Missing)
	})

	s.Run("comment unblocks the negative answer", func() {
		responses := []*models.Response{
			s.response(s.questions[0], "false", "remediation planned"),
			s.response(s.questions[1], "fine", ""),
			s.response(s.questions[2], "true", ""),
		}
		state := Derive(s.questions, responses, false)
		s.Equal(PhaseReadyToSubmit, state.Phase)
		s.True(state.CanSubmit)
		s.Empty(state.Missing)
	})

	s.Run("optional negative answer does not block", func() {
		questions := []*models.Question{
			s.question(1, models.QuestionTypeYesNo, false),
			s.question(2, models.QuestionTypeYesNo, true),
		}
		responses := []*models.Response{
			questionResponse(questions[0], "false", ""),
			questionResponse(questions[1], "true", ""),
		}
		state := Derive(questions, responses, false)
		s.Equal(PhaseReadyToSubmit, state.Phase)
		s.True(state.CanSubmit)
	})

	s.Run("unanswered optional question allows submission", func() {
		responses := []*models.Response{
			s.response(s.questions[0], "true", ""),
			s.response(s.questions[2], "true", ""),
		}
		state := Derive(s.questions, responses, false)
		s.Equal(PhaseAnswering, state.Phase)
		s.Equal(1, state.QuestionIndex)
		s.True(state.CanSubmit)
		s.Empty(state.Missing)
	})

	s.Run("completed recipient is submitted regardless of responses", func() {
		state := Derive(s.questions, nil, true)
		s.Equal(PhaseSubmitted, state.Phase)
	})
}

func questionResponse(q *models.Question, answer, comment string) *models.Response {
	return &models.Response{
		ID:          id.NewResponseID(),
		RecipientID: id.NewRecipientID(),
		QuestionID:  q.ID,
		Answer:      answer,
		Comment:     comment,
	}
}
