// Package session drives a recipient's walk through a survey: token
// resolution, per-question answering with type validation, the comment rule
// for negative answers, and the single irreversible submit.
//
// The machine is derived, not stored: a session's phase is recomputed from
// the persisted responses on every request, so a recipient can leave and
// resume at any time and concurrent state never drifts from the data.
package session

import (
	"attest/internal/survey/models"
	id "attest/pkg/domain"
)

// Phase is where a recipient currently stands in the survey.
type Phase string

const (
	// PhaseNotStarted means no answer has been recorded yet.
	PhaseNotStarted Phase = "not_started"
	// PhaseAnswering points at the first unanswered question.
	PhaseAnswering Phase = "answering"
	// PhaseCommentPending points at a required yes/no question answered
	// "false" that still lacks its explanatory comment.
	PhaseCommentPending Phase = "comment_pending"
	// PhaseReadyToSubmit means every question has an answer and nothing
	// blocks the terminal submit.
	PhaseReadyToSubmit Phase = "ready_to_submit"
	// PhaseSubmitted is terminal.
	PhaseSubmitted Phase = "submitted"
)

// State is the derived position of one recipient's session.
type State struct {
	Phase Phase `json:"phase"`
	// QuestionIndex is the zero-based position the phase refers to. Only
	// meaningful for answering and comment_pending.
	QuestionIndex int `json:"question_index,omitempty"`
	// CanSubmit reports whether the terminal submit would succeed now.
	CanSubmit bool `json:"can_submit"`
	// Missing lists the required questions still blocking submission.
	Missing []id.QuestionID `json:"missing,omitempty"`
}

// Derive computes the session state from the run's questions (in position
// order) and the recipient's stored responses.
//
// A required yes/no question answered "false" without a comment blocks
// advancement past that question and submission. A non-required one does
// not: the comment simply stays absent.
func Derive(questions []*models.Question, responses []*models.Response, completed bool) State {
	if completed {
		return State{Phase: PhaseSubmitted}
	}

	byQuestion := make(map[id.QuestionID]*models.Response, len(responses))
	for _, response := range responses {
		byQuestion[response.QuestionID] = response
	}

	state := State{Phase: PhaseReadyToSubmit}
	positioned := false
	for i, question := range questions {
		response, answered := byQuestion[question.ID]
		switch {
		case !answered:
			if !positioned {
				state.Phase = PhaseAnswering
				state.QuestionIndex = i
				positioned = true
			}
			if question.Required {
				state.Missing = append(state.Missing, question.ID)
			}
		case commentMissing(question, response):
			if question.Required {
				if !positioned {
					state.Phase = PhaseCommentPending
					state.QuestionIndex = i
					positioned = true
				}
				state.Missing = append(state.Missing, question.ID)
			}
		}
	}

	if state.Phase == PhaseAnswering && len(byQuestion) == 0 {
		state.Phase = PhaseNotStarted
		state.QuestionIndex = 0
	}
	state.CanSubmit = len(state.Missing) == 0
	return state
}

func commentMissing(question *models.Question, response *models.Response) bool {
	return question.NeedsComment(response.Answer) && response.Comment == ""
}
