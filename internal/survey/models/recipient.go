package models

import (
	"time"

	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
)

// Recipient is one department head's survey assignment for one run,
// created at activation time.
//
// Invariants:
//   - At most one recipient per (RunID, DepartmentID), enforced by the store
//   - AccessToken is opaque, unguessable and unique
//   - SurveyCompleted transitions false → true exactly once and never reverses
type Recipient struct {
	ID                id.RecipientID  `json:"id"`
	RunID             id.RunID        `json:"run_id"`
	UserID            id.UserID       `json:"user_id"`
	DepartmentID      id.DepartmentID `json:"department_id"`
	AccessToken       string          `json:"-"`
	EmailSent         bool            `json:"email_sent"`
	EmailSentAt       *time.Time      `json:"email_sent_at,omitempty"`
	SurveyCompleted   bool            `json:"survey_completed"`
	SurveyCompletedAt *time.Time      `json:"survey_completed_at,omitempty"`
}

// CanComplete guards the one-way completion flag.
func (r *Recipient) CanComplete() error {
	if r.SurveyCompleted {
		return dErrors.New(dErrors.CodeStateConflict, "survey already submitted")
	}
	return nil
}

// ApplyCompletion marks the survey submitted. Call CanComplete first;
// the flag is monotonic and never cleared.
func (r *Recipient) ApplyCompletion(now time.Time) {
	r.SurveyCompleted = true
	r.SurveyCompletedAt = &now
}

// ApplyEmailSent records a successful notification dispatch.
func (r *Recipient) ApplyEmailSent(now time.Time) {
	r.EmailSent = true
	r.EmailSentAt = &now
}

// Response is the stored answer of one recipient to one question.
// One row per (RecipientID, QuestionID); resubmission before the terminal
// submit overwrites in place.
type Response struct {
	ID          id.ResponseID  `json:"id"`
	RecipientID id.RecipientID `json:"recipient_id"`
	QuestionID  id.QuestionID  `json:"question_id"`
	Answer      string         `json:"answer"`
	Comment     string         `json:"comment,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}
