package models

import (
	"strings"
	"time"

	"attest/internal/schedule"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
)

// CreateRunRequest is the admin API payload for defining a run.
type CreateRunRequest struct {
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Frequency    schedule.Frequency `json:"frequency"`
	RecurringDay int                `json:"recurring_day"`
	StartDate    time.Time          `json:"start_date"`
	DueDate      time.Time          `json:"due_date"`
	Departments  []id.DepartmentID  `json:"departments"`
}

func (r *CreateRunRequest) Normalize() {
	if r == nil {
		return
	}
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Frequency = schedule.Frequency(strings.ToLower(strings.TrimSpace(string(r.Frequency))))
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
// Deep validation (date ordering, recurrence rules) happens in NewRun.
func (r *CreateRunRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Title) > 200 {
		return dErrors.New(dErrors.CodeValidation, "title must be 200 characters or less").WithFields("title")
	}
	if r.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required").WithFields("title")
	}
	if r.Frequency == "" {
		return dErrors.New(dErrors.CodeValidation, "frequency is required").WithFields("frequency")
	}
	if !r.Frequency.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown frequency %q", r.Frequency).WithFields("frequency")
	}
	if r.StartDate.IsZero() || r.DueDate.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "start date and due date are required").WithFields("start_date", "due_date")
	}
	return nil
}

// AddQuestionRequest is the admin API payload for appending a question to a
// draft run.
type AddQuestionRequest struct {
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Required bool         `json:"required"`
	Options  []string     `json:"options"`
	MaxScore int          `json:"max_score"`
}

func (r *AddQuestionRequest) Normalize() {
	if r == nil {
		return
	}
	r.Text = strings.TrimSpace(r.Text)
	r.Type = QuestionType(strings.ToLower(strings.TrimSpace(string(r.Type))))
}

func (r *AddQuestionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Text == "" {
		return dErrors.New(dErrors.CodeValidation, "question text is required").WithFields("text")
	}
	if !r.Type.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown question type %q", r.Type).WithFields("type")
	}
	return nil
}

// SetTargetsRequest replaces a draft run's department targets.
type SetTargetsRequest struct {
	Departments []id.DepartmentID `json:"departments"`
}

func (r *SetTargetsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Departments) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one department is required").WithFields("departments")
	}
	seen := make(map[id.DepartmentID]bool, len(r.Departments))
	for _, dept := range r.Departments {
		if dept.IsNil() {
			return dErrors.New(dErrors.CodeValidation, "department id must not be empty").WithFields("departments")
		}
		if seen[dept] {
			return dErrors.New(dErrors.CodeValidation, "duplicate department id").WithFields("departments")
		}
		seen[dept] = true
	}
	return nil
}

// AnswerRequest is the public survey API payload for recording one answer.
type AnswerRequest struct {
	QuestionID id.QuestionID `json:"question_id"`
	Answer     string        `json:"answer"`
	Comment    string        `json:"comment"`
}

func (r *AnswerRequest) Normalize() {
	if r == nil {
		return
	}
	r.Answer = strings.TrimSpace(r.Answer)
	r.Comment = strings.TrimSpace(r.Comment)
}

func (r *AnswerRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.QuestionID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "question id is required").WithFields("question_id")
	}
	if r.Answer == "" {
		return dErrors.New(dErrors.CodeValidation, "answer is required").WithFields("answer")
	}
	if len(r.Comment) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "comment must be 2000 characters or less").WithFields("comment")
	}
	return nil
}
