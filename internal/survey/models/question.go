package models

import (
	"strconv"
	"strings"

	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	pstrings "attest/pkg/platform/strings"
)

// QuestionType determines how an answer is encoded and validated.
type QuestionType string

const (
	QuestionTypeYesNo    QuestionType = "yesno"
	QuestionTypeScore    QuestionType = "score"
	QuestionTypeMultiple QuestionType = "multiple"
	QuestionTypeText     QuestionType = "text"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeYesNo, QuestionTypeScore, QuestionTypeMultiple, QuestionTypeText:
		return true
	}
	return false
}

// Question belongs to exactly one run.
//
// Invariants:
//   - Text is non-empty
//   - Options has at least two entries iff Type is multiple
//   - MaxScore is at least 1 iff Type is score
type Question struct {
	ID       id.QuestionID `json:"id"`
	RunID    id.RunID      `json:"run_id"`
	Position int           `json:"position"`
	Text     string        `json:"text"`
	Type     QuestionType  `json:"type"`
	Required bool          `json:"required"`
	Options  []string      `json:"options,omitempty"`
	MaxScore int           `json:"max_score,omitempty"`
}

// NewQuestion validates and constructs a question.
func NewQuestion(questionID id.QuestionID, runID id.RunID, position int,
	text string, qType QuestionType, required bool, options []string, maxScore int) (*Question, error) {

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "question text is required").WithFields("text")
	}
	if !qType.Valid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown question type %q", qType).WithFields("type")
	}

	q := &Question{
		ID:       questionID,
		RunID:    runID,
		Position: position,
		Text:     text,
		Type:     qType,
		Required: required,
	}
	switch qType {
	case QuestionTypeMultiple:
		cleaned := pstrings.DedupeAndTrim(options)
		if len(cleaned) < 2 {
			return nil, dErrors.New(dErrors.CodeValidation,
				"multiple-choice questions need at least two options").WithFields("options")
		}
		q.Options = cleaned
	case QuestionTypeScore:
		if maxScore < 1 {
			return nil, dErrors.New(dErrors.CodeValidation,
				"score questions need a positive max score").WithFields("max_score")
		}
		q.MaxScore = maxScore
	}
	return q, nil
}

// Validate re-checks the question invariants. The activation path calls this
// as a backstop even though NewQuestion already enforced them.
func (q *Question) Validate() error {
	_, err := NewQuestion(q.ID, q.RunID, q.Position, q.Text, q.Type, q.Required, q.Options, q.MaxScore)
	return err
}

// ValidateAnswer checks a string-encoded answer against the question type:
// "true"/"false" for yesno, a numeric string within [0, MaxScore] for score,
// one of Options for multiple, non-empty free text for text.
func (q *Question) ValidateAnswer(answer string) error {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return dErrors.New(dErrors.CodeValidation, "answer must not be empty").WithFields("answer")
	}
	switch q.Type {
	case QuestionTypeYesNo:
		if answer != "true" && answer != "false" {
			return dErrors.New(dErrors.CodeValidation,
				`yes/no answers must be "true" or "false"`).WithFields("answer")
		}
	case QuestionTypeScore:
		n, err := strconv.Atoi(answer)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "score answers must be numeric").WithFields("answer")
		}
		if n < 0 || n > q.MaxScore {
			return dErrors.Newf(dErrors.CodeValidation,
				"score must be between 0 and %d", q.MaxScore).WithFields("answer")
		}
	case QuestionTypeMultiple:
		for _, opt := range q.Options {
			if answer == opt {
				return nil
			}
		}
		return dErrors.New(dErrors.CodeValidation, "answer is not one of the options").WithFields("answer")
	case QuestionTypeText:
		// Any non-empty text is acceptable.
	}
	return nil
}

// NeedsComment reports whether the given answer demands justification text.
// Negative yes/no answers always do; this is a deliberate business rule.
func (q *Question) NeedsComment(answer string) bool {
	return q.Type == QuestionTypeYesNo && strings.TrimSpace(answer) == "false"
}
