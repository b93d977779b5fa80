// Package report computes completion statistics and groups answers for
// reporting and export. Everything is recomputed from the stored recipients
// and responses on each read; nothing here caches or mutates engine state.
package report

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"attest/internal/directory"
	"attest/internal/survey/models"
	"attest/internal/survey/store"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/sentinel"
)

// Directory resolves department heads for respondent identity in reports.
type Directory interface {
	HeadOf(ctx context.Context, departmentID id.DepartmentID) (*directory.Head, error)
}

// Statistics summarizes completion for a whole run.
type Statistics struct {
	TotalRecipients  int     `json:"total_recipients"`
	CompletedSurveys int     `json:"completed_surveys"`
	PendingSurveys   int     `json:"pending_surveys"`
	CompletionRate   float64 `json:"completion_rate"`
}

// DepartmentStats summarizes completion for one department's recipients.
type DepartmentStats struct {
	DepartmentID   id.DepartmentID     `json:"department_id"`
	DepartmentName string              `json:"department_name"`
	Recipients     []*models.Recipient `json:"recipients"`
	CompletionRate float64             `json:"completion_rate"`
}

// Service aggregates stored survey results.
type Service struct {
	runs       store.RunStore
	recipients store.RecipientStore
	responses  store.ResponseStore
	directory  Directory
}

func New(runs store.RunStore, recipients store.RecipientStore, responses store.ResponseStore, dir Directory) *Service {
	return &Service{runs: runs, recipients: recipients, responses: responses, directory: dir}
}

// Statistics computes the run-wide completion summary.
func (s *Service) Statistics(ctx context.Context, runID id.RunID) (*Statistics, error) {
	recipients, err := s.listRecipients(ctx, runID)
	if err != nil {
		return nil, err
	}
	stats := computeStatistics(recipients)
	return &stats, nil
}

// ByDepartment computes per-department completion, one entry per department
// in stable department-id order. The contract tolerates more than one
// recipient per department even though fan-out normally creates exactly one.
func (s *Service) ByDepartment(ctx context.Context, runID id.RunID) ([]DepartmentStats, error) {
	recipients, err := s.listRecipients(ctx, runID)
	if err != nil {
		return nil, err
	}

	grouped := make(map[id.DepartmentID][]*models.Recipient)
	for _, recipient := range recipients {
		grouped[recipient.DepartmentID] = append(grouped[recipient.DepartmentID], recipient)
	}

	stats := make([]DepartmentStats, 0, len(grouped))
	for departmentID, members := range grouped {
		entry := DepartmentStats{
			DepartmentID:   departmentID,
			Recipients:     members,
			CompletionRate: completionRate(members),
		}
		if head, err := s.directory.HeadOf(ctx, departmentID); err == nil {
			entry.DepartmentName = head.DepartmentName
		}
		stats = append(stats, entry)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].DepartmentID.String() < stats[j].DepartmentID.String()
	})
	return stats, nil
}

func (s *Service) listRecipients(ctx context.Context, runID id.RunID) ([]*models.Recipient, error) {
	if _, err := s.runs.FindByID(ctx, runID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "run not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load run")
	}
	recipients, err := s.recipients.ListByRun(ctx, runID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list recipients")
	}
	return recipients, nil
}

func computeStatistics(recipients []*models.Recipient) Statistics {
	completed := 0
	for _, recipient := range recipients {
		if recipient.SurveyCompleted {
			completed++
		}
	}
	return Statistics{
		TotalRecipients:  len(recipients),
		CompletedSurveys: completed,
		PendingSurveys:   len(recipients) - completed,
		CompletionRate:   rate(completed, len(recipients)),
	}
}

func completionRate(recipients []*models.Recipient) float64 {
	completed := 0
	for _, recipient := range recipients {
		if recipient.SurveyCompleted {
			completed++
		}
	}
	return rate(completed, len(recipients))
}

// rate is 100 × completed/total on [0,100], with zero recipients defined as
// zero rather than a division error.
func rate(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(completed) / float64(total)
}

// Answer is one question's answer in a respondent's report block. Score and
// Comment stay nil when the question type has no score or no comment was
// given.
type Answer struct {
	QuestionID   id.QuestionID       `json:"question_id"`
	QuestionText string              `json:"question_text"`
	QuestionType models.QuestionType `json:"question_type"`
	Answer       string              `json:"answer"`
	Score        *int                `json:"score"`
	Comment      *string             `json:"comment"`
	SubmittedAt  time.Time           `json:"submitted_at"`
}

// Respondent is one recipient's block in the grouped report.
type Respondent struct {
	UserID      id.UserID  `json:"user_id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Completed   bool       `json:"completed"`
	SubmittedAt *time.Time `json:"submitted_at"`
	Answers     []Answer   `json:"answers"`
}

// DepartmentReport groups respondents under their department.
type DepartmentReport struct {
	DepartmentID   id.DepartmentID `json:"department_id"`
	DepartmentName string          `json:"department_name"`
	CompletionRate float64         `json:"completion_rate"`
	Respondents    []Respondent    `json:"respondents"`
}

// RunReport is the full grouped result set of one run.
type RunReport struct {
	Run         *models.Run        `json:"run"`
	Statistics  Statistics         `json:"statistics"`
	Departments []DepartmentReport `json:"departments"`
}

// Report builds the grouped report: departments in stable order, responses
// grouped by department then respondent, and each respondent's answers in
// the run's question order regardless of when they were submitted.
func (s *Service) Report(ctx context.Context, runID id.RunID) (*RunReport, error) {
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "run not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load run")
	}
	questions, err := s.runs.ListQuestions(ctx, runID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list questions")
	}
	recipients, err := s.recipients.ListByRun(ctx, runID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list recipients")
	}

	recipientIDs := make([]id.RecipientID, 0, len(recipients))
	for _, recipient := range recipients {
		recipientIDs = append(recipientIDs, recipient.ID)
	}
	responses, err := s.responses.ListByRecipients(ctx, recipientIDs)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list responses")
	}
	byRecipient := make(map[id.RecipientID]map[id.QuestionID]*models.Response)
	for _, response := range responses {
		answers, ok := byRecipient[response.RecipientID]
		if !ok {
			answers = make(map[id.QuestionID]*models.Response)
			byRecipient[response.RecipientID] = answers
		}
		answers[response.QuestionID] = response
	}

	byDepartment := make(map[id.DepartmentID][]*models.Recipient)
	for _, recipient := range recipients {
		byDepartment[recipient.DepartmentID] = append(byDepartment[recipient.DepartmentID], recipient)
	}

	report := &RunReport{Run: run, Statistics: computeStatistics(recipients)}
	for departmentID, members := range byDepartment {
		deptReport := DepartmentReport{
			DepartmentID:   departmentID,
			CompletionRate: completionRate(members),
		}
		if head, err := s.directory.HeadOf(ctx, departmentID); err == nil {
			deptReport.DepartmentName = head.DepartmentName
		}
		for _, recipient := range members {
			deptReport.Respondents = append(deptReport.Respondents,
				s.respondent(ctx, recipient, questions, byRecipient[recipient.ID]))
		}
		sort.Slice(deptReport.Respondents, func(i, j int) bool {
			return deptReport.Respondents[i].UserID.String() < deptReport.Respondents[j].UserID.String()
		})
		report.Departments = append(report.Departments, deptReport)
	}
	sort.Slice(report.Departments, func(i, j int) bool {
		return report.Departments[i].DepartmentID.String() < report.Departments[j].DepartmentID.String()
	})
	return report, nil
}

func (s *Service) respondent(ctx context.Context, recipient *models.Recipient,
	questions []*models.Question, answers map[id.QuestionID]*models.Response) Respondent {

	respondent := Respondent{
		UserID:      recipient.UserID,
		Completed:   recipient.SurveyCompleted,
		SubmittedAt: recipient.SurveyCompletedAt,
	}
	if head, err := s.directory.HeadOf(ctx, recipient.DepartmentID); err == nil {
		respondent.Name = head.Name
		respondent.Email = head.Email
	}

	// Question order comes from the run definition, not submission order.
	for _, question := range questions {
		response, ok := answers[question.ID]
		if !ok {
			continue
		}
		answer := Answer{
			QuestionID:   question.ID,
			QuestionText: question.Text,
			QuestionType: question.Type,
			Answer:       response.Answer,
			SubmittedAt:  response.SubmittedAt,
		}
		if question.Type == models.QuestionTypeScore {
			if score, err := strconv.Atoi(response.Answer); err == nil {
				answer.Score = &score
			}
		}
		if response.Comment != "" {
			comment := response.Comment
			answer.Comment = &comment
		}
		respondent.Answers = append(respondent.Answers, answer)
	}
	return respondent
}
