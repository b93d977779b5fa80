package handler

import (
	"time"

	"attest/internal/report"
	"attest/internal/survey/models"
	"attest/internal/survey/service"
	id "attest/pkg/domain"
)

// RunResponse is the HTTP shape of a run. Tokens never appear here; the
// recipient view carries delivery state only.
type RunResponse struct {
	ID           id.RunID  `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Frequency    string    `json:"frequency"`
	IsRecurring  bool      `json:"is_recurring"`
	RecurringDay int       `json:"recurring_day,omitempty"`
	StartDate    time.Time `json:"start_date"`
	DueDate      time.Time `json:"due_date"`
	Status       string    `json:"status"`
	CreatedBy    id.UserID `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FromRun converts a domain run to its HTTP shape.
func FromRun(run *models.Run) *RunResponse {
	return &RunResponse{
		ID:           run.ID,
		Title:        run.Title,
		Description:  run.Description,
		Frequency:    string(run.Frequency),
		IsRecurring:  run.IsRecurring(),
		RecurringDay: run.RecurringDay,
		StartDate:    run.StartDate,
		DueDate:      run.DueDate,
		Status:       string(run.Status),
		CreatedBy:    run.CreatedBy,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}

// FromRuns converts a run list.
func FromRuns(runs []*models.Run) []*RunResponse {
	out := make([]*RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, FromRun(run))
	}
	return out
}

// RecipientResponse is a recipient without its access token.
type RecipientResponse struct {
	ID                id.RecipientID  `json:"id"`
	UserID            id.UserID       `json:"user_id"`
	DepartmentID      id.DepartmentID `json:"department_id"`
	EmailSent         bool            `json:"email_sent"`
	EmailSentAt       *time.Time      `json:"email_sent_at,omitempty"`
	SurveyCompleted   bool            `json:"survey_completed"`
	SurveyCompletedAt *time.Time      `json:"survey_completed_at,omitempty"`
}

func fromRecipient(recipient *models.Recipient) RecipientResponse {
	return RecipientResponse{
		ID:                recipient.ID,
		UserID:            recipient.UserID,
		DepartmentID:      recipient.DepartmentID,
		EmailSent:         recipient.EmailSent,
		EmailSentAt:       recipient.EmailSentAt,
		SurveyCompleted:   recipient.SurveyCompleted,
		SurveyCompletedAt: recipient.SurveyCompletedAt,
	}
}

// DetailResponse is the HTTP shape of a run with everything it owns.
type DetailResponse struct {
	Run        *RunResponse        `json:"run"`
	Questions  []*models.Question  `json:"questions"`
	Targets    []id.DepartmentID   `json:"departments"`
	Recipients []RecipientResponse `json:"recipients,omitempty"`
}

// FromDetail converts a run detail to its HTTP shape.
func FromDetail(detail *service.RunDetail) *DetailResponse {
	out := &DetailResponse{
		Run:       FromRun(detail.Run),
		Questions: detail.Questions,
		Targets:   detail.Targets,
	}
	for _, recipient := range detail.Recipients {
		out.Recipients = append(out.Recipients, fromRecipient(recipient))
	}
	return out
}

// ActivationResponse reports a fan-out.
type ActivationResponse struct {
	Run               *RunResponse `json:"run"`
	RecipientCount    int          `json:"recipient_count"`
	NotificationsSent int          `json:"notifications_sent"`
}

// FromActivation converts an activation result to its HTTP shape.
func FromActivation(result *service.ActivationResult) *ActivationResponse {
	return &ActivationResponse{
		Run:               FromRun(result.Run),
		RecipientCount:    result.RecipientCount,
		NotificationsSent: result.NotificationsSent,
	}
}

// DepartmentStatsResponse is the per-department completion breakdown.
type DepartmentStatsResponse struct {
	DepartmentID   id.DepartmentID     `json:"department_id"`
	DepartmentName string              `json:"department_name,omitempty"`
	Recipients     []RecipientResponse `json:"recipients"`
	CompletionRate float64             `json:"completion_rate"`
}

// FromDepartmentStats converts department statistics to their HTTP shape.
func FromDepartmentStats(stats []report.DepartmentStats) []DepartmentStatsResponse {
	out := make([]DepartmentStatsResponse, 0, len(stats))
	for _, entry := range stats {
		converted := DepartmentStatsResponse{
			DepartmentID:   entry.DepartmentID,
			DepartmentName: entry.DepartmentName,
			CompletionRate: entry.CompletionRate,
		}
		for _, recipient := range entry.Recipients {
			converted.Recipients = append(converted.Recipients, fromRecipient(recipient))
		}
		out = append(out, converted)
	}
	return out
}
