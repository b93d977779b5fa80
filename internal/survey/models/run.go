package models

import (
	"strings"
	"time"

	"attest/internal/schedule"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
)

// RunStatus is the lifecycle state of a compliance run.
type RunStatus string

const (
	RunStatusDraft     RunStatus = "draft"
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusExpired   RunStatus = "expired"
)

// CanTransitionTo encodes the monotonic lifecycle:
// draft → active → completed, with expired reachable from active when the
// due date passes. Completed and expired are terminal.
func (s RunStatus) CanTransitionTo(target RunStatus) bool {
	switch s {
	case RunStatusDraft:
		return target == RunStatusActive
	case RunStatusActive:
		return target == RunStatusCompleted || target == RunStatusExpired
	}
	return false
}

// Run is the aggregate root for one compliance check definition.
//
// Invariants:
//   - Title is non-empty and at most 200 characters
//   - DueDate is never before StartDate
//   - Recurrence configuration is valid for the frequency
//   - Status transitions are monotonic (CanTransitionTo)
//   - Only a draft run accepts structural edits (questions, targets)
//   - Once completed or expired the run is immutable
type Run struct {
	ID           id.RunID           `json:"id"`
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Frequency    schedule.Frequency `json:"frequency"`
	RecurringDay int                `json:"recurring_day,omitempty"`
	StartDate    time.Time          `json:"start_date"`
	DueDate      time.Time          `json:"due_date"`
	Status       RunStatus          `json:"status"`
	CreatedBy    id.UserID          `json:"created_by"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// NewRun validates and constructs a draft run.
func NewRun(runID id.RunID, title, description string, freq schedule.Frequency,
	recurringDay int, startDate, dueDate time.Time, createdBy id.UserID, now time.Time) (*Run, error) {

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title is required").WithFields("title")
	}
	if len(title) > 200 {
		return nil, dErrors.New(dErrors.CodeValidation, "title must be 200 characters or less").WithFields("title")
	}
	if dueDate.Before(startDate) {
		return nil, dErrors.New(dErrors.CodeValidation, "due date must not precede start date").WithFields("due_date")
	}
	if err := schedule.ValidateRecurrence(freq, recurringDay); err != nil {
		return nil, err
	}
	if !freq.RequiresDay() {
		recurringDay = 0
	}
	return &Run{
		ID:           runID,
		Title:        title,
		Description:  strings.TrimSpace(description),
		Frequency:    freq,
		RecurringDay: recurringDay,
		StartDate:    startDate,
		DueDate:      dueDate,
		Status:       RunStatusDraft,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsRecurring is derived: every frequency except "once" repeats.
func (r *Run) IsRecurring() bool { return r.Frequency.Recurring() }

// IsEditable reports whether structural edits (questions, targets) are
// currently allowed.
func (r *Run) IsEditable() bool { return r.Status == RunStatusDraft }

// CanActivate checks the draft → active transition.
// Structural preconditions (questions, targets) are the service's concern;
// this guards the state machine alone.
func (r *Run) CanActivate() error {
	if !r.Status.CanTransitionTo(RunStatusActive) {
		return dErrors.Newf(dErrors.CodeStateConflict, "run is %s, only draft runs can be activated", r.Status)
	}
	return nil
}

// ApplyActivation transitions the run to active. Call CanActivate first.
func (r *Run) ApplyActivation(now time.Time) {
	r.Status = RunStatusActive
	r.UpdatedAt = now
}

// CanClose checks the active → completed transition.
func (r *Run) CanClose() error {
	if !r.Status.CanTransitionTo(RunStatusCompleted) {
		return dErrors.Newf(dErrors.CodeStateConflict, "run is %s, only active runs can be closed", r.Status)
	}
	return nil
}

// ApplyClose transitions the run to completed. Call CanClose first.
func (r *Run) ApplyClose(now time.Time) {
	r.Status = RunStatusCompleted
	r.UpdatedAt = now
}

// CanExpire checks the active → expired transition against the due date.
func (r *Run) CanExpire(now time.Time) error {
	if !r.Status.CanTransitionTo(RunStatusExpired) {
		return dErrors.Newf(dErrors.CodeStateConflict, "run is %s, only active runs can expire", r.Status)
	}
	if !now.After(r.DueDate) {
		return dErrors.New(dErrors.CodeStateConflict, "run is not past its due date")
	}
	return nil
}

// ApplyExpire transitions the run to expired. Call CanExpire first.
func (r *Run) ApplyExpire(now time.Time) {
	r.Status = RunStatusExpired
	r.UpdatedAt = now
}

// NextOccurrence computes the due date of the cycle following this run.
// Only meaningful for recurring runs.
func (r *Run) NextOccurrence(from time.Time) (time.Time, error) {
	if !r.IsRecurring() {
		return time.Time{}, dErrors.New(dErrors.CodeSchedule, "run does not recur")
	}
	return schedule.NextDueDate(r.Frequency, r.RecurringDay, r.DueDate, from)
}

// DepartmentTarget pairs a run with a department selected at definition time.
// The department itself lives in the external directory; only the id is kept.
type DepartmentTarget struct {
	RunID        id.RunID        `json:"run_id"`
	DepartmentID id.DepartmentID `json:"department_id"`
}
