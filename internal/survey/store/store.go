// Package store defines the persistence contracts for the survey engine.
//
// Each aggregate gets its own store interface with an in-memory and a
// PostgreSQL implementation that behave identically. Stores are pure I/O:
// lifecycle rules live in the domain models and services. The Execute
// callback pattern (validate, then mutate, under the store's lock or row
// lock) keeps read-modify-write transitions atomic in both backends.
package store

import (
	"context"
	"time"

	"attest/internal/survey/models"
	id "attest/pkg/domain"
)

// RunStore owns run definitions together with their questions and department
// targets (exclusive ownership: deleting a draft run cascades to both).
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	FindByID(ctx context.Context, runID id.RunID) (*models.Run, error)
	// List returns runs, optionally filtered by status ("" means all),
	// newest first.
	List(ctx context.Context, status models.RunStatus) ([]*models.Run, error)
	// ListActiveDueBefore returns active runs whose due date is before t.
	// Feeds the expiry sweep.
	ListActiveDueBefore(ctx context.Context, t time.Time) ([]*models.Run, error)
	// Execute atomically loads the run, applies validate and, when it
	// passes, mutate, persisting the result. Returns sentinel.ErrNotFound
	// for unknown runs and the validate error unchanged.
	Execute(ctx context.Context, runID id.RunID,
		validate func(*models.Run) error, mutate func(*models.Run)) (*models.Run, error)
	// Delete removes a run and everything it owns. The service only calls
	// this for drafts.
	Delete(ctx context.Context, runID id.RunID) error

	AddQuestion(ctx context.Context, question *models.Question) error
	RemoveQuestion(ctx context.Context, runID id.RunID, questionID id.QuestionID) error
	// ListQuestions returns the run's questions in position order.
	ListQuestions(ctx context.Context, runID id.RunID) ([]*models.Question, error)

	// SetTargets replaces the run's department targets.
	SetTargets(ctx context.Context, runID id.RunID, departments []id.DepartmentID) error
	ListTargets(ctx context.Context, runID id.RunID) ([]models.DepartmentTarget, error)
}

// RecipientStore persists fan-out results. The (run, department) uniqueness
// constraint is the engine's guard against duplicate recipients under
// concurrent activation retries; violations surface as sentinel.ErrConflict.
type RecipientStore interface {
	// CreateBatch persists all recipients or none of them.
	CreateBatch(ctx context.Context, recipients []*models.Recipient) error
	FindByID(ctx context.Context, recipientID id.RecipientID) (*models.Recipient, error)
	FindByToken(ctx context.Context, token string) (*models.Recipient, error)
	ListByRun(ctx context.Context, runID id.RunID) ([]*models.Recipient, error)
	// Execute atomically applies validate and mutate to one recipient.
	Execute(ctx context.Context, recipientID id.RecipientID,
		validate func(*models.Recipient) error, mutate func(*models.Recipient)) (*models.Recipient, error)
}

// ResponseStore persists answers, one row per (recipient, question).
type ResponseStore interface {
	// Upsert stores the response, overwriting any previous answer of the same
	// recipient to the same question.
	Upsert(ctx context.Context, response *models.Response) error
	ListByRecipient(ctx context.Context, recipientID id.RecipientID) ([]*models.Response, error)
	ListByRecipients(ctx context.Context, recipientIDs []id.RecipientID) ([]*models.Response, error)
}
