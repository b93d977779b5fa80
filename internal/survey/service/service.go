// Package service orchestrates the compliance run lifecycle: definition,
// activation fan-out, notification dispatch, closing, and the expiry sweep.
// Domain rules live in the models; stores are pure I/O; the external
// directory and notification services sit behind narrow ports.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"attest/internal/directory"
	"attest/internal/notify"
	"attest/internal/survey/metrics"
	"attest/internal/survey/models"
	"attest/internal/survey/store"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/audit"
	"attest/pkg/platform/sentinel"
	"attest/pkg/requestcontext"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks attest/internal/survey/service Directory,Dispatcher

// Directory resolves departments to their heads at fan-out time.
type Directory interface {
	HeadOf(ctx context.Context, departmentID id.DepartmentID) (*directory.Head, error)
}

// Dispatcher delivers survey invitations.
type Dispatcher interface {
	Send(ctx context.Context, n notify.Notification) error
}

// AuditPublisher captures audit trail events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

const defaultNotifyTimeout = 10 * time.Second

// Service orchestrates compliance runs.
type Service struct {
	runs       store.RunStore
	recipients store.RecipientStore
	responses  store.ResponseStore
	directory  Directory
	dispatcher Dispatcher

	// baseURL is the public origin recipients open surveys from,
	// e.g. "https://attest.example.com".
	baseURL       string
	notifyTimeout time.Duration

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.notifyTimeout = d
	}
}

// New constructs a Service.
func New(runs store.RunStore, recipients store.RecipientStore, responses store.ResponseStore,
	dir Directory, dispatcher Dispatcher, baseURL string, opts ...Option) *Service {

	s := &Service{
		runs:          runs,
		recipients:    recipients,
		responses:     responses,
		directory:     dir,
		dispatcher:    dispatcher,
		baseURL:       baseURL,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// RunDetail is a run together with everything it owns.
type RunDetail struct {
	Run        *models.Run         `json:"run"`
	Questions  []*models.Question  `json:"questions"`
	Targets    []id.DepartmentID   `json:"departments"`
	Recipients []*models.Recipient `json:"recipients,omitempty"`
}

// CreateRun validates and persists a new draft run. Departments supplied in
// the request become the initial targets.
func (s *Service) CreateRun(ctx context.Context, req *models.CreateRunRequest) (*models.Run, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	run, err := models.NewRun(id.NewRunID(), req.Title, req.Description, req.Frequency,
		req.RecurringDay, req.StartDate, req.DueDate, requestcontext.ActorID(ctx), now)
	if err != nil {
		return nil, err
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist run")
	}
	if len(req.Departments) > 0 {
		targets := &models.SetTargetsRequest{Departments: req.Departments}
		if err := targets.Validate(); err != nil {
			return nil, err
		}
		if err := s.runs.SetTargets(ctx, run.ID, req.Departments); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist run targets")
		}
	}

	s.emitAudit(ctx, audit.ActionRunCreated, run.ID, "")
	s.logger.InfoContext(ctx, "run created", "run_id", run.ID, "frequency", run.Frequency)
	return run, nil
}

// GetRun retrieves a run by id.
func (s *Service) GetRun(ctx context.Context, runID id.RunID) (*models.Run, error) {
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, wrapRunErr(err)
	}
	return run, nil
}

// GetRunDetail retrieves a run with its questions, targets and, once
// activated, its recipients.
func (s *Service) GetRunDetail(ctx context.Context, runID id.RunID) (*RunDetail, error) {
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, wrapRunErr(err)
	}
	questions, err := s.runs.ListQuestions(ctx, runID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list questions")
	}
	targets, err := s.runs.ListTargets(ctx, runID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list targets")
	}
	detail := &RunDetail{Run: run, Questions: questions, Targets: departmentIDs(targets)}
	if run.Status != models.RunStatusDraft {
		recipients, err := s.recipients.ListByRun(ctx, runID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list recipients")
		}
		detail.Recipients = recipients
	}
	return detail, nil
}

// ListRuns returns runs filtered by status. An empty status means all.
func (s *Service) ListRuns(ctx context.Context, status models.RunStatus) ([]*models.Run, error) {
	switch status {
	case "", models.RunStatusDraft, models.RunStatusActive, models.RunStatusCompleted, models.RunStatusExpired:
	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown status %q", status).WithFields("status")
	}
	runs, err := s.runs.List(ctx, status)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list runs")
	}
	return runs, nil
}

// DeleteRun removes a draft run and everything it owns.
func (s *Service) DeleteRun(ctx context.Context, runID id.RunID) error {
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return wrapRunErr(err)
	}
	if !run.IsEditable() {
		return dErrors.Newf(dErrors.CodeStateConflict, "run is %s, only draft runs can be deleted", run.Status)
	}
	if err := s.runs.Delete(ctx, runID); err != nil {
		return wrapRunErr(err)
	}
	return nil
}

// AddQuestion appends a question to a draft run.
func (s *Service) AddQuestion(ctx context.Context, runID id.RunID, req *models.AddQuestionRequest) (*models.Question, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, wrapRunErr(err)
	}
	if !run.IsEditable() {
		return nil, dErrors.Newf(dErrors.CodeStateConflict, "run is %s, questions can only be edited on drafts", run.Status)
	}
	existing, err := s.runs.ListQuestions(ctx, runID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list questions")
	}

	question, err := models.NewQuestion(id.NewQuestionID(), runID, len(existing)+1,
		req.Text, req.Type, req.Required, req.Options, req.MaxScore)
	if err != nil {
		return nil, err
	}
	if err := s.runs.AddQuestion(ctx, question); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist question")
	}
	return question, nil
}

// RemoveQuestion removes a question from a draft run.
func (s *Service) RemoveQuestion(ctx context.Context, runID id.RunID, questionID id.QuestionID) error {
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return wrapRunErr(err)
	}
	if !run.IsEditable() {
		return dErrors.Newf(dErrors.CodeStateConflict, "run is %s, questions can only be edited on drafts", run.Status)
	}
	if err := s.runs.RemoveQuestion(ctx, runID, questionID); err != nil {
		return wrapRunErr(err)
	}
	return nil
}

// SetTargets replaces the department targets of a draft run.
func (s *Service) SetTargets(ctx context.Context, runID id.RunID, req *models.SetTargetsRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return wrapRunErr(err)
	}
	if !run.IsEditable() {
		return dErrors.Newf(dErrors.CodeStateConflict, "run is %s, targets can only be edited on drafts", run.Status)
	}
	if err := s.runs.SetTargets(ctx, runID, req.Departments); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist targets")
	}
	return nil
}

// CloseRun transitions an active run to completed, regardless of how many
// recipients have submitted. A recurring run schedules its next cycle.
func (s *Service) CloseRun(ctx context.Context, runID id.RunID) (*models.Run, error) {
	now := requestcontext.Now(ctx)
	run, err := s.runs.Execute(ctx, runID,
		func(r *models.Run) error {
			return r.CanClose()
		},
		func(r *models.Run) {
			r.ApplyClose(now)
		},
	)
	if err != nil {
		return nil, wrapRunErr(err)
	}

	s.metrics.IncrementTransition(string(models.RunStatusCompleted))
	s.emitAudit(ctx, audit.ActionRunClosed, runID, "")
	s.logger.InfoContext(ctx, "run closed", "run_id", runID)

	if run.IsRecurring() {
		s.scheduleNextCycle(ctx, run)
	}
	return run, nil
}

// OnRecipientCompleted closes the run once its last recipient has submitted.
// Called by the session service after each terminal submit; losing the race
// against another submit or the sweep is harmless because the close
// transition is guarded by the run state machine.
func (s *Service) OnRecipientCompleted(ctx context.Context, runID id.RunID) error {
	recipients, err := s.recipients.ListByRun(ctx, runID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "list recipients")
	}
	for _, recipient := range recipients {
		if !recipient.SurveyCompleted {
			return nil
		}
	}

	now := requestcontext.Now(ctx)
	run, err := s.runs.Execute(ctx, runID,
		func(r *models.Run) error {
			return r.CanClose()
		},
		func(r *models.Run) {
			r.ApplyClose(now)
		},
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeStateConflict) {
			return nil
		}
		return wrapRunErr(err)
	}

	s.metrics.IncrementTransition(string(models.RunStatusCompleted))
	s.emitAudit(ctx, audit.ActionRunClosed, runID, "all recipients submitted")
	s.logger.InfoContext(ctx, "run completed, all recipients submitted", "run_id", runID)

	if run.IsRecurring() {
		s.scheduleNextCycle(ctx, run)
	}
	return nil
}

// ListRecipients returns the fan-out results for a run.
func (s *Service) ListRecipients(ctx context.Context, runID id.RunID) ([]*models.Recipient, error) {
	if _, err := s.runs.FindByID(ctx, runID); err != nil {
		return nil, wrapRunErr(err)
	}
	recipients, err := s.recipients.ListByRun(ctx, runID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list recipients")
	}
	return recipients, nil
}

func (s *Service) emitAudit(ctx context.Context, action audit.Action, runID id.RunID, detail string) {
	if s.auditPublisher == nil {
		return
	}
	event := audit.FromContext(ctx, action)
	event.RunID = runID.String()
	event.Detail = detail
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "emit audit event", "action", action, "error", err)
	}
}

func wrapRunErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*dErrors.Error); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "run not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeStateConflict, "run was modified concurrently")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "run store")
}

func departmentIDs(targets []models.DepartmentTarget) []id.DepartmentID {
	ids := make([]id.DepartmentID, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.DepartmentID)
	}
	return ids
}
