package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"attest/internal/directory"
	"attest/internal/notify"
	"attest/internal/survey/models"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/audit"
	"attest/pkg/platform/sentinel"
	"attest/pkg/requestcontext"
	"attest/pkg/secrets"
)

// ActivationResult reports what a fan-out accomplished. Dispatch failures
// are recorded per recipient (EmailSent stays false) and never fail the
// activation itself.
type ActivationResult struct {
	Run               *models.Run `json:"run"`
	RecipientCount    int         `json:"recipient_count"`
	NotificationsSent int         `json:"notifications_sent"`
}

// fanoutEntry pairs a recipient with its resolved head so dispatch does not
// hit the directory a second time.
type fanoutEntry struct {
	recipient *models.Recipient
	head      *directory.Head
}

// Activate transitions a draft run to active and fans it out: one recipient
// per target department, addressed to the department's current head.
//
// The fan-out is all-or-nothing up to dispatch. Structural preconditions
// and head resolution are checked for every department before any recipient
// row is written; any unassigned department aborts the whole activation.
// Notification dispatch runs afterwards, concurrently, and its failures are
// recorded state rather than errors.
//
// An activation interrupted between the batch write and the status
// transition is resumable: re-activating the draft adopts the persisted
// recipients and completes the transition.
func (s *Service) Activate(ctx context.Context, runID id.RunID) (*ActivationResult, error) {
	started := time.Now()

	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, wrapRunErr(err)
	}
	if err := run.CanActivate(); err != nil {
		return nil, err
	}

	questions, err := s.runs.ListQuestions(ctx, runID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list questions")
	}
	if len(questions) == 0 {
		return nil, dErrors.New(dErrors.CodeStateConflict, "run has no questions").WithFields("questions")
	}
	for _, question := range questions {
		if err := question.Validate(); err != nil {
			return nil, err
		}
	}
	targets, err := s.runs.ListTargets(ctx, runID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list targets")
	}
	if len(targets) == 0 {
		return nil, dErrors.New(dErrors.CodeStateConflict, "run has no department targets").WithFields("departments")
	}

	entries, err := s.resolveHeads(ctx, runID, targets)
	if err != nil {
		return nil, err
	}

	recipients := make([]*models.Recipient, len(entries))
	for i, entry := range entries {
		recipients[i] = entry.recipient
	}
	if err := s.recipients.CreateBatch(ctx, recipients); err != nil {
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist recipients")
		}
		// A conflict on a draft run means a previous activation wrote its
		// batch but never reached the status transition. Adopt that batch
		// and finish the activation instead of stranding the run.
		entries, err = s.adoptExistingFanout(ctx, runID, entries)
		if err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	run, err = s.runs.Execute(ctx, runID,
		func(r *models.Run) error {
			return r.CanActivate()
		},
		func(r *models.Run) {
			r.ApplyActivation(now)
		},
	)
	if err != nil {
		return nil, wrapRunErr(err)
	}

	sent := s.dispatch(ctx, run, entries)

	s.metrics.IncrementTransition(string(models.RunStatusActive))
	s.metrics.ObserveActivationLatency(time.Since(started))
	s.emitAudit(ctx, audit.ActionRunActivated, runID,
		fmt.Sprintf("%d recipients, %d notified", len(entries), sent))
	s.logger.InfoContext(ctx, "run activated",
		"run_id", runID,
		"recipients", len(entries),
		"notifications_sent", sent,
	)

	return &ActivationResult{Run: run, RecipientCount: len(entries), NotificationsSent: sent}, nil
}

// resolveHeads looks up every target department's head before anything is
// written. A single unresolvable department fails the whole fan-out.
func (s *Service) resolveHeads(ctx context.Context, runID id.RunID, targets []models.DepartmentTarget) ([]fanoutEntry, error) {
	entries := make([]fanoutEntry, 0, len(targets))
	var unassigned []string
	for _, target := range targets {
		head, err := s.directory.HeadOf(ctx, target.DepartmentID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				unassigned = append(unassigned, target.DepartmentID.String())
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "directory lookup failed")
		}
		token, err := secrets.Generate()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate access token")
		}
		entries = append(entries, fanoutEntry{
			recipient: &models.Recipient{
				ID:           id.NewRecipientID(),
				RunID:        runID,
				UserID:       head.UserID,
				DepartmentID: target.DepartmentID,
				AccessToken:  token,
			},
			head: head,
		})
	}
	if len(unassigned) > 0 {
		return nil, dErrors.New(dErrors.CodeUnassignedDepartment,
			"activation aborted, departments without an assigned head").WithFields(unassigned...)
	}
	return entries, nil
}

// adoptExistingFanout resumes an activation that persisted its recipient
// batch and then crashed before the run left draft. The stored batch replaces
// the freshly generated one, provided it covers exactly the run's current
// targets; any other shape means the stored recipients were fanned out
// against a different target set and the run needs manual cleanup.
func (s *Service) adoptExistingFanout(ctx context.Context, runID id.RunID, entries []fanoutEntry) ([]fanoutEntry, error) {
	existing, err := s.recipients.ListByRun(ctx, runID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list recipients")
	}
	byDepartment := make(map[id.DepartmentID]*models.Recipient, len(existing))
	for _, recipient := range existing {
		byDepartment[recipient.DepartmentID] = recipient
	}
	if len(byDepartment) != len(existing) || len(existing) != len(entries) {
		return nil, dErrors.New(dErrors.CodeStateConflict,
			"run already has recipients that do not match its current targets")
	}
	adopted := make([]fanoutEntry, len(entries))
	for i, entry := range entries {
		recipient, ok := byDepartment[entry.recipient.DepartmentID]
		if !ok {
			return nil, dErrors.New(dErrors.CodeStateConflict,
				"run already has recipients that do not match its current targets")
		}
		adopted[i] = fanoutEntry{recipient: recipient, head: entry.head}
	}
	s.logger.InfoContext(ctx, "resuming interrupted activation",
		"run_id", runID, "recipients", len(adopted))
	return adopted, nil
}

// dispatch delivers invitations concurrently, one per recipient, each under
// its own timeout. A delivery failure leaves EmailSent false for the retry
// endpoint to pick up.
func (s *Service) dispatch(ctx context.Context, run *models.Run, entries []fanoutEntry) int {
	var sent atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		group.Go(func() error {
			if s.sendOne(groupCtx, run, entry) {
				sent.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()
	return int(sent.Load())
}

func (s *Service) sendOne(ctx context.Context, run *models.Run, entry fanoutEntry) bool {
	sendCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	err := s.dispatcher.Send(sendCtx, notify.Notification{
		RecipientEmail: entry.head.Email,
		RecipientName:  entry.head.Name,
		SurveyURL:      fmt.Sprintf("%s/compliance-survey/%s", s.baseURL, entry.recipient.AccessToken),
		RunTitle:       run.Title,
		DueDate:        run.DueDate,
	})
	if err != nil {
		s.metrics.IncrementNotification("failed")
		s.logger.WarnContext(ctx, "notification dispatch failed",
			"run_id", run.ID,
			"recipient_id", entry.recipient.ID,
			"error", err,
		)
		event := audit.FromContext(ctx, audit.ActionNotificationFailed)
		event.RunID = run.ID.String()
		event.RecipientID = entry.recipient.ID.String()
		event.DepartmentID = entry.recipient.DepartmentID.String()
		event.Detail = err.Error()
		if s.auditPublisher != nil {
			_ = s.auditPublisher.Emit(ctx, event)
		}
		return false
	}

	now := requestcontext.Now(ctx)
	if _, err := s.recipients.Execute(ctx, entry.recipient.ID,
		func(*models.Recipient) error { return nil },
		func(r *models.Recipient) { r.ApplyEmailSent(now) },
	); err != nil {
		s.logger.ErrorContext(ctx, "record notification dispatch",
			"recipient_id", entry.recipient.ID, "error", err)
	}
	s.metrics.IncrementNotification("sent")
	return true
}

// RetryResult reports a notification retry pass.
type RetryResult struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
}

// RetryNotifications redelivers invitations to recipients whose dispatch
// failed during activation. Only pending recipients of an active run are
// attempted.
func (s *Service) RetryNotifications(ctx context.Context, runID id.RunID) (*RetryResult, error) {
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, wrapRunErr(err)
	}
	if run.Status != models.RunStatusActive {
		return nil, dErrors.Newf(dErrors.CodeStateConflict, "run is %s, notifications can only be retried on active runs", run.Status)
	}

	recipients, err := s.recipients.ListByRun(ctx, runID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list recipients")
	}

	var entries []fanoutEntry
	for _, recipient := range recipients {
		if recipient.EmailSent || recipient.SurveyCompleted {
			continue
		}
		head, err := s.directory.HeadOf(ctx, recipient.DepartmentID)
		if err != nil {
			s.logger.WarnContext(ctx, "retry skipped, head unresolved",
				"recipient_id", recipient.ID, "department_id", recipient.DepartmentID, "error", err)
			continue
		}
		entries = append(entries, fanoutEntry{recipient: recipient, head: head})
	}

	sent := s.dispatch(ctx, run, entries)
	s.logger.InfoContext(ctx, "notification retry finished",
		"run_id", runID, "attempted", len(entries), "sent", sent)
	return &RetryResult{Attempted: len(entries), Sent: sent}, nil
}

// scheduleNextCycle creates and activates the next occurrence of a recurring
// run that just reached a terminal state. The new cycle copies the
// definition; its window runs from the old due date to the computed next
// one. Activation follows the same all-or-nothing rules as a manual
// activation, so a department that lost its head in the meantime leaves the
// new cycle as a draft for the admin to fix and activate.
func (s *Service) scheduleNextCycle(ctx context.Context, previous *models.Run) {
	now := requestcontext.Now(ctx)
	// The next cycle is anchored on the previous due date, not on when the
	// run happened to close, so the cadence never drifts.
	nextDue, err := previous.NextOccurrence(previous.DueDate)
	if err != nil {
		s.logger.ErrorContext(ctx, "compute next occurrence", "run_id", previous.ID, "error", err)
		return
	}

	next, err := models.NewRun(id.NewRunID(), previous.Title, previous.Description,
		previous.Frequency, previous.RecurringDay, previous.DueDate, nextDue, previous.CreatedBy, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "build next cycle", "run_id", previous.ID, "error", err)
		return
	}
	if err := s.runs.Create(ctx, next); err != nil {
		s.logger.ErrorContext(ctx, "persist next cycle", "run_id", previous.ID, "error", err)
		return
	}

	questions, err := s.runs.ListQuestions(ctx, previous.ID)
	if err == nil {
		for _, question := range questions {
			copied := *question
			copied.ID = id.NewQuestionID()
			copied.RunID = next.ID
			if qErr := s.runs.AddQuestion(ctx, &copied); qErr != nil {
				err = qErr
				break
			}
		}
	}
	if err == nil {
		var targets []models.DepartmentTarget
		targets, err = s.runs.ListTargets(ctx, previous.ID)
		if err == nil && len(targets) > 0 {
			err = s.runs.SetTargets(ctx, next.ID, departmentIDs(targets))
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "copy definition to next cycle",
			"run_id", previous.ID, "next_run_id", next.ID, "error", err)
		return
	}

	s.emitAudit(ctx, audit.ActionRunRescheduled, previous.ID,
		fmt.Sprintf("next cycle %s due %s", next.ID, nextDue.Format(time.DateOnly)))

	if _, err := s.Activate(ctx, next.ID); err != nil {
		s.logger.WarnContext(ctx, "next cycle left as draft, activation failed",
			"run_id", next.ID, "error", err)
	}
}
