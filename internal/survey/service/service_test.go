package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"attest/internal/directory"
	"attest/internal/schedule"
	"attest/internal/survey/models"
	"attest/internal/survey/service/mocks"
	recipientStore "attest/internal/survey/store/recipient"
	responseStore "attest/internal/survey/store/response"
	runStore "attest/internal/survey/store/run"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/audit"
	"attest/pkg/platform/sentinel"
	"attest/pkg/requestcontext"
)

// auditRecorder captures emitted events for assertions.
type auditRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *auditRecorder) Emit(_ context.Context, event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *auditRecorder) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]audit.Action, 0, len(r.events))
	for _, e := range r.events {
		actions = append(actions, e.Action)
	}
	return actions
}

type SurveyServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	runs       *runStore.MemoryStore
	recipients *recipientStore.MemoryStore
	responses  *responseStore.MemoryStore
	directory  *mocks.MockDirectory
	dispatcher *mocks.MockDispatcher
	recorder   *auditRecorder
	service    *Service
}

func TestSurveyServiceSuite(t *testing.T) {
	suite.Run(t, new(SurveyServiceSuite))
}

func (s *SurveyServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.runs = runStore.NewMemory()
	s.recipients = recipientStore.NewMemory()
	s.responses = responseStore.NewMemory()
	s.directory = mocks.NewMockDirectory(s.ctrl)
	s.dispatcher = mocks.NewMockDispatcher(s.ctrl)
	s.recorder = &auditRecorder{}
	s.service = New(s.runs, s.recipients, s.responses, s.directory, s.dispatcher,
		"https://attest.example.com",
		WithAuditPublisher(s.recorder),
	)
}

func (s *SurveyServiceSuite) createRunRequest() *models.CreateRunRequest {
	return &models.CreateRunRequest{
		Title:        "Quarterly access review",
		Description:  "Confirm your department's access lists",
		Frequency:    schedule.FrequencyQuarterly,
		RecurringDay: 15,
		StartDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DueDate:      time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}
}

// draftRun creates a run with one question and the given department targets.
func (s *SurveyServiceSuite) draftRun(ctx context.Context, departments ...id.DepartmentID) *models.Run {
	req := s.createRunRequest()
	req.Departments = departments
	run, err := s.service.CreateRun(ctx, req)
	s.Require().NoError(err)

	_, err = s.service.AddQuestion(ctx, run.ID, &models.AddQuestionRequest{
		Text:     "Were all access reviews completed?",
		Type:     models.QuestionTypeYesNo,
		Required: true,
	})
	s.Require().NoError(err)
	return run
}

func head(dept id.DepartmentID) *directory.Head {
	return &directory.Head{
		UserID:         id.NewUserID(),
		Name:           "Dana Smith",
		Email:          "dana@example.com",
		DepartmentName: "Dept " + dept.String()[:8],
	}
}

func (s *SurveyServiceSuite) TestCreateRun() {
	ctx := context.Background()

	s.Run("persists a draft with targets", func() {
		dept := id.NewDepartmentID()
		req := s.createRunRequest()
		req.Departments = []id.DepartmentID{dept}

		run, err := s.service.CreateRun(ctx, req)
		s.NoError(err)
		s.Equal(models.RunStatusDraft, run.Status)
		s.True(run.IsRecurring())

		detail, err := s.service.GetRunDetail(ctx, run.ID)
		s.NoError(err)
		s.Equal([]id.DepartmentID{dept}, detail.Targets)
		s.Contains(s.recorder.actions(), audit.ActionRunCreated)
	})

	s.Run("rejects missing title", func() {
		req := s.createRunRequest()
		req.Title = "   "
		_, err := s.service.CreateRun(ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects recurring frequency without day", func() {
		req := s.createRunRequest()
		req.Frequency = schedule.FrequencyMonthly
		req.RecurringDay = 0
		_, err := s.service.CreateRun(ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeSchedule))
	})
}

func (s *SurveyServiceSuite) TestDraftOnlyEdits() {
	ctx := context.Background()
	dept := id.NewDepartmentID()
	run := s.draftRun(ctx, dept)

	s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(head(dept), nil)
	s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
	_, err := s.service.Activate(ctx, run.ID)
	s.Require().NoError(err)

	s.Run("question edits rejected on active run", func() {
		_, err := s.service.AddQuestion(ctx, run.ID, &models.AddQuestionRequest{
			Text: "Another question?", Type: models.QuestionTypeText,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))

		err = s.service.RemoveQuestion(ctx, run.ID, id.NewQuestionID())
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})

	s.Run("target edits rejected on active run", func() {
		err := s.service.SetTargets(ctx, run.ID, &models.SetTargetsRequest{
			Departments: []id.DepartmentID{id.NewDepartmentID()},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})

	s.Run("delete rejected on active run", func() {
		err := s.service.DeleteRun(ctx, run.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})
}

func (s *SurveyServiceSuite) TestActivate() {
	ctx := context.Background()

	s.Run("fans out one recipient per department and dispatches", func() {
		deptA, deptB := id.NewDepartmentID(), id.NewDepartmentID()
		run := s.draftRun(ctx, deptA, deptB)

		s.directory.EXPECT().HeadOf(gomock.Any(), deptA).Return(head(deptA), nil)
		s.directory.EXPECT().HeadOf(gomock.Any(), deptB).Return(head(deptB), nil)
		s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(2)

		result, err := s.service.Activate(ctx, run.ID)
		s.NoError(err)
		s.Equal(models.RunStatusActive, result.Run.Status)
		s.Equal(2, result.RecipientCount)
		s.Equal(2, result.NotificationsSent)

		recipients, err := s.recipients.ListByRun(ctx, run.ID)
		s.Require().NoError(err)
		s.Len(recipients, 2)
		tokens := map[string]bool{}
		for _, r := range recipients {
			s.True(r.EmailSent)
			s.NotNil(r.EmailSentAt)
			s.NotEmpty(r.AccessToken)
			tokens[r.AccessToken] = true
		}
		s.Len(tokens, 2)
		s.Contains(s.recorder.actions(), audit.ActionRunActivated)
	})

	s.Run("unassigned department aborts the whole fan-out", func() {
		assigned, unassigned := id.NewDepartmentID(), id.NewDepartmentID()
		run := s.draftRun(ctx, assigned, unassigned)

		s.directory.EXPECT().HeadOf(gomock.Any(), assigned).Return(head(assigned), nil).AnyTimes()
		s.directory.EXPECT().HeadOf(gomock.Any(), unassigned).Return(nil, sentinel.ErrNotFound)

		_, err := s.service.Activate(ctx, run.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnassignedDepartment))
		s.Contains(dErrors.FieldsOf(err), unassigned.String())

		// No partial effects: the run stays draft with zero recipients.
		current, err := s.service.GetRun(ctx, run.ID)
		s.Require().NoError(err)
		s.Equal(models.RunStatusDraft, current.Status)
		recipients, err := s.recipients.ListByRun(ctx, run.ID)
		s.Require().NoError(err)
		s.Empty(recipients)
	})

	s.Run("dispatch failure is recorded, not fatal", func() {
		dept := id.NewDepartmentID()
		run := s.draftRun(ctx, dept)

		s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(head(dept), nil)
		s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("smtp unreachable"))

		result, err := s.service.Activate(ctx, run.ID)
		s.NoError(err)
		s.Equal(models.RunStatusActive, result.Run.Status)
		s.Equal(1, result.RecipientCount)
		s.Equal(0, result.NotificationsSent)

		recipients, err := s.recipients.ListByRun(ctx, run.ID)
		s.Require().NoError(err)
		s.Require().Len(recipients, 1)
		s.False(recipients[0].EmailSent)
		s.Contains(s.recorder.actions(), audit.ActionNotificationFailed)
	})

	s.Run("rejects run without questions", func() {
		req := s.createRunRequest()
		req.Departments = []id.DepartmentID{id.NewDepartmentID()}
		run, err := s.service.CreateRun(ctx, req)
		s.Require().NoError(err)

		_, err = s.service.Activate(ctx, run.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})

	s.Run("rejects run without targets", func() {
		run := s.draftRun(ctx)
		_, err := s.service.Activate(ctx, run.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})

	s.Run("resumes an activation interrupted before the transition", func() {
		dept := id.NewDepartmentID()
		run := s.draftRun(ctx, dept)

		// A batch written by a crashed activation: recipients exist but the
		// run never left draft.
		stranded := &models.Recipient{
			ID:           id.NewRecipientID(),
			RunID:        run.ID,
			UserID:       id.NewUserID(),
			DepartmentID: dept,
			AccessToken:  "stranded-token-0123456789abcdefghijklmnopqrstu",
		}
		s.Require().NoError(s.recipients.CreateBatch(ctx, []*models.Recipient{stranded}))

		s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(head(dept), nil)
		s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

		result, err := s.service.Activate(ctx, run.ID)
		s.NoError(err)
		s.Equal(models.RunStatusActive, result.Run.Status)
		s.Equal(1, result.RecipientCount)
		s.Equal(1, result.NotificationsSent)

		// The stored batch is adopted, not duplicated or replaced.
		recipients, err := s.recipients.ListByRun(ctx, run.ID)
		s.Require().NoError(err)
		s.Require().Len(recipients, 1)
		s.Equal(stranded.ID, recipients[0].ID)
		s.Equal(stranded.AccessToken, recipients[0].AccessToken)
		s.True(recipients[0].EmailSent)
	})

	s.Run("rejects stored recipients that do not match the targets", func() {
		dept := id.NewDepartmentID()
		run := s.draftRun(ctx, dept)

		// A stored batch fanned out against a wider target set than the run
		// currently has cannot be adopted wholesale.
		stale := []*models.Recipient{
			{
				ID:           id.NewRecipientID(),
				RunID:        run.ID,
				UserID:       id.NewUserID(),
				DepartmentID: dept,
				AccessToken:  "stale-token-a-123456789abcdefghijklmnopqrstu",
			},
			{
				ID:           id.NewRecipientID(),
				RunID:        run.ID,
				UserID:       id.NewUserID(),
				DepartmentID: id.NewDepartmentID(),
				AccessToken:  "stale-token-b-123456789abcdefghijklmnopqrstu",
			},
		}
		s.Require().NoError(s.recipients.CreateBatch(ctx, stale))
		s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(head(dept), nil)

		_, err := s.service.Activate(ctx, run.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})

	s.Run("rejects double activation", func() {
		dept := id.NewDepartmentID()
		run := s.draftRun(ctx, dept)
		s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(head(dept), nil)
		s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
		_, err := s.service.Activate(ctx, run.ID)
		s.Require().NoError(err)

		_, err = s.service.Activate(ctx, run.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})
}

func (s *SurveyServiceSuite) TestRetryNotifications() {
	ctx := context.Background()
	dept := id.NewDepartmentID()
	run := s.draftRun(ctx, dept)
	h := head(dept)

	s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(h, nil)
	s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("smtp unreachable"))
	_, err := s.service.Activate(ctx, run.ID)
	s.Require().NoError(err)

	s.Run("redelivers to pending recipients", func() {
		s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(h, nil)
		s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

		result, err := s.service.RetryNotifications(ctx, run.ID)
		s.NoError(err)
		s.Equal(1, result.Attempted)
		s.Equal(1, result.Sent)

		recipients, err := s.recipients.ListByRun(ctx, run.ID)
		s.Require().NoError(err)
		s.True(recipients[0].EmailSent)
	})

	s.Run("skips recipients already notified", func() {
		result, err := s.service.RetryNotifications(ctx, run.ID)
		s.NoError(err)
		s.Equal(0, result.Attempted)
	})

	s.Run("rejects non-active runs", func() {
		// Closing the recurring run schedules and activates the next cycle.
		s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(h, nil).AnyTimes()
		s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		_, err := s.service.CloseRun(ctx, run.ID)
		s.Require().NoError(err)
		_, err = s.service.RetryNotifications(ctx, run.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})
}

func (s *SurveyServiceSuite) TestCloseRun() {
	ctx := context.Background()

	s.Run("closes an active run", func() {
		dept := id.NewDepartmentID()
		req := s.createRunRequest()
		req.Frequency = schedule.FrequencyOnce
		req.RecurringDay = 0
		req.Departments = []id.DepartmentID{dept}
		run, err := s.service.CreateRun(ctx, req)
		s.Require().NoError(err)
		_, err = s.service.AddQuestion(ctx, run.ID, &models.AddQuestionRequest{
			Text: "All reviews done?", Type: models.QuestionTypeYesNo, Required: true,
		})
		s.Require().NoError(err)
		s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(head(dept), nil)
		s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
		_, err = s.service.Activate(ctx, run.ID)
		s.Require().NoError(err)

		closed, err := s.service.CloseRun(ctx, run.ID)
		s.NoError(err)
		s.Equal(models.RunStatusCompleted, closed.Status)
		s.Contains(s.recorder.actions(), audit.ActionRunClosed)
	})

	s.Run("closing a recurring run schedules the next cycle", func() {
		dept := id.NewDepartmentID()
		run := s.draftRun(ctx, dept)
		s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(head(dept), nil).AnyTimes()
		s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		_, err := s.service.Activate(ctx, run.ID)
		s.Require().NoError(err)

		_, err = s.service.CloseRun(ctx, run.ID)
		s.Require().NoError(err)

		active, err := s.service.ListRuns(ctx, models.RunStatusActive)
		s.Require().NoError(err)
		s.Require().Len(active, 1)
		next := active[0]
		s.NotEqual(run.ID, next.ID)
		s.Equal(run.Title, next.Title)
		s.Equal(run.DueDate, next.StartDate)
		s.True(next.DueDate.After(run.DueDate))
		s.Equal(15, next.DueDate.Day())
		s.Contains(s.recorder.actions(), audit.ActionRunRescheduled)

		// The next cycle carries its own copy of the definition.
		detail, err := s.service.GetRunDetail(ctx, next.ID)
		s.Require().NoError(err)
		s.Len(detail.Questions, 1)
		s.Equal([]id.DepartmentID{dept}, detail.Targets)
		s.Len(detail.Recipients, 1)
	})

	s.Run("rejects closing a draft", func() {
		run := s.draftRun(ctx, id.NewDepartmentID())
		_, err := s.service.CloseRun(ctx, run.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})
}

func (s *SurveyServiceSuite) TestOnRecipientCompleted() {
	ctx := context.Background()
	dept := id.NewDepartmentID()
	req := s.createRunRequest()
	req.Frequency = schedule.FrequencyOnce
	req.RecurringDay = 0
	req.Departments = []id.DepartmentID{dept}
	run, err := s.service.CreateRun(ctx, req)
	s.Require().NoError(err)
	_, err = s.service.AddQuestion(ctx, run.ID, &models.AddQuestionRequest{
		Text: "All good?", Type: models.QuestionTypeYesNo, Required: true,
	})
	s.Require().NoError(err)

	s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(head(dept), nil)
	s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
	_, err = s.service.Activate(ctx, run.ID)
	s.Require().NoError(err)

	recipients, err := s.recipients.ListByRun(ctx, run.ID)
	s.Require().NoError(err)
	s.Require().Len(recipients, 1)

	s.Run("leaves the run active while recipients are pending", func() {
		s.NoError(s.service.OnRecipientCompleted(ctx, run.ID))
		current, err := s.service.GetRun(ctx, run.ID)
		s.Require().NoError(err)
		s.Equal(models.RunStatusActive, current.Status)
	})

	s.Run("closes the run after the last submission", func() {
		now := time.Now()
		_, err := s.recipients.Execute(ctx, recipients[0].ID,
			func(r *models.Recipient) error { return r.CanComplete() },
			func(r *models.Recipient) { r.ApplyCompletion(now) },
		)
		s.Require().NoError(err)

		s.NoError(s.service.OnRecipientCompleted(ctx, run.ID))
		current, err := s.service.GetRun(ctx, run.ID)
		s.Require().NoError(err)
		s.Equal(models.RunStatusCompleted, current.Status)
	})
}

func (s *SurveyServiceSuite) TestSweepExpired() {
	dept := id.NewDepartmentID()
	past := time.Now().Add(-48 * time.Hour)
	ctx := requestcontext.WithTime(context.Background(), past)

	req := &models.CreateRunRequest{
		Title:     "One-off policy check",
		Frequency: schedule.FrequencyOnce,
		StartDate: past,
		DueDate:   past.Add(24 * time.Hour),
	}
	run, err := s.service.CreateRun(ctx, req)
	s.Require().NoError(err)
	_, err = s.service.AddQuestion(ctx, run.ID, &models.AddQuestionRequest{
		Text: "Policy acknowledged?", Type: models.QuestionTypeYesNo, Required: true,
	})
	s.Require().NoError(err)
	err = s.service.SetTargets(ctx, run.ID, &models.SetTargetsRequest{
		Departments: []id.DepartmentID{dept},
	})
	s.Require().NoError(err)

	s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(head(dept), nil)
	s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
	_, err = s.service.Activate(ctx, run.ID)
	s.Require().NoError(err)

	s.Run("expires overdue runs with pending recipients", func() {
		swept, err := s.service.SweepExpired(context.Background())
		s.NoError(err)
		s.Equal(1, swept)

		current, err := s.service.GetRun(context.Background(), run.ID)
		s.Require().NoError(err)
		s.Equal(models.RunStatusExpired, current.Status)
		s.Contains(s.recorder.actions(), audit.ActionRunExpired)
	})

	s.Run("second sweep finds nothing", func() {
		swept, err := s.service.SweepExpired(context.Background())
		s.NoError(err)
		s.Zero(swept)
	})
}

func (s *SurveyServiceSuite) TestSweepClosesFullyCompletedRuns() {
	dept := id.NewDepartmentID()
	past := time.Now().Add(-48 * time.Hour)
	ctx := requestcontext.WithTime(context.Background(), past)

	req := &models.CreateRunRequest{
		Title:     "One-off policy check",
		Frequency: schedule.FrequencyOnce,
		StartDate: past,
		DueDate:   past.Add(24 * time.Hour),
	}
	run, err := s.service.CreateRun(ctx, req)
	s.Require().NoError(err)
	_, err = s.service.AddQuestion(ctx, run.ID, &models.AddQuestionRequest{
		Text: "Policy acknowledged?", Type: models.QuestionTypeYesNo, Required: true,
	})
	s.Require().NoError(err)
	err = s.service.SetTargets(ctx, run.ID, &models.SetTargetsRequest{
		Departments: []id.DepartmentID{dept},
	})
	s.Require().NoError(err)

	s.directory.EXPECT().HeadOf(gomock.Any(), dept).Return(head(dept), nil)
	s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
	_, err = s.service.Activate(ctx, run.ID)
	s.Require().NoError(err)

	recipients, err := s.recipients.ListByRun(ctx, run.ID)
	s.Require().NoError(err)
	now := time.Now()
	_, err = s.recipients.Execute(ctx, recipients[0].ID,
		func(r *models.Recipient) error { return r.CanComplete() },
		func(r *models.Recipient) { r.ApplyCompletion(now) },
	)
	s.Require().NoError(err)

	swept, err := s.service.SweepExpired(context.Background())
	s.NoError(err)
	s.Equal(1, swept)

	current, err := s.service.GetRun(context.Background(), run.ID)
	s.Require().NoError(err)
	s.Equal(models.RunStatusCompleted, current.Status)
}
