//go:build integration

package run_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attest/internal/schedule"
	"attest/internal/survey/models"
	"attest/internal/survey/store/run"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/sentinel"
	"attest/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *run.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = run.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "responses", "recipients", "department_targets", "questions", "compliance_runs")
	s.Require().NoError(err)
}

func newTestRun(s *PostgresStoreSuite, title string) *models.Run {
	now := time.Now().UTC().Truncate(time.Microsecond)
	r, err := models.NewRun(id.NewRunID(), title, "annual check", schedule.FrequencyQuarterly, 15,
		now, now.AddDate(0, 0, 14), id.NewUserID(), now)
	s.Require().NoError(err)
	return r
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	r := newTestRun(s, "Security Awareness Q1")

	s.Require().NoError(s.store.Create(ctx, r))

	found, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(r.ID, found.ID)
	s.Equal("Security Awareness Q1", found.Title)
	s.Equal(schedule.FrequencyQuarterly, found.Frequency)
	s.Equal(15, found.RecurringDay)
	s.Equal(models.RunStatusDraft, found.Status)
	s.WithinDuration(r.DueDate, found.DueDate, time.Millisecond)
}

func (s *PostgresStoreSuite) TestFindMissing() {
	_, err := s.store.FindByID(context.Background(), id.NewRunID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDuplicateCreateConflicts() {
	ctx := context.Background()
	r := newTestRun(s, "Duplicate")

	s.Require().NoError(s.store.Create(ctx, r))
	s.ErrorIs(s.store.Create(ctx, r), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestListFiltersByStatus() {
	ctx := context.Background()
	draft := newTestRun(s, "Draft Run")
	active := newTestRun(s, "Active Run")
	s.Require().NoError(s.store.Create(ctx, draft))
	s.Require().NoError(s.store.Create(ctx, active))

	_, err := s.store.Execute(ctx, active.ID,
		func(r *models.Run) error { return r.CanActivate() },
		func(r *models.Run) { r.ApplyActivation(time.Now()) },
	)
	s.Require().NoError(err)

	all, err := s.store.List(ctx, "")
	s.Require().NoError(err)
	s.Len(all, 2)

	drafts, err := s.store.List(ctx, models.RunStatusDraft)
	s.Require().NoError(err)
	s.Require().Len(drafts, 1)
	s.Equal(draft.ID, drafts[0].ID)
}

func (s *PostgresStoreSuite) TestListActiveDueBefore() {
	ctx := context.Background()
	overdue := newTestRun(s, "Overdue")
	s.Require().NoError(s.store.Create(ctx, overdue))
	_, err := s.store.Execute(ctx, overdue.ID,
		func(r *models.Run) error { return r.CanActivate() },
		func(r *models.Run) { r.ApplyActivation(time.Now()) },
	)
	s.Require().NoError(err)

	due, err := s.store.ListActiveDueBefore(ctx, time.Now().AddDate(0, 0, 30))
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(overdue.ID, due[0].ID)

	none, err := s.store.ListActiveDueBefore(ctx, time.Now().AddDate(0, 0, -30))
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *PostgresStoreSuite) TestExecutePersistsTransition() {
	ctx := context.Background()
	r := newTestRun(s, "Transition")
	s.Require().NoError(s.store.Create(ctx, r))

	updated, err := s.store.Execute(ctx, r.ID,
		func(r *models.Run) error { return r.CanActivate() },
		func(r *models.Run) { r.ApplyActivation(time.Now()) },
	)
	s.Require().NoError(err)
	s.Equal(models.RunStatusActive, updated.Status)

	found, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.RunStatusActive, found.Status)
}

func (s *PostgresStoreSuite) TestExecuteReturnsValidateErrorUnchanged() {
	ctx := context.Background()
	r := newTestRun(s, "Guarded")
	s.Require().NoError(s.store.Create(ctx, r))

	_, err := s.store.Execute(ctx, r.ID,
		func(r *models.Run) error { return r.CanClose() },
		func(r *models.Run) { r.ApplyClose(time.Now()) },
	)
	s.Require().Error(err)
	s.Equal(dErrors.CodeStateConflict, dErrors.CodeOf(err))

	found, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.RunStatusDraft, found.Status, "failed validate must not mutate")
}

func (s *PostgresStoreSuite) TestConcurrentTransitionsSerialize() {
	ctx := context.Background()
	r := newTestRun(s, "Race")
	s.Require().NoError(s.store.Create(ctx, r))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.store.Execute(ctx, r.ID,
				func(r *models.Run) error { return r.CanActivate() },
				func(r *models.Run) { r.ApplyActivation(time.Now()) },
			)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	s.Equal(1, succeeded, "exactly one activation may win")
}

func (s *PostgresStoreSuite) TestQuestionsRoundTrip() {
	ctx := context.Background()
	r := newTestRun(s, "With Questions")
	s.Require().NoError(s.store.Create(ctx, r))

	first, err := models.NewQuestion(id.NewQuestionID(), r.ID, 1,
		"Was access reviewed?", models.QuestionTypeYesNo, true, nil, 0)
	s.Require().NoError(err)
	second, err := models.NewQuestion(id.NewQuestionID(), r.ID, 2,
		"Rate your confidence", models.QuestionTypeScore, false, nil, 5)
	s.Require().NoError(err)
	s.Require().NoError(s.store.AddQuestion(ctx, first))
	s.Require().NoError(s.store.AddQuestion(ctx, second))

	questions, err := s.store.ListQuestions(ctx, r.ID)
	s.Require().NoError(err)
	s.Require().Len(questions, 2)
	s.Equal("Was access reviewed?", questions[0].Text)
	s.Equal(5, questions[1].MaxScore)

	s.Require().NoError(s.store.RemoveQuestion(ctx, r.ID, first.ID))
	questions, err = s.store.ListQuestions(ctx, r.ID)
	s.Require().NoError(err)
	s.Require().Len(questions, 1)
	s.Equal(second.ID, questions[0].ID)
}

func (s *PostgresStoreSuite) TestTargetsReplaced() {
	ctx := context.Background()
	r := newTestRun(s, "With Targets")
	s.Require().NoError(s.store.Create(ctx, r))

	first := []id.DepartmentID{id.NewDepartmentID(), id.NewDepartmentID()}
	s.Require().NoError(s.store.SetTargets(ctx, r.ID, first))

	replacement := []id.DepartmentID{id.NewDepartmentID()}
	s.Require().NoError(s.store.SetTargets(ctx, r.ID, replacement))

	targets, err := s.store.ListTargets(ctx, r.ID)
	s.Require().NoError(err)
	s.Require().Len(targets, 1)
	s.Equal(replacement[0], targets[0].DepartmentID)
}

func (s *PostgresStoreSuite) TestDeleteCascades() {
	ctx := context.Background()
	r := newTestRun(s, "Doomed")
	s.Require().NoError(s.store.Create(ctx, r))

	q, err := models.NewQuestion(id.NewQuestionID(), r.ID, 1,
		"Still here?", models.QuestionTypeText, false, nil, 0)
	s.Require().NoError(err)
	s.Require().NoError(s.store.AddQuestion(ctx, q))
	s.Require().NoError(s.store.SetTargets(ctx, r.ID, []id.DepartmentID{id.NewDepartmentID()}))

	s.Require().NoError(s.store.Delete(ctx, r.ID))

	_, err = s.store.FindByID(ctx, r.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	questions, err := s.store.ListQuestions(ctx, r.ID)
	s.Require().NoError(err)
	s.Empty(questions)
}
