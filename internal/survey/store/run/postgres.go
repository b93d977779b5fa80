package run

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"attest/internal/schedule"
	"attest/internal/survey/models"
	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
)

// PostgresStore persists runs, questions and department targets in
// PostgreSQL. This store is pure I/O; lifecycle rules belong to the models
// and services.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const runColumns = `id, title, description, frequency, recurring_day, start_date, due_date, status, created_by, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO compliance_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID.String(), run.Title, run.Description, string(run.Frequency), run.RecurringDay,
		run.StartDate, run.DueDate, string(run.Status), run.CreatedBy.String(),
		run.CreatedAt, run.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, runID id.RunID) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM compliance_runs WHERE id = $1`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) List(ctx context.Context, status models.RunStatus) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM compliance_runs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (s *PostgresStore) ListActiveDueBefore(ctx context.Context, t time.Time) ([]*models.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM compliance_runs
		WHERE status = $1 AND due_date < $2
		ORDER BY due_date
	`
	rows, err := s.db.QueryContext(ctx, query, string(models.RunStatusActive), t)
	if err != nil {
		return nil, fmt.Errorf("list due runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// Execute locks the row (FOR UPDATE) for the validate-then-mutate sequence so
// concurrent transitions on the same run serialize at the database.
func (s *PostgresStore) Execute(ctx context.Context, runID id.RunID,
	validate func(*models.Run) error, mutate func(*models.Run)) (*models.Run, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin run transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + runColumns + ` FROM compliance_runs WHERE id = $1 FOR UPDATE`
	run, err := scanRun(tx.QueryRowContext(ctx, query, runID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock run: %w", err)
	}

	if err := validate(run); err != nil {
		return nil, err
	}
	mutate(run)

	update := `
		UPDATE compliance_runs
		SET title = $2, description = $3, frequency = $4, recurring_day = $5,
		    start_date = $6, due_date = $7, status = $8, updated_at = $9
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		run.ID.String(), run.Title, run.Description, string(run.Frequency), run.RecurringDay,
		run.StartDate, run.DueDate, string(run.Status), run.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit run transition: %w", err)
	}
	return run, nil
}

// Delete cascades to questions and targets via foreign keys.
func (s *PostgresStore) Delete(ctx context.Context, runID id.RunID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM compliance_runs WHERE id = $1`, runID.String())
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddQuestion(ctx context.Context, question *models.Question) error {
	query := `
		INSERT INTO questions (id, run_id, position, text, type, required, options, max_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		question.ID.String(), question.RunID.String(), question.Position,
		question.Text, string(question.Type), question.Required,
		pq.Array(question.Options), question.MaxScore,
	)
	if isForeignKeyViolation(err) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("add question: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveQuestion(ctx context.Context, runID id.RunID, questionID id.QuestionID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM questions WHERE id = $1 AND run_id = $2`,
		questionID.String(), runID.String())
	if err != nil {
		return fmt.Errorf("remove question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context, runID id.RunID) ([]*models.Question, error) {
	query := `
		SELECT id, run_id, position, text, type, required, options, max_score
		FROM questions
		WHERE run_id = $1
		ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, query, runID.String())
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []*models.Question
	for rows.Next() {
		var (
			q             models.Question
			rawID, rawRun string
			rawType       string
			options       pq.StringArray
		)
		if err := rows.Scan(&rawID, &rawRun, &q.Position, &q.Text, &rawType,
			&q.Required, &options, &q.MaxScore); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if q.ID, err = id.ParseQuestionID(rawID); err != nil {
			return nil, err
		}
		if q.RunID, err = id.ParseRunID(rawRun); err != nil {
			return nil, err
		}
		q.Type = models.QuestionType(rawType)
		q.Options = []string(options)
		out = append(out, &q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetTargets(ctx context.Context, runID id.RunID, departments []id.DepartmentID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set targets: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM department_targets WHERE run_id = $1`, runID.String()); err != nil {
		return fmt.Errorf("clear targets: %w", err)
	}
	for _, dept := range departments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO department_targets (run_id, department_id) VALUES ($1, $2)`,
			runID.String(), dept.String()); err != nil {
			if isForeignKeyViolation(err) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("insert target: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) ListTargets(ctx context.Context, runID id.RunID) ([]models.DepartmentTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, department_id FROM department_targets WHERE run_id = $1 ORDER BY department_id`,
		runID.String())
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []models.DepartmentTarget
	for rows.Next() {
		var rawRun, rawDept string
		if err := rows.Scan(&rawRun, &rawDept); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		target := models.DepartmentTarget{}
		if target.RunID, err = id.ParseRunID(rawRun); err != nil {
			return nil, err
		}
		if target.DepartmentID, err = id.ParseDepartmentID(rawDept); err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run                models.Run
		rawID, rawCreator  string
		rawFreq, rawStatus string
	)
	err := row.Scan(&rawID, &run.Title, &run.Description, &rawFreq, &run.RecurringDay,
		&run.StartDate, &run.DueDate, &rawStatus, &rawCreator, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if run.ID, err = id.ParseRunID(rawID); err != nil {
		return nil, err
	}
	if run.CreatedBy, err = id.ParseUserID(rawCreator); err != nil {
		return nil, err
	}
	run.Frequency = schedule.Frequency(rawFreq)
	run.Status = models.RunStatus(rawStatus)
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]*models.Run, error) {
	var out []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation"
}
