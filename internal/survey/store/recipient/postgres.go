package recipient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"attest/internal/survey/models"
	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
)

// PostgresStore persists recipients in PostgreSQL. The unique index on
// (run_id, department_id) is the authoritative guard against duplicate
// fan-out; violations surface as sentinel.ErrConflict.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recipientColumns = `id, run_id, user_id, department_id, access_token, email_sent, email_sent_at, survey_completed, survey_completed_at`

func (s *PostgresStore) CreateBatch(ctx context.Context, recipients []*models.Recipient) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recipient batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO recipients (` + recipientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, rec := range recipients {
		if _, err := tx.ExecContext(ctx, query,
			rec.ID.String(), rec.RunID.String(), rec.UserID.String(), rec.DepartmentID.String(),
			rec.AccessToken, rec.EmailSent, rec.EmailSentAt, rec.SurveyCompleted, rec.SurveyCompletedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert recipient: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) FindByID(ctx context.Context, recipientID id.RecipientID) (*models.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`
	rec, err := scanRecipient(s.db.QueryRowContext(ctx, query, recipientID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recipient: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) FindByToken(ctx context.Context, token string) (*models.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE access_token = $1`
	rec, err := scanRecipient(s.db.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recipient by token: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByRun(ctx context.Context, runID id.RunID) ([]*models.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE run_id = $1 ORDER BY department_id`
	rows, err := s.db.QueryContext(ctx, query, runID.String())
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []*models.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Execute locks the row (FOR UPDATE) for the validate-then-mutate sequence.
// The submit transition relies on this to stay atomic against concurrent
// answer writes for the same recipient.
func (s *PostgresStore) Execute(ctx context.Context, recipientID id.RecipientID,
	validate func(*models.Recipient) error, mutate func(*models.Recipient)) (*models.Recipient, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin recipient transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1 FOR UPDATE`
	rec, err := scanRecipient(tx.QueryRowContext(ctx, query, recipientID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock recipient: %w", err)
	}

	if err := validate(rec); err != nil {
		return nil, err
	}
	mutate(rec)

	update := `
		UPDATE recipients
		SET email_sent = $2, email_sent_at = $3, survey_completed = $4, survey_completed_at = $5
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		rec.ID.String(), rec.EmailSent, rec.EmailSentAt, rec.SurveyCompleted, rec.SurveyCompletedAt,
	); err != nil {
		return nil, fmt.Errorf("update recipient: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit recipient transition: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (*models.Recipient, error) {
	var (
		rec                        models.Recipient
		rawID, rawRun, rawUser     string
		rawDept                    string
	)
	err := row.Scan(&rawID, &rawRun, &rawUser, &rawDept, &rec.AccessToken,
		&rec.EmailSent, &rec.EmailSentAt, &rec.SurveyCompleted, &rec.SurveyCompletedAt)
	if err != nil {
		return nil, err
	}
	if rec.ID, err = id.ParseRecipientID(rawID); err != nil {
		return nil, err
	}
	if rec.RunID, err = id.ParseRunID(rawRun); err != nil {
		return nil, err
	}
	if rec.UserID, err = id.ParseUserID(rawUser); err != nil {
		return nil, err
	}
	if rec.DepartmentID, err = id.ParseDepartmentID(rawDept); err != nil {
		return nil, err
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}
